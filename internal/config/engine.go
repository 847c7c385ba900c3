package config

import (
	"fmt"
	"strings"
)

// Engine names a fetch engine variant.
type Engine string

const (
	// EngineAuto defers to the forum's own engine, then to the protocol client.
	EngineAuto Engine = "auto"
	// EngineProtocol is the plain HTTP client. It never executes scripts.
	EngineProtocol Engine = "protocol-client"
	// EngineRendering is the headless browser.
	EngineRendering Engine = "rendering-engine"
)

// engineAliases maps accepted spellings to engines. The short names match
// what older selector files used.
var engineAliases = map[string]Engine{
	"":                 EngineAuto,
	"auto":             EngineAuto,
	"protocol-client":  EngineProtocol,
	"protocol":         EngineProtocol,
	"http":             EngineProtocol,
	"requests":         EngineProtocol,
	"rendering-engine": EngineRendering,
	"rendering":        EngineRendering,
	"browser":          EngineRendering,
	"playwright":       EngineRendering,
}

// ParseEngine converts a user supplied name into an Engine.
func ParseEngine(name string) (Engine, error) {
	e, ok := engineAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidEngine, name)
	}
	return e, nil
}

// UnmarshalText lets Engine be decoded from YAML scalars and flags.
func (e *Engine) UnmarshalText(text []byte) error {
	parsed, err := ParseEngine(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// String returns the canonical engine name.
func (e Engine) String() string {
	if e == "" {
		return string(EngineAuto)
	}
	return string(e)
}

// ResolveEngine picks the engine a forum is crawled with. An explicit global
// choice wins; under auto the forum's own engine is used, and the protocol
// client when the forum leaves it unset.
func ResolveEngine(global, forum Engine) Engine {
	if global != "" && global != EngineAuto {
		return global
	}
	if forum != "" && forum != EngineAuto {
		return forum
	}
	return EngineProtocol
}

// SizeRule decides which attachment size is checked against the cap.
type SizeRule string

const (
	// SizeRuleStricter enforces the cap on both the declared and the observed size.
	SizeRuleStricter SizeRule = "stricter"
	// SizeRuleDeclared checks only the size declared by the page, plus the fetch cap.
	SizeRuleDeclared SizeRule = "declared"
	// SizeRuleObserved ignores declared sizes and checks the fetched byte count.
	SizeRuleObserved SizeRule = "observed"
)

// ParseSizeRule converts a user supplied name into a SizeRule.
func ParseSizeRule(name string) (SizeRule, error) {
	switch r := SizeRule(strings.ToLower(strings.TrimSpace(name))); r {
	case "":
		return SizeRuleStricter, nil
	case SizeRuleStricter, SizeRuleDeclared, SizeRuleObserved:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSizeRule, name)
	}
}
