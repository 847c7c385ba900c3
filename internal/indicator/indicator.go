package indicator

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/nao1215/darkwatch/internal/model"
	"github.com/nao1215/darkwatch/internal/tor"
)

// Kind names a type of indicator.
type Kind string

// Indicator kinds, in the order Extract reports them.
const (
	KindEmail    Kind = "email"
	KindOnion    Kind = "onion"
	KindBitcoin  Kind = "bitcoin"
	KindLitecoin Kind = "litecoin"
	KindEthereum Kind = "ethereum"
	KindMonero   Kind = "monero"
	KindTelegram Kind = "telegram"
	KindDiscord  Kind = "discord"
	KindCVE      Kind = "cve"
	KindIPv4     Kind = "ipv4"
)

// ErrUnknownKind is returned by ParseKinds for an unsupported name.
var ErrUnknownKind = errors.New("unknown indicator kind")

// rule is one pattern of a kind. group selects the submatch that holds the
// value; zero is the whole match.
type rule struct {
	kind    Kind
	pattern *regexp.Regexp
	group   int
	// normalize canonicalises the value before deduplication.
	normalize func(string) string
	// valid rejects pattern matches that fail a format check.
	valid func(string) bool
}

var rules = []rule{
	{
		kind:      KindEmail,
		pattern:   regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
		normalize: strings.ToLower,
	},
	{
		kind:      KindOnion,
		pattern:   regexp.MustCompile(`(?i)\b[a-z2-7]{56}\.onion\b`),
		normalize: strings.ToLower,
		valid:     tor.IsValidV3Address,
	},
	{
		kind:    KindBitcoin,
		pattern: regexp.MustCompile(`\b[13][a-km-zA-HJ-NP-Z1-9]{25,34}\b`),
		valid:   legacyAddress(bitcoinVersions...),
	},
	{
		kind:      KindBitcoin,
		pattern:   regexp.MustCompile(`(?i)\bbc1[ac-hj-np-z02-9]{39,59}\b`),
		normalize: strings.ToLower,
		valid:     segwitAddress("bc"),
	},
	{
		kind:    KindLitecoin,
		pattern: regexp.MustCompile(`\b[LM][a-km-zA-HJ-NP-Z1-9]{26,33}\b`),
		valid:   legacyAddress(litecoinVersions...),
	},
	{
		kind:      KindLitecoin,
		pattern:   regexp.MustCompile(`(?i)\bltc1[ac-hj-np-z02-9]{39,59}\b`),
		normalize: strings.ToLower,
		valid:     segwitAddress("ltc"),
	},
	{
		kind:      KindEthereum,
		pattern:   regexp.MustCompile(`\b0x[a-fA-F0-9]{40}\b`),
		normalize: strings.ToLower,
	},
	{
		kind:    KindMonero,
		pattern: regexp.MustCompile(`\b[48][0-9AB][1-9A-HJ-NP-Za-km-z]{93}\b`),
	},
	{
		kind:      KindTelegram,
		pattern:   regexp.MustCompile(`(?i)\b(?:t|telegram)\.me/(?:joinchat/)?([A-Za-z0-9_]{5,32})`),
		group:     1,
		normalize: strings.ToLower,
	},
	{
		kind:    KindDiscord,
		pattern: regexp.MustCompile(`(?i)\b(?:discord\.gg|discord(?:app)?\.com/invite)/([A-Za-z0-9-]+)`),
		group:   1,
	},
	{
		kind:      KindCVE,
		pattern:   regexp.MustCompile(`(?i)\bCVE-\d{4}-\d{4,7}\b`),
		normalize: strings.ToUpper,
	},
	{
		kind:    KindIPv4,
		pattern: regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		valid: func(s string) bool {
			addr, err := netip.ParseAddr(s)
			return err == nil && addr.Is4()
		},
	},
}

// AllKinds returns every supported kind.
func AllKinds() []Kind {
	kinds := make([]Kind, 0, len(rules))
	seen := make(map[Kind]bool, len(rules))
	for _, r := range rules {
		if !seen[r.kind] {
			seen[r.kind] = true
			kinds = append(kinds, r.kind)
		}
	}
	return kinds
}

// ParseKinds converts user supplied names into kinds. An empty list or
// "all" selects every kind; "none" selects nothing and returns nil.
func ParseKinds(names []string) ([]Kind, error) {
	known := AllKinds()
	var kinds []Kind
	seen := make(map[Kind]bool)
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case "":
			continue
		case "all":
			return known, nil
		case "none":
			return nil, nil
		}
		k := Kind(name)
		found := false
		for _, c := range known {
			if c == k {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, name)
		}
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	if len(kinds) == 0 {
		return known, nil
	}
	return kinds, nil
}

// Extractor finds indicators of selected kinds. It is safe for concurrent
// use.
type Extractor struct {
	rules []rule
}

// New returns an Extractor for kinds, or for every kind when none are given.
func New(kinds ...Kind) *Extractor {
	if len(kinds) == 0 {
		return &Extractor{rules: rules}
	}
	want := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	e := &Extractor{}
	for _, r := range rules {
		if want[r.kind] {
			e.rules = append(e.rules, r)
		}
	}
	return e
}

// Extract returns the distinct indicators in text, grouped by kind in the
// order of AllKinds and in order of appearance within a kind.
func (e *Extractor) Extract(text string) []model.Indicator {
	if text == "" {
		return nil
	}

	var found []model.Indicator
	seen := make(map[model.Indicator]bool)
	for _, r := range e.rules {
		for _, m := range r.pattern.FindAllStringSubmatch(text, -1) {
			value := m[r.group]
			if r.valid != nil && !r.valid(value) {
				continue
			}
			if r.normalize != nil {
				value = r.normalize(value)
			}
			ind := model.Indicator{Kind: string(r.kind), Value: value}
			if seen[ind] {
				continue
			}
			seen[ind] = true
			found = append(found, ind)
		}
	}
	return found
}
