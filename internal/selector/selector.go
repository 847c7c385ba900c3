package selector

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/text/unicode/norm"
)

// candidate is one compiled selector.
type candidate struct {
	raw     string
	matcher cascadia.Selector
}

// List is a compiled, ordered selector fallback list. The zero value
// matches nothing.
type List struct {
	candidates []candidate
}

// Compile compiles selectors in order. Empty entries are skipped.
func Compile(selectors []string) (List, error) {
	var l List
	for _, raw := range selectors {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		group, err := cascadia.ParseGroup(raw)
		if err != nil {
			return List{}, fmt.Errorf("compile selector %q: %w", raw, err)
		}
		l.candidates = append(l.candidates, candidate{raw: raw, matcher: cascadia.Selector(group.Match)})
	}
	return l, nil
}

// Empty reports whether the list has no candidates.
func (l List) Empty() bool {
	return len(l.candidates) == 0
}

// Len returns the number of candidates.
func (l List) Len() int {
	return len(l.candidates)
}

// All returns every match of the first candidate that matches at least one
// node under root, along with the index of that candidate. It returns an
// empty selection and -1 when nothing matches.
func (l List) All(root *goquery.Selection) (*goquery.Selection, int) {
	for i, c := range l.candidates {
		if found := root.FindMatcher(c.matcher); found.Length() > 0 {
			return found, i
		}
	}
	return root.Slice(0, 0), -1
}

// First returns the first node of the first candidate that matches, or an
// empty selection.
func (l List) First(root *goquery.Selection) *goquery.Selection {
	found, _ := l.All(root)
	return found.First()
}

// Text returns the normalized text of the first match whose text is not
// empty. Candidates are tried in order; within a candidate, matches are
// tried in document order.
func (l List) Text(root *goquery.Selection) (string, bool) {
	return l.firstValue(root, func(s *goquery.Selection) string {
		return NormalizeText(s.Text())
	})
}

// Attr returns the first non-empty value of attr among the matches.
func (l List) Attr(root *goquery.Selection, attr string) (string, bool) {
	return l.firstValue(root, func(s *goquery.Selection) string {
		v, _ := s.Attr(attr)
		return strings.TrimSpace(v)
	})
}

// AttrOrText returns attr of a match when present, otherwise its text.
// Timestamps use it to prefer a machine readable datetime attribute.
func (l List) AttrOrText(root *goquery.Selection, attr string) (string, bool) {
	return l.firstValue(root, func(s *goquery.Selection) string {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return NormalizeText(s.Text())
	})
}

func (l List) firstValue(root *goquery.Selection, value func(*goquery.Selection) string) (string, bool) {
	for _, c := range l.candidates {
		var out string
		root.FindMatcher(c.matcher).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			out = value(s)
			return out == ""
		})
		if out != "" {
			return out, true
		}
	}
	return "", false
}

// String lists the raw selectors for logging.
func (l List) String() string {
	raw := make([]string, len(l.candidates))
	for i, c := range l.candidates {
		raw[i] = c.raw
	}
	return strings.Join(raw, " | ")
}

// NormalizeText collapses runs of whitespace into single spaces, trims the
// result and applies Unicode NFC normalization, so the same post renders to
// the same string across fetches.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}
