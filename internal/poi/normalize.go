package poi

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"
)

// normalizer folds text for case-insensitive substring search. Full-width
// Latin letters and digits fold to their ASCII forms so "ＳＡＤＯ" matches "Sado".
// A cases.Caser is stateful, so callers build one per goroutine.
type normalizer struct {
	lower cases.Caser
}

func newNormalizer() *normalizer {
	return &normalizer{lower: cases.Lower(language.Und)}
}

func (n *normalizer) fold(s string) string {
	if s == "" {
		return ""
	}
	return n.lower.String(width.Fold.String(s))
}

// NormalizeKeyword trims and folds a search keyword. Returns "" when the
// keyword is blank, which disables the keyword predicate.
func NormalizeKeyword(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return newNormalizer().fold(s)
}

// BuildSearchText precomputes the folded concatenation of the searchable
// fields (name, genre, address) for use as PointOfInterest.SearchText.
func BuildSearchText(p *PointOfInterest) string {
	n := newNormalizer()
	parts := make([]string, 0, 3)
	for _, f := range []string{p.Name, p.Genre, p.Address} {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, n.fold(f))
		}
	}
	return strings.Join(parts, " ")
}

// haystack returns the folded text the keyword predicate searches. It
// includes every field that is present, plus SearchText.
func (n *normalizer) haystack(p *PointOfInterest) string {
	var b strings.Builder
	for _, f := range []string{p.Name, p.Address, p.Genre, p.SearchText} {
		if f == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(n.fold(f))
	}
	return b.String()
}
