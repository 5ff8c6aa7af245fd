package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// CanonicalTitle applies NFKC, lower-cases, and collapses punctuation and whitespace to single spaces.
func CanonicalTitle(title string) string {
	folded := strings.ToLower(norm.NFKC.String(title))
	var b strings.Builder
	b.Grow(len(folded))
	space := true
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokens splits a title into canonical tokens.
func Tokens(title string) []string {
	return strings.Fields(CanonicalTitle(title))
}

var unavailableMarkers = []string{
	"sold out",
	"out of stock",
	"unavailable",
	"not available",
	"ausverkauft",
	"épuisé",
	"rupture de stock",
	"品切れ",
	"売り切れ",
	"在庫なし",
	"在庫切れ",
	"품절",
}

// Available interprets a free-form availability string. Empty means available.
func Available(text string) bool {
	s := strings.ToLower(norm.NFKC.String(strings.TrimSpace(text)))
	if s == "" {
		return true
	}
	for _, m := range unavailableMarkers {
		if strings.Contains(s, m) {
			return false
		}
	}
	return true
}
