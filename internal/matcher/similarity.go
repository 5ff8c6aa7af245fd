package matcher

import "strings"

// Similarity scores two token sets in [0,1]. Implementations must be deterministic
// and must not depend on token order.
type Similarity func(reference, listing []string) float64

const (
	jaccardWeight  = 0.5
	coverageWeight = 0.5
)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"of": true, "for": true, "with": true, "by": true, "in": true,
	"new": true, "free": true, "shipping": true, "sale": true, "official": true,
	"genuine": true, "authentic": true, "送料無料": true, "正規品": true, "新品": true,
}

// TokenSet drops stop words and single-rune ASCII noise and returns the distinct tokens.
func TokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		tok = strings.ToLower(tok)
		if stopWords[tok] {
			continue
		}
		// Single ASCII characters carry no signal; a single CJK rune can.
		if len(tok) <= 1 {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

// TokenOverlap blends Jaccard similarity with the share of reference tokens the listing covers.
// Coverage ignores extra listing words such as colour or bundle tags.
func TokenOverlap(reference, listing []string) float64 {
	ref := TokenSet(reference)
	lst := TokenSet(listing)
	if len(ref) == 0 || len(lst) == 0 {
		return 0
	}
	shared := 0
	for tok := range ref {
		if _, ok := lst[tok]; ok {
			shared++
		}
	}
	union := len(ref) + len(lst) - shared
	jaccard := float64(shared) / float64(union)
	coverage := float64(shared) / float64(len(ref))
	return clamp(jaccard*jaccardWeight + coverage*coverageWeight)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
