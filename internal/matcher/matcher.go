// Package matcher scores normalized listings against a reference product and picks the winner.
package matcher

import (
	"cmp"
	"slices"
	"strings"

	"github.com/JakeFAU/realtime-price-matcher/internal/normalize"
	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
)

// Config tunes verification and the price-plausibility penalty.
type Config struct {
	// Threshold is the score a candidate must exceed to be verified.
	Threshold float64
	// PlausibilityFraction marks listings below this share of the expected price as implausible.
	PlausibilityFraction float64
	// ImplausiblePenalty multiplies the title score of implausible listings.
	ImplausiblePenalty float64
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{Threshold: 0.6, PlausibilityFraction: 0.3, ImplausiblePenalty: 0.5}
}

// Matcher is safe for concurrent use.
type Matcher struct {
	cfg        Config
	similarity Similarity
}

// Option customizes a Matcher.
type Option func(*Matcher)

// WithSimilarity replaces the title scorer.
func WithSimilarity(fn Similarity) Option {
	return func(m *Matcher) {
		if fn != nil {
			m.similarity = fn
		}
	}
}

// New builds a Matcher. Zero config fields fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Matcher {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.PlausibilityFraction <= 0 {
		cfg.PlausibilityFraction = def.PlausibilityFraction
	}
	if cfg.ImplausiblePenalty <= 0 {
		cfg.ImplausiblePenalty = def.ImplausiblePenalty
	}
	m := &Matcher{cfg: cfg, similarity: TokenOverlap}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration.
func (m *Matcher) Config() Config { return m.cfg }

// Evaluation is the outcome of matching one listing set.
type Evaluation struct {
	// Candidates are ordered by price, then title score, then fetch time.
	Candidates []pricing.MatchCandidate
	Winner     *pricing.MatchCandidate
	Offers     []pricing.RankedOffer
}

// Match scores listings against product. The result does not depend on the order of listings.
func (m *Matcher) Match(product pricing.ReferenceProduct, listings []pricing.NormalizedListing) Evaluation {
	reference := referenceTokens(product)
	expected := product.PriceBand.Expected()
	currency := strings.ToUpper(product.Currency)

	candidates := make([]pricing.MatchCandidate, 0, len(listings))
	for _, l := range listings {
		titleScore := clamp(m.similarity(reference, l.Tokens))
		plausible := m.plausible(l.PriceMinor, expected)
		score := titleScore
		if !plausible {
			score *= m.cfg.ImplausiblePenalty
		}
		score = clamp(score)
		candidates = append(candidates, pricing.MatchCandidate{
			Listing:    l,
			TitleScore: titleScore,
			Score:      score,
			Plausible:  plausible,
			Verified:   score > m.cfg.Threshold && l.Available && strings.EqualFold(l.Currency, currency),
		})
	}
	slices.SortStableFunc(candidates, compareCandidates)

	eval := Evaluation{Candidates: candidates}
	for i := range candidates {
		if candidates[i].Verified {
			winner := candidates[i]
			eval.Winner = &winner
			break
		}
	}
	eval.Offers = RankOffers(candidates)
	return eval
}

func (m *Matcher) plausible(price, expected int64) bool {
	if expected <= 0 {
		return true
	}
	return float64(price) >= m.cfg.PlausibilityFraction*float64(expected)
}

// referenceTokens adds brand and model tokens that the title may omit.
func referenceTokens(p pricing.ReferenceProduct) []string {
	tokens := normalize.Tokens(p.Title)
	tokens = append(tokens, normalize.Tokens(p.Brand)...)
	tokens = append(tokens, normalize.Tokens(p.Model)...)
	return tokens
}

// compareCandidates is a total order: lower price, higher title score, earlier fetch,
// extraction order, then source and listing id.
func compareCandidates(a, b pricing.MatchCandidate) int {
	if c := cmp.Compare(a.Listing.PriceMinor, b.Listing.PriceMinor); c != 0 {
		return c
	}
	if c := cmp.Compare(b.TitleScore, a.TitleScore); c != 0 {
		return c
	}
	if c := a.Listing.FetchedAt.Compare(b.Listing.FetchedAt); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Listing.Seq, b.Listing.Seq); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Listing.Source, b.Listing.Source); c != 0 {
		return c
	}
	return cmp.Compare(a.Listing.ID, b.Listing.ID)
}

// RankOffers keeps the cheapest verified offer per seller and numbers them by price.
// Candidates must already be ordered by compareCandidates.
func RankOffers(candidates []pricing.MatchCandidate) []pricing.RankedOffer {
	seen := make(map[string]bool)
	var offers []pricing.RankedOffer
	for _, c := range candidates {
		if !c.Verified {
			continue
		}
		seller := strings.TrimSpace(c.Listing.Seller)
		if seller == "" {
			seller = c.Listing.Source
		}
		key := strings.ToLower(c.Listing.Source + "\x00" + seller)
		if seen[key] {
			continue
		}
		seen[key] = true
		offers = append(offers, pricing.RankedOffer{
			Rank:       len(offers) + 1,
			Seller:     seller,
			Source:     c.Listing.Source,
			PriceMinor: c.Listing.PriceMinor,
			URL:        c.Listing.URL,
		})
	}
	return offers
}
