package normalize

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
)

// Normalize converts a raw listing using the currency and locale of the source it came from.
// Listings with no usable title or price fail with an error wrapping pricing.ErrParse.
func Normalize(raw pricing.RawListing, settings pricing.SourceSettings) (pricing.NormalizedListing, error) {
	title := strings.TrimSpace(raw.Title)
	tokens := Tokens(title)
	if len(tokens) == 0 {
		return pricing.NormalizedListing{}, fmt.Errorf("%w: listing %q has no title", pricing.ErrParse, raw.ID)
	}
	currency := strings.ToUpper(settings.Currency)
	price, err := ParsePrice(raw.Price, currency, LookupLocale(settings.Locale))
	if err != nil {
		return pricing.NormalizedListing{}, fmt.Errorf("%w: listing %q price %q: %v", pricing.ErrParse, raw.ID, raw.Price, err)
	}
	if price <= 0 {
		return pricing.NormalizedListing{}, fmt.Errorf("%w: listing %q price %q is not positive", pricing.ErrParse, raw.ID, raw.Price)
	}
	source := raw.Source
	if source == "" {
		source = settings.Name
	}
	return pricing.NormalizedListing{
		ID:         raw.ID,
		Source:     source,
		Title:      title,
		Tokens:     tokens,
		PriceMinor: price,
		Currency:   currency,
		Seller:     strings.TrimSpace(raw.Seller),
		URL:        raw.URL,
		Available:  Available(raw.Availability),
		FetchedAt:  raw.FetchedAt,
		Seq:        raw.Seq,
	}, nil
}

// Batch normalizes listings from one source, returning the survivors and the number dropped.
func Batch(raws []pricing.RawListing, settings pricing.SourceSettings) ([]pricing.NormalizedListing, int) {
	out := make([]pricing.NormalizedListing, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		n, err := Normalize(raw, settings)
		if err != nil {
			dropped++
			continue
		}
		out = append(out, n)
	}
	return out, dropped
}
