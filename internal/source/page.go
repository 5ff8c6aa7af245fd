package source

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/realtime-price-matcher/internal/detector"
	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
)

// Page is a fetched search result page.
type Page struct {
	URL       string
	Status    int
	Body      []byte
	FetchedAt time.Time
}

// ParsePage checks a page for blocks and extracts its listings. A page that states it has no
// results yields an empty slice and no error.
func ParsePage(settings Settings, det *detector.Heuristic, page Page) ([]pricing.RawListing, error) {
	name := settings.Name
	if v := det.Inspect(page.Status, page.Body); v.Blocked {
		return nil, pricing.NewSourceError(name, pricing.KindBlocked, errors.New(v.Reason))
	}
	if page.Status >= 400 {
		return nil, pricing.NewSourceError(name, pricing.KindNetwork, fmt.Errorf("status %d", page.Status))
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, pricing.NewSourceError(name, pricing.KindParse, fmt.Errorf("parse html: %w", err))
	}
	base, err := url.Parse(page.URL)
	if err != nil {
		base = nil
	}

	sel := settings.Selectors.WithDefaults()
	ext := Extract(doc, sel, settings.JSON, Meta{
		Source:    name,
		Locale:    settings.Locale,
		BaseURL:   base,
		FetchedAt: page.FetchedAt,
	})
	if len(ext.Listings) > 0 {
		return ext.Listings, nil
	}

	if v := det.Challenge(page.Body); v.Blocked {
		return nil, pricing.NewSourceError(name, pricing.KindBlocked, errors.New(v.Reason))
	}
	v := det.UnexpectedMarkup(doc, sel.Items, sel.NoResults)
	switch {
	case v.Blocked:
		return nil, pricing.NewSourceError(name, pricing.KindBlocked, errors.New(v.Reason))
	case v.Empty:
		return []pricing.RawListing{}, nil
	default:
		return nil, pricing.NewSourceError(name, pricing.KindParse, errors.New("items matched but no listing fields were found"))
	}
}
