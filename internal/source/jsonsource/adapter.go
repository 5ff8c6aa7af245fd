// Package jsonsource implements a source adapter for JSON search and seller-list endpoints.
package jsonsource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-matcher/internal/clock/system"
	"github.com/JakeFAU/realtime-price-matcher/internal/detector"
	collyfetcher "github.com/JakeFAU/realtime-price-matcher/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
	"github.com/JakeFAU/realtime-price-matcher/internal/source"
)

// Fetcher performs one HTTP GET.
type Fetcher interface {
	Fetch(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error)
}

// Adapter calls a JSON endpoint and maps its records with the source's field map.
type Adapter struct {
	settings source.Settings
	fetcher  Fetcher
	detector *detector.Heuristic
	clock    pricing.Clock
	logger   *zap.Logger
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithClock overrides the fetch timestamp source.
func WithClock(c pricing.Clock) Option {
	return func(a *Adapter) { a.clock = c }
}

// WithLogger sets the adapter logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// New builds an Adapter.
func New(settings source.Settings, fetcher Fetcher, opts ...Option) *Adapter {
	a := &Adapter{
		settings: settings,
		fetcher:  fetcher,
		detector: detector.NewHeuristic(1),
		clock:    system.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("source", settings.Name))
	return a
}

// Settings implements pricing.SourceAdapter.
func (a *Adapter) Settings() pricing.SourceSettings {
	return a.settings.Pricing()
}

// Fetch implements pricing.SourceAdapter.
func (a *Adapter) Fetch(ctx context.Context, query string) ([]pricing.RawListing, error) {
	name := a.settings.Name
	target := a.settings.QueryURL(query)
	headers := a.settings.HTTPHeaders()
	if headers == nil {
		headers = http.Header{}
	}
	if headers.Get("Accept") == "" {
		headers.Set("Accept", "application/json")
	}
	resp, err := a.fetcher.Fetch(ctx, collyfetcher.Request{URL: target, Headers: headers, UserAgent: a.settings.UserAgent})
	if err != nil {
		return nil, source.Wrap(name, err)
	}
	if v := a.detector.Inspect(resp.StatusCode, resp.Body); v.Blocked {
		return nil, pricing.NewSourceError(name, pricing.KindBlocked, errors.New(v.Reason))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, pricing.NewSourceError(name, pricing.KindNetwork, fmt.Errorf("status %d", resp.StatusCode))
	}

	base, err := url.Parse(target)
	if err != nil {
		base = nil
	}
	listings, err := source.DecodeListings(resp.Body, a.settings.JSON, source.Meta{
		Source:    name,
		Locale:    a.settings.Locale,
		BaseURL:   base,
		FetchedAt: a.clock.Now(),
	})
	if err != nil {
		if v := a.detector.Challenge(resp.Body); v.Blocked {
			return nil, pricing.NewSourceError(name, pricing.KindBlocked, errors.New(v.Reason))
		}
		return nil, pricing.NewSourceError(name, pricing.KindParse, err)
	}
	a.logger.Debug("json endpoint decoded", zap.Int("status", resp.StatusCode), zap.Int("listings", len(listings)))
	return listings, nil
}
