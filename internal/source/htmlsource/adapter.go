// Package htmlsource implements a source adapter for server-rendered search pages.
package htmlsource

import (
	"context"

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

// Adapter fetches a search page over HTTP and extracts listings from its markup.
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

// WithDetector overrides the block detector.
func WithDetector(d *detector.Heuristic) Option {
	return func(a *Adapter) { a.detector = d }
}

// New builds an Adapter.
func New(settings source.Settings, fetcher Fetcher, opts ...Option) *Adapter {
	a := &Adapter{
		settings: settings,
		fetcher:  fetcher,
		detector: detector.NewHeuristic(0),
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
	target := a.settings.QueryURL(query)
	resp, err := a.fetcher.Fetch(ctx, collyfetcher.Request{
		URL:       target,
		Headers:   a.settings.HTTPHeaders(),
		UserAgent: a.settings.UserAgent,
	})
	if err != nil {
		return nil, source.Wrap(a.settings.Name, err)
	}
	pageURL := resp.URL
	if pageURL == "" {
		pageURL = target
	}
	listings, err := source.ParsePage(a.settings, a.detector, source.Page{
		URL:       pageURL,
		Status:    resp.StatusCode,
		Body:      resp.Body,
		FetchedAt: a.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	a.logger.Debug("search page parsed",
		zap.String("url", pageURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("listings", len(listings)),
		zap.Duration("duration", resp.Duration),
	)
	return listings, nil
}
