// Package browsersource implements a source adapter for pages that render listings with JavaScript.
package browsersource

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-matcher/internal/clock/system"
	"github.com/JakeFAU/realtime-price-matcher/internal/detector"
	"github.com/JakeFAU/realtime-price-matcher/internal/fetcher/headless"
	"github.com/JakeFAU/realtime-price-matcher/internal/hash/sha256"
	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
	"github.com/JakeFAU/realtime-price-matcher/internal/source"
)

// Navigator loads a page in a browser.
type Navigator interface {
	Navigate(ctx context.Context, request headless.NavigateRequest) (headless.Page, error)
}

// Adapter renders a search page in a headless browser and extracts listings from the DOM.
type Adapter struct {
	settings  source.Settings
	navigator Navigator
	detector  *detector.Heuristic
	snapshots pricing.BlobStore
	hasher    pricing.Hasher
	clock     pricing.Clock
	logger    *zap.Logger
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

// WithSnapshots stores debug screenshots and HTML when Settings.Debug is on.
func WithSnapshots(store pricing.BlobStore) Option {
	return func(a *Adapter) { a.snapshots = store }
}

// New builds an Adapter.
func New(settings source.Settings, navigator Navigator, opts ...Option) *Adapter {
	a := &Adapter{
		settings:  settings,
		navigator: navigator,
		detector:  detector.NewHeuristic(0),
		hasher:    sha256.New(),
		clock:     system.New(),
		logger:    zap.NewNop(),
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
	page, err := a.navigator.Navigate(ctx, headless.NavigateRequest{
		URL:          target,
		Headers:      a.settings.HTTPHeaders(),
		WaitSelector: a.waitSelector(),
		Screenshot:   a.settings.Debug && a.snapshots != nil,
	})
	if err != nil {
		return nil, source.Wrap(a.settings.Name, err)
	}
	listings, err := source.ParsePage(a.settings, a.detector, source.Page{
		URL:       page.URL,
		Status:    page.Status,
		Body:      []byte(page.HTML),
		FetchedAt: a.clock.Now(),
	})
	if err != nil || len(listings) == 0 {
		a.saveSnapshot(ctx, query, page)
	}
	if err != nil {
		return nil, err
	}
	a.logger.Debug("rendered page parsed",
		zap.String("url", page.URL),
		zap.Int("status", page.Status),
		zap.Int("listings", len(listings)),
		zap.Duration("duration", page.Duration),
	)
	return listings, nil
}

func (a *Adapter) waitSelector() string {
	if a.settings.WaitSelector != "" {
		return a.settings.WaitSelector
	}
	if len(a.settings.Selectors.Items) > 0 {
		return a.settings.Selectors.Items[0]
	}
	return ""
}

// saveSnapshot writes the page HTML and screenshot for later inspection. Failures are logged only.
func (a *Adapter) saveSnapshot(ctx context.Context, query string, page headless.Page) {
	if !a.settings.Debug || a.snapshots == nil {
		return
	}
	now := a.clock.Now()
	digest, err := a.hasher.Hash([]byte(query + "\x00" + page.URL))
	if err != nil {
		a.logger.Warn("snapshot name failed", zap.Error(err))
		return
	}
	if len(digest) > 12 {
		digest = digest[:12]
	}
	base := path.Join("debug", a.settings.Name, fmt.Sprintf("%s-%s", now.Format("20060102T150405Z"), digest))

	objects := []struct {
		name        string
		contentType string
		data        []byte
	}{
		{name: base + ".html", contentType: "text/html; charset=utf-8", data: []byte(page.HTML)},
		{name: base + ".png", contentType: "image/png", data: page.Screenshot},
	}
	var stored []string
	for _, obj := range objects {
		if len(obj.data) == 0 {
			continue
		}
		uri, err := a.snapshots.PutObject(ctx, obj.name, obj.contentType, bytes.NewReader(obj.data))
		if err != nil {
			a.logger.Warn("snapshot upload failed", zap.String("object", obj.name), zap.Error(err))
			continue
		}
		stored = append(stored, uri)
	}
	if len(stored) > 0 {
		a.logger.Info("debug snapshot stored", zap.String("query", query), zap.String("objects", strings.Join(stored, ",")))
	}
}
