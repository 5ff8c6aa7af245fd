// Package source holds the shared machinery for source adapters: settings, extraction,
// error classification, and the adapter registry.
package source

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
)

// Kind selects the adapter implementation for a source.
type Kind string

// Adapter kinds.
const (
	KindHTML    Kind = "html"
	KindBrowser Kind = "browser"
	KindJSON    Kind = "json"
)

// QueryPlaceholder is replaced by the escaped search query in SearchURL.
const QueryPlaceholder = "{query}"

// Settings configures one competitor site.
type Settings struct {
	Name          string            `mapstructure:"name"`
	Kind          Kind              `mapstructure:"kind"`
	SearchURL     string            `mapstructure:"search_url"`
	Currency      string            `mapstructure:"currency"`
	Locale        string            `mapstructure:"locale"`
	UserAgent     string            `mapstructure:"user_agent"`
	Headers       map[string]string `mapstructure:"headers"`
	RespectRobots bool              `mapstructure:"respect_robots"`
	// RPS and Burst space requests to the site; zero RPS disables limiting.
	RPS          float64   `mapstructure:"rps"`
	Burst        int       `mapstructure:"burst"`
	Selectors    Selectors `mapstructure:"selectors"`
	JSON         FieldMap  `mapstructure:"json"`
	WaitSelector string    `mapstructure:"wait_selector"`
	// Debug stores a screenshot and the HTML of pages that yield no listings.
	Debug bool `mapstructure:"debug"`
}

// Validate checks the settings that every adapter kind needs.
func (s Settings) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	switch s.Kind {
	case KindHTML, KindBrowser, KindJSON:
	default:
		errs = append(errs, fmt.Errorf("unknown kind %q", s.Kind))
	}
	if !strings.Contains(s.SearchURL, QueryPlaceholder) {
		errs = append(errs, fmt.Errorf("search_url must contain %s", QueryPlaceholder))
	} else if _, err := url.Parse(strings.ReplaceAll(s.SearchURL, QueryPlaceholder, "q")); err != nil {
		errs = append(errs, fmt.Errorf("search_url: %w", err))
	}
	if len(strings.TrimSpace(s.Currency)) != 3 {
		errs = append(errs, fmt.Errorf("currency %q must be an ISO 4217 code", s.Currency))
	}
	if s.RPS < 0 {
		errs = append(errs, errors.New("rps must be >= 0"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("source %q: %w", s.Name, err)
	}
	return nil
}

// QueryURL builds the search URL for query.
func (s Settings) QueryURL(query string) string {
	return strings.ReplaceAll(s.SearchURL, QueryPlaceholder, url.QueryEscape(strings.TrimSpace(query)))
}

// Pricing returns the subset of settings the normalizer depends on.
func (s Settings) Pricing() pricing.SourceSettings {
	return pricing.SourceSettings{
		Name:     s.Name,
		Currency: strings.ToUpper(strings.TrimSpace(s.Currency)),
		Locale:   s.Locale,
	}
}

// HTTPHeaders converts the configured headers.
func (s Settings) HTTPHeaders() http.Header {
	if len(s.Headers) == 0 {
		return nil
	}
	out := make(http.Header, len(s.Headers))
	for k, v := range s.Headers {
		out.Set(k, v)
	}
	return out
}
