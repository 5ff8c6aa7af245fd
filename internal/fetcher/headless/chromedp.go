// Package headless drives a headless browser for sources that render listings with JavaScript.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Config controls the behavior of the headless browser.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SelectorWait bounds how long Navigate waits for NavigateRequest.WaitSelector.
	SelectorWait time.Duration
}

// NavigateRequest describes one page load.
type NavigateRequest struct {
	URL          string
	Headers      http.Header
	WaitSelector string
	Screenshot   bool
}

// Page is the rendered result of a navigation.
type Page struct {
	URL        string
	Status     int
	Headers    http.Header
	HTML       string
	Screenshot []byte
	Duration   time.Duration
}

// Browser navigates pages with chromedp and headless Chrome. Each navigation owns its own tab,
// which is closed on every exit path.
type Browser struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless browser backed by chromedp.
func NewChromedp(cfg Config) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1366, 900),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser process down.
func (b *Browser) Close() {
	b.allocCancel()
}

// Navigate loads request.URL and returns the rendered DOM. Cancelling ctx closes the tab.
func (b *Browser) Navigate(ctx context.Context, request NavigateRequest) (Page, error) {
	if err := b.acquire(ctx); err != nil {
		return Page{}, err
	}
	defer b.release()

	taskCtx, taskCancel := chromedp.NewContext(b.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, b.navTimeout())
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	page, err := b.render(taskCtx, request)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Page{}, fmt.Errorf("navigate %s: %w", request.URL, ctxErr)
		}
		return Page{}, err
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(request.URL, page.URL)
	if headers == nil {
		headers = http.Header{}
	}
	page.URL = responseURL
	page.Status = status
	page.Headers = headers
	page.Duration = time.Since(start)
	return page, nil
}

func (b *Browser) render(ctx context.Context, request NavigateRequest) (Page, error) {
	var page Page
	load := []chromedp.Action{
		b.networkSetupAction(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, load...); err != nil {
		return Page{}, fmt.Errorf("chromedp navigate: %w", err)
	}
	if request.WaitSelector != "" {
		// A missing selector is not fatal: the page may simply have no results.
		waitCtx, cancel := context.WithTimeout(ctx, b.selectorWait())
		err := chromedp.Run(waitCtx, chromedp.WaitVisible(request.WaitSelector, chromedp.ByQuery))
		cancel()
		if err != nil && ctx.Err() != nil {
			return Page{}, fmt.Errorf("chromedp wait: %w", err)
		}
	}
	capture := []chromedp.Action{
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&page.URL),
		chromedp.OuterHTML("html", &page.HTML, chromedp.ByQuery),
	}
	if request.Screenshot {
		capture = append(capture, chromedp.CaptureScreenshot(&page.Screenshot))
	}
	if err := chromedp.Run(ctx, capture...); err != nil {
		return Page{}, fmt.Errorf("chromedp capture: %w", err)
	}
	return page, nil
}

func (b *Browser) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

func (b *Browser) navTimeout() time.Duration {
	if b.cfg.NavigationTimeout > 0 {
		return b.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

func (b *Browser) selectorWait() time.Duration {
	if b.cfg.SelectorWait > 0 {
		return b.cfg.SelectorWait
	}
	return 5 * time.Second
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

// capture records the first document response; redirects and subframes are ignored.
func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.headers.Clone(), m.url
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := m.snapshot()
	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}

// ErrUnavailable is returned when no browser is configured.
var ErrUnavailable = errors.New("headless browser not configured")
