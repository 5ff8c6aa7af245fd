package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
)

func TestFetchReturnsBodyAndStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Trace") != "yes" {
			t.Errorf("expected trace header, got %q", r.Header.Get("X-Trace"))
		}
		if r.UserAgent() != "price-bot" {
			t.Errorf("expected user agent override, got %q", r.UserAgent())
		}
		if r.URL.Query().Get("q") == "blocked" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("denied"))
			return
		}
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "default-agent", Timeout: time.Second})
	req := Request{URL: srv.URL + "/search?q=mouse", Headers: http.Header{"X-Trace": {"yes"}}, UserAgent: "price-bot"}

	resp, err := f.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK || string(resp.Body) != "<html>ok</html>" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// The same URL can be fetched again (retries revisit).
	if _, err := f.Fetch(context.Background(), req); err != nil {
		t.Fatalf("revisit failed: %v", err)
	}

	req.URL = srv.URL + "/search?q=blocked"
	resp, err = f.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("error statuses should be returned as responses, got %v", err)
	}
	if resp.StatusCode != http.StatusForbidden || string(resp.Body) != "denied" {
		t.Fatalf("unexpected blocked response: %+v", resp)
	}
}

func TestFetchHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(Config{Timeout: 5 * time.Second}).Fetch(ctx, Request{URL: srv.URL})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := Request{URL: "https://example.com", Headers: http.Header{"X-Trace": {"yes"}}}
	var result Response
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("X-Trace") != "yes" {
		t.Fatalf("expected header propagation, got %+v", collyReq.Headers)
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusTooManyRequests,
		Body:       []byte("slow down"),
		Headers:    &http.Header{"Retry-After": {"5"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	if result.StatusCode != http.StatusTooManyRequests || string(result.Body) != "slow down" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Headers.Get("Retry-After") != "5" {
		t.Fatalf("expected headers copied, got %+v", result.Headers)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}
}

func TestBuildCollectorDefaults(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "default-agent"})
	collector := f.buildCollector(context.Background(), Request{URL: "https://example.com"}, time.Now(), &Response{}, new(error))
	if collector.UserAgent != "default-agent" {
		t.Fatalf("expected config user agent, got %q", collector.UserAgent)
	}
	if !collector.IgnoreRobotsTxt {
		t.Fatal("expected robots.txt to be ignored by default")
	}
	if !collector.AllowURLRevisit {
		t.Fatal("expected revisits to be allowed")
	}
	if f.timeout() != 15*time.Second {
		t.Fatalf("expected default timeout, got %v", f.timeout())
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
