package htmlsource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/realtime-price-matcher/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
	"github.com/JakeFAU/realtime-price-matcher/internal/source"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type stubFetcher struct {
	resp collyfetcher.Response
	err  error
	got  collyfetcher.Request
}

func (s *stubFetcher) Fetch(_ context.Context, req collyfetcher.Request) (collyfetcher.Response, error) {
	s.got = req
	return s.resp, s.err
}

func settings(searchURL string) source.Settings {
	return source.Settings{
		Name:      "shop-a",
		Kind:      source.KindHTML,
		SearchURL: searchURL,
		Currency:  "JPY",
		Locale:    "ja",
		UserAgent: "price-bot",
		Selectors: source.Selectors{
			Items:  []string{"div.result"},
			Title:  []string{"h2"},
			Price:  []string{".amount"},
			Seller: []string{".store"},
			Link:   []string{"a@href"},
		},
	}
}

const resultsPage = `<html><body>
<div class="result"><h2>Wireless Mouse X200</h2><span class="amount">¥12,000</span><span class="store">Acme</span><a href="/item/1">view</a></div>
<div class="result"><h2>Wireless Mouse X200 (bulk)</h2><span class="amount">¥3,000</span><span class="store">Cheap</span><a href="/item/2">view</a></div>
</body></html>`

func TestFetchAgainstServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "wireless mouse" {
			t.Errorf("unexpected query %q", got)
		}
		_, _ = w.Write([]byte(resultsPage))
	}))
	t.Cleanup(srv.Close)

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	a := New(settings(srv.URL+"/search?q={query}"), collyfetcher.New(collyfetcher.Config{Timeout: time.Second}),
		WithClock(fixedClock{t: now}))

	listings, err := a.Fetch(context.Background(), "wireless mouse")
	require.NoError(t, err)
	require.Len(t, listings, 2)
	require.Equal(t, "Wireless Mouse X200", listings[0].Title)
	require.Equal(t, "¥12,000", listings[0].Price)
	require.Equal(t, "Acme", listings[0].Seller)
	require.Equal(t, srv.URL+"/item/1", listings[0].URL)
	require.Equal(t, "shop-a", listings[0].Source)
	require.Equal(t, now, listings[0].FetchedAt)
	require.Equal(t, pricing.SourceSettings{Name: "shop-a", Currency: "JPY", Locale: "ja"}, a.Settings())
}

func TestFetchSendsConfiguredRequest(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{resp: collyfetcher.Response{StatusCode: 200, Body: []byte(resultsPage)}}
	s := settings("https://shop.example/s?q={query}")
	s.Headers = map[string]string{"Accept-Language": "ja-JP"}
	_, err := New(s, f).Fetch(context.Background(), "x200")
	require.NoError(t, err)
	require.Equal(t, "https://shop.example/s?q=x200", f.got.URL)
	require.Equal(t, "price-bot", f.got.UserAgent)
	require.Equal(t, "ja-JP", f.got.Headers.Get("Accept-Language"))
}

func TestFetchClassifiesFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		f    *stubFetcher
		want error
	}{
		{name: "timeout", f: &stubFetcher{err: context.DeadlineExceeded}, want: pricing.ErrSourceTimeout},
		{name: "network", f: &stubFetcher{err: errors.New("connection refused")}, want: pricing.ErrSourceNetwork},
		{name: "forbidden", f: &stubFetcher{resp: collyfetcher.Response{StatusCode: 403, Body: []byte("no")}}, want: pricing.ErrSourceBlocked},
		{name: "captcha", f: &stubFetcher{resp: collyfetcher.Response{StatusCode: 200, Body: []byte("<div>captcha required</div>")}}, want: pricing.ErrSourceBlocked},
		{name: "unexpected markup", f: &stubFetcher{resp: collyfetcher.Response{StatusCode: 200, Body: []byte(strings.Repeat("<p>redesign</p>", 200))}}, want: pricing.ErrSourceBlocked},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(settings("https://shop.example/s?q={query}"), tt.f).Fetch(context.Background(), "x200")
			require.ErrorIs(t, err, tt.want)
			var se *pricing.SourceError
			require.ErrorAs(t, err, &se)
			require.Equal(t, "shop-a", se.Source)
		})
	}
}
