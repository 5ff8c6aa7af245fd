package jsonsource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/realtime-price-matcher/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-price-matcher/internal/normalize"
	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
	"github.com/JakeFAU/realtime-price-matcher/internal/source"
)

type stubFetcher struct {
	resp collyfetcher.Response
	err  error
}

func (s stubFetcher) Fetch(context.Context, collyfetcher.Request) (collyfetcher.Response, error) {
	return s.resp, s.err
}

func settings(searchURL string) source.Settings {
	return source.Settings{
		Name:      "sellers",
		Kind:      source.KindJSON,
		SearchURL: searchURL,
		Currency:  "JPY",
		Locale:    "ja",
	}
}

func TestFetchSellerList(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("expected json accept header, got %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Items":[
			{"SellerName":"Acme","GoodsName":"Wireless Mouse X200","Price":12000,"GoodsCode":"G1"},
			{"ShopName":"Beta","GoodsName":"Wireless Mouse X200","SellingPrice":"11,800","GoodsCode":"G2","Availability":"在庫なし"}
		]}`))
	}))
	t.Cleanup(srv.Close)

	a := New(settings(srv.URL+"/handler?method=GetCatalogSellerList&keyword={query}"), collyfetcher.New(collyfetcher.Config{Timeout: time.Second}))
	listings, err := a.Fetch(context.Background(), "x200")
	require.NoError(t, err)
	require.Len(t, listings, 2)
	require.Equal(t, "sellers:G1", listings[0].ID)
	require.Equal(t, "Acme", listings[0].Seller)

	second, err := normalize.Normalize(listings[1], a.Settings())
	require.NoError(t, err)
	require.Equal(t, int64(11800), second.PriceMinor)
	require.False(t, second.Available)
}

func TestFetchFailures(t *testing.T) {
	t.Parallel()

	s := settings("https://api.example/items?q={query}")
	tests := []struct {
		name string
		f    stubFetcher
		want error
	}{
		{name: "network", f: stubFetcher{err: errors.New("dial tcp: refused")}, want: pricing.ErrSourceNetwork},
		{name: "rate limited", f: stubFetcher{resp: collyfetcher.Response{StatusCode: 429, Body: []byte(`{}`)}}, want: pricing.ErrSourceBlocked},
		{name: "server error", f: stubFetcher{resp: collyfetcher.Response{StatusCode: 502, Body: []byte(`{"error":"bad gateway"}`)}}, want: pricing.ErrSourceNetwork},
		{name: "html instead of json", f: stubFetcher{resp: collyfetcher.Response{StatusCode: 200, Body: []byte(`<html>maintenance</html>`)}}, want: pricing.ErrSourceParse},
		{name: "challenge page", f: stubFetcher{resp: collyfetcher.Response{StatusCode: 200, Body: []byte(`<html><div id="px-captcha"></div></html>`)}}, want: pricing.ErrSourceBlocked},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(s, tt.f).Fetch(context.Background(), "x200")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFetchKeepsListingsThatMentionMarkers(t *testing.T) {
	t.Parallel()

	body := []byte(`{"Items":[{"SellerName":"Access Denied Records","GoodsName":"Captcha Board Game","Price":3200,"GoodsCode":"G9"}]}`)
	a := New(settings("https://api.example/items?q={query}"), stubFetcher{resp: collyfetcher.Response{StatusCode: 200, Body: body}})
	listings, err := a.Fetch(context.Background(), "board game")
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, "Access Denied Records", listings[0].Seller)
}
