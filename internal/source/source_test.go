package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-price-matcher/internal/detector"
	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
)

var fetched = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func meta(t *testing.T) Meta {
	t.Helper()
	base, err := url.Parse("https://shop.example/search?q=x200")
	require.NoError(t, err)
	return Meta{Source: "shop", Locale: "ja", BaseURL: base, FetchedAt: fetched}
}

func TestSettingsValidate(t *testing.T) {
	t.Parallel()

	valid := Settings{Name: "shop", Kind: KindHTML, SearchURL: "https://shop.example/s?q={query}", Currency: "JPY"}
	require.NoError(t, valid.Validate())

	bad := Settings{Kind: "ftp", SearchURL: "https://shop.example/s", Currency: "yen", RPS: -1}
	err := bad.Validate()
	require.Error(t, err)
	for _, want := range []string{"name is required", "unknown kind", "{query}", "ISO 4217", "rps"} {
		require.Contains(t, err.Error(), want)
	}
}

func TestSettingsQueryURLAndPricing(t *testing.T) {
	t.Parallel()

	s := Settings{Name: "shop", SearchURL: "https://shop.example/s?q={query}&sort=price", Currency: "jpy", Locale: "ja-JP",
		Headers: map[string]string{"accept-language": "ja"}}
	require.Equal(t, "https://shop.example/s?q=wireless+mouse+x200&sort=price", s.QueryURL(" wireless mouse x200 "))
	require.Equal(t, pricing.SourceSettings{Name: "shop", Currency: "JPY", Locale: "ja-JP"}, s.Pricing())
	require.Equal(t, "ja", s.HTTPHeaders().Get("Accept-Language"))
	require.Nil(t, Settings{}.HTTPHeaders())
}

func TestExtractUsesFirstMatchingItemSelector(t *testing.T) {
	t.Parallel()

	html := `<html><body>
	<ul class="goods_list">
	  <li><a href="/g/1001" title="Wireless Mouse X200">link</a><span class="seller_name">Acme</span>
	      <div class="price"><em>12,000円</em></div><img src="/img/1.jpg"></li>
	  <li><span class="tit">Wireless Mouse X200 Black</span><span class="shop_name">Beta</span>
	      <p>特価 ¥11,500 税込</p><span class="soldout">売り切れ</span></li>
	  <li><span class="ad">sponsored</span></li>
	</ul></body></html>`

	ext := Extract(mustDoc(t, html), Selectors{}, FieldMap{}, meta(t))
	require.Equal(t, ".goods_list li, .goods_list .item", ext.Strategy)
	require.Len(t, ext.Listings, 2)

	first := ext.Listings[0]
	require.Equal(t, "Wireless Mouse X200", first.Title)
	require.Equal(t, "12,000円", first.Price)
	require.Equal(t, "Acme", first.Seller)
	require.Equal(t, "https://shop.example/g/1001", first.URL)
	require.NotEmpty(t, first.ImageHash)
	require.Equal(t, "shop", first.Source)
	require.Equal(t, fetched, first.FetchedAt)
	require.Equal(t, 0, first.Seq)
	require.NotEmpty(t, first.ID)

	second := ext.Listings[1]
	require.Equal(t, "Wireless Mouse X200 Black", second.Title)
	require.Equal(t, "¥11,500", second.Price)
	require.Equal(t, "売り切れ", second.Availability)
	require.Equal(t, 1, second.Seq)
	require.NotEqual(t, first.ID, second.ID)
}

func TestExtractFallsBackToEmbeddedJSON(t *testing.T) {
	t.Parallel()

	html := `<html><body><div id="app"></div>
	<script>window.dataLayer = [];</script>
	<script type="application/json">{"ResultObject":[
	  {"SellerName":"Acme","GoodsName":"Wireless Mouse X200","SellPrice":"12,000","GoodsCode":"A1"},
	  {"ShopName":"Beta","GoodsName":"Wireless Mouse X200","Price":11800}
	]}</script></body></html>`

	ext := Extract(mustDoc(t, html), Selectors{Items: []string{".nothing"}}, FieldMap{}, meta(t))
	require.Equal(t, "embedded-json", ext.Strategy)
	require.Len(t, ext.Listings, 2)
	require.Equal(t, "shop:A1", ext.Listings[0].ID)
	require.Equal(t, "Acme", ext.Listings[0].Seller)
	require.Equal(t, "12,000", ext.Listings[0].Price)
	require.Equal(t, "Beta", ext.Listings[1].Seller)
	require.Equal(t, "11800", ext.Listings[1].Price)
}

func TestExtractNothing(t *testing.T) {
	t.Parallel()

	ext := Extract(mustDoc(t, `<html><body><p>検索結果がありません</p></body></html>`), Selectors{}, FieldMap{}, meta(t))
	require.Empty(t, ext.Listings)
	require.Empty(t, ext.Strategy)
}

func TestDecodeListingsShapes(t *testing.T) {
	t.Parallel()

	m := meta(t)
	list, err := DecodeListings([]byte(`[{"title":"Mouse","price":12.5,"availability":false},{"note":"skip"}]`), FieldMap{}, Meta{Source: "s", Locale: "de"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "12,5", list[0].Price)
	require.Equal(t, "out of stock", list[0].Availability)

	list, err = DecodeListings([]byte(`[{"title":"Mouse","price":1.2e3},{"title":"Pad","price":1.25E1}]`), FieldMap{}, Meta{Source: "s", Locale: "de"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "1200", list[0].Price)
	require.Equal(t, "12,5", list[1].Price)

	list, err = DecodeListings([]byte(`{"data":{"items":[{"name":"Mouse","salePrice":"9.99","url":"/p/1","stock":3}]}}`), FieldMap{}, m)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "https://shop.example/p/1", list[0].URL)
	require.Equal(t, "in stock", list[0].Availability)

	list, err = DecodeListings([]byte(`{"Title":"Single","Price":"500"}`), FieldMap{}, m)
	require.NoError(t, err)
	require.Len(t, list, 1)

	custom := FieldMap{Root: []string{"hits"}, Title: []string{"label"}, Price: []string{"amount"}}
	list, err = DecodeListings([]byte(`{"hits":[{"label":"Mouse","amount":"1,200"}]}`), custom, m)
	require.NoError(t, err)
	require.Equal(t, "Mouse", list[0].Title)

	_, err = DecodeListings([]byte(`{"broken"`), FieldMap{}, m)
	require.Error(t, err)
	_, err = DecodeListings([]byte(`"text"`), FieldMap{}, m)
	require.Error(t, err)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyAndWrap(t *testing.T) {
	t.Parallel()

	require.Equal(t, pricing.KindTimeout, Classify(fmt.Errorf("visit: %w", context.DeadlineExceeded)))
	require.Equal(t, pricing.KindTimeout, Classify(&url.Error{Op: "Get", URL: "https://x", Err: timeoutErr{}}))
	require.Equal(t, pricing.KindBlocked, Classify(colly.ErrRobotsTxtBlocked))
	require.Equal(t, pricing.KindNetwork, Classify(errors.New("connection reset")))
	require.Equal(t, pricing.KindParse, Classify(pricing.NewSourceError("s", pricing.KindParse, nil)))

	err := Wrap("shop", context.DeadlineExceeded)
	require.ErrorIs(t, err, pricing.ErrSourceTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	blocked := pricing.NewSourceError("shop", pricing.KindBlocked, nil)
	require.Same(t, blocked, Wrap("other", blocked))
	require.NoError(t, Wrap("shop", nil))
}

type stubAdapter struct{ settings pricing.SourceSettings }

func (s stubAdapter) Settings() pricing.SourceSettings { return s.settings }

func (s stubAdapter) Fetch(context.Context, string) ([]pricing.RawListing, error) { return nil, nil }

func TestRegistryBuild(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.RegisterKind(KindHTML, func(s Settings) (pricing.SourceAdapter, error) {
		return stubAdapter{settings: s.Pricing()}, nil
	})
	settings := []Settings{
		{Name: "b", Kind: KindHTML, SearchURL: "https://b.example/?q={query}", Currency: "JPY"},
		{Name: "a", Kind: KindHTML, SearchURL: "https://a.example/?q={query}", Currency: "JPY"},
	}
	require.NoError(t, r.Build(settings))
	require.Equal(t, []string{"b", "a"}, r.Names())
	require.Len(t, r.Adapters(), 2)
	got, ok := r.Get("a")
	require.True(t, ok)
	require.Equal(t, "a", got.Settings().Name)

	err := r.Build(settings[:1])
	require.ErrorContains(t, err, "already registered")

	err = r.Build([]Settings{{Name: "c", Kind: KindJSON, SearchURL: "https://c.example/?q={query}", Currency: "JPY"}})
	require.ErrorContains(t, err, "no factory")

	require.Error(t, r.Register(nil))
	require.Error(t, r.Register(stubAdapter{}))
}

func TestParsePage(t *testing.T) {
	t.Parallel()

	det := detector.NewHeuristic(64)
	settings := Settings{Name: "shop", Kind: KindHTML, SearchURL: "https://shop.example/?q={query}", Currency: "JPY", Locale: "ja"}
	page := func(status int, body string) Page {
		return Page{URL: "https://shop.example/?q=x", Status: status, Body: []byte(body), FetchedAt: fetched}
	}
	filler := strings.Repeat("<p>filler</p>", 10)

	listings, err := ParsePage(settings, det, page(200, `<ul class="goods_list"><li><span class="tit">Mouse</span><em class="price">1,000円</em></li></ul>`+filler))
	require.NoError(t, err)
	require.Len(t, listings, 1)

	withRecaptcha := `<html><head><script src="https://www.google.com/recaptcha/api.js" async defer></script></head>` +
		`<body><ul class="goods_list"><li><span class="tit">Mouse</span><em class="price">1,200円</em></li></ul>` + filler + `</body></html>`
	listings, err = ParsePage(settings, det, page(200, withRecaptcha))
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Contains(t, listings[0].Price, "1,200")

	_, err = ParsePage(settings, det, page(200, `<div class="g-recaptcha">Please complete the captcha</div>`+filler))
	require.ErrorIs(t, err, pricing.ErrSourceBlocked)

	_, err = ParsePage(settings, det, page(403, "forbidden"))
	require.ErrorIs(t, err, pricing.ErrSourceBlocked)

	_, err = ParsePage(settings, det, page(500, "oops"+filler))
	require.ErrorIs(t, err, pricing.ErrSourceNetwork)

	listings, err = ParsePage(settings, det, page(200, "<p>該当する商品がありません</p>"+filler))
	require.NoError(t, err)
	require.NotNil(t, listings)
	require.Empty(t, listings)

	_, err = ParsePage(settings, det, page(200, "<div>maintenance</div>"+filler))
	require.ErrorIs(t, err, pricing.ErrSourceBlocked)

	_, err = ParsePage(settings, det, page(200, `<ul class="goods_list"><li><span class="ad">promo</span></li></ul>`+filler))
	require.ErrorIs(t, err, pricing.ErrSourceParse)
}
