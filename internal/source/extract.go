package source

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/realtime-price-matcher/internal/hash/sha256"
	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
)

// Selectors locate listings in a search page. Item selectors are tried in order and the first
// one that yields listings wins. Field selectors are fallbacks tried in order within an item;
// "css@attr" reads an attribute and "@attr" reads it from the item itself.
type Selectors struct {
	Items        []string `mapstructure:"items"`
	Title        []string `mapstructure:"title"`
	Price        []string `mapstructure:"price"`
	Seller       []string `mapstructure:"seller"`
	Link         []string `mapstructure:"link"`
	Image        []string `mapstructure:"image"`
	Availability []string `mapstructure:"availability"`
	// NoResults are texts a site shows for an empty search; they distinguish "nothing found"
	// from unexpected markup.
	NoResults []string `mapstructure:"no_results"`
}

// DefaultSelectors returns marketplace-style fallbacks used when a source configures none.
func DefaultSelectors() Selectors {
	return Selectors{
		Items: []string{
			".catalog_goods_list .item, .catalog_goods_list li",
			"#catalogGoodsList li, #catalog_goods_list li",
			".tbl_catalog_goods tbody tr",
			".goods_list li, .goods_list .item",
			".prd_list li, .prd_list .item",
			"[data-listing]",
		},
		Title:  []string{".tit", ".title", ".goods_name", "[class*=name] a", "a@title"},
		Price:  []string{".price em", ".prc em", ".sell_price em", "strong.price", "[class*=price]", "@data-price"},
		Seller: []string{".seller_name", ".shop_name", "[class*=seller]", "[class*=shop]", "@data-seller"},
		Link:   []string{"a[href*=goodscode]@href", "a[href]@href"},
		Image:  []string{"img@src", "img@data-src"},
		Availability: []string{
			".soldout", ".sold_out", "[class*=stock]",
		},
		NoResults: []string{"no results", "検索結果がありません", "該当する商品がありません"},
	}
}

// WithDefaults fills empty selector lists from DefaultSelectors.
func (s Selectors) WithDefaults() Selectors {
	def := DefaultSelectors()
	if len(s.Items) == 0 {
		s.Items = def.Items
	}
	if len(s.Title) == 0 {
		s.Title = def.Title
	}
	if len(s.Price) == 0 {
		s.Price = def.Price
	}
	if len(s.Seller) == 0 {
		s.Seller = def.Seller
	}
	if len(s.Link) == 0 {
		s.Link = def.Link
	}
	if len(s.Image) == 0 {
		s.Image = def.Image
	}
	if len(s.Availability) == 0 {
		s.Availability = def.Availability
	}
	if len(s.NoResults) == 0 {
		s.NoResults = def.NoResults
	}
	return s
}

// Meta tags extracted listings.
type Meta struct {
	Source    string
	Locale    string
	BaseURL   *url.URL
	FetchedAt time.Time
}

// Extraction is the outcome of parsing one search page.
type Extraction struct {
	Listings []pricing.RawListing
	// Strategy names the item selector or fallback that produced the listings.
	Strategy string
}

// Extract pulls raw listings from doc. When no item selector yields listings, JSON embedded in
// script tags is decoded with fields.
func Extract(doc *goquery.Document, sel Selectors, fields FieldMap, meta Meta) Extraction {
	sel = sel.WithDefaults()
	for _, itemSel := range sel.Items {
		var listings []pricing.RawListing
		doc.Find(itemSel).Each(func(_ int, item *goquery.Selection) {
			raw, ok := extractItem(item, sel, meta, len(listings))
			if ok {
				listings = append(listings, raw)
			}
		})
		if len(listings) > 0 {
			return Extraction{Listings: listings, Strategy: itemSel}
		}
	}

	var listings []pricing.RawListing
	doc.Find("script").EachWithBreak(func(_ int, script *goquery.Selection) bool {
		body := strings.TrimSpace(script.Text())
		if !strings.HasPrefix(body, "{") && !strings.HasPrefix(body, "[") {
			return true
		}
		decoded, err := DecodeListings([]byte(body), fields, meta)
		if err != nil || len(decoded) == 0 {
			return true
		}
		listings = decoded
		return false
	})
	if len(listings) > 0 {
		return Extraction{Listings: listings, Strategy: "embedded-json"}
	}
	return Extraction{}
}

func extractItem(item *goquery.Selection, sel Selectors, meta Meta, seq int) (pricing.RawListing, bool) {
	title := firstValue(item, sel.Title)
	price := firstValue(item, sel.Price)
	if price == "" {
		price = priceInText(item.Text())
	}
	if title == "" && price == "" {
		return pricing.RawListing{}, false
	}
	link := resolve(meta.BaseURL, firstValue(item, sel.Link))
	image := resolve(meta.BaseURL, firstValue(item, sel.Image))
	raw := pricing.RawListing{
		Source:       meta.Source,
		Title:        title,
		Price:        price,
		URL:          link,
		Seller:       firstValue(item, sel.Seller),
		Availability: availabilityOf(item, sel.Availability),
		FetchedAt:    meta.FetchedAt,
		Seq:          seq,
	}
	if image != "" {
		raw.ImageHash = digest(image)
	}
	raw.ID = ListingID(raw)
	return raw, true
}

// firstValue returns the first non-empty text or attribute matched by selectors.
func firstValue(item *goquery.Selection, selectors []string) string {
	for _, spec := range selectors {
		css, attr, hasAttr := strings.Cut(spec, "@")
		target := item
		if strings.TrimSpace(css) != "" {
			target = item.Find(css)
		}
		var value string
		target.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if hasAttr {
				value, _ = s.Attr(attr)
			} else {
				value = s.Text()
			}
			value = collapse(value)
			return value == ""
		})
		if value != "" {
			return value
		}
	}
	return ""
}

func availabilityOf(item *goquery.Selection, selectors []string) string {
	for _, css := range selectors {
		if found := item.Find(css); found.Length() > 0 {
			if text := collapse(found.First().Text()); text != "" {
				return text
			}
			return "sold out"
		}
	}
	return ""
}

var textPrice = regexp.MustCompile(`[¥￥€$£₩]\s*\d[\d.,'\x{00a0}\x{202f} ]*|\d[\d.,'\x{00a0}\x{202f} ]*\s*(?:円|€|원|CHF|EUR|USD|JPY)`)

// priceInText finds a currency-marked amount in free text.
func priceInText(text string) string {
	return strings.TrimSpace(textPrice.FindString(text))
}

func resolve(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var hasher = sha256.New()

func digest(s string) string {
	return hasher.Short([]byte(s), 16)
}

// ListingID derives a stable identifier for a raw listing from its source, position and content.
func ListingID(raw pricing.RawListing) string {
	return digest(strings.Join([]string{raw.Source, strconv.Itoa(raw.Seq), raw.URL, raw.Title, raw.Price, raw.Seller}, "\x00"))
}
