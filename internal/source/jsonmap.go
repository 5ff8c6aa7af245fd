package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/realtime-price-matcher/internal/normalize"
	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
)

// FieldMap names the JSON keys holding listing fields. Each list is tried in order.
// Root names wrapper keys that hold the listing array when the payload is an object.
type FieldMap struct {
	Root         []string `mapstructure:"root"`
	ID           []string `mapstructure:"id"`
	Title        []string `mapstructure:"title"`
	Price        []string `mapstructure:"price"`
	Seller       []string `mapstructure:"seller"`
	URL          []string `mapstructure:"url"`
	Image        []string `mapstructure:"image"`
	Availability []string `mapstructure:"availability"`
}

// DefaultFieldMap covers common seller-list payloads.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		Root:         []string{"Items", "ResultObject", "items", "results", "products", "data"},
		ID:           []string{"GoodsCode", "goodsCode", "id", "sku"},
		Title:        []string{"GoodsName", "Title", "title", "name", "productName"},
		Price:        []string{"Price", "SellPrice", "SellingPrice", "price", "salePrice"},
		Seller:       []string{"SellerName", "ShopName", "seller", "shop", "sellerNick"},
		URL:          []string{"GoodsUrl", "Url", "url", "link"},
		Image:        []string{"ImageUrl", "image", "imageUrl", "thumbnail"},
		Availability: []string{"Availability", "availability", "StockStatus", "stock"},
	}
}

func (f FieldMap) withDefaults() FieldMap {
	def := DefaultFieldMap()
	fill := func(dst *[]string, src []string) {
		if len(*dst) == 0 {
			*dst = src
		}
	}
	fill(&f.Root, def.Root)
	fill(&f.ID, def.ID)
	fill(&f.Title, def.Title)
	fill(&f.Price, def.Price)
	fill(&f.Seller, def.Seller)
	fill(&f.URL, def.URL)
	fill(&f.Image, def.Image)
	fill(&f.Availability, def.Availability)
	return f
}

// DecodeListings maps a JSON payload to raw listings. The payload may be a list of objects,
// an object wrapping such a list under one of the root keys, or a single listing object.
func DecodeListings(data []byte, fields FieldMap, meta Meta) ([]pricing.RawListing, error) {
	fields = fields.withDefaults()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode listings: %w", err)
	}
	items, err := listingItems(payload, fields.Root)
	if err != nil {
		return nil, err
	}
	decimalSep := normalize.LookupLocale(meta.Locale).Decimal

	listings := make([]pricing.RawListing, 0, len(items))
	for _, obj := range items {
		title := scalar(obj, fields.Title, decimalSep)
		price := scalar(obj, fields.Price, decimalSep)
		if title == "" && price == "" {
			continue
		}
		raw := pricing.RawListing{
			Source:       meta.Source,
			Title:        title,
			Price:        price,
			URL:          resolve(meta.BaseURL, scalar(obj, fields.URL, decimalSep)),
			Seller:       scalar(obj, fields.Seller, decimalSep),
			Availability: availabilityValue(obj, fields.Availability),
			FetchedAt:    meta.FetchedAt,
			Seq:          len(listings),
		}
		if image := scalar(obj, fields.Image, decimalSep); image != "" {
			raw.ImageHash = digest(resolve(meta.BaseURL, image))
		}
		raw.ID = ListingID(raw)
		if code := scalar(obj, fields.ID, decimalSep); code != "" {
			raw.ID = meta.Source + ":" + code
		}
		listings = append(listings, raw)
	}
	return listings, nil
}

func listingItems(payload any, roots []string) ([]map[string]any, error) {
	switch v := payload.(type) {
	case []any:
		return objects(v), nil
	case map[string]any:
		for _, key := range roots {
			if inner, ok := v[key]; ok {
				if list, ok := inner.([]any); ok {
					return objects(list), nil
				}
				if obj, ok := inner.(map[string]any); ok {
					return listingItems(obj, roots)
				}
			}
		}
		return []map[string]any{v}, nil
	default:
		return nil, fmt.Errorf("decode listings: unexpected payload type %T", payload)
	}
}

func objects(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// scalar renders the first present key as text. Numbers use the source's decimal separator
// so the normalizer parses them like display text.
func scalar(obj map[string]any, keys []string, decimalSep rune) string {
	for _, key := range keys {
		value, ok := obj[key]
		if !ok || value == nil {
			continue
		}
		var s string
		switch v := value.(type) {
		case string:
			s = collapse(v)
		case json.Number:
			s = numberText(v, decimalSep)
		case bool:
			s = fmt.Sprint(v)
		default:
			continue
		}
		if s != "" {
			return s
		}
	}
	return ""
}

// numberText renders n in fixed-point form; exponent notation would otherwise be cut at the 'e'.
func numberText(n json.Number, decimalSep rune) string {
	text := n.String()
	if d, err := decimal.NewFromString(text); err == nil {
		text = d.String()
	}
	return strings.Replace(text, ".", string(decimalSep), 1)
}

func availabilityValue(obj map[string]any, keys []string) string {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case bool:
			if v {
				return "in stock"
			}
			return "out of stock"
		case string:
			if s := collapse(v); s != "" {
				return s
			}
		case json.Number:
			if n, err := v.Int64(); err == nil && n <= 0 {
				return "out of stock"
			}
			return "in stock"
		}
	}
	return ""
}
