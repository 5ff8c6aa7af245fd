// Package normalize converts raw source listings into canonical listing records.
package normalize

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Locale describes the separator convention a site uses for prices.
type Locale struct {
	Name    string
	Decimal rune
	// Group lists accepted thousands separators; the first one is used for formatting.
	Group []rune
}

var locales = map[string]Locale{
	"en": {Name: "en", Decimal: '.', Group: []rune{','}},
	"ja": {Name: "ja", Decimal: '.', Group: []rune{','}},
	"ko": {Name: "ko", Decimal: '.', Group: []rune{','}},
	"de": {Name: "de", Decimal: ',', Group: []rune{'.'}},
	"fr": {Name: "fr", Decimal: ',', Group: []rune{'\u00a0', ' ', '\u202f'}},
	"ch": {Name: "ch", Decimal: '.', Group: []rune{'\'', '’'}},
}

// Locales returns the names of the supported separator conventions.
func Locales() []string {
	return []string{"ch", "de", "en", "fr", "ja", "ko"}
}

// LookupLocale resolves a locale name such as "de" or "de-DE". Unknown names fall back to "en".
func LookupLocale(name string) Locale {
	key := strings.ToLower(strings.TrimSpace(name))
	if i := strings.IndexAny(key, "-_"); i > 0 {
		key = key[:i]
	}
	if l, ok := locales[key]; ok {
		return l
	}
	return locales["en"]
}

func (l Locale) isGroup(r rune) bool {
	for _, g := range l.Group {
		if r == g {
			return true
		}
	}
	return false
}

var minorUnitOverrides = map[string]int32{
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
	"CLP": 0, "ISK": 0, "JPY": 0, "KRW": 0, "PYG": 0, "UGX": 0, "VND": 0, "XAF": 0, "XOF": 0,
}

// MinorUnits returns the ISO 4217 minor-unit exponent of a currency.
func MinorUnits(currency string) int32 {
	if exp, ok := minorUnitOverrides[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

var (
	errNoDigits       = errors.New("no digits found")
	errManyDecimals   = errors.New("more than one decimal separator")
	errFractionalUnit = errors.New("amount is finer than the currency minor unit")
	errOutOfRange     = errors.New("amount out of range")
)

// ParsePrice parses display text into an integer minor-unit amount.
// Currency symbols and words are ignored; the first numeric run is used.
func ParsePrice(text, currency string, locale Locale) (int64, error) {
	run := numericRun(norm.NFKC.String(text), locale)
	if run == "" {
		return 0, errNoDigits
	}
	var b strings.Builder
	decimals := 0
	for _, r := range run {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == locale.Decimal:
			decimals++
			b.WriteRune('.')
		case locale.isGroup(r):
		}
	}
	if decimals > 1 {
		return 0, errManyDecimals
	}
	amount, err := decimal.NewFromString(b.String())
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", b.String(), err)
	}
	minor := amount.Shift(MinorUnits(currency))
	if !minor.IsInteger() {
		return 0, errFractionalUnit
	}
	if !minor.BigInt().IsInt64() {
		return 0, errOutOfRange
	}
	return minor.IntPart(), nil
}

// numericRun returns the first run of digits and separators, without trailing separators.
func numericRun(text string, locale Locale) string {
	runes := []rune(text)
	start := -1
	for i, r := range runes {
		if r >= '0' && r <= '9' {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}
	end := start
	for end < len(runes) {
		r := runes[end]
		if (r >= '0' && r <= '9') || r == locale.Decimal || locale.isGroup(r) {
			end++
			continue
		}
		break
	}
	for end > start {
		r := runes[end-1]
		if r >= '0' && r <= '9' {
			break
		}
		end--
	}
	return string(runes[start:end])
}

// FormatMinor renders a minor-unit amount the way a site in locale would display it.
func FormatMinor(amount int64, currency string, locale Locale) string {
	exp := MinorUnits(currency)
	fixed := decimal.New(amount, -exp).StringFixed(exp)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	intPart, fracPart, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	b.WriteString(sign)
	group := ','
	if len(locale.Group) > 0 {
		group = locale.Group[0]
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteRune(group)
		}
		b.WriteRune(r)
	}
	if fracPart != "" {
		b.WriteRune(locale.Decimal)
		b.WriteString(fracPart)
	}
	b.WriteString(" ")
	b.WriteString(strings.ToUpper(currency))
	return b.String()
}
