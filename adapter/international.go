package adapter

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// International-site price sanity bounds (major currency units).
const (
	intlPriceMin = 0.0
	intlPriceMax = 10_000.0
)

// currencyMarkers maps symbols and codes found in price strings to ISO
// codes. Scanned in order: multi-character markers first so "C$" is not
// misread as "$".
var currencyMarkers = []struct {
	marker   string
	currency string
}{
	{"C$", "CAD"},
	{"A$", "AUD"},
	{"CAD", "CAD"},
	{"AUD", "AUD"},
	{"USD", "USD"},
	{"EUR", "EUR"},
	{"GBP", "GBP"},
	{"AED", "AED"},
	{"TRY", "TRY"},
	{"QAR", "QAR"},
	{"JPY", "JPY"},
	{"$", "USD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"₺", "TRY"},
	{"¥", "JPY"},
}

// detectCurrency scans a price string for a currency marker.
func detectCurrency(s string) (string, bool) {
	for _, m := range currencyMarkers {
		if strings.Contains(s, m.marker) {
			return m.currency, true
		}
	}
	return "", false
}

// InternationalStrategy parses global booking sites: ASCII digits, symbol-
// annotated prices, "2h 30m" durations.
type InternationalStrategy struct{}

// Name identifies the strategy
func (s *InternationalStrategy) Name() string { return "international" }

// Parse extracts one flight from an international results element. The
// price must carry a recognizable currency; records without one fail.
func (s *InternationalStrategy) Parse(el *goquery.Selection, pctx *ParseContext) ParseResult {
	rec, err := baseRecord(el, pctx)
	if err != nil {
		return parseFailure("international: %v", err)
	}

	airline := text(el, pctx.Selectors.Airline)
	if airline == "" {
		return parseFailure("international: no airline text")
	}
	rec.Airline = airline
	rec.AirlineEnglish = airline

	priceText := text(el, pctx.Selectors.Price)
	currency, ok := detectCurrency(priceText)
	if !ok {
		if pctx.Currency == "" {
			return parseFailure("international: no known currency in %q", priceText)
		}
		currency = pctx.Currency
	}

	price, err := parsePrice(priceText)
	if err != nil {
		return parseFailure("international: %v", err)
	}
	if price < intlPriceMin || price > intlPriceMax {
		return parseFailure("international: price %.2f outside bounds [%.0f, %.0f]",
			price, intlPriceMin, intlPriceMax)
	}
	rec.Price = price
	rec.Currency = currency

	rec.DurationMinutes = parseIntlDuration(text(el, pctx.Selectors.Duration))

	return ParseResult{Success: true, Record: rec}
}
