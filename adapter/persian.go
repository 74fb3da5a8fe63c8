package adapter

import "github.com/PuerkitoBio/goquery"

// Persian-site price sanity bounds, in IRR.
const (
	persianPriceMin = 1_000
	persianPriceMax = 50_000_000
)

// PersianStrategy parses Iranian sites: Persian digits everywhere, airline
// names in Persian, prices in rial.
type PersianStrategy struct{}

// Name identifies the strategy
func (s *PersianStrategy) Name() string { return "persian" }

// Parse extracts one flight from a Persian results element.
func (s *PersianStrategy) Parse(el *goquery.Selection, pctx *ParseContext) ParseResult {
	rec, err := baseRecord(el, pctx)
	if err != nil {
		return parseFailure("persian: %v", err)
	}

	airline := text(el, pctx.Selectors.Airline)
	if airline == "" {
		return parseFailure("persian: no airline text")
	}
	rec.Airline = airline
	english, known := LookupAirline(airline)
	if known {
		rec.AirlineEnglish = english
	}

	price, err := parsePrice(text(el, pctx.Selectors.Price))
	if err != nil {
		return parseFailure("persian: %v", err)
	}
	if price < persianPriceMin || price > persianPriceMax {
		return parseFailure("persian: price %.0f outside IRR bounds [%d, %d]",
			price, persianPriceMin, persianPriceMax)
	}
	rec.Price = price
	rec.Currency = "IRR"

	rec.DurationMinutes = parsePersianDuration(text(el, pctx.Selectors.Duration))

	result := ParseResult{Success: true, Record: rec}
	if !known {
		result.Warnings = append(result.Warnings, "unknown airline name: "+airline)
	}
	return result
}
