package adapter

import "github.com/PuerkitoBio/goquery"

// Aggregator price bound: aggregators mix currencies, so only an upper
// sanity bound applies.
const aggregatorPriceMax = 100_000_000.0

// AggregatorStrategy parses meta-search sites that relay offers from other
// sources. Digits may be Persian or ASCII; every record must name where the
// offer actually comes from.
type AggregatorStrategy struct{}

// Name identifies the strategy
func (s *AggregatorStrategy) Name() string { return "aggregator" }

// Parse extracts one flight from an aggregator results element.
func (s *AggregatorStrategy) Parse(el *goquery.Selection, pctx *ParseContext) ParseResult {
	rec, err := baseRecord(el, pctx)
	if err != nil {
		return parseFailure("aggregator: %v", err)
	}

	airline := text(el, pctx.Selectors.Airline)
	if airline == "" {
		return parseFailure("aggregator: no airline text")
	}
	rec.Airline = airline
	if english, known := LookupAirline(airline); known {
		rec.AirlineEnglish = english
	}

	priceText := text(el, pctx.Selectors.Price)
	price, err := parsePrice(priceText)
	if err != nil {
		return parseFailure("aggregator: %v", err)
	}
	if price < 0 || price > aggregatorPriceMax {
		return parseFailure("aggregator: price %.0f outside bounds [0, %.0f]", price, aggregatorPriceMax)
	}
	rec.Price = price
	if currency, ok := detectCurrency(priceText); ok {
		rec.Currency = currency
	} else {
		rec.Currency = pctx.Currency
	}

	if d := parsePersianDuration(text(el, pctx.Selectors.Duration)); d > 0 {
		rec.DurationMinutes = d
	} else {
		rec.DurationMinutes = parseIntlDuration(text(el, pctx.Selectors.Duration))
	}

	// Aggregator records must say which source the offer came from.
	source := el.AttrOr("data-source", "")
	if source == "" {
		source = el.AttrOr("data-booking-source", "")
	}
	if source == "" {
		return parseFailure("aggregator: element carries no source attribution")
	}
	rec.Extensions = map[string]string{"booking_source": source}

	return ParseResult{Success: true, Record: rec}
}
