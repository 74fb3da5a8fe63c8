package adapter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/farescout/farescout/core"
)

// ParseContext carries everything a strategy needs besides the element:
// the search that produced the page, the selector set, and site metadata.
type ParseContext struct {
	Params    core.SearchParams
	Selectors ResultsParsingConfig
	Site      string
	Currency  string
	Logger    core.Logger
}

// ParseResult is one element's outcome. Warnings note recoverable oddities;
// Errors explain why Success is false.
type ParseResult struct {
	Success  bool
	Record   *core.FlightRecord
	Errors   []string
	Warnings []string
}

func parseFailure(format string, args ...interface{}) ParseResult {
	return ParseResult{Errors: []string{fmt.Sprintf(format, args...)}}
}

// Strategy turns one result element into a flight record. Implementations
// are stateless and do no I/O.
type Strategy interface {
	Name() string
	Parse(el *goquery.Selection, pctx *ParseContext) ParseResult
}

// Detect picks the parsing strategy for an adapter: Persian sites by
// currency or locale, aggregators by kind, everything else international.
func Detect(cfg *Config) Strategy {
	switch {
	case cfg.Kind == "aggregator":
		return &AggregatorStrategy{}
	case cfg.Kind == "persian", strings.EqualFold(cfg.Currency, "IRR"), strings.HasPrefix(strings.ToLower(cfg.Locale), "fa"):
		return &PersianStrategy{}
	default:
		return &InternationalStrategy{}
	}
}

// text extracts the trimmed text of the first match; empty selector or no
// match yields "".
func text(el *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(el.Find(selector).First().Text())
}

var nonNumeric = regexp.MustCompile(`[^0-9.]`)

// parsePrice pulls the first numeric value out of a price string, after
// digit conversion. Thousands separators (",", "،" and ".") are dropped
// when they look like separators rather than decimals.
func parsePrice(s string) (float64, error) {
	s = ToEnglishDigits(s)
	s = strings.ReplaceAll(s, "،", "")
	s = strings.ReplaceAll(s, ",", "")
	cleaned := nonNumeric.ReplaceAllString(s, "")
	if cleaned == "" {
		return 0, fmt.Errorf("no numeric value in %q", s)
	}
	// More than one dot means dots were thousands separators.
	if strings.Count(cleaned, ".") > 1 {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable price %q: %w", s, err)
	}
	return v, nil
}

var timeRe = regexp.MustCompile(`([01]?\d|2[0-3]):([0-5]\d)`)

// parseClock finds an HH:MM time and anchors it on the search date.
func parseClock(s, date string) (time.Time, error) {
	s = ToEnglishDigits(s)
	m := timeRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("no HH:MM time in %q", s)
	}
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad search date %q: %w", date, err)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC), nil
}

var (
	persianHoursRe   = regexp.MustCompile(`(\d+)\s*ساعت`)
	persianMinutesRe = regexp.MustCompile(`(\d+)\s*دقیقه`)
	intlHoursRe      = regexp.MustCompile(`(?i)(\d+)\s*h`)
	intlMinutesRe    = regexp.MustCompile(`(?i)(\d+)\s*m`)
)

func durationFrom(s string, hoursRe, minutesRe *regexp.Regexp) int {
	total := 0
	if m := hoursRe.FindStringSubmatch(s); m != nil {
		hours, _ := strconv.Atoi(m[1])
		total += hours * 60
	}
	if m := minutesRe.FindStringSubmatch(s); m != nil {
		minutes, _ := strconv.Atoi(m[1])
		total += minutes
	}
	return total
}

// parsePersianDuration reads "X ساعت Y دقیقه" durations.
func parsePersianDuration(s string) int {
	return durationFrom(ToEnglishDigits(s), persianHoursRe, persianMinutesRe)
}

// parseIntlDuration reads "2h 30m", "2 hours 30 min" and "45 min" forms.
func parseIntlDuration(s string) int {
	return durationFrom(strings.TrimSpace(s), intlHoursRe, intlMinutesRe)
}

// parseStops reads a stop count; "نان استاپ"/"nonstop"/"direct" mean zero.
func parseStops(s string) int {
	s = strings.ToLower(ToEnglishDigits(s))
	if s == "" || strings.Contains(s, "nonstop") || strings.Contains(s, "non-stop") ||
		strings.Contains(s, "direct") || strings.Contains(s, "بدون توقف") {
		return 0
	}
	if m := regexp.MustCompile(`\d+`).FindString(s); m != "" {
		n, _ := strconv.Atoi(m)
		return n
	}
	return 0
}

// parseSeatClass maps free-form cabin labels to the enum, defaulting to the
// searched class.
func parseSeatClass(s string, fallback core.SeatClass) core.SeatClass {
	if s == "" {
		if fallback != "" {
			return fallback
		}
		return core.SeatClassEconomy
	}
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "business"), strings.Contains(s, "بیزینس"):
		return core.SeatClassBusiness
	case strings.Contains(lower, "first"), strings.Contains(s, "فرست"):
		return core.SeatClassFirst
	case strings.Contains(lower, "premium"):
		return core.SeatClassPremiumEconomy
	default:
		return core.SeatClassEconomy
	}
}

// baseRecord extracts the fields common to all strategies. Strategies refine
// airline, price and duration afterwards.
func baseRecord(el *goquery.Selection, pctx *ParseContext) (*core.FlightRecord, error) {
	sel := pctx.Selectors

	dep, err := parseClock(text(el, sel.DepartureTime), pctx.Params.DepartureDate)
	if err != nil {
		return nil, fmt.Errorf("departure time: %w", err)
	}
	arr, err := parseClock(text(el, sel.ArrivalTime), pctx.Params.DepartureDate)
	if err != nil {
		return nil, fmt.Errorf("arrival time: %w", err)
	}
	// Overnight arrivals wrap past midnight.
	if !arr.After(dep) {
		arr = arr.Add(24 * time.Hour)
	}

	return &core.FlightRecord{
		FlightNumber:  ToEnglishDigits(text(el, sel.FlightNumber)),
		Origin:        pctx.Params.Origin,
		Destination:   pctx.Params.Destination,
		DepartureTime: dep,
		ArrivalTime:   arr,
		AircraftType:  text(el, sel.Aircraft),
		Stops:         parseStops(text(el, sel.Stops)),
		SeatClass:     parseSeatClass(text(el, sel.SeatClass), pctx.Params.SeatClass),
		SourceSite:    pctx.Site,
	}, nil
}
