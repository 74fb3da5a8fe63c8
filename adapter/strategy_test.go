package adapter

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/farescout/farescout/core"
)

var testSelectors = ResultsParsingConfig{
	Container:     ".flight",
	Airline:       ".airline",
	FlightNumber:  ".number",
	DepartureTime: ".dep",
	ArrivalTime:   ".arr",
	Duration:      ".dur",
	Price:         ".price",
	Stops:         ".stops",
	SeatClass:     ".class",
}

func testParams() core.SearchParams {
	return core.SearchParams{
		Origin:        "THR",
		Destination:   "MHD",
		DepartureDate: "2026-03-15",
		Passengers:    core.Passengers{Adults: 1},
		SeatClass:     core.SeatClassEconomy,
	}
}

func element(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	sel := doc.Find(".flight")
	if sel.Length() == 0 {
		t.Fatal("no .flight element in fixture")
	}
	return sel.First()
}

const persianFlightHTML = `<div class="flight">
	<span class="airline">ایران ایر</span>
	<span class="number">IR-۴۵۲</span>
	<span class="dep">۰۸:۳۰</span>
	<span class="arr">۱۰:۰۰</span>
	<span class="dur">۱ ساعت ۳۰ دقیقه</span>
	<span class="price">۲،۵۰۰،۰۰۰ ریال</span>
	<span class="stops">بدون توقف</span>
</div>`

func TestPersianStrategyParsesFullElement(t *testing.T) {
	pctx := &ParseContext{Params: testParams(), Selectors: testSelectors, Site: "parvaz", Currency: "IRR"}
	result := (&PersianStrategy{}).Parse(element(t, persianFlightHTML), pctx)
	if !result.Success {
		t.Fatalf("parse failed: %v", result.Errors)
	}

	rec := result.Record
	if rec.Airline != "ایران ایر" || rec.AirlineEnglish != "Iran Air" {
		t.Errorf("airline: got %q / %q", rec.Airline, rec.AirlineEnglish)
	}
	if rec.FlightNumber != "IR-452" {
		t.Errorf("flight number: got %q", rec.FlightNumber)
	}
	if rec.Price != 2_500_000 || rec.Currency != "IRR" {
		t.Errorf("price: got %.0f %s", rec.Price, rec.Currency)
	}
	if rec.DurationMinutes != 90 {
		t.Errorf("duration: got %d minutes", rec.DurationMinutes)
	}
	if rec.DepartureTime.Hour() != 8 || rec.DepartureTime.Minute() != 30 {
		t.Errorf("departure: got %v", rec.DepartureTime)
	}
	if rec.Stops != 0 {
		t.Errorf("stops: got %d", rec.Stops)
	}
	if err := rec.Validate(); err != nil {
		t.Errorf("parsed record fails validation: %v", err)
	}
}

func TestPersianStrategyWarnsOnUnknownAirline(t *testing.T) {
	html := strings.Replace(persianFlightHTML, "ایران ایر", "هواپیمایی ناشناس", 1)
	pctx := &ParseContext{Params: testParams(), Selectors: testSelectors, Site: "parvaz"}
	result := (&PersianStrategy{}).Parse(element(t, html), pctx)
	if !result.Success {
		t.Fatalf("parse failed: %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning for unknown airline")
	}
	if result.Record.AirlineEnglish != "" {
		t.Errorf("unknown airline should not get an english name, got %q", result.Record.AirlineEnglish)
	}
}

func TestPersianStrategyRejectsPriceOutOfBounds(t *testing.T) {
	html := strings.Replace(persianFlightHTML, "۲،۵۰۰،۰۰۰", "۹۰،۰۰۰،۰۰۰", 1)
	pctx := &ParseContext{Params: testParams(), Selectors: testSelectors, Site: "parvaz"}
	result := (&PersianStrategy{}).Parse(element(t, html), pctx)
	if result.Success {
		t.Fatal("price far above the IRR ceiling should fail")
	}
}

const intlFlightHTML = `<div class="flight">
	<span class="airline">Turkish Airlines</span>
	<span class="number">TK 879</span>
	<span class="dep">14:20</span>
	<span class="arr">17:05</span>
	<span class="dur">2h 45m</span>
	<span class="price">$347.50</span>
	<span class="stops">nonstop</span>
	<span class="class">Business</span>
</div>`

func TestInternationalStrategyParsesFullElement(t *testing.T) {
	params := testParams()
	params.Origin = "IST"
	params.Destination = "DXB"
	pctx := &ParseContext{Params: params, Selectors: testSelectors, Site: "globalfly"}
	result := (&InternationalStrategy{}).Parse(element(t, intlFlightHTML), pctx)
	if !result.Success {
		t.Fatalf("parse failed: %v", result.Errors)
	}

	rec := result.Record
	if rec.Price != 347.50 || rec.Currency != "USD" {
		t.Errorf("price: got %.2f %s", rec.Price, rec.Currency)
	}
	if rec.DurationMinutes != 165 {
		t.Errorf("duration: got %d", rec.DurationMinutes)
	}
	if rec.SeatClass != core.SeatClassBusiness {
		t.Errorf("seat class: got %q", rec.SeatClass)
	}
}

func TestInternationalStrategyFailsWithoutCurrency(t *testing.T) {
	html := strings.Replace(intlFlightHTML, "$347.50", "347.50", 1)
	pctx := &ParseContext{Params: testParams(), Selectors: testSelectors, Site: "globalfly"}
	result := (&InternationalStrategy{}).Parse(element(t, html), pctx)
	if result.Success {
		t.Fatal("price without a currency marker should fail when no default is set")
	}

	// A configured site currency rescues the record.
	pctx.Currency = "EUR"
	result = (&InternationalStrategy{}).Parse(element(t, html), pctx)
	if !result.Success {
		t.Fatalf("parse with default currency failed: %v", result.Errors)
	}
	if result.Record.Currency != "EUR" {
		t.Errorf("currency: got %q", result.Record.Currency)
	}
}

func TestCurrencyDetectionOrder(t *testing.T) {
	cases := map[string]string{
		"C$120":    "CAD",
		"A$99":     "AUD",
		"$45":      "USD",
		"€38":      "EUR",
		"£22":      "GBP",
		"AED 1200": "AED",
		"₺850":     "TRY",
	}
	for input, want := range cases {
		got, ok := detectCurrency(input)
		if !ok || got != want {
			t.Errorf("detectCurrency(%q) = %q, %v; want %q", input, got, ok, want)
		}
	}
	if _, ok := detectCurrency("1200 rials"); ok {
		t.Error("unknown marker detected a currency")
	}
}

const aggregatorFlightHTML = `<div class="flight" data-source="alibaba">
	<span class="airline">ماهان</span>
	<span class="number">W5-1080</span>
	<span class="dep">09:15</span>
	<span class="arr">10:45</span>
	<span class="dur">۱ ساعت ۳۰ دقیقه</span>
	<span class="price">۳٬۱۰۰٬۰۰۰</span>
</div>`

func TestAggregatorStrategyRequiresSourceAttribution(t *testing.T) {
	pctx := &ParseContext{Params: testParams(), Selectors: testSelectors, Site: "metasearch", Currency: "IRR"}
	result := (&AggregatorStrategy{}).Parse(element(t, aggregatorFlightHTML), pctx)
	if !result.Success {
		t.Fatalf("parse failed: %v", result.Errors)
	}
	if result.Record.Extensions["booking_source"] != "alibaba" {
		t.Errorf("booking source: got %q", result.Record.Extensions["booking_source"])
	}
	if result.Record.AirlineEnglish != "Mahan Air" {
		t.Errorf("airline english: got %q", result.Record.AirlineEnglish)
	}

	stripped := strings.Replace(aggregatorFlightHTML, ` data-source="alibaba"`, "", 1)
	result = (&AggregatorStrategy{}).Parse(element(t, stripped), pctx)
	if result.Success {
		t.Fatal("element without source attribution should fail")
	}
}

func TestDetectStrategy(t *testing.T) {
	cases := []struct {
		cfg  Config
		want string
	}{
		{Config{Kind: "aggregator"}, "aggregator"},
		{Config{Kind: "persian"}, "persian"},
		{Config{Currency: "IRR"}, "persian"},
		{Config{Locale: "fa-IR"}, "persian"},
		{Config{Kind: "international", Currency: "USD"}, "international"},
		{Config{}, "international"},
	}
	for _, tc := range cases {
		if got := Detect(&tc.cfg).Name(); got != tc.want {
			t.Errorf("Detect(%+v) = %q, want %q", tc.cfg, got, tc.want)
		}
	}
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		input string
		want  float64
	}{
		{"۲،۵۰۰،۰۰۰ ریال", 2_500_000},
		{"$1,234.56", 1234.56},
		{"1.250.000", 1_250_000},
		{"€38", 38},
	}
	for _, tc := range cases {
		got, err := parsePrice(tc.input)
		if err != nil {
			t.Errorf("parsePrice(%q): %v", tc.input, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parsePrice(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
	if _, err := parsePrice("call us"); err == nil {
		t.Error("non-numeric price should error")
	}
}

func TestDurationParsing(t *testing.T) {
	if got := parsePersianDuration("مدت پرواز ۲ ساعت ۱۵ دقیقه"); got != 135 {
		t.Errorf("persian duration with prefix: got %d", got)
	}
	if got := parsePersianDuration("۴۵ دقیقه"); got != 45 {
		t.Errorf("minutes only: got %d", got)
	}
	if got := parseIntlDuration("2h 30m"); got != 150 {
		t.Errorf("intl short form: got %d", got)
	}
	if got := parseIntlDuration("Total duration: 1 hour 5 min"); got != 65 {
		t.Errorf("intl long form: got %d", got)
	}
	if got := parseIntlDuration("no duration here"); got != 0 {
		t.Errorf("garbage input: got %d", got)
	}
}

func TestOvernightArrivalWrapsToNextDay(t *testing.T) {
	html := `<div class="flight">
		<span class="airline">Qatar Airways</span>
		<span class="number">QR 491</span>
		<span class="dep">23:30</span>
		<span class="arr">01:45</span>
		<span class="price">QAR 1850</span>
	</div>`
	pctx := &ParseContext{Params: testParams(), Selectors: testSelectors, Site: "globalfly"}
	result := (&InternationalStrategy{}).Parse(element(t, html), pctx)
	if !result.Success {
		t.Fatalf("parse failed: %v", result.Errors)
	}
	rec := result.Record
	if !rec.ArrivalTime.After(rec.DepartureTime) {
		t.Errorf("overnight arrival not wrapped: dep %v arr %v", rec.DepartureTime, rec.ArrivalTime)
	}
	if rec.ArrivalTime.Day() == rec.DepartureTime.Day() {
		t.Error("arrival should land on the next calendar day")
	}
}
