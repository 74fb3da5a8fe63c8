package core

import (
	"fmt"
	"strings"
	"time"
)

// SeatClass enumerates the supported cabin classes.
type SeatClass string

const (
	SeatClassEconomy        SeatClass = "economy"
	SeatClassBusiness       SeatClass = "business"
	SeatClassFirst          SeatClass = "first"
	SeatClassPremiumEconomy SeatClass = "premium_economy"
)

// Valid reports whether the seat class is one of the known values
func (s SeatClass) Valid() bool {
	switch s {
	case SeatClassEconomy, SeatClassBusiness, SeatClassFirst, SeatClassPremiumEconomy:
		return true
	}
	return false
}

// TripType distinguishes one-way and round trips
type TripType string

const (
	TripOneWay    TripType = "one_way"
	TripRoundTrip TripType = "round_trip"
)

// durationSlack is the tolerated gap between the reported duration and the
// arrival-departure delta. Sites round and sometimes report gate-to-gate vs
// wheels-up times; anything beyond an hour is a bad record.
const durationSlack = 60 * time.Minute

// FlightRecord is the normalized output shape every adapter produces.
type FlightRecord struct {
	Airline         string            `json:"airline"`
	AirlineEnglish  string            `json:"airline_english,omitempty"`
	FlightNumber    string            `json:"flight_number"`
	Origin          string            `json:"origin"`
	Destination     string            `json:"destination"`
	DepartureTime   time.Time         `json:"departure_time"`
	ArrivalTime     time.Time         `json:"arrival_time"`
	DurationMinutes int               `json:"duration_minutes"`
	Price           float64           `json:"price"`
	Currency        string            `json:"currency"`
	SeatClass       SeatClass         `json:"seat_class"`
	AircraftType    string            `json:"aircraft_type,omitempty"`
	Stops           int               `json:"stops"`
	SourceSite      string            `json:"source_site"`
	AdapterType     string            `json:"adapter_type,omitempty"`
	ScrapedAt       time.Time         `json:"scraped_at"`
	Extensions      map[string]string `json:"extensions,omitempty"`
}

// Validate checks the record invariants. Records failing validation are
// silently dropped by the template (counted in a metric, not reported as
// errors).
func (r *FlightRecord) Validate() error {
	if r.Airline == "" {
		return fmt.Errorf("airline is required: %w", ErrInvalidConfiguration)
	}
	if r.FlightNumber == "" {
		return fmt.Errorf("flight number is required: %w", ErrInvalidConfiguration)
	}
	if len(r.Origin) != 3 || len(r.Destination) != 3 {
		return fmt.Errorf("origin/destination must be 3-letter codes, got %q/%q: %w",
			r.Origin, r.Destination, ErrInvalidConfiguration)
	}
	if r.DepartureTime.IsZero() || r.ArrivalTime.IsZero() {
		return fmt.Errorf("departure and arrival times are required: %w", ErrInvalidConfiguration)
	}
	if !r.ArrivalTime.After(r.DepartureTime) {
		return fmt.Errorf("arrival %v must be after departure %v: %w",
			r.ArrivalTime, r.DepartureTime, ErrInvalidConfiguration)
	}
	if r.DurationMinutes < 0 {
		return fmt.Errorf("duration must be non-negative, got %d: %w", r.DurationMinutes, ErrInvalidConfiguration)
	}
	if r.DurationMinutes > 0 {
		delta := r.ArrivalTime.Sub(r.DepartureTime) - time.Duration(r.DurationMinutes)*time.Minute
		if delta < 0 {
			delta = -delta
		}
		if delta > durationSlack {
			return fmt.Errorf("duration %dm inconsistent with times (off by %v): %w",
				r.DurationMinutes, delta, ErrInvalidConfiguration)
		}
	}
	if r.Price < 0 {
		return fmt.Errorf("price must be non-negative, got %f: %w", r.Price, ErrInvalidConfiguration)
	}
	if r.Currency == "" {
		return fmt.Errorf("currency is required: %w", ErrInvalidConfiguration)
	}
	if !r.SeatClass.Valid() {
		return fmt.Errorf("unknown seat class %q: %w", r.SeatClass, ErrInvalidConfiguration)
	}
	if r.Stops < 0 {
		return fmt.Errorf("stops must be non-negative, got %d: %w", r.Stops, ErrInvalidConfiguration)
	}
	return nil
}

// NormalizeOptions carries the per-adapter canonicalization inputs.
type NormalizeOptions struct {
	// AirlineNames maps locale-specific airline names to English names.
	AirlineNames map[string]string
	// Currency enforced on the record when non-empty.
	Currency string
	// SourceSite and AdapterType attached as source metadata.
	SourceSite  string
	AdapterType string
}

// Normalize canonicalizes a record in place. It is idempotent: applying it
// twice with the same options yields the same record.
func (r *FlightRecord) Normalize(opts NormalizeOptions) {
	r.Airline = strings.TrimSpace(r.Airline)
	r.FlightNumber = strings.ToUpper(strings.TrimSpace(r.FlightNumber))
	r.Origin = strings.ToUpper(strings.TrimSpace(r.Origin))
	r.Destination = strings.ToUpper(strings.TrimSpace(r.Destination))
	r.AircraftType = strings.TrimSpace(r.AircraftType)

	if english, ok := opts.AirlineNames[r.Airline]; ok {
		if r.AirlineEnglish == "" {
			r.AirlineEnglish = english
		}
	} else if r.AirlineEnglish == "" {
		// Already-English names double as their own canonical form.
		for _, english := range opts.AirlineNames {
			if english == r.Airline {
				r.AirlineEnglish = english
				break
			}
		}
	}

	if opts.Currency != "" {
		r.Currency = opts.Currency
	}
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))

	if opts.SourceSite != "" {
		r.SourceSite = opts.SourceSite
	}
	if opts.AdapterType != "" {
		r.AdapterType = opts.AdapterType
	}
	if r.ScrapedAt.IsZero() {
		r.ScrapedAt = time.Now().UTC()
	}
	if r.Stops < 0 {
		r.Stops = 0
	}
	if r.SeatClass == "" {
		r.SeatClass = SeatClassEconomy
	}
	if r.DurationMinutes == 0 && !r.DepartureTime.IsZero() && !r.ArrivalTime.IsZero() {
		if d := r.ArrivalTime.Sub(r.DepartureTime); d > 0 {
			r.DurationMinutes = int(d / time.Minute)
		}
	}
}

// Passengers holds the party composition of a search.
type Passengers struct {
	Adults   int `json:"adults"`
	Children int `json:"children"`
	Infants  int `json:"infants"`
}

// Total returns the party size
func (p Passengers) Total() int {
	return p.Adults + p.Children + p.Infants
}

// SearchParams are the inputs of one crawl. Which fields are required is
// declared per adapter; ValidateRequired checks against that list.
type SearchParams struct {
	Origin        string     `json:"origin"`
	Destination   string     `json:"destination"`
	DepartureDate string     `json:"departure_date"` // YYYY-MM-DD
	ReturnDate    string     `json:"return_date,omitempty"`
	Passengers    Passengers `json:"passengers"`
	SeatClass     SeatClass  `json:"seat_class"`
	TripType      TripType   `json:"trip_type,omitempty"`
}

// ValidateRequired checks the fields the adapter declares as required.
func (p *SearchParams) ValidateRequired(required []string) error {
	for _, field := range required {
		switch field {
		case "origin":
			if len(p.Origin) != 3 {
				return fmt.Errorf("origin must be a 3-letter code, got %q: %w", p.Origin, ErrInvalidConfiguration)
			}
		case "destination":
			if len(p.Destination) != 3 {
				return fmt.Errorf("destination must be a 3-letter code, got %q: %w", p.Destination, ErrInvalidConfiguration)
			}
		case "departure_date":
			if _, err := time.Parse("2006-01-02", p.DepartureDate); err != nil {
				return fmt.Errorf("departure_date must be YYYY-MM-DD, got %q: %w", p.DepartureDate, ErrInvalidConfiguration)
			}
		case "return_date":
			if _, err := time.Parse("2006-01-02", p.ReturnDate); err != nil {
				return fmt.Errorf("return_date must be YYYY-MM-DD, got %q: %w", p.ReturnDate, ErrInvalidConfiguration)
			}
		case "passengers":
			if p.Passengers.Total() < 1 {
				return fmt.Errorf("at least one passenger required: %w", ErrInvalidConfiguration)
			}
		case "seat_class":
			if !p.SeatClass.Valid() {
				return fmt.Errorf("unknown seat class %q: %w", p.SeatClass, ErrInvalidConfiguration)
			}
		}
	}
	return nil
}

// Redacted returns a log-safe view of the parameters. Route and dates are
// operational data; the party composition is reduced to a count.
func (p *SearchParams) Redacted() map[string]interface{} {
	return map[string]interface{}{
		"origin":         p.Origin,
		"destination":    p.Destination,
		"departure_date": p.DepartureDate,
		"passengers":     p.Passengers.Total(),
		"seat_class":     string(p.SeatClass),
	}
}
