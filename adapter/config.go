package adapter

import (
	"fmt"
	"time"

	"github.com/farescout/farescout/core"
)

// SearchFormConfig names the selectors of the site's search form. Selector
// values come from per-adapter YAML; the code never hardcodes them.
type SearchFormConfig struct {
	FormSelector     string            `yaml:"form_selector"`
	OriginField      string            `yaml:"origin_field"`
	DestinationField string            `yaml:"destination_field"`
	DateField        string            `yaml:"date_field"`
	ReturnDateField  string            `yaml:"return_date_field"`
	PassengerField   string            `yaml:"passenger_field"`
	ClassField       string            `yaml:"class_field"`
	SubmitButton     string            `yaml:"submit_button"`
	CaptchaSelectors []string          `yaml:"captcha_selectors"`
	PopupSelectors   []string          `yaml:"popup_selectors"`
	Steps            []FormStep        `yaml:"steps"`
	ExtraFields      map[string]string `yaml:"extra_fields"`
}

// FormStep is one stage of a multi-step form flow.
type FormStep struct {
	Fill    map[string]string `yaml:"fill"`    // selector -> param name
	Click   string            `yaml:"click"`   // selector to click after filling
	WaitFor string            `yaml:"wait_for"` // selector that must appear before the next step
}

// ResultsParsingConfig names the selectors of the results page.
type ResultsParsingConfig struct {
	Container     string `yaml:"container"`
	Airline       string `yaml:"airline"`
	FlightNumber  string `yaml:"flight_number"`
	DepartureTime string `yaml:"departure_time"`
	ArrivalTime   string `yaml:"arrival_time"`
	Duration      string `yaml:"duration"`
	Price         string `yaml:"price"`
	SeatClass     string `yaml:"seat_class"`
	Aircraft      string `yaml:"aircraft"`
	Stops         string `yaml:"stops"`
	WaitSelector  string `yaml:"wait_selector"`
}

// ExtractionConfig groups the form and parsing selectors.
type ExtractionConfig struct {
	SearchForm     SearchFormConfig     `yaml:"search_form"`
	ResultsParsing ResultsParsingConfig `yaml:"results_parsing"`
}

// PriceRange bounds accepted prices for validation.
type PriceRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// DurationRange bounds accepted flight durations, in minutes.
type DurationRange struct {
	MinMinutes int `yaml:"min_minutes"`
	MaxMinutes int `yaml:"max_minutes"`
}

// ValidationConfig controls record and parameter validation.
type ValidationConfig struct {
	RequiredFields []string      `yaml:"required_fields"`
	PriceRange     PriceRange    `yaml:"price_range"`
	DurationRange  DurationRange `yaml:"duration_range"`
}

// Config is everything the template needs to crawl one site.
type Config struct {
	Name        string           `yaml:"name"`
	Kind        string           `yaml:"kind"` // persian, international, aggregator
	BaseURL     string           `yaml:"base_url"`
	SearchURL   string           `yaml:"search_url"`
	Currency    string           `yaml:"currency"`
	Locale      string           `yaml:"locale"`
	UserAgent   string           `yaml:"user_agent"`
	Extraction  ExtractionConfig `yaml:"extraction_config"`
	Validation  ValidationConfig `yaml:"data_validation"`
	FormTimeout time.Duration    `yaml:"form_timeout"`
	PageTimeout time.Duration    `yaml:"page_timeout"`
	MaxRetries  int              `yaml:"max_retries"`
}

// Validate checks the adapter configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("adapter name is required: %w", core.ErrMissingConfiguration)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required for %s: %w", c.Name, core.ErrMissingConfiguration)
	}
	if c.SearchURL == "" {
		c.SearchURL = c.BaseURL
	}
	switch c.Kind {
	case "persian", "international", "aggregator":
	case "":
		c.Kind = "international"
	default:
		return fmt.Errorf("unknown adapter kind %q for %s: %w", c.Kind, c.Name, core.ErrInvalidConfiguration)
	}
	if c.Extraction.ResultsParsing.Container == "" {
		return fmt.Errorf("results_parsing.container is required for %s: %w", c.Name, core.ErrMissingConfiguration)
	}
	if len(c.Validation.RequiredFields) == 0 {
		c.Validation.RequiredFields = []string{"origin", "destination", "departure_date", "passengers"}
	}
	if c.FormTimeout <= 0 {
		c.FormTimeout = 30 * time.Second
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = 45 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	return nil
}
