package adapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/farescout/farescout/core"
)

// FieldType classifies a form control so the filler knows how to drive it.
type FieldType string

const (
	FieldTextInput      FieldType = "text_input"
	FieldSelectDropdown FieldType = "select_dropdown"
	FieldAutocomplete   FieldType = "autocomplete"
	FieldDatePicker     FieldType = "date_picker"
	FieldCheckbox       FieldType = "checkbox"
	FieldRadio          FieldType = "radio"
	FieldButton         FieldType = "button"
)

// FormResult reports one form-filling attempt.
type FormResult struct {
	Success         bool   `json:"success"`
	StrategyUsed    string `json:"strategy_used"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
	CaptchaDetected bool   `json:"captcha_detected"`
	ErrorMessage    string `json:"error_message,omitempty"`
}

// AutoFormFiller drives search forms without a per-site hook. It tries
// submission strategies in a fixed order and stops at the first success.
type AutoFormFiller struct {
	Logger  core.Logger
	Timeout time.Duration
}

// NewAutoFormFiller creates a filler with the default 30s timeout.
func NewAutoFormFiller(logger core.Logger) *AutoFormFiller {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &AutoFormFiller{Logger: logger, Timeout: 30 * time.Second}
}

// formStrategy is one way of getting the form submitted.
type formStrategy struct {
	name string
	run  func(ctx context.Context, session Session, cfg SearchFormConfig, params core.SearchParams) error
}

// Execute fills and submits the search form. CAPTCHA presence is checked
// before any submission attempt; a detected CAPTCHA fails immediately so
// the error handler can rotate identity instead of burning attempts.
func (f *AutoFormFiller) Execute(ctx context.Context, session Session, cfg SearchFormConfig, params core.SearchParams) FormResult {
	start := time.Now()
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if f.captchaPresent(ctx, session, cfg) {
		f.Logger.Warn("CAPTCHA detected before form submission", map[string]interface{}{
			"operation": "form_fill",
			"url":       session.CurrentURL(),
		})
		return FormResult{
			CaptchaDetected: true,
			ExecutionTimeMS: time.Since(start).Milliseconds(),
			ErrorMessage:    core.ErrCaptchaDetected.Error(),
		}
	}

	strategies := []formStrategy{
		{"direct_submit", f.directSubmit},
		{"multi_step", f.multiStep},
		{"ajax_submission", f.ajaxSubmission},
	}

	var lastErr error
	for _, strategy := range strategies {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		err := strategy.run(ctx, session, cfg, params)
		if err == nil {
			f.Logger.Info("Form submitted", map[string]interface{}{
				"operation": "form_fill",
				"strategy":  strategy.name,
				"duration":  time.Since(start).String(),
			})
			return FormResult{
				Success:         true,
				StrategyUsed:    strategy.name,
				ExecutionTimeMS: time.Since(start).Milliseconds(),
			}
		}
		lastErr = err
		f.Logger.Debug("Form strategy failed, trying next", map[string]interface{}{
			"operation": "form_fill",
			"strategy":  strategy.name,
			"error":     err,
		})
	}

	result := FormResult{ExecutionTimeMS: time.Since(start).Milliseconds()}
	if lastErr != nil {
		result.ErrorMessage = lastErr.Error()
	}
	return result
}

func (f *AutoFormFiller) captchaPresent(ctx context.Context, session Session, cfg SearchFormConfig) bool {
	selectors := cfg.CaptchaSelectors
	if len(selectors) == 0 {
		selectors = []string{".g-recaptcha", "#captcha", "[data-captcha]", "iframe[src*='captcha']"}
	}

	html, err := session.HTML(ctx)
	if err != nil {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	for _, selector := range selectors {
		if doc.Find(selector).Length() > 0 {
			return true
		}
	}
	return false
}

// directSubmit fills every configured field and clicks submit once.
func (f *AutoFormFiller) directSubmit(ctx context.Context, session Session, cfg SearchFormConfig, params core.SearchParams) error {
	if cfg.SubmitButton == "" {
		return fmt.Errorf("no submit button configured: %w", core.ErrMissingConfiguration)
	}
	if err := f.fillFields(ctx, session, cfg, params); err != nil {
		return err
	}
	return session.Click(ctx, cfg.SubmitButton)
}

// multiStep walks the configured step sequence, waiting between stages.
func (f *AutoFormFiller) multiStep(ctx context.Context, session Session, cfg SearchFormConfig, params core.SearchParams) error {
	if len(cfg.Steps) == 0 {
		return fmt.Errorf("no form steps configured: %w", core.ErrMissingConfiguration)
	}
	values := paramValues(params)
	for i, step := range cfg.Steps {
		for selector, paramName := range step.Fill {
			value, ok := values[paramName]
			if !ok {
				return core.NewCrawlError("form.MultiStep", "", core.CategoryFormFilling,
					fmt.Errorf("step %d references unknown param %q", i, paramName))
			}
			if err := session.Fill(ctx, selector, value); err != nil {
				return err
			}
		}
		if step.Click != "" {
			if err := session.Click(ctx, step.Click); err != nil {
				return err
			}
		}
		if step.WaitFor != "" {
			if err := session.WaitVisible(ctx, step.WaitFor, 10*time.Second); err != nil {
				return err
			}
		}
	}
	return nil
}

// ajaxSubmission fills fields and relies on the site's scripted submission,
// waiting for the results selector instead of clicking.
func (f *AutoFormFiller) ajaxSubmission(ctx context.Context, session Session, cfg SearchFormConfig, params core.SearchParams) error {
	if err := f.fillFields(ctx, session, cfg, params); err != nil {
		return err
	}
	// No explicit submit: trigger the first field again and wait for the
	// page to react.
	if cfg.OriginField != "" {
		if err := session.Click(ctx, cfg.OriginField); err != nil {
			return err
		}
	}
	if cfg.FormSelector != "" {
		return session.WaitVisible(ctx, cfg.FormSelector, 10*time.Second)
	}
	return nil
}

func (f *AutoFormFiller) fillFields(ctx context.Context, session Session, cfg SearchFormConfig, params core.SearchParams) error {
	persian := f.persianForm(ctx, session, cfg)

	fill := func(selector, value string) error {
		if selector == "" || value == "" {
			return nil
		}
		if persian {
			value = ToPersianDigits(value)
		}
		return session.Fill(ctx, selector, value)
	}

	if err := fill(cfg.OriginField, params.Origin); err != nil {
		return err
	}
	if err := fill(cfg.DestinationField, params.Destination); err != nil {
		return err
	}
	if err := fill(cfg.DateField, params.DepartureDate); err != nil {
		return err
	}
	if err := fill(cfg.ReturnDateField, params.ReturnDate); err != nil {
		return err
	}
	if err := fill(cfg.PassengerField, strconv.Itoa(params.Passengers.Total())); err != nil {
		return err
	}
	if err := fill(cfg.ClassField, string(params.SeatClass)); err != nil {
		return err
	}
	for selector, value := range cfg.ExtraFields {
		if err := fill(selector, value); err != nil {
			return err
		}
	}
	return nil
}

// persianForm checks whether the form's inputs advertise Persian text in
// placeholders or aria labels.
func (f *AutoFormFiller) persianForm(ctx context.Context, session Session, cfg SearchFormConfig) bool {
	html, err := session.HTML(ctx)
	if err != nil {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	persian := false
	scope := doc.Selection
	if cfg.FormSelector != "" && doc.Find(cfg.FormSelector).Length() > 0 {
		scope = doc.Find(cfg.FormSelector)
	}
	scope.Find("input, select, textarea").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		placeholder := el.AttrOr("placeholder", "")
		aria := el.AttrOr("aria-label", "")
		if ContainsPersian(placeholder) || ContainsPersian(aria) {
			persian = true
			return false
		}
		return true
	})
	return persian
}

// DetectFieldType classifies a form control from its tag, type attribute
// and class hints.
func DetectFieldType(el *goquery.Selection) FieldType {
	tag := goquery.NodeName(el)
	typeAttr := strings.ToLower(el.AttrOr("type", ""))
	class := strings.ToLower(el.AttrOr("class", ""))

	switch tag {
	case "select":
		return FieldSelectDropdown
	case "button":
		return FieldButton
	case "input":
		switch typeAttr {
		case "checkbox":
			return FieldCheckbox
		case "radio":
			return FieldRadio
		case "submit", "button":
			return FieldButton
		case "date":
			return FieldDatePicker
		}
		switch {
		case strings.Contains(class, "autocomplete"), el.AttrOr("autocomplete", "") == "off" && el.AttrOr("role", "") == "combobox":
			return FieldAutocomplete
		case strings.Contains(class, "datepicker"), strings.Contains(class, "date-picker"):
			return FieldDatePicker
		}
		return FieldTextInput
	default:
		return FieldTextInput
	}
}

func paramValues(params core.SearchParams) map[string]string {
	return map[string]string{
		"origin":         params.Origin,
		"destination":    params.Destination,
		"departure_date": params.DepartureDate,
		"return_date":    params.ReturnDate,
		"passengers":     strconv.Itoa(params.Passengers.Total()),
		"seat_class":     string(params.SeatClass),
	}
}
