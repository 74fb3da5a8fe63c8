// Package adapter implements the site adapter template: the fixed crawl
// lifecycle every site goes through, with per-site behavior supplied by
// configuration, parsing strategies and optional hooks.
package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/farescout/farescout/breaker"
	"github.com/farescout/farescout/core"
)

// Hooks are the two per-site extension points. Both are optional: without
// FillSearchForm the automated filler drives the form, without
// ParseFlightElement the configured strategy parses.
type Hooks struct {
	FillSearchForm     func(ctx context.Context, session Session, params core.SearchParams) error
	ParseFlightElement func(el *goquery.Selection, pctx *ParseContext) (*core.FlightRecord, error)
}

// Admission is the slice of the breaker manager the template needs.
type Admission interface {
	CanMakeRequest(site string, scope breaker.Scope) bool
	RecordSuccess(site string, scope breaker.Scope)
}

// RequestLimiter is the slice of the rate limiter the template needs.
type RequestLimiter interface {
	Wait(ctx context.Context, site string) error
	RecordRequest(site string, duration time.Duration, err error)
}

// Recoverer runs an operation under the error handler's retry policy.
type Recoverer interface {
	RunWithRecovery(ctx context.Context, ectx *core.ErrorContext, op func() error) error
}

// MetricsCollector receives template events.
type MetricsCollector interface {
	RecordCrawl(site string, records int, duration time.Duration, success bool)
	RecordDropped(site string, reason string)
}

type noopMetrics struct{}

func (noopMetrics) RecordCrawl(site string, records int, duration time.Duration, success bool) {}
func (noopMetrics) RecordDropped(site, reason string)                                          {}

// Template is one configured site adapter. Create with NewTemplate; the
// zero value is not usable.
type Template struct {
	config   *Config
	hooks    Hooks
	strategy Strategy
	sessions SessionFactory
	limiter  RequestLimiter
	admit    Admission
	recovery Recoverer
	form     *AutoFormFiller
	logger   core.Logger
	metrics  MetricsCollector
}

// Dependencies carries the template's collaborators.
type Dependencies struct {
	Sessions SessionFactory
	Limiter  RequestLimiter
	Breaker  Admission
	Recovery Recoverer
	Form     *AutoFormFiller
	Logger   core.Logger
	Metrics  MetricsCollector
	Hooks    Hooks
	Strategy Strategy
}

// NewTemplate builds an adapter from its config and collaborators. The
// parsing strategy defaults to Detect(config).
func NewTemplate(config *Config, deps Dependencies) (*Template, error) {
	if config == nil {
		return nil, fmt.Errorf("adapter config is required: %w", core.ErrMissingConfiguration)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session factory is required for %s: %w", config.Name, core.ErrMissingConfiguration)
	}

	logger := deps.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	strategy := deps.Strategy
	if strategy == nil {
		strategy = Detect(config)
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	form := deps.Form
	if form == nil {
		form = NewAutoFormFiller(logger)
	}
	form.Timeout = config.FormTimeout

	return &Template{
		config:   config,
		hooks:    deps.Hooks,
		strategy: strategy,
		sessions: deps.Sessions,
		limiter:  deps.Limiter,
		admit:    deps.Breaker,
		recovery: deps.Recovery,
		form:     form,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Name returns the adapter name
func (t *Template) Name() string { return t.config.Name }

// Strategy returns the active parsing strategy name.
func (t *Template) Strategy() string { return t.strategy.Name() }

// TargetURLs lists the URLs this adapter touches, for pre-flight validation.
func (t *Template) TargetURLs() []string {
	if t.config.SearchURL == t.config.BaseURL {
		return []string{t.config.BaseURL}
	}
	return []string{t.config.BaseURL, t.config.SearchURL}
}

// Crawl runs the full lifecycle for one search and returns the normalized
// records. An empty slice with a nil error is a legitimate outcome: the
// site answered and had nothing matching.
func (t *Template) Crawl(ctx context.Context, params core.SearchParams) ([]core.FlightRecord, error) {
	site := t.config.Name
	start := time.Now()

	// Step 1: parameter validation, before anything is spent on the site.
	if err := params.ValidateRequired(t.config.Validation.RequiredFields); err != nil {
		return nil, core.NewCrawlError("template.Crawl", site, core.CategoryValidation, err)
	}

	// Step 2: admission. The breaker answers instantly; the limiter wait
	// is bounded by the context deadline and fails fast when the budget
	// cannot cover it.
	if t.admit != nil && !t.admit.CanMakeRequest(site, breaker.ScopeAdapter) {
		return nil, core.NewCrawlError("template.Crawl", site, core.CategoryRateLimit, core.ErrCircuitBreakerOpen)
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx, site); err != nil {
			return nil, err
		}
	}

	records, err := t.crawlOnce(ctx, params)
	duration := time.Since(start)

	if t.limiter != nil {
		t.limiter.RecordRequest(site, duration, err)
	}
	if err != nil {
		t.metrics.RecordCrawl(site, 0, duration, false)
		return nil, err
	}

	if t.admit != nil {
		t.admit.RecordSuccess(site, breaker.ScopeAdapter)
	}
	t.metrics.RecordCrawl(site, len(records), duration, true)
	t.logger.Info("Crawl complete", map[string]interface{}{
		"operation": "crawl",
		"site":      site,
		"records":   len(records),
		"duration":  duration.String(),
		"strategy":  t.strategy.Name(),
	})
	return records, nil
}

func (t *Template) crawlOnce(ctx context.Context, params core.SearchParams) ([]core.FlightRecord, error) {
	site := t.config.Name

	// Step 3: lazy session acquisition, closed on every exit path.
	session, err := t.sessions()
	if err != nil {
		return nil, core.NewCrawlError("template.Crawl", site, core.CategoryBrowser, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			t.logger.Warn("Session close failed", map[string]interface{}{
				"operation": "crawl",
				"site":      site,
				"error":     cerr,
			})
		}
	}()

	if t.config.UserAgent != "" {
		session.SetUserAgent(t.config.UserAgent)
	}

	ectx := core.NewErrorContext(site, "crawl",
		core.WithMaxRetries(t.config.MaxRetries),
		core.WithSearchParams(params.Redacted()),
		core.WithURL(t.config.SearchURL),
	)

	// Step 4: navigate, under the error handler's retry policy.
	if err := t.recover(ctx, ectx.Child("navigate"), func() error {
		return session.Navigate(ctx, t.config.SearchURL)
	}); err != nil {
		return nil, err
	}

	// Popups are best-effort: a popup that will not dismiss is logged and
	// ignored, never fatal.
	t.dismissPopups(ctx, session)

	// Step 5: fill the search form through the hook or the automated
	// filler.
	if err := t.fillForm(ctx, session, ectx, params); err != nil {
		return nil, err
	}

	// Step 6: wait for the results to settle.
	waitSelector := t.config.Extraction.ResultsParsing.WaitSelector
	if waitSelector == "" {
		waitSelector = t.config.Extraction.ResultsParsing.Container
	}
	if err := t.recover(ctx, ectx.Child("wait_results"), func() error {
		return session.WaitVisible(ctx, waitSelector, t.config.PageTimeout)
	}); err != nil {
		return nil, err
	}

	// Step 7: extract the final HTML.
	html, err := session.HTML(ctx)
	if err != nil {
		return nil, core.NewCrawlError("template.Crawl", site, core.CategoryBrowser, err)
	}

	// Steps 8-10: parse, validate, normalize.
	return t.parseResults(html, params)
}

func (t *Template) recover(ctx context.Context, ectx *core.ErrorContext, op func() error) error {
	if t.recovery != nil {
		return t.recovery.RunWithRecovery(ctx, ectx, op)
	}
	return op()
}

func (t *Template) dismissPopups(ctx context.Context, session Session) {
	for _, selector := range t.config.Extraction.SearchForm.PopupSelectors {
		if err := session.Click(ctx, selector); err != nil {
			t.logger.Warn("Popup dismissal failed", map[string]interface{}{
				"operation": "crawl",
				"site":      t.config.Name,
				"selector":  selector,
				"error":     err,
			})
		}
	}
}

func (t *Template) fillForm(ctx context.Context, session Session, ectx *core.ErrorContext, params core.SearchParams) error {
	site := t.config.Name

	if t.hooks.FillSearchForm != nil {
		return t.recover(ctx, ectx.Child("fill_form"), func() error {
			return t.hooks.FillSearchForm(ctx, session, params)
		})
	}

	result := t.form.Execute(ctx, session, t.config.Extraction.SearchForm, params)
	if result.CaptchaDetected {
		return core.NewCrawlError("template.FillForm", site, core.CategoryCaptcha, core.ErrCaptchaDetected)
	}
	if !result.Success {
		return core.NewCrawlError("template.FillForm", site, core.CategoryFormFilling,
			fmt.Errorf("all form strategies failed: %s", result.ErrorMessage))
	}
	return nil
}

func (t *Template) parseResults(html string, params core.SearchParams) ([]core.FlightRecord, error) {
	site := t.config.Name

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, core.NewCrawlError("template.Parse", site, core.CategoryParsing, err)
	}

	pctx := &ParseContext{
		Params:    params,
		Selectors: t.config.Extraction.ResultsParsing,
		Site:      site,
		Currency:  t.config.Currency,
		Logger:    t.logger,
	}

	elements := doc.Find(t.config.Extraction.ResultsParsing.Container)
	records := make([]core.FlightRecord, 0, elements.Length())
	parseFailures := 0

	elements.Each(func(i int, el *goquery.Selection) {
		rec, perr := t.parseElement(el, pctx)
		if perr != nil {
			parseFailures++
			t.metrics.RecordDropped(site, "parse")
			t.logger.Debug("Result element dropped at parse", map[string]interface{}{
				"operation": "crawl",
				"site":      site,
				"index":     i,
				"error":     perr,
			})
			return
		}

		// Step 9: invalid records are dropped silently; the crawl itself
		// still succeeds.
		if verr := t.validateRecord(rec); verr != nil {
			t.metrics.RecordDropped(site, "validation")
			t.logger.Debug("Record dropped at validation", map[string]interface{}{
				"operation": "crawl",
				"site":      site,
				"index":     i,
				"error":     verr,
			})
			return
		}

		// Step 10: normalization, then the full record invariants. Currency
		// and source are only known after normalization, so the invariant
		// check lives here rather than in step 9.
		rec.Normalize(core.NormalizeOptions{
			AirlineNames: AirlineNames,
			Currency:     t.config.Currency,
			SourceSite:   site,
			AdapterType:  t.strategy.Name(),
		})
		if verr := rec.Validate(); verr != nil {
			t.metrics.RecordDropped(site, "validation")
			t.logger.Debug("Record dropped after normalization", map[string]interface{}{
				"operation": "crawl",
				"site":      site,
				"index":     i,
				"error":     verr,
			})
			return
		}
		records = append(records, *rec)
	})

	// A page where everything failed to parse is a parsing failure, not an
	// empty result: the markup likely changed.
	if elements.Length() > 0 && len(records) == 0 && parseFailures == elements.Length() {
		return nil, core.NewCrawlError("template.Parse", site, core.CategoryParsing,
			fmt.Errorf("all %d result elements failed to parse", elements.Length()))
	}
	return records, nil
}

func (t *Template) parseElement(el *goquery.Selection, pctx *ParseContext) (*core.FlightRecord, error) {
	if t.hooks.ParseFlightElement != nil {
		return t.hooks.ParseFlightElement(el, pctx)
	}
	result := t.strategy.Parse(el, pctx)
	if !result.Success {
		return nil, fmt.Errorf("%s", strings.Join(result.Errors, "; "))
	}
	for _, warning := range result.Warnings {
		t.logger.Debug("Parse warning", map[string]interface{}{
			"operation": "crawl",
			"site":      pctx.Site,
			"warning":   warning,
		})
	}
	return result.Record, nil
}

func (t *Template) validateRecord(rec *core.FlightRecord) error {
	// Normalize fills currency and source afterwards; pre-validation only
	// checks what parsing is responsible for.
	if pr := t.config.Validation.PriceRange; pr.Max > 0 {
		if rec.Price < pr.Min || rec.Price > pr.Max {
			return fmt.Errorf("price %.2f outside configured range [%.2f, %.2f]: %w",
				rec.Price, pr.Min, pr.Max, core.ErrInvalidConfiguration)
		}
	}
	if dr := t.config.Validation.DurationRange; dr.MaxMinutes > 0 {
		if rec.DurationMinutes < dr.MinMinutes || rec.DurationMinutes > dr.MaxMinutes {
			return fmt.Errorf("duration %dm outside configured range [%dm, %dm]: %w",
				rec.DurationMinutes, dr.MinMinutes, dr.MaxMinutes, core.ErrInvalidConfiguration)
		}
	}
	if rec.Airline == "" || rec.DepartureTime.IsZero() || rec.ArrivalTime.IsZero() {
		return fmt.Errorf("incomplete record: %w", core.ErrInvalidConfiguration)
	}
	if !rec.ArrivalTime.After(rec.DepartureTime) {
		return fmt.Errorf("arrival before departure: %w", core.ErrInvalidConfiguration)
	}
	return nil
}
