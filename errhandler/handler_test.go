package errhandler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/farescout/farescout/breaker"
	"github.com/farescout/farescout/core"
)

type recordingBreaker struct {
	mu    sync.Mutex
	calls []breaker.FailureType
	sites []string
	deny  bool
}

func (r *recordingBreaker) RecordFailure(site string, ft breaker.FailureType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, ft)
	r.sites = append(r.sites, site)
}

func (r *recordingBreaker) CanMakeRequest(site string, scope breaker.Scope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.deny
}

type recordingLimiter struct {
	mu    sync.Mutex
	sites []string
}

func (r *recordingLimiter) StartCooldown(site string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sites = append(r.sites, site)
}

func networkErr(site string) error {
	return core.NewCrawlError("session.Navigate", site, core.CategoryNetwork, core.ErrConnectionFailed)
}

func TestHandleReturnsRetryForNetworkErrors(t *testing.T) {
	h := NewHandler(Config{})
	ectx := core.NewErrorContext("flytoday", "navigate")

	d := h.Handle(context.Background(), networkErr("flytoday"), ectx)
	if !d.Retry {
		t.Fatal("network error with retry budget should retry")
	}
	if d.StrategyID != "retry-with-backoff" {
		t.Errorf("strategy = %s, want retry-with-backoff", d.StrategyID)
	}
	if d.Delay != time.Second {
		t.Errorf("first retry delay = %v, want 1s", d.Delay)
	}
}

func TestHandleExponentialBackoff(t *testing.T) {
	h := NewHandler(Config{})
	ectx := core.NewErrorContext("flytoday", "navigate", core.WithMaxRetries(5))

	ectx.RetryCount = 2
	d := h.Handle(context.Background(), networkErr("flytoday"), ectx)
	if d.Retry {
		// retry-with-backoff caps at 3 retries; attempt index 2 is the last
		if d.Delay != 4*time.Second {
			t.Errorf("third retry delay = %v, want 4s", d.Delay)
		}
	} else {
		t.Fatal("retry 2 of 3 should still be allowed")
	}

	ectx.RetryCount = 3
	d = h.Handle(context.Background(), networkErr("flytoday"), ectx)
	if d.Retry {
		t.Error("strategy retry budget exhausted, should not retry")
	}
	if d.Action != core.ActionAbort {
		t.Errorf("action = %s, want abort", d.Action)
	}
}

func TestHandleNoStrategySkips(t *testing.T) {
	h := NewHandler(Config{})
	ectx := core.NewErrorContext("flytoday", "wait")

	err := core.NewCrawlError("ratelimit.Wait", "flytoday", core.CategoryRateLimit, core.ErrRateLimited)
	d := h.Handle(context.Background(), err, ectx)
	if d.Retry {
		t.Error("rate-limit errors have no recovery strategy, the cooldown handles them")
	}
	if d.Action != core.ActionSkip {
		t.Errorf("action = %s, want skip", d.Action)
	}
}

func TestValidationErrorsUseFallbackExtraction(t *testing.T) {
	h := NewHandler(Config{})
	ectx := core.NewErrorContext("flytoday", "validate")

	err := core.NewCrawlError("record.Validate", "flytoday", core.CategoryValidation, errors.New("bad record"))
	d := h.Handle(context.Background(), err, ectx)
	if !d.Retry {
		t.Fatal("validation errors should retry through fallback extraction")
	}
	if d.StrategyID != "fallback-extraction" {
		t.Errorf("strategy = %s, want fallback-extraction", d.StrategyID)
	}
}

func TestHandleDeniesRetryWhenCircuitOpen(t *testing.T) {
	rb := &recordingBreaker{deny: true}
	h := NewHandler(Config{Breaker: rb})
	ectx := core.NewErrorContext("flytoday", "navigate")

	d := h.Handle(context.Background(), networkErr("flytoday"), ectx)
	if d.Retry {
		t.Fatal("retry must not be signalled into an open circuit")
	}
	if d.Action != core.ActionAbort {
		t.Errorf("action = %s, want abort", d.Action)
	}
}

func TestBreakerBridge(t *testing.T) {
	rb := &recordingBreaker{}
	rl := &recordingLimiter{}
	h := NewHandler(Config{Breaker: rb, Limiter: rl})

	h.Handle(context.Background(), networkErr("flytoday"), core.NewErrorContext("flytoday", "navigate"))

	rateErr := core.NewCrawlError("session.Navigate", "flytoday", core.CategoryRateLimit, core.ErrRateLimited)
	h.Handle(context.Background(), rateErr, core.NewErrorContext("flytoday", "navigate"))

	rb.mu.Lock()
	defer rb.mu.Unlock()
	if len(rb.calls) != 2 {
		t.Fatalf("breaker received %d failures, want 2", len(rb.calls))
	}
	if rb.calls[0] != breaker.FailureNetworkError {
		t.Errorf("network error routed as %s", rb.calls[0])
	}
	if rb.calls[1] != breaker.FailureRateLimitExceeded {
		t.Errorf("rate limit routed as %s", rb.calls[1])
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.sites) != 1 || rl.sites[0] != "flytoday" {
		t.Errorf("only the rate-limit failure should start a cooldown, got %v", rl.sites)
	}
}

func TestPatternAggregation(t *testing.T) {
	h := NewHandler(Config{})

	// Same shape five times: one pattern, five occurrences.
	for i := 0; i < 5; i++ {
		ectx := core.NewErrorContext("flytoday", "parse")
		err := core.NewCrawlError("parse.Extract", "flytoday", core.CategoryParsing, errors.New("no price element"))
		h.Handle(context.Background(), err, ectx)
	}

	patterns := h.Patterns()
	if len(patterns) != 1 {
		t.Fatalf("got %d patterns, want 1", len(patterns))
	}
	if patterns[0].Occurrences != 5 {
		t.Errorf("occurrences = %d, want 5", patterns[0].Occurrences)
	}

	// A different adapter makes a different pattern.
	ectx := core.NewErrorContext("alibaba", "parse")
	err := core.NewCrawlError("parse.Extract", "alibaba", core.CategoryParsing, errors.New("no price element"))
	h.Handle(context.Background(), err, ectx)
	if got := len(h.Patterns()); got != 2 {
		t.Errorf("got %d patterns, want 2", got)
	}
}

func TestPatternSuggestions(t *testing.T) {
	h := NewHandler(Config{})

	for i := 0; i < patternSuggestionMin; i++ {
		ectx := core.NewErrorContext("flytoday", "navigate")
		err := core.NewCrawlError("session.Navigate", "flytoday", core.CategoryTimeout,
			fmt.Errorf("timeout waiting for results: %w", core.ErrTimeout))
		h.Handle(context.Background(), err, ectx)
	}

	h.runPatternScan()

	patterns := h.Patterns()
	if len(patterns) != 1 {
		t.Fatalf("got %d patterns", len(patterns))
	}
	if len(patterns[0].Suggestions) == 0 {
		t.Error("frequent pattern should carry suggestions")
	}
}

func TestCorrelationLinksRelatedErrors(t *testing.T) {
	h := NewHandler(Config{})

	// Same adapter, operation, type and category within the window scores
	// 0.3+0.2+0.2+0.1+0.2 = 1.0 (clamped), well over the threshold.
	ectx1 := core.NewErrorContext("flytoday", "navigate")
	h.Handle(context.Background(), networkErr("flytoday"), ectx1)

	ectx2 := core.NewErrorContext("flytoday", "navigate")
	h.Handle(context.Background(), networkErr("flytoday"), ectx2)

	var first, second *ErrorRecord
	h.mu.Lock()
	h.ring.each(func(rec *ErrorRecord) bool {
		if rec.Context.ErrorID == ectx1.ErrorID {
			first = rec
		}
		if rec.Context.ErrorID == ectx2.ErrorID {
			second = rec
		}
		return true
	})
	h.mu.Unlock()

	if first == nil || second == nil {
		t.Fatal("records not found in ring")
	}
	if len(second.RelatedErrorIDs) != 1 || second.RelatedErrorIDs[0] != ectx1.ErrorID {
		t.Errorf("new record should link back: %v", second.RelatedErrorIDs)
	}
	if len(first.RelatedErrorIDs) != 1 || first.RelatedErrorIDs[0] != ectx2.ErrorID {
		t.Errorf("links must be symmetric: %v", first.RelatedErrorIDs)
	}
}

func TestCorrelationScoreProperties(t *testing.T) {
	now := time.Now()
	mk := func(adapter, op, errType string, cat core.Category, ts time.Time) *ErrorRecord {
		return &ErrorRecord{
			Context:   &core.ErrorContext{Adapter: adapter, Operation: op, Timestamp: ts},
			ErrorType: errType,
			Category:  cat,
		}
	}

	a := mk("flytoday", "navigate", "*core.CrawlError", core.CategoryNetwork, now)
	b := mk("flytoday", "navigate", "*core.CrawlError", core.CategoryNetwork, now.Add(time.Minute))

	// Symmetric.
	if correlationScore(a, b) != correlationScore(b, a) {
		t.Error("score must be symmetric")
	}
	// Clamped to 1.0 even though the sum of weights is 1.0 exactly here;
	// use identical timestamps plus all matches to confirm the clamp.
	if s := correlationScore(a, b); s > 1.0 {
		t.Errorf("score %f exceeds 1.0", s)
	}

	// Unrelated errors outside the window score low.
	c := mk("alibaba", "parse", "*errors.errorString", core.CategoryParsing, now.Add(-time.Hour))
	if s := correlationScore(a, c); s >= correlationThreshold {
		t.Errorf("unrelated errors scored %f", s)
	}
}

func TestRingBounded(t *testing.T) {
	h := NewHandler(Config{RingCapacity: 10})

	for i := 0; i < 25; i++ {
		ectx := core.NewErrorContext("flytoday", "navigate")
		h.Handle(context.Background(), networkErr("flytoday"), ectx)
	}

	stats := h.GetStatistics()
	if stats.StoredRecords != 10 {
		t.Errorf("stored records = %d, want ring capacity 10", stats.StoredRecords)
	}
	if stats.TotalErrors != 25 {
		t.Errorf("total counter = %d, want 25", stats.TotalErrors)
	}
}

func TestGetStatistics(t *testing.T) {
	h := NewHandler(Config{})

	h.Handle(context.Background(), networkErr("flytoday"), core.NewErrorContext("flytoday", "navigate"))
	parseErr := core.NewCrawlError("parse.Extract", "alibaba", core.CategoryParsing, errors.New("bad markup"))
	h.Handle(context.Background(), parseErr, core.NewErrorContext("alibaba", "parse"))

	stats := h.GetStatistics()
	if stats.TotalErrors != 2 {
		t.Errorf("total = %d", stats.TotalErrors)
	}
	if stats.ByCategory[core.CategoryNetwork] != 1 || stats.ByCategory[core.CategoryParsing] != 1 {
		t.Errorf("by category = %v", stats.ByCategory)
	}
	if stats.ByAdapter["flytoday"] != 1 || stats.ByAdapter["alibaba"] != 1 {
		t.Errorf("by adapter = %v", stats.ByAdapter)
	}
}

type capturingMetrics struct {
	mu      sync.Mutex
	errors  int
	actions []string
	alerts  int
}

func (m *capturingMetrics) RecordError(adapter, category, severity, action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
	m.actions = append(m.actions, action)
}

func (m *capturingMetrics) RecordAlert(adapter, severity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts++
}

func TestHandleReportsMetrics(t *testing.T) {
	metrics := &capturingMetrics{}
	h := NewHandler(Config{Metrics: metrics})

	h.Handle(context.Background(), networkErr("flytoday"), core.NewErrorContext("flytoday", "navigate"))

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.errors != 1 {
		t.Fatalf("error metric count = %d, want 1", metrics.errors)
	}
	if metrics.actions[0] != string(core.ActionRetry) {
		t.Errorf("recorded action = %s, want retry", metrics.actions[0])
	}
}

func TestHealthCheck(t *testing.T) {
	h := NewHandler(Config{})
	if err := h.HealthCheck(); err != nil {
		t.Fatalf("fresh handler should be healthy: %v", err)
	}

	for i := 0; i < healthMaxRecent+1; i++ {
		h.Handle(context.Background(), networkErr("flytoday"), core.NewErrorContext("flytoday", "navigate"))
	}
	if err := h.HealthCheck(); err == nil {
		t.Error("error storm should report unhealthy")
	}
}

func TestRunWithRecoveryRetriesUntilSuccess(t *testing.T) {
	h := NewHandler(Config{})
	// Shrink backoff so the test runs fast.
	for _, s := range h.strategies {
		s.BaseDelay = time.Millisecond
	}

	ectx := core.NewErrorContext("flytoday", "navigate")
	attempts := 0
	err := h.RunWithRecovery(context.Background(), ectx, func() error {
		attempts++
		if attempts < 3 {
			return networkErr("flytoday")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if ectx.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", ectx.RetryCount)
	}
}

func TestRunWithRecoveryGivesUp(t *testing.T) {
	h := NewHandler(Config{})
	for _, s := range h.strategies {
		s.BaseDelay = time.Millisecond
	}

	ectx := core.NewErrorContext("flytoday", "navigate")
	attempts := 0
	err := h.RunWithRecovery(context.Background(), ectx, func() error {
		attempts++
		return networkErr("flytoday")
	})
	if err == nil {
		t.Fatal("persistent failure should surface")
	}
	// retry-with-backoff allows 3 retries: 4 attempts total.
	if attempts != 4 {
		t.Errorf("attempts = %d, want 4", attempts)
	}
}

func TestRunWithRecoveryHonorsContext(t *testing.T) {
	h := NewHandler(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ectx := core.NewErrorContext("flytoday", "navigate")
	err := h.RunWithRecovery(ctx, ectx, func() error {
		return networkErr("flytoday")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestEviction(t *testing.T) {
	h := NewHandler(Config{})

	old := core.NewErrorContext("flytoday", "navigate")
	old.Timestamp = time.Now().Add(-25 * time.Hour)
	h.mu.Lock()
	h.ring.add(&ErrorRecord{
		Context:     old,
		Category:    core.CategoryNetwork,
		PatternHash: "stale",
	})
	h.patterns["stale"] = &ErrorPattern{Hash: "stale", LastSeen: time.Now().Add(-25 * time.Hour)}
	h.mu.Unlock()

	h.Handle(context.Background(), networkErr("flytoday"), core.NewErrorContext("flytoday", "navigate"))
	h.runEviction()

	stats := h.GetStatistics()
	if stats.StoredRecords != 1 {
		t.Errorf("stored = %d, want only the fresh record", stats.StoredRecords)
	}
	for _, p := range h.Patterns() {
		if p.Hash == "stale" {
			t.Error("stale pattern should be evicted")
		}
	}
}

func TestStrategyRanking(t *testing.T) {
	strategies := []*RecoveryStrategy{
		{ID: "a", Categories: []core.Category{core.CategoryNetwork}},
		{ID: "b", Categories: []core.Category{core.CategoryNetwork}},
	}
	// b has a proven record, a has a poor one.
	strategies[0].RecordAttempt()
	strategies[1].RecordAttempt()
	strategies[1].RecordSuccess()

	if got := selectStrategy(strategies, core.CategoryNetwork); got.ID != "b" {
		t.Errorf("selected %s, want the higher success rate", got.ID)
	}
	if selectStrategy(strategies, core.CategoryCaptcha) != nil {
		t.Error("no strategy covers captcha in this table")
	}
}
