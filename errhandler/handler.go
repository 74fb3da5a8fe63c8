// Package errhandler is the central error intelligence of the crawler: it
// records failures, detects recurring patterns, correlates related errors,
// feeds the circuit breakers, and decides whether and how to retry.
package errhandler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/farescout/farescout/breaker"
	"github.com/farescout/farescout/core"
)

const (
	defaultRingCapacity = 10000
	recordTTL           = 24 * time.Hour
	patternScanInterval = 30 * time.Minute
	evictionInterval    = time.Hour

	// Health thresholds: the handler itself reports unhealthy when errors
	// arrive faster than operators can reasonably react.
	healthWindowDuration = 5 * time.Minute
	healthMaxRecent      = 20
	healthMaxCritical    = 3
)

// Decision is the handler's answer for one failure.
type Decision struct {
	Action     core.RecoveryAction `json:"action"`
	Retry      bool                `json:"retry"`
	StrategyID string              `json:"strategy_id,omitempty"`
	Delay      time.Duration       `json:"delay"`
}

// BreakerReporter is the slice of the circuit breaker manager the handler
// needs: failures feed the circuits, and retry decisions consult admission
// so the handler never retries into an open circuit. *breaker.Manager
// satisfies it.
type BreakerReporter interface {
	RecordFailure(site string, failureType breaker.FailureType)
	CanMakeRequest(site string, scope breaker.Scope) bool
}

// CooldownStarter is the slice of the rate limiter the handler needs for
// rate-limit failures. *ratelimit.Limiter satisfies it.
type CooldownStarter interface {
	StartCooldown(site string)
}

// Config configures the handler.
type Config struct {
	RingCapacity int

	Logger  core.Logger
	Breaker BreakerReporter
	Limiter CooldownStarter
	Sinks   []AlertSink
	Metrics MetricsCollector
}

// Statistics is the snapshot returned by GetStatistics.
type Statistics struct {
	TotalErrors   uint64                   `json:"total_errors"`
	BySeverity    map[string]uint64        `json:"by_severity"`
	ByCategory    map[core.Category]uint64 `json:"by_category"`
	ByAdapter     map[string]uint64        `json:"by_adapter"`
	PatternCount  int                      `json:"pattern_count"`
	StoredRecords int                      `json:"stored_records"`
}

// Handler is the error intelligence hub. Safe for concurrent use: one lock
// guards the ring and pattern map, strategy counters are atomic.
type Handler struct {
	logger   core.Logger
	breaker  BreakerReporter
	limiter  CooldownStarter
	sinks    []AlertSink
	metrics  MetricsCollector
	now      func() time.Time

	mu       sync.Mutex
	ring     *recordRing
	patterns map[string]*ErrorPattern

	totalErrors uint64
	bySeverity  map[core.Severity]uint64
	byCategory  map[core.Category]uint64
	byAdapter   map[string]uint64

	strategies []*RecoveryStrategy

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHandler creates the handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	capacity := cfg.RingCapacity
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	sinks := cfg.Sinks
	if len(sinks) == 0 {
		sinks = []AlertSink{&LogAlertSink{Logger: logger}}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	h := &Handler{
		logger:     logger,
		breaker:    cfg.Breaker,
		limiter:    cfg.Limiter,
		sinks:      sinks,
		metrics:    metrics,
		now:        time.Now,
		ring:       newRecordRing(capacity),
		patterns:   make(map[string]*ErrorPattern),
		bySeverity: make(map[core.Severity]uint64),
		byCategory: make(map[core.Category]uint64),
		byAdapter:  make(map[string]uint64),
		strategies: builtinStrategies(),
	}

	logger.Info("Error handler created", map[string]interface{}{
		"operation":     "error_handler_created",
		"ring_capacity": capacity,
		"strategies":    len(h.strategies),
	})
	return h
}

// Start launches the background pattern scan and eviction loops.
func (h *Handler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	h.wg.Add(2)
	go h.loop(ctx, patternScanInterval, h.runPatternScan)
	go h.loop(ctx, evictionInterval, h.runEviction)
}

// Stop cancels the background loops and waits for them.
func (h *Handler) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

func (h *Handler) loop(ctx context.Context, interval time.Duration, fn func()) {
	defer h.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (h *Handler) runPatternScan() {
	h.mu.Lock()
	updated := scanPatterns(h.patterns, h.logger)
	h.mu.Unlock()

	h.logger.Debug("Pattern scan complete", map[string]interface{}{
		"operation": "pattern_scan",
		"updated":   updated,
	})
}

func (h *Handler) runEviction() {
	cutoff := h.now().Add(-recordTTL)

	h.mu.Lock()
	evictedRecords := h.ring.evictOlderThan(cutoff)
	evictedPatterns := 0
	for hash, p := range h.patterns {
		if p.LastSeen.Before(cutoff) {
			delete(h.patterns, hash)
			evictedPatterns++
		}
	}
	h.mu.Unlock()

	if evictedRecords > 0 || evictedPatterns > 0 {
		h.logger.Info("Evicted stale error state", map[string]interface{}{
			"operation":        "error_eviction",
			"evicted_records":  evictedRecords,
			"evicted_patterns": evictedPatterns,
		})
	}
}

// Handle processes one failure and returns what to do about it. The caller
// supplies the error context; category and severity come from the taxonomy
// when left zero-valued.
func (h *Handler) Handle(ctx context.Context, err error, ectx *core.ErrorContext) Decision {
	if err == nil {
		return Decision{Action: core.ActionSkip}
	}
	if ectx == nil {
		ectx = core.NewErrorContext("unknown", "unknown")
	}

	category := core.CategoryOf(err)
	severity := core.DefaultSeverity(category)
	errorType := fmt.Sprintf("%T", err)
	now := h.now()

	rec := &ErrorRecord{
		Context:     ectx,
		Category:    category,
		Severity:    severity,
		Message:     err.Error(),
		ErrorType:   errorType,
		PatternHash: patternHash(errorType, ectx.Adapter, ectx.Operation, err.Error()),
	}

	h.mu.Lock()
	h.ring.add(rec)
	h.totalErrors++
	h.bySeverity[severity]++
	h.byCategory[category]++
	h.byAdapter[ectx.Adapter]++
	pattern := upsertPattern(h.patterns, rec, now)
	correlate(h.ring, rec, now)
	h.mu.Unlock()

	h.bridgeToAdmission(ectx.Adapter, category)

	decision := h.decide(rec, category)
	rec.ActionTaken = decision.Action
	h.metrics.RecordError(ectx.Adapter, string(category), severity.String(), string(decision.Action))

	h.logger.Warn("Error handled", map[string]interface{}{
		"operation":      "handle_error",
		"error_id":       ectx.ErrorID,
		"adapter":        ectx.Adapter,
		"op":             ectx.Operation,
		"category":       string(category),
		"severity":       severity.String(),
		"action":         string(decision.Action),
		"strategy":       decision.StrategyID,
		"retry":          decision.Retry,
		"pattern_count":  pattern.Occurrences,
		"related_errors": len(rec.RelatedErrorIDs),
		"error":          err,
	})

	if severity >= core.SeverityCritical {
		h.dispatchAlert(ctx, rec)
	}
	return decision
}

// bridgeToAdmission feeds the failure to the breaker manager and, for
// rate-limit failures, starts the limiter cooldown.
func (h *Handler) bridgeToAdmission(site string, category core.Category) {
	if h.breaker != nil {
		h.breaker.RecordFailure(site, failureTypeFor(category))
	}
	if h.limiter != nil && category == core.CategoryRateLimit {
		h.limiter.StartCooldown(site)
	}
}

// admissionScope maps a category onto the breaker scope its failures route
// to, for the retry admission check.
func admissionScope(category core.Category) breaker.Scope {
	if category == core.CategoryRateLimit {
		return breaker.ScopeRateLimiter
	}
	return breaker.ScopeAdapter
}

// failureTypeFor maps taxonomy categories onto breaker failure types.
func failureTypeFor(category core.Category) breaker.FailureType {
	switch category {
	case core.CategoryRateLimit:
		return breaker.FailureRateLimitExceeded
	case core.CategoryTimeout:
		return breaker.FailureTimeout
	case core.CategoryNetwork:
		return breaker.FailureNetworkError
	case core.CategoryValidation, core.CategoryParsing:
		return breaker.FailureValidationError
	default:
		return breaker.FailureAdapterFailure
	}
}

// decide selects a recovery strategy and turns it into a Decision honoring
// the context's retry budget. A retry is only signalled when the breaker
// scope the failure routed to still admits traffic.
func (h *Handler) decide(rec *ErrorRecord, category core.Category) Decision {
	strategy := selectStrategy(h.strategies, category)
	if strategy == nil {
		if rec.Severity >= core.SeverityCritical {
			return Decision{Action: core.ActionEscalate}
		}
		return Decision{Action: core.ActionSkip}
	}

	retriesUsed := rec.Context.RetryCount
	if retriesUsed >= strategy.MaxRetries || !rec.Context.CanRetry() {
		if rec.Severity >= core.SeverityCritical {
			return Decision{Action: core.ActionEscalate, StrategyID: strategy.ID}
		}
		return Decision{Action: core.ActionAbort, StrategyID: strategy.ID}
	}

	if h.breaker != nil && !h.breaker.CanMakeRequest(rec.Context.Adapter, admissionScope(category)) {
		return Decision{Action: core.ActionAbort, StrategyID: strategy.ID}
	}

	strategy.RecordAttempt()
	return Decision{
		Action:     core.ActionRetry,
		Retry:      true,
		StrategyID: strategy.ID,
		Delay:      strategy.Delay(retriesUsed),
	}
}

func (h *Handler) dispatchAlert(ctx context.Context, rec *ErrorRecord) {
	alert := Alert{
		ErrorID:   rec.Context.ErrorID,
		Adapter:   rec.Context.Adapter,
		Operation: rec.Context.Operation,
		Category:  rec.Category,
		Severity:  rec.Severity,
		Message:   rec.Message,
		Timestamp: rec.Context.Timestamp,
	}
	h.metrics.RecordAlert(alert.Adapter, alert.Severity.String())
	for _, sink := range h.sinks {
		go func(s AlertSink) {
			if err := s.Send(context.WithoutCancel(ctx), alert); err != nil {
				h.logger.Error("Alert sink failed", map[string]interface{}{
					"operation": "alert_dispatch",
					"error_id":  alert.ErrorID,
					"error":     err,
				})
			}
		}(sink)
	}
}

// MarkResolved records how an error was resolved and credits the strategy.
func (h *Handler) MarkResolved(errorID, method string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring.each(func(rec *ErrorRecord) bool {
		if rec.Context != nil && rec.Context.ErrorID == errorID {
			rec.Resolution = Resolution{Resolved: true, Method: method}
			return false
		}
		return true
	})
}

// GetStatistics returns a copy of the handler counters.
func (h *Handler) GetStatistics() Statistics {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := Statistics{
		TotalErrors:   h.totalErrors,
		BySeverity:    make(map[string]uint64, len(h.bySeverity)),
		ByCategory:    make(map[core.Category]uint64, len(h.byCategory)),
		ByAdapter:     make(map[string]uint64, len(h.byAdapter)),
		PatternCount:  len(h.patterns),
		StoredRecords: h.ring.size(),
	}
	for sev, n := range h.bySeverity {
		stats.BySeverity[sev.String()] = n
	}
	for cat, n := range h.byCategory {
		stats.ByCategory[cat] = n
	}
	for adapter, n := range h.byAdapter {
		stats.ByAdapter[adapter] = n
	}
	return stats
}

// Patterns returns a copy of the current pattern table.
func (h *Handler) Patterns() []ErrorPattern {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]ErrorPattern, 0, len(h.patterns))
	for _, p := range h.patterns {
		cp := *p
		cp.Suggestions = append([]string(nil), p.Suggestions...)
		cp.SeverityTrend = append([]core.Severity(nil), p.SeverityTrend...)
		out = append(out, cp)
	}
	return out
}

// HealthCheck reports whether the error volume itself signals trouble:
// too many recent errors, or several critical ones.
func (h *Handler) HealthCheck() error {
	cutoff := h.now().Add(-healthWindowDuration)

	h.mu.Lock()
	recent := 0
	critical := 0
	h.ring.each(func(rec *ErrorRecord) bool {
		if rec.Context == nil || rec.Context.Timestamp.Before(cutoff) {
			return true
		}
		recent++
		if rec.Severity >= core.SeverityCritical {
			critical++
		}
		return true
	})
	h.mu.Unlock()

	if recent > healthMaxRecent {
		return fmt.Errorf("%d errors in the last %s: %w", recent, healthWindowDuration, core.ErrMaxRetriesExceeded)
	}
	if critical > healthMaxCritical {
		return fmt.Errorf("%d critical errors in the last %s: %w", critical, healthWindowDuration, core.ErrMaxRetriesExceeded)
	}
	return nil
}

// RunWithRecovery runs op, consulting Handle on each failure and retrying
// per its decision. The error context's retry counter advances across
// attempts; sleeps are context-aware.
func (h *Handler) RunWithRecovery(ctx context.Context, ectx *core.ErrorContext, op func() error) error {
	var lastStrategy *RecoveryStrategy
	for {
		err := op()
		if err == nil {
			if lastStrategy != nil {
				lastStrategy.RecordSuccess()
				h.MarkResolved(ectx.ErrorID, lastStrategy.ID)
			}
			return nil
		}

		decision := h.Handle(ctx, err, ectx)
		if !decision.Retry {
			return err
		}
		lastStrategy = h.strategyByID(decision.StrategyID)
		ectx.RetryCount++

		timer := time.NewTimer(decision.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (h *Handler) strategyByID(id string) *RecoveryStrategy {
	for _, s := range h.strategies {
		if s.ID == id {
			return s
		}
	}
	return nil
}
