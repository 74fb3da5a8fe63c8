package errhandler

import (
	"sync/atomic"
	"time"

	"github.com/farescout/farescout/core"
)

// RecoveryStrategy describes one way to recover from a class of failures.
// Success counters feed the ranking: when several strategies apply, the one
// with the best observed success rate wins.
type RecoveryStrategy struct {
	ID         string
	Categories []core.Category
	MaxRetries int
	BaseDelay  time.Duration

	attempts  atomic.Uint64
	successes atomic.Uint64
}

// appliesTo reports whether the strategy handles the category.
func (s *RecoveryStrategy) appliesTo(category core.Category) bool {
	for _, c := range s.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// SuccessRate returns the observed success rate. Unused strategies report
// 0.5 so new strategies are neither favored nor buried.
func (s *RecoveryStrategy) SuccessRate() float64 {
	attempts := s.attempts.Load()
	if attempts == 0 {
		return 0.5
	}
	return float64(s.successes.Load()) / float64(attempts)
}

// RecordAttempt counts an application of the strategy.
func (s *RecoveryStrategy) RecordAttempt() { s.attempts.Add(1) }

// RecordSuccess counts an application that led to a successful retry.
func (s *RecoveryStrategy) RecordSuccess() { s.successes.Add(1) }

// Delay computes the backoff for the given retry attempt (0-based):
// base * 2^attempt.
func (s *RecoveryStrategy) Delay(attempt int) time.Duration {
	d := s.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

// builtinStrategies returns the default recovery table.
func builtinStrategies() []*RecoveryStrategy {
	return []*RecoveryStrategy{
		{
			ID:         "retry-with-backoff",
			Categories: []core.Category{core.CategoryNetwork, core.CategoryTimeout},
			MaxRetries: 3,
			BaseDelay:  time.Second,
		},
		{
			ID:         "refresh-page",
			Categories: []core.Category{core.CategoryNavigation, core.CategoryBrowser},
			MaxRetries: 2,
			BaseDelay:  2 * time.Second,
		},
		{
			ID:         "clear-cache",
			Categories: []core.Category{core.CategoryBrowser, core.CategoryResource},
			MaxRetries: 1,
			BaseDelay:  5 * time.Second,
		},
		{
			ID:         "change-user-agent",
			Categories: []core.Category{core.CategoryAuthentication, core.CategoryCaptcha},
			MaxRetries: 2,
			BaseDelay:  3 * time.Second,
		},
		{
			ID:         "fallback-extraction",
			Categories: []core.Category{core.CategoryParsing, core.CategoryValidation},
			MaxRetries: 1,
			BaseDelay:  500 * time.Millisecond,
		},
	}
}

// selectStrategy picks the applicable strategy with the highest observed
// success rate. Returns nil when no strategy covers the category.
func selectStrategy(strategies []*RecoveryStrategy, category core.Category) *RecoveryStrategy {
	var best *RecoveryStrategy
	bestRate := -1.0
	for _, s := range strategies {
		if !s.appliesTo(category) {
			continue
		}
		if rate := s.SuccessRate(); rate > bestRate {
			best = s
			bestRate = rate
		}
	}
	return best
}
