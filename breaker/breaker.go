// Package breaker implements the multi-scope circuit breaker protecting
// crawl targets. Each site carries four independent state machines (scopes);
// admission requires both the global scope and the asked scope to permit.
package breaker

import "time"

// State represents the state of one scope's circuit
type State int

const (
	// StateClosed allows all requests through
	StateClosed State = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows limited trial requests
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// scopeBreaker is the per-(site, scope) state machine. All methods are
// called with the owning site's lock held; the struct itself has no lock.
type scopeBreaker struct {
	state         State
	failures      int
	successStreak int
	halfOpenCalls int
	lastFailure   time.Time
	lastSuccess   time.Time
	openedAt      time.Time
	threshold     *adaptiveThreshold
}

func newScopeBreaker(cfg Config) *scopeBreaker {
	return &scopeBreaker{
		state:     StateClosed,
		threshold: newAdaptiveThreshold(float64(cfg.FailureThreshold), cfg.AdaptiveThresholds),
	}
}

// transition is the result of one breaker operation, reported to the manager
// so it can log and emit metrics outside the lock.
type transition struct {
	from, to State
}

func (t transition) changed() bool { return t.from != t.to }

// allow decides admission and advances open→half_open when the recovery
// timeout has elapsed. Half-open admissions consume trial slots.
func (b *scopeBreaker) allow(now time.Time, cfg Config) (bool, transition) {
	tr := transition{from: b.state, to: b.state}

	switch b.state {
	case StateClosed:
		return true, tr

	case StateOpen:
		if now.Sub(b.openedAt) < cfg.RecoveryTimeout {
			return false, tr
		}
		b.state = StateHalfOpen
		b.halfOpenCalls = 0
		b.successStreak = 0
		tr.to = StateHalfOpen
		b.halfOpenCalls++
		return true, tr

	case StateHalfOpen:
		if b.halfOpenCalls >= cfg.HalfOpenMaxCalls {
			return false, tr
		}
		b.halfOpenCalls++
		return true, tr
	}
	return false, tr
}

// recordFailure counts one failure against the scope and opens when the
// consecutive count reaches the threshold. Any half-open failure reopens
// immediately.
func (b *scopeBreaker) recordFailure(now time.Time) transition {
	tr := transition{from: b.state, to: b.state}
	b.lastFailure = now
	b.successStreak = 0
	b.threshold.observe(false)

	switch b.state {
	case StateClosed:
		b.failures++
		if float64(b.failures) >= b.threshold.value() {
			b.open(now)
			tr.to = StateOpen
		}
	case StateHalfOpen:
		b.open(now)
		tr.to = StateOpen
	}
	return tr
}

// recordSuccess resets the failure streak; in half-open a streak of
// successes closes the circuit.
func (b *scopeBreaker) recordSuccess(now time.Time, cfg Config) transition {
	tr := transition{from: b.state, to: b.state}
	b.lastSuccess = now
	b.threshold.observe(true)

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successStreak++
		if b.successStreak >= cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.halfOpenCalls = 0
			b.successStreak = 0
			tr.to = StateClosed
		}
	}
	return tr
}

func (b *scopeBreaker) open(now time.Time) {
	b.state = StateOpen
	b.openedAt = now
	b.failures = 0
	b.halfOpenCalls = 0
	b.successStreak = 0
}

func (b *scopeBreaker) reset() {
	b.state = StateClosed
	b.failures = 0
	b.halfOpenCalls = 0
	b.successStreak = 0
	b.threshold.reset()
}
