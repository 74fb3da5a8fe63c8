package breaker

import (
	"sync"
	"time"

	"github.com/farescout/farescout/core"
)

// Scope identifies which protection layer a circuit belongs to.
type Scope string

const (
	ScopeRateLimiter  Scope = "rate_limiter"
	ScopeErrorHandler Scope = "error_handler"
	ScopeAdapter      Scope = "adapter"
	ScopeGlobal       Scope = "global"
)

// allScopes is the fixed scope set every site carries.
var allScopes = []Scope{ScopeRateLimiter, ScopeErrorHandler, ScopeAdapter, ScopeGlobal}

// FailureType classifies failures reported by the integration layer.
// Each type routes to one scope; every routed failure counts as one toward
// that scope's threshold. The weight only decides global routing: heavy
// failures also count against the global scope.
type FailureType string

const (
	FailureRateLimitExceeded   FailureType = "rate_limit_exceeded"
	FailureErrorHandlerFailure FailureType = "error_handler_failure"
	FailureAdapterFailure      FailureType = "adapter_failure"
	FailureTimeout             FailureType = "timeout"
	FailureNetworkError        FailureType = "network_error"
	FailureValidationError     FailureType = "validation_error"
)

// globalWeightCutoff: failures at or above this weight also count against
// the global scope.
const globalWeightCutoff = 0.8

type failureRoute struct {
	scope  Scope
	weight float64
}

var failureRoutes = map[FailureType]failureRoute{
	FailureRateLimitExceeded:   {ScopeRateLimiter, 0.5},
	FailureErrorHandlerFailure: {ScopeErrorHandler, 1.0},
	FailureAdapterFailure:      {ScopeAdapter, 1.0},
	FailureTimeout:             {ScopeAdapter, 0.8},
	FailureNetworkError:        {ScopeAdapter, 0.9},
	FailureValidationError:     {ScopeAdapter, 0.3},
}

// ScopeStatus is the externally visible state of one scope.
type ScopeStatus struct {
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	Threshold   float64   `json:"threshold"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
}

// Status is the per-site breaker summary.
type Status struct {
	Site           string                `json:"site"`
	Scopes         map[Scope]ScopeStatus `json:"scopes"`
	HealthScore    float64               `json:"health_score"`
	Recommendation string                `json:"recommendation"`
}

// Manager owns the per-(site, scope) circuits. Safe for concurrent use;
// each site has its own lock.
type Manager struct {
	config Config
	now    func() time.Time

	mu    sync.RWMutex
	sites map[string]*siteCircuits
}

type siteCircuits struct {
	mu     sync.Mutex
	scopes map[Scope]*scopeBreaker
}

// NewManager creates a breaker manager.
func NewManager(config Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &noopMetrics{}
	}

	m := &Manager{
		config: config,
		now:    time.Now,
		sites:  make(map[string]*siteCircuits),
	}

	config.Logger.Info("Circuit breaker manager created", map[string]interface{}{
		"operation":           "breaker_manager_created",
		"failure_threshold":   config.FailureThreshold,
		"recovery_timeout":    config.RecoveryTimeout.String(),
		"half_open_max_calls": config.HalfOpenMaxCalls,
		"adaptive_thresholds": config.AdaptiveThresholds,
	})
	return m, nil
}

func (m *Manager) site(name string) *siteCircuits {
	m.mu.RLock()
	s, ok := m.sites[name]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.sites[name]; ok {
		return s
	}
	s = &siteCircuits{scopes: make(map[Scope]*scopeBreaker, len(allScopes))}
	for _, scope := range allScopes {
		s.scopes[scope] = newScopeBreaker(m.config)
	}
	m.sites[name] = s
	return s
}

// CanMakeRequest reports whether the site admits a request under the given
// scope. Both the global circuit and the scope circuit must permit; a
// half-open circuit consumes one of its trial slots on admission.
func (m *Manager) CanMakeRequest(site string, scope Scope) bool {
	s := m.site(site)
	now := m.now()

	s.mu.Lock()
	globalOK, globalTr := s.scopes[ScopeGlobal].allow(now, m.config)
	scopeOK := globalOK
	scopeTr := transition{}
	if scope != ScopeGlobal {
		if globalOK {
			scopeOK, scopeTr = s.scopes[scope].allow(now, m.config)
		}
	}
	s.mu.Unlock()

	m.reportTransition(site, ScopeGlobal, globalTr)
	m.reportTransition(site, scope, scopeTr)

	if !globalOK || !scopeOK {
		refusedBy := scope
		if !globalOK {
			refusedBy = ScopeGlobal
		}
		m.config.Logger.Debug("Request rejected by circuit breaker", map[string]interface{}{
			"operation": "breaker_reject",
			"site":      site,
			"scope":     string(scope),
			"open":      string(refusedBy),
		})
		m.config.Metrics.RecordRejection(site, string(refusedBy))
		return false
	}
	return true
}

// RecordFailure routes a failure to its scope, counting one toward that
// scope's threshold. Failures weighted at or above the global cutoff also
// count against the global scope.
func (m *Manager) RecordFailure(site string, failureType FailureType) {
	route, ok := failureRoutes[failureType]
	if !ok {
		route = failureRoute{ScopeAdapter, 1.0}
	}

	s := m.site(site)
	now := m.now()

	s.mu.Lock()
	tr := s.scopes[route.scope].recordFailure(now)
	globalTr := transition{}
	if route.weight >= globalWeightCutoff && route.scope != ScopeGlobal {
		globalTr = s.scopes[ScopeGlobal].recordFailure(now)
	}
	s.mu.Unlock()

	m.config.Metrics.RecordFailure(site, string(route.scope), string(failureType))
	m.config.Logger.Debug("Failure recorded", map[string]interface{}{
		"operation":    "breaker_record_failure",
		"site":         site,
		"scope":        string(route.scope),
		"failure_type": string(failureType),
		"weight":       route.weight,
		"hits_global":  route.weight >= globalWeightCutoff,
	})

	m.reportTransition(site, route.scope, tr)
	m.reportTransition(site, ScopeGlobal, globalTr)
}

// RecordSuccess reports a successful request under a scope. Success also
// feeds the global scope so a recovering site can close its global circuit.
func (m *Manager) RecordSuccess(site string, scope Scope) {
	s := m.site(site)
	now := m.now()

	s.mu.Lock()
	tr := s.scopes[scope].recordSuccess(now, m.config)
	globalTr := transition{}
	if scope != ScopeGlobal {
		globalTr = s.scopes[ScopeGlobal].recordSuccess(now, m.config)
	}
	closed := tr.changed() && tr.to == StateClosed
	if closed && m.config.ResetScopeOnRecovery {
		for sc, b := range s.scopes {
			if sc != scope {
				b.failures = 0
			}
		}
	}
	s.mu.Unlock()

	m.config.Metrics.RecordSuccess(site, string(scope))
	m.reportTransition(site, scope, tr)
	m.reportTransition(site, ScopeGlobal, globalTr)
}

// HealthScore computes the site health from scope states:
// 100 - 25 per open scope - 10 per half-open scope.
func (m *Manager) HealthScore(site string) float64 {
	s := m.site(site)
	s.mu.Lock()
	defer s.mu.Unlock()
	return healthScoreLocked(s)
}

func healthScoreLocked(s *siteCircuits) float64 {
	score := 100.0
	for _, b := range s.scopes {
		switch b.state {
		case StateOpen:
			score -= 25
		case StateHalfOpen:
			score -= 10
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Status returns the full per-scope view of a site.
func (m *Manager) Status(site string) Status {
	s := m.site(site)
	s.mu.Lock()
	defer s.mu.Unlock()

	scopes := make(map[Scope]ScopeStatus, len(s.scopes))
	for scope, b := range s.scopes {
		scopes[scope] = ScopeStatus{
			State:       b.state.String(),
			Failures:    b.failures,
			Threshold:   b.threshold.value(),
			LastFailure: b.lastFailure,
			LastSuccess: b.lastSuccess,
		}
	}

	score := healthScoreLocked(s)
	return Status{
		Site:           site,
		Scopes:         scopes,
		HealthScore:    score,
		Recommendation: recommendation(score, s.scopes[ScopeGlobal].state),
	}
}

func recommendation(score float64, global State) string {
	switch {
	case global == StateOpen:
		return "global circuit open, pause all crawling for this site"
	case score >= 90:
		return "healthy, normal operation"
	case score >= 65:
		return "degraded, reduce request rate"
	default:
		return "unhealthy, pause non-essential crawling"
	}
}

// Reset closes every scope of a site and clears accumulators.
func (m *Manager) Reset(site string) {
	s := m.site(site)
	s.mu.Lock()
	for _, b := range s.scopes {
		b.reset()
	}
	s.mu.Unlock()

	m.config.Logger.Info("Circuit breakers reset", map[string]interface{}{
		"operation": "breaker_reset",
		"site":      site,
	})
}

// Sites returns the names of all sites with breaker state.
func (m *Manager) Sites() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.sites))
	for name := range m.sites {
		names = append(names, name)
	}
	return names
}

func (m *Manager) reportTransition(site string, scope Scope, tr transition) {
	if !tr.changed() {
		return
	}
	m.config.Metrics.RecordStateChange(site, string(scope), tr.from.String(), tr.to.String())
	m.config.Logger.Info("Circuit breaker state changed", map[string]interface{}{
		"operation": "breaker_state_change",
		"site":      site,
		"scope":     string(scope),
		"from":      tr.from.String(),
		"to":        tr.to.String(),
	})
}
