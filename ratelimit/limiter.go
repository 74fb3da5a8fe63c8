// Package ratelimit implements the per-site request limiter. Admission is a
// non-blocking question (CanMakeRequest) charging the token bucket, so
// callers decide whether to wait, reschedule, or fail fast; outcomes are
// reported back through RecordRequest.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/farescout/farescout/core"
)

const windowSize = time.Minute

// State is a point-in-time view of one site's limiter, for status surfaces
// and logs.
type State struct {
	Site          string    `json:"site"`
	Limit         int       `json:"limit"`
	Used          int       `json:"used"`
	Remaining     int       `json:"remaining"`
	ResetAt       time.Time `json:"reset_at"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// Limiter tracks request budgets per site. Safe for concurrent use; each
// site's state is guarded by its own lock so sites never contend.
type Limiter struct {
	config Config
	logger core.Logger
	store  core.StateStore
	now    func() time.Time

	mu    sync.RWMutex
	sites map[string]*siteState
}

type siteState struct {
	mu            sync.Mutex
	bucket        *rate.Limiter
	window        []time.Time
	cooldownUntil time.Time
}

// Option configures the limiter
type Option func(*Limiter)

// WithLogger attaches a logger
func WithLogger(logger core.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithStateStore enables best-effort persistence of cooldowns so restarts
// do not forget that a site pushed back. Store failures degrade to in-memory
// state, never to refused admission.
func WithStateStore(store core.StateStore) Option {
	return func(l *Limiter) { l.store = store }
}

// withClock injects time for tests
func withClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a limiter with the given per-site defaults.
func NewLimiter(config Config, opts ...Option) (*Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		config: config,
		logger: &core.NoOpLogger{},
		now:    time.Now,
		sites:  make(map[string]*siteState),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Limiter) site(name string) *siteState {
	l.mu.RLock()
	s, ok := l.sites[name]
	l.mu.RUnlock()
	if ok {
		return s
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok = l.sites[name]; ok {
		return s
	}
	s = &siteState{
		bucket: rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.BurstLimit),
	}
	s.cooldownUntil = l.loadCooldown(name)
	l.sites[name] = s
	return s
}

// loadCooldown restores a persisted cooldown deadline, best effort.
func (l *Limiter) loadCooldown(site string) time.Time {
	if l.store == nil {
		return time.Time{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v, err := l.store.Get(ctx, cooldownKey(site))
	if err != nil || v == "" {
		return time.Time{}
	}
	unix, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	until := time.Unix(unix, 0)
	if until.After(l.now()) {
		l.logger.Info("Restored persisted cooldown", map[string]interface{}{
			"operation":      "load_cooldown",
			"site":           site,
			"cooldown_until": until,
		})
		return until
	}
	return time.Time{}
}

func cooldownKey(site string) string {
	return fmt.Sprintf("ratelimit:cooldown:%s", site)
}

// CanMakeRequest reports whether a request to the site may be sent now.
// It never blocks: when admission is refused it returns how long the caller
// should wait and which mechanism refused (cooldown, window, bucket).
// Admission consumes one bucket token; refused checks consume nothing.
func (l *Limiter) CanMakeRequest(site string) (bool, time.Duration, string) {
	s := l.site(site)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := l.now()

	if now.Before(s.cooldownUntil) {
		wait := s.cooldownUntil.Sub(now)
		l.logger.Debug("Request refused by cooldown", map[string]interface{}{
			"operation": "can_make_request",
			"site":      site,
			"wait":      wait.String(),
		})
		return false, wait, "cooldown"
	}

	s.pruneWindow(now)
	if len(s.window) >= l.config.RequestsPerMinute {
		wait := s.window[0].Add(windowSize).Sub(now)
		if wait < 0 {
			wait = 0
		}
		l.logger.Debug("Request refused by minute window", map[string]interface{}{
			"operation": "can_make_request",
			"site":      site,
			"used":      len(s.window),
			"limit":     l.config.RequestsPerMinute,
			"wait":      wait.String(),
		})
		return false, wait, "window"
	}

	// Reserve a token; a reservation that cannot be served immediately is
	// cancelled and reported as the wait, otherwise the token is spent on
	// this admission.
	res := s.bucket.ReserveN(now, 1)
	if !res.OK() {
		return false, windowSize, "bucket"
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		l.logger.Debug("Request refused by token bucket", map[string]interface{}{
			"operation": "can_make_request",
			"site":      site,
			"wait":      delay.String(),
		})
		return false, delay, "bucket"
	}

	return true, 0, ""
}

// RecordRequest reports the outcome of a request. It stamps the minute
// window and on a rate-limit failure starts the cooldown; the bucket token
// was already spent at admission.
func (l *Limiter) RecordRequest(site string, duration time.Duration, err error) {
	s := l.site(site)
	s.mu.Lock()

	now := l.now()
	s.pruneWindow(now)
	s.window = append(s.window, now)

	rateLimited := err != nil && core.IsRateLimited(err)
	var until time.Time
	if rateLimited {
		until = now.Add(l.config.CooldownPeriod)
		s.cooldownUntil = until
	}
	s.mu.Unlock()

	if rateLimited {
		l.logger.Warn("Site rate limited, entering cooldown", map[string]interface{}{
			"operation":      "record_request",
			"site":           site,
			"cooldown_until": until,
			"error":          err,
		})
		l.persistCooldown(site, until)
		return
	}

	l.logger.Debug("Request recorded", map[string]interface{}{
		"operation": "record_request",
		"site":      site,
		"duration":  duration.String(),
		"success":   err == nil,
	})
}

// StartCooldown freezes a site for the configured cooldown period, used when
// a rate-limit signal arrives from outside the request path.
func (l *Limiter) StartCooldown(site string) {
	s := l.site(site)
	s.mu.Lock()
	until := l.now().Add(l.config.CooldownPeriod)
	s.cooldownUntil = until
	s.mu.Unlock()

	l.logger.Warn("Cooldown started", map[string]interface{}{
		"operation":      "start_cooldown",
		"site":           site,
		"cooldown_until": until,
	})
	l.persistCooldown(site, until)
}

func (l *Limiter) persistCooldown(site string, until time.Time) {
	if l.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ttl := until.Sub(l.now())
	if ttl <= 0 {
		return
	}
	value := strconv.FormatInt(until.Unix(), 10)
	if err := l.store.Set(ctx, cooldownKey(site), value, ttl); err != nil {
		l.logger.Warn("Failed to persist cooldown, continuing in memory", map[string]interface{}{
			"operation": "persist_cooldown",
			"site":      site,
			"error":     err,
		})
	}
}

// Wait blocks until the site admits a request or the context ends. The
// limiter's own answer stays non-blocking; this is the convenience loop for
// callers that prefer to wait.
func (l *Limiter) Wait(ctx context.Context, site string) error {
	for {
		allowed, wait, reason := l.CanMakeRequest(site)
		if allowed {
			return nil
		}
		if deadline, ok := ctx.Deadline(); ok && wait > time.Until(deadline) {
			return core.NewCrawlError("ratelimit.Wait", site, core.CategoryRateLimit,
				fmt.Errorf("%s requires %s wait, context budget exhausted: %w",
					reason, wait, core.ErrRateLimited))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Snapshot returns the current limiter view for a site.
func (l *Limiter) Snapshot(site string) State {
	s := l.site(site)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := l.now()
	s.pruneWindow(now)

	resetAt := now.Add(windowSize)
	if len(s.window) > 0 {
		resetAt = s.window[0].Add(windowSize)
	}

	state := State{
		Site:      site,
		Limit:     l.config.RequestsPerMinute,
		Used:      len(s.window),
		Remaining: l.config.RequestsPerMinute - len(s.window),
		ResetAt:   resetAt,
	}
	if s.cooldownUntil.After(now) {
		state.CooldownUntil = s.cooldownUntil
	}
	if state.Remaining < 0 {
		state.Remaining = 0
	}
	return state
}

// pruneWindow drops timestamps older than the window. Callers hold s.mu.
func (s *siteState) pruneWindow(now time.Time) {
	cutoff := now.Add(-windowSize)
	i := 0
	for i < len(s.window) && !s.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		s.window = append(s.window[:0], s.window[i:]...)
	}
}
