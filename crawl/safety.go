// Package crawl wraps adapter invocations with the pre-flight checks and
// health accounting that keep a misbehaving site from being hammered.
package crawl

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/farescout/farescout/core"
)

// latencyRingSize bounds the per-site latency history kept for external
// percentile computation.
const latencyRingSize = 100

// Crawler is the adapter surface the safety crawler drives.
type Crawler interface {
	Name() string
	TargetURLs() []string
	Crawl(ctx context.Context, params core.SearchParams) ([]core.FlightRecord, error)
}

// AdmissionLimiter is the slice of the rate limiter the safety crawler
// consults before invoking an adapter.
type AdmissionLimiter interface {
	CanMakeRequest(site string) (bool, time.Duration, string)
}

// URLValidator checks an adapter's target URLs before any traffic is sent.
type URLValidator interface {
	ValidateURL(site, rawURL string) error
}

// SchemeValidator is the default URLValidator: absolute http(s) URLs with a
// host.
type SchemeValidator struct{}

// ValidateURL rejects relative, schemeless and non-http URLs.
func (SchemeValidator) ValidateURL(site, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("site %s: %w", site, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("site %s: unsupported scheme %q in %q: %w",
			site, u.Scheme, rawURL, core.ErrInvalidConfiguration)
	}
	if u.Host == "" {
		return fmt.Errorf("site %s: no host in %q: %w", site, rawURL, core.ErrInvalidConfiguration)
	}
	return nil
}

// SiteHealth is the per-site accounting snapshot.
type SiteHealth struct {
	Site                string          `json:"site"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	TotalRequests       int64           `json:"total_requests"`
	SuccessfulRequests  int64           `json:"successful_requests"`
	LastSuccess         time.Time       `json:"last_success,omitempty"`
	LastFailure         time.Time       `json:"last_failure,omitempty"`
	LastError           string          `json:"last_error,omitempty"`
	BlockedUntil        time.Time       `json:"blocked_until,omitempty"`
	Latencies           []time.Duration `json:"-"`
}

type siteState struct {
	mu sync.Mutex // guards the fields below

	// inFlight serializes crawls: at most one in flight per site. Held for
	// the whole SafeCrawl, separate from mu so snapshots stay readable
	// while a crawl runs.
	inFlight sync.Mutex

	consecutiveFailures int
	totalRequests       int64
	successfulRequests  int64
	lastSuccess         time.Time
	lastFailure         time.Time
	lastError           string
	blockedUntil        time.Time
	latencies           []time.Duration
}

// Config tunes the safety crawler.
type Config struct {
	// MaxRetries is the consecutive-failure count that triggers refusal and
	// eventually blocking.
	MaxRetries int
	// CooldownPeriod is both the post-failure refusal window and the block
	// duration.
	CooldownPeriod time.Duration
	// MaxAdmissionWait bounds how long a denied rate-limit admission is
	// waited out before crawling anyway.
	MaxAdmissionWait time.Duration

	Logger    core.Logger
	Limiter   AdmissionLimiter
	Validator URLValidator
}

// Validate applies defaults.
func (c *Config) Validate() error {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.CooldownPeriod <= 0 {
		c.CooldownPeriod = 5 * time.Minute
	}
	if c.MaxAdmissionWait <= 0 {
		c.MaxAdmissionWait = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = &core.NoOpLogger{}
	}
	if c.Validator == nil {
		c.Validator = SchemeValidator{}
	}
	return nil
}

// SafetyCrawler serializes and guards adapter invocations per site.
type SafetyCrawler struct {
	config Config
	logger core.Logger

	mu    sync.RWMutex
	sites map[string]*siteState

	now func() time.Time
}

// NewSafetyCrawler creates a safety crawler.
func NewSafetyCrawler(config Config) (*SafetyCrawler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &SafetyCrawler{
		config: config,
		logger: config.Logger,
		sites:  make(map[string]*siteState),
		now:    time.Now,
	}, nil
}

func (s *SafetyCrawler) site(name string) *siteState {
	s.mu.RLock()
	state, ok := s.sites[name]
	s.mu.RUnlock()
	if ok {
		return state
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.sites[name]; ok {
		return state
	}
	state = &siteState{}
	s.sites[name] = state
	return state
}

// SafeCrawl runs one guarded crawl of site through the adapter. Empty results
// are a success for the caller but count against site health: a site that
// keeps answering with nothing is drifting.
func (s *SafetyCrawler) SafeCrawl(ctx context.Context, site string, crawler Crawler, params core.SearchParams) ([]core.FlightRecord, error) {
	state := s.site(site)

	state.inFlight.Lock()
	defer state.inFlight.Unlock()

	if err := s.preflight(ctx, site, state, crawler); err != nil {
		return nil, err
	}

	start := s.now()
	records, err := crawler.Crawl(ctx, params)
	latency := s.now().Sub(start)

	if err != nil {
		s.recordFailure(site, state, err.Error())
		return nil, err
	}
	if len(records) == 0 {
		s.recordFailure(site, state, "no flights returned")
		return records, nil
	}

	s.recordSuccess(state, latency)
	return records, nil
}

func (s *SafetyCrawler) preflight(ctx context.Context, site string, state *siteState, crawler Crawler) error {
	now := s.now()

	state.mu.Lock()
	if !state.blockedUntil.IsZero() {
		if now.Before(state.blockedUntil) {
			until := state.blockedUntil
			state.mu.Unlock()
			return core.NewCrawlError("safety.SafeCrawl", site, core.CategoryResource,
				fmt.Errorf("blocked until %s: %w", until.Format(time.RFC3339), core.ErrSiteBlocked))
		}
		state.blockedUntil = time.Time{}
		s.logger.Info("Site block expired", map[string]interface{}{
			"operation": "safe_crawl",
			"site":      site,
		})
	}
	failures := state.consecutiveFailures
	lastFailure := state.lastFailure
	state.mu.Unlock()

	for _, target := range crawler.TargetURLs() {
		if err := s.config.Validator.ValidateURL(site, target); err != nil {
			return core.NewCrawlError("safety.SafeCrawl", site, core.CategoryValidation, err)
		}
	}

	if failures >= s.config.MaxRetries && now.Sub(lastFailure) < s.config.CooldownPeriod {
		return core.NewCrawlError("safety.SafeCrawl", site, core.CategoryResource,
			fmt.Errorf("%d consecutive failures, cooling down: %w", failures, core.ErrSiteBlocked))
	}

	if s.config.Limiter != nil {
		if allowed, wait, reason := s.config.Limiter.CanMakeRequest(site); !allowed {
			if wait > s.config.MaxAdmissionWait {
				wait = s.config.MaxAdmissionWait
			}
			s.logger.Debug("Admission denied, waiting", map[string]interface{}{
				"operation": "safe_crawl",
				"site":      site,
				"reason":    reason,
				"wait":      wait.String(),
			})
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return core.NewCrawlError("safety.SafeCrawl", site, core.CategoryTimeout, ctx.Err())
			case <-timer.C:
			}
		}
	}
	return nil
}

func (s *SafetyCrawler) recordSuccess(state *siteState, latency time.Duration) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.totalRequests++
	state.successfulRequests++
	state.consecutiveFailures = 0
	state.lastSuccess = s.now()
	state.lastError = ""
	state.latencies = append(state.latencies, latency)
	if len(state.latencies) > latencyRingSize {
		state.latencies = state.latencies[len(state.latencies)-latencyRingSize:]
	}
}

func (s *SafetyCrawler) recordFailure(site string, state *siteState, message string) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.totalRequests++
	state.consecutiveFailures++
	state.lastFailure = s.now()
	state.lastError = message

	if state.consecutiveFailures >= s.config.MaxRetries {
		state.blockedUntil = s.now().Add(s.config.CooldownPeriod)
		s.logger.Warn("Site blocked after repeated failures", map[string]interface{}{
			"operation":     "safe_crawl",
			"site":          site,
			"failures":      state.consecutiveFailures,
			"blocked_until": state.blockedUntil.Format(time.RFC3339),
			"error":         message,
		})
	}
}

// HealthSnapshot copies the per-site accounting.
func (s *SafetyCrawler) HealthSnapshot() map[string]SiteHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]SiteHealth, len(s.sites))
	for name, state := range s.sites {
		state.mu.Lock()
		health := SiteHealth{
			Site:                name,
			ConsecutiveFailures: state.consecutiveFailures,
			TotalRequests:       state.totalRequests,
			SuccessfulRequests:  state.successfulRequests,
			LastSuccess:         state.lastSuccess,
			LastFailure:         state.lastFailure,
			LastError:           state.lastError,
			BlockedUntil:        state.blockedUntil,
			Latencies:           append([]time.Duration(nil), state.latencies...),
		}
		state.mu.Unlock()
		out[name] = health
	}
	return out
}
