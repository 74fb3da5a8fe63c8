// Package monitor tracks crawl outcomes per domain, samples process memory,
// and schedules the long-running crawl loops.
package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/farescout/farescout/breaker"
	"github.com/farescout/farescout/core"
)

// memorySampleCap bounds the retained sample history (24h at the default
// 5 minute period).
const memorySampleCap = 288

// HealthState grades a domain.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// healthySuccessRate is the success-rate floor for a healthy grade. Any
// open circuit makes a domain unhealthy regardless of its rate.
const healthySuccessRate = 0.8

// CircuitProbe is the slice of the breaker manager health grading consults.
type CircuitProbe interface {
	Status(site string) breaker.Status
}

// DomainHealth is one domain's graded snapshot.
type DomainHealth struct {
	Domain           string        `json:"domain"`
	State            HealthState   `json:"state"`
	SuccessRate      float64       `json:"success_rate"`
	TotalRequests    int64         `json:"total_requests"`
	Successes        int64         `json:"successes"`
	Failures         int64         `json:"failures"`
	FlightsExtracted int64         `json:"flights_extracted"`
	AvgDuration      time.Duration `json:"avg_duration"`
	MinDuration      time.Duration `json:"min_duration"`
	MaxDuration      time.Duration `json:"max_duration"`
	LastRequest      time.Time     `json:"last_request"`
	CircuitOpen      bool          `json:"circuit_open"`
}

// HealthReport is the aggregate view over every tracked domain.
type HealthReport struct {
	Status      HealthState             `json:"status"`
	SuccessRate float64                 `json:"success_rate"`
	Domains     map[string]DomainHealth `json:"per_site_metrics"`
}

// MemorySample is one point of the process memory series.
type MemorySample struct {
	Timestamp    time.Time `json:"timestamp"`
	HeapAlloc    uint64    `json:"heap_alloc"`
	HeapObjects  uint64    `json:"heap_objects"`
	Sys          uint64    `json:"sys"`
	NumGoroutine int       `json:"num_goroutine"`
}

type domainStats struct {
	total         int64
	successes     int64
	failures      int64
	flights       int64
	totalDuration time.Duration
	minDuration   time.Duration
	maxDuration   time.Duration
	lastRequest   time.Time
}

// Config tunes the monitor.
type Config struct {
	SampleInterval time.Duration
	Logger         core.Logger
	Probe          CircuitProbe
}

// Monitor aggregates crawl outcomes and process memory usage.
type Monitor struct {
	logger core.Logger
	probe  CircuitProbe

	mu      sync.RWMutex
	domains map[string]*domainStats
	samples []MemorySample

	sampleInterval time.Duration
	cancel  context.CancelFunc
	stopped chan struct{}
	started bool
}

// NewMonitor creates a monitor; Start launches the memory sampler.
func NewMonitor(config Config) *Monitor {
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.SampleInterval <= 0 {
		config.SampleInterval = 5 * time.Minute
	}
	return &Monitor{
		logger:         config.Logger,
		probe:          config.Probe,
		domains:        make(map[string]*domainStats),
		sampleInterval: config.SampleInterval,
	}
}

// RecordRequest folds one crawl outcome into the domain counters.
func (m *Monitor) RecordRequest(domain string, duration time.Duration, flights int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.domains[domain]
	if !ok {
		stats = &domainStats{}
		m.domains[domain] = stats
	}

	stats.total++
	stats.lastRequest = time.Now()
	stats.totalDuration += duration
	if stats.minDuration == 0 || duration < stats.minDuration {
		stats.minDuration = duration
	}
	if duration > stats.maxDuration {
		stats.maxDuration = duration
	}
	if err != nil {
		stats.failures++
		return
	}
	stats.successes++
	stats.flights += int64(flights)
}

// Start launches the memory sampler goroutine.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return core.ErrAlreadyStarted
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.stopped = make(chan struct{})
	m.mu.Unlock()

	go m.sampleLoop(ctx)
	return nil
}

// Stop halts the sampler and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, stopped := m.cancel, m.stopped
	m.started = false
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func (m *Monitor) sampleLoop(ctx context.Context) {
	defer close(m.stopped)
	ticker := time.NewTicker(m.sampleInterval)
	defer ticker.Stop()

	m.takeSample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.takeSample()
		}
	}
}

func (m *Monitor) takeSample() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	sample := MemorySample{
		Timestamp:    time.Now(),
		HeapAlloc:    ms.HeapAlloc,
		HeapObjects:  ms.HeapObjects,
		Sys:          ms.Sys,
		NumGoroutine: runtime.NumGoroutine(),
	}

	m.mu.Lock()
	m.samples = append(m.samples, sample)
	if len(m.samples) > memorySampleCap {
		m.samples = m.samples[len(m.samples)-memorySampleCap:]
	}
	m.mu.Unlock()

	m.logger.Debug("Memory sampled", map[string]interface{}{
		"operation":  "memory_sample",
		"heap_alloc": sample.HeapAlloc,
		"goroutines": sample.NumGoroutine,
	})
}

// MemorySamples copies the retained sample series.
func (m *Monitor) MemorySamples() []MemorySample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MemorySample(nil), m.samples...)
}

// GetHealthStatus grades every tracked domain and rolls them up into one
// aggregate report. A domain with any open circuit is unhealthy; a success
// rate of at least 80% with all circuits closed is healthy; everything in
// between is degraded. The aggregate follows the same rules over the global
// success rate.
func (m *Monitor) GetHealthStatus() HealthReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := HealthReport{
		Domains: make(map[string]DomainHealth, len(m.domains)),
	}
	var totalRequests, totalSuccesses int64
	anyCircuitOpen := false

	for domain, stats := range m.domains {
		health := DomainHealth{
			Domain:           domain,
			TotalRequests:    stats.total,
			Successes:        stats.successes,
			Failures:         stats.failures,
			FlightsExtracted: stats.flights,
			MinDuration:      stats.minDuration,
			MaxDuration:      stats.maxDuration,
			LastRequest:      stats.lastRequest,
		}
		if stats.total > 0 {
			health.SuccessRate = float64(stats.successes) / float64(stats.total)
			health.AvgDuration = stats.totalDuration / time.Duration(stats.total)
		}
		if m.probe != nil {
			health.CircuitOpen = anyOpen(m.probe.Status(domain))
		}
		health.State = grade(health.CircuitOpen, stats.total, health.SuccessRate)
		report.Domains[domain] = health

		totalRequests += stats.total
		totalSuccesses += stats.successes
		anyCircuitOpen = anyCircuitOpen || health.CircuitOpen
	}

	if totalRequests > 0 {
		report.SuccessRate = float64(totalSuccesses) / float64(totalRequests)
	}
	report.Status = grade(anyCircuitOpen, totalRequests, report.SuccessRate)
	return report
}

func anyOpen(status breaker.Status) bool {
	for _, scope := range status.Scopes {
		if scope.State == breaker.StateOpen.String() {
			return true
		}
	}
	return false
}

func grade(circuitOpen bool, total int64, successRate float64) HealthState {
	switch {
	case circuitOpen:
		return HealthUnhealthy
	case total == 0:
		return HealthHealthy
	case successRate >= healthySuccessRate:
		return HealthHealthy
	default:
		return HealthDegraded
	}
}
