package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/farescout/farescout/core"
	"github.com/farescout/farescout/crawl"
)

type staticCrawler struct{ name string }

func (c staticCrawler) Name() string         { return c.name }
func (c staticCrawler) TargetURLs() []string { return []string{"https://example.test"} }
func (c staticCrawler) Crawl(ctx context.Context, params core.SearchParams) ([]core.FlightRecord, error) {
	return nil, nil
}

// countingRunner stands in for the safety crawler: failing sites hang for a
// while before erroring, to prove tasks are isolated.
type countingRunner struct {
	mu       sync.Mutex
	calls    map[string]int
	failing  map[string]bool
	failHang time.Duration
}

func (r *countingRunner) SafeCrawl(ctx context.Context, site string, crawler crawl.Crawler, params core.SearchParams) ([]core.FlightRecord, error) {
	r.mu.Lock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[site]++
	failing := r.failing[site]
	r.mu.Unlock()

	if failing {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.failHang):
		}
		return nil, errors.New("adapter down")
	}
	return []core.FlightRecord{{Airline: "Iran Air"}}, nil
}

func (r *countingRunner) count(site string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[site]
}

type collectingSink struct {
	mu     sync.Mutex
	stored int
}

func (s *collectingSink) Store(ctx context.Context, site string, records []core.FlightRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored += len(records)
	return nil
}

func route() core.SearchParams {
	return core.SearchParams{Origin: "THR", Destination: "MHD", DepartureDate: "2026-03-15"}
}

func TestSchedulerIsolatesFailingAdapter(t *testing.T) {
	runner := &countingRunner{
		failing:  map[string]bool{"broken": true},
		failHang: 50 * time.Millisecond,
	}
	mon := NewMonitor(Config{})
	sched := NewScheduler(runner, mon, nil, nil)
	sched.ShutdownGrace = time.Second

	tasks := []Task{
		{Site: "healthy", Crawler: staticCrawler{"healthy"}, Routes: []core.SearchParams{route()}, Interval: 10 * time.Millisecond, Active: true},
		{Site: "broken", Crawler: staticCrawler{"broken"}, Routes: []core.SearchParams{route()}, Interval: 10 * time.Millisecond, Active: true},
	}
	if err := sched.Start(context.Background(), tasks); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop()

	time.Sleep(120 * time.Millisecond)

	healthyCalls := runner.count("healthy")
	brokenCalls := runner.count("broken")
	if healthyCalls < 5 {
		t.Errorf("healthy adapter stalled by the broken one: %d calls", healthyCalls)
	}
	if healthyCalls <= brokenCalls {
		t.Errorf("expected healthy (%d) to outpace broken (%d)", healthyCalls, brokenCalls)
	}

	report := mon.GetHealthStatus()
	if report.Domains["healthy"].State != HealthHealthy {
		t.Errorf("healthy state: got %q", report.Domains["healthy"].State)
	}
	if report.Domains["broken"].Failures == 0 {
		t.Error("broken adapter failures not recorded")
	}
}

func TestSchedulerSkipsInactiveTasks(t *testing.T) {
	runner := &countingRunner{}
	sched := NewScheduler(runner, nil, nil, nil)
	sched.ShutdownGrace = time.Second

	tasks := []Task{
		{Site: "active", Crawler: staticCrawler{"active"}, Routes: []core.SearchParams{route()}, Interval: 10 * time.Millisecond, Active: true},
		{Site: "dormant", Crawler: staticCrawler{"dormant"}, Routes: []core.SearchParams{route()}, Interval: 10 * time.Millisecond},
	}
	if err := sched.Start(context.Background(), tasks); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop()

	time.Sleep(30 * time.Millisecond)
	if runner.count("dormant") != 0 {
		t.Error("inactive adapter was crawled")
	}
	if runner.count("active") == 0 {
		t.Error("active adapter never crawled")
	}
}

func TestSchedulerStopTerminatesTasks(t *testing.T) {
	runner := &countingRunner{}
	sched := NewScheduler(runner, nil, nil, nil)
	sched.ShutdownGrace = time.Second

	tasks := []Task{
		{Site: "a", Crawler: staticCrawler{"a"}, Routes: []core.SearchParams{route()}, Interval: 5 * time.Millisecond, Active: true},
	}
	if err := sched.Start(context.Background(), tasks); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sched.Start(context.Background(), tasks); err == nil {
		t.Error("double start should fail")
	}

	time.Sleep(20 * time.Millisecond)
	if err := sched.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	calls := runner.count("a")
	time.Sleep(30 * time.Millisecond)
	if got := runner.count("a"); got != calls {
		t.Errorf("task still crawling after Stop: %d -> %d", calls, got)
	}

	// Stop is idempotent.
	if err := sched.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestSchedulerDeliversRecordsToSink(t *testing.T) {
	runner := &countingRunner{}
	sink := &collectingSink{}
	sched := NewScheduler(runner, nil, sink, nil)
	sched.ShutdownGrace = time.Second

	tasks := []Task{
		{Site: "a", Crawler: staticCrawler{"a"}, Routes: []core.SearchParams{route()}, Interval: time.Hour, Active: true},
	}
	if err := sched.Start(context.Background(), tasks); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	sched.Stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.stored == 0 {
		t.Error("records never reached the sink")
	}
}
