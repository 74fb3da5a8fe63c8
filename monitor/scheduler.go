package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/farescout/farescout/core"
	"github.com/farescout/farescout/crawl"
)

// CrawlRunner is the safety-crawler surface the scheduler drives.
type CrawlRunner interface {
	SafeCrawl(ctx context.Context, site string, crawler crawl.Crawler, params core.SearchParams) ([]core.FlightRecord, error)
}

// RecordSink receives the flight records a crawl produced. Persistence is a
// collaborator, not part of this module.
type RecordSink interface {
	Store(ctx context.Context, site string, records []core.FlightRecord) error
}

// Task is one adapter's schedule: the routes to crawl and how often.
type Task struct {
	Site     string
	Crawler  crawl.Crawler
	Routes   []core.SearchParams
	Interval time.Duration
	Active   bool
}

// Scheduler owns one goroutine per active adapter. Tasks are independent:
// one adapter failing or running long never stalls another.
type Scheduler struct {
	safety  CrawlRunner
	monitor *Monitor
	sink    RecordSink
	logger  core.Logger

	// ShutdownGrace bounds how long Stop waits for tasks to wind down.
	ShutdownGrace time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. The monitor and sink are optional.
func NewScheduler(safety CrawlRunner, monitor *Monitor, sink RecordSink, logger core.Logger) *Scheduler {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Scheduler{
		safety:        safety,
		monitor:       monitor,
		sink:          sink,
		logger:        logger,
		ShutdownGrace: 30 * time.Second,
	}
}

// Start launches one loop per active task.
func (s *Scheduler) Start(ctx context.Context, tasks []Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return core.ErrAlreadyStarted
	}

	ctx, s.cancel = context.WithCancel(ctx)
	started := 0
	for _, task := range tasks {
		if !task.Active {
			s.logger.Info("Skipping inactive adapter", map[string]interface{}{
				"operation": "scheduler_start",
				"site":      task.Site,
			})
			continue
		}
		if task.Interval <= 0 {
			task.Interval = 15 * time.Minute
		}
		s.wg.Add(1)
		go s.runTask(ctx, task)
		started++
	}
	s.running = true

	s.logger.Info("Scheduler started", map[string]interface{}{
		"operation": "scheduler_start",
		"tasks":     started,
	})
	return nil
}

// Stop cancels every task and waits up to ShutdownGrace for them to exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped", map[string]interface{}{
			"operation": "scheduler_stop",
		})
		return nil
	case <-time.After(s.ShutdownGrace):
		s.logger.Error("Scheduler shutdown grace exceeded", map[string]interface{}{
			"operation": "scheduler_stop",
			"grace":     s.ShutdownGrace.String(),
		})
		return core.ErrTimeout
	}
}

func (s *Scheduler) runTask(ctx context.Context, task Task) {
	defer s.wg.Done()

	s.logger.Info("Adapter task started", map[string]interface{}{
		"operation": "scheduler_task",
		"site":      task.Site,
		"routes":    len(task.Routes),
		"interval":  task.Interval.String(),
	})

	timer := time.NewTimer(0) // first pass immediately
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		for _, params := range task.Routes {
			if ctx.Err() != nil {
				return
			}
			s.runRoute(ctx, task, params)
		}
		timer.Reset(task.Interval)
	}
}

func (s *Scheduler) runRoute(ctx context.Context, task Task, params core.SearchParams) {
	start := time.Now()
	records, err := s.safety.SafeCrawl(ctx, task.Site, task.Crawler, params)
	duration := time.Since(start)

	if s.monitor != nil {
		s.monitor.RecordRequest(task.Site, duration, len(records), err)
	}
	if err != nil {
		s.logger.Warn("Route crawl failed", map[string]interface{}{
			"operation":   "scheduler_task",
			"site":        task.Site,
			"origin":      params.Origin,
			"destination": params.Destination,
			"error":       err,
		})
		return
	}

	if s.sink != nil && len(records) > 0 {
		if serr := s.sink.Store(ctx, task.Site, records); serr != nil {
			s.logger.Error("Record sink failed", map[string]interface{}{
				"operation": "scheduler_task",
				"site":      task.Site,
				"records":   len(records),
				"error":     serr,
			})
		}
	}
}
