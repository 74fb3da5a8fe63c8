// Command farescout wires the crawler coordination core together and runs
// the scheduler until the process is signalled. All singletons are built
// here and injected; nothing resolves dependencies through globals.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/farescout/farescout/adapter"
	"github.com/farescout/farescout/breaker"
	"github.com/farescout/farescout/core"
	"github.com/farescout/farescout/crawl"
	"github.com/farescout/farescout/errhandler"
	"github.com/farescout/farescout/monitor"
	"github.com/farescout/farescout/ratelimit"
	"github.com/farescout/farescout/registry"
)

// manifest is the adapters.yaml shape: which adapters run, how often, and
// on which routes.
type manifest struct {
	Adapters []manifestEntry `yaml:"adapters"`
}

type manifestEntry struct {
	Name            string          `yaml:"name"`
	Kind            string          `yaml:"kind"`
	BaseURL         string          `yaml:"base_url"`
	Currency        string          `yaml:"currency"`
	Features        []string        `yaml:"features"`
	Strategy        string          `yaml:"strategy"`
	Module          string          `yaml:"module"`
	Active          bool            `yaml:"active"`
	IntervalSeconds int             `yaml:"interval_seconds"`
	Routes          []manifestRoute `yaml:"routes"`
}

type manifestRoute struct {
	Origin        string `yaml:"origin"`
	Destination   string `yaml:"destination"`
	DepartureDate string `yaml:"departure_date"`
	ReturnDate    string `yaml:"return_date"`
	Adults        int    `yaml:"adults"`
	SeatClass     string `yaml:"seat_class"`
}

func (r manifestRoute) params() core.SearchParams {
	adults := r.Adults
	if adults == 0 {
		adults = 1
	}
	seatClass := core.SeatClass(r.SeatClass)
	if seatClass == "" {
		seatClass = core.SeatClassEconomy
	}
	return core.SearchParams{
		Origin:        r.Origin,
		Destination:   r.Destination,
		DepartureDate: r.DepartureDate,
		ReturnDate:    r.ReturnDate,
		Passengers:    core.Passengers{Adults: adults},
		SeatClass:     seatClass,
	}
}

func main() {
	cfg := core.DefaultConfig()
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		// No logger yet.
		os.Stderr.WriteString("invalid configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := core.NewProductionLogger(cfg.Logging, "farescout")
	fatal := func(msg string, err error) {
		logger.Error(msg, map[string]interface{}{
			"operation": "startup",
			"error":     err,
		})
		os.Exit(1)
	}

	store := core.OpenStateStore(core.RedisStoreOptions{
		RedisURL:  cfg.RedisURL,
		DB:        core.RedisDBRateLimiting,
		Namespace: cfg.Namespace,
		Logger:    logger.WithComponent("store"),
	})

	limiter, err := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: 0.5,
		BurstLimit:        3,
	},
		ratelimit.WithLogger(logger.WithComponent("ratelimit")),
		ratelimit.WithStateStore(store),
	)
	if err != nil {
		fatal("rate limiter construction failed", err)
	}

	circuits, err := breaker.NewManager(breaker.Config{
		Logger: logger.WithComponent("breaker"),
	})
	if err != nil {
		fatal("circuit breaker construction failed", err)
	}

	handler := errhandler.NewHandler(errhandler.Config{
		Logger:  logger.WithComponent("errhandler"),
		Breaker: circuits,
		Limiter: limiter,
	})

	loader, err := registry.NewConfigLoader(cfg.ConfigDir, logger.WithComponent("config"))
	if err != nil {
		fatal("config loader construction failed", err)
	}
	defer loader.Close()

	reg := registry.NewRegistry()
	entries, err := loadManifest(filepath.Join(cfg.ConfigDir, "adapters.yaml"))
	if err != nil {
		fatal("adapter manifest load failed", err)
	}
	for _, entry := range entries {
		err := reg.Register(registry.Metadata{
			Name:     entry.Name,
			Kind:     entry.Kind,
			BaseURL:  entry.BaseURL,
			Currency: entry.Currency,
			Features: entry.Features,
			Strategy: entry.Strategy,
			Module:   entry.Module,
			Interval: time.Duration(entry.IntervalSeconds) * time.Second,
			Active:   entry.Active,
		})
		if err != nil {
			fatal("adapter registration failed", err)
		}
	}

	deps := adapter.Dependencies{
		Sessions: func() (adapter.Session, error) {
			return adapter.NewHTTPSession("", logger.WithComponent("session"))
		},
		Limiter:  limiter,
		Breaker:  circuits,
		Recovery: handler,
		Logger:   logger.WithComponent("adapter"),
	}
	factory := registry.NewFactory(reg, loader, deps, logger.WithComponent("factory"))

	safety, err := crawl.NewSafetyCrawler(crawl.Config{
		Logger:  logger.WithComponent("safety"),
		Limiter: limiter,
	})
	if err != nil {
		fatal("safety crawler construction failed", err)
	}

	mon := monitor.NewMonitor(monitor.Config{
		Logger: logger.WithComponent("monitor"),
		Probe:  circuits,
	})
	scheduler := monitor.NewScheduler(safety, mon, nil, logger.WithComponent("scheduler"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler.Start(ctx)
	defer handler.Stop()
	if err := mon.Start(ctx); err != nil {
		fatal("monitor start failed", err)
	}
	defer mon.Stop()

	tasks := make([]monitor.Task, 0, len(entries))
	for _, entry := range entries {
		if !entry.Active {
			continue
		}
		instance, err := factory.CreateAdapter(entry.Name, nil, false)
		if err != nil {
			// A broken adapter config is startup-fatal: better to refuse to
			// start than to silently crawl a subset.
			fatal("adapter creation failed", err)
		}
		routes := make([]core.SearchParams, 0, len(entry.Routes))
		for _, route := range entry.Routes {
			routes = append(routes, route.params())
		}
		tasks = append(tasks, monitor.Task{
			Site:     registry.NormalizeName(entry.Name),
			Crawler:  instance,
			Routes:   routes,
			Interval: time.Duration(entry.IntervalSeconds) * time.Second,
			Active:   true,
		})
	}

	if err := scheduler.Start(ctx, tasks); err != nil {
		fatal("scheduler start failed", err)
	}

	logger.Info("farescout running", map[string]interface{}{
		"operation": "startup",
		"adapters":  len(tasks),
		"redis":     cfg.RedisURL != "",
	})

	<-ctx.Done()

	logger.Info("Shutting down", map[string]interface{}{
		"operation": "shutdown",
	})
	if err := scheduler.Stop(); err != nil {
		logger.Error("Scheduler did not stop cleanly", map[string]interface{}{
			"operation": "shutdown",
			"error":     err,
		})
	}
}

func loadManifest(path string) ([]manifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m.Adapters, nil
}
