package registry

import (
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/farescout/farescout/adapter"
	"github.com/farescout/farescout/core"
	"github.com/farescout/farescout/crawl"
)

// recentErrorCap bounds the factory's error history.
const recentErrorCap = 50

// Constructor builds a custom adapter. Adapters with logic beyond the
// config-driven template register one at init; the "module" creation
// strategy resolves through this table.
type Constructor func(cfg *adapter.Config, deps adapter.Dependencies) (crawl.Crawler, error)

var (
	constructorsMu sync.RWMutex
	constructors   = make(map[string]Constructor)
)

// RegisterConstructor installs a named adapter constructor. Call from init.
func RegisterConstructor(name string, fn Constructor) {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()
	constructors[NormalizeName(name)] = fn
}

func lookupConstructor(name string) (Constructor, bool) {
	constructorsMu.RLock()
	defer constructorsMu.RUnlock()
	fn, ok := constructors[name]
	return fn, ok
}

// Metrics is the factory's counters snapshot.
type Metrics struct {
	TotalCreated        int64            `json:"total_created"`
	SuccessfulCreations int64            `json:"successful_creations"`
	FailedCreations     int64            `json:"failed_creations"`
	AverageCreationTime time.Duration    `json:"average_creation_time"`
	CacheHitRate        float64          `json:"cache_hit_rate"`
	MostRequested       map[string]int64 `json:"most_requested"`
	RecentErrors        []string         `json:"recent_errors"`
}

// Factory builds and caches adapter instances from registry metadata.
type Factory struct {
	registry *Registry
	loader   *ConfigLoader
	deps     adapter.Dependencies
	logger   core.Logger

	mu    sync.Mutex
	cache map[string]crawl.Crawler

	totalCreated  int64
	successful    int64
	failed        int64
	totalCreation time.Duration
	requests      int64
	cacheHits     int64
	perAdapter    map[string]int64
	recentErrors  []string

	now func() time.Time
}

// NewFactory creates a factory. The dependencies are shared by every
// template the factory builds.
func NewFactory(registry *Registry, loader *ConfigLoader, deps adapter.Dependencies, logger core.Logger) *Factory {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Factory{
		registry:   registry,
		loader:     loader,
		deps:       deps,
		logger:     logger,
		cache:      make(map[string]crawl.Crawler),
		perAdapter: make(map[string]int64),
		now:        time.Now,
	}
}

// CreateAdapter returns the adapter for name, building it on first use.
// An override map deep-merges over the loaded config; forceNew bypasses and
// refreshes the instance cache.
func (f *Factory) CreateAdapter(name string, override map[string]interface{}, forceNew bool) (crawl.Crawler, error) {
	norm := NormalizeName(name)

	f.mu.Lock()
	f.requests++
	f.perAdapter[norm]++
	if !forceNew {
		if instance, ok := f.cache[norm]; ok {
			f.cacheHits++
			f.mu.Unlock()
			return instance, nil
		}
	}
	f.mu.Unlock()

	meta, ok := f.registry.Get(norm)
	if !ok {
		err := &NotFoundError{Name: name, Suggestions: f.registry.Suggest(norm)}
		f.recordFailure(err)
		return nil, err
	}

	start := f.now()
	instance, err := f.build(meta, override)
	elapsed := f.now().Sub(start)

	f.mu.Lock()
	f.totalCreated++
	f.totalCreation += elapsed
	if err != nil {
		f.failed++
		f.mu.Unlock()
		f.recordFailure(err)
		return nil, err
	}
	f.successful++
	f.cache[norm] = instance
	f.mu.Unlock()

	f.logger.Info("Adapter created", map[string]interface{}{
		"operation": "create_adapter",
		"adapter":   norm,
		"strategy":  meta.Strategy,
		"duration":  elapsed.String(),
		"force_new": forceNew,
	})
	return instance, nil
}

func (f *Factory) build(meta Metadata, override map[string]interface{}) (crawl.Crawler, error) {
	configName := meta.ConfigFile
	if configName == "" {
		configName = meta.Name
	}
	raw, err := f.loader.Load(configName)
	if err != nil {
		return nil, err
	}
	if len(override) > 0 {
		raw = deepMerge(raw, override)
	}

	cfg, err := decodeConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", meta.Name, err)
	}

	switch meta.Strategy {
	case "direct":
		return adapter.NewTemplate(cfg, f.deps)
	case "module":
		fn, ok := lookupConstructor(meta.Module)
		if !ok {
			return nil, fmt.Errorf("adapter %s: no constructor registered for module %q: %w",
				meta.Name, meta.Module, core.ErrMissingConfiguration)
		}
		return fn(cfg, f.deps)
	default:
		return nil, fmt.Errorf("adapter %s: unknown creation strategy %q: %w",
			meta.Name, meta.Strategy, core.ErrInvalidConfiguration)
	}
}

func decodeConfig(raw map[string]interface{}) (*adapter.Config, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var cfg adapter.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// deepMerge overlays override onto base: nested maps merge recursively,
// everything else replaces. Neither input is mutated.
func deepMerge(base, override map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base))
	for key, value := range base {
		out[key] = value
	}
	for key, value := range override {
		if overrideMap, ok := value.(map[string]interface{}); ok {
			if baseMap, ok := out[key].(map[string]interface{}); ok {
				out[key] = deepMerge(baseMap, overrideMap)
				continue
			}
		}
		out[key] = value
	}
	return out
}

func (f *Factory) recordFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recentErrors = append(f.recentErrors, err.Error())
	if len(f.recentErrors) > recentErrorCap {
		f.recentErrors = f.recentErrors[len(f.recentErrors)-recentErrorCap:]
	}
}

// Metrics snapshots the factory counters.
func (f *Factory) Metrics() Metrics {
	f.mu.Lock()
	defer f.mu.Unlock()

	m := Metrics{
		TotalCreated:        f.totalCreated,
		SuccessfulCreations: f.successful,
		FailedCreations:     f.failed,
		MostRequested:       make(map[string]int64, len(f.perAdapter)),
		RecentErrors:        append([]string(nil), f.recentErrors...),
	}
	if f.totalCreated > 0 {
		m.AverageCreationTime = f.totalCreation / time.Duration(f.totalCreated)
	}
	if f.requests > 0 {
		m.CacheHitRate = float64(f.cacheHits) / float64(f.requests)
	}
	for name, count := range f.perAdapter {
		m.MostRequested[name] = count
	}
	return m
}

// CachedAdapters lists the names with live cached instances.
func (f *Factory) CachedAdapters() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.cache))
	for name := range f.cache {
		names = append(names, name)
	}
	return names
}
