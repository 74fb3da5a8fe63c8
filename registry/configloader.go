package registry

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/farescout/farescout/core"
)

// configCacheTTL bounds how long a loaded config is served without re-reading
// the file. The fsnotify watcher usually invalidates sooner.
const configCacheTTL = 5 * time.Minute

type cachedConfig struct {
	raw      map[string]interface{}
	loadedAt time.Time
}

// ConfigLoader reads per-adapter YAML files from a directory, caches them,
// and invalidates cache entries when the files change on disk.
type ConfigLoader struct {
	dir    string
	logger core.Logger

	mu    sync.Mutex
	cache map[string]cachedConfig

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once

	now func() time.Time
}

// NewConfigLoader creates a loader over dir and starts the file watcher.
// A missing watch capability degrades to TTL-only caching.
func NewConfigLoader(dir string, logger core.Logger) (*ConfigLoader, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("config directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("config path %s is not a directory: %w", dir, core.ErrInvalidConfiguration)
	}

	l := &ConfigLoader{
		dir:    dir,
		logger: logger,
		cache:  make(map[string]cachedConfig),
		done:   make(chan struct{}),
		now:    time.Now,
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("Config watcher unavailable, falling back to TTL cache", map[string]interface{}{
			"operation": "config_load",
			"dir":       dir,
			"error":     err,
		})
		return l, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		logger.Warn("Cannot watch config directory, falling back to TTL cache", map[string]interface{}{
			"operation": "config_load",
			"dir":       dir,
			"error":     err,
		})
		return l, nil
	}
	l.watcher = watcher
	go l.watch()
	return l, nil
}

// Close stops the file watcher. Safe to call more than once.
func (l *ConfigLoader) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.watcher == nil {
			return
		}
		close(l.done)
		err = l.watcher.Close()
	})
	return err
}

func (l *ConfigLoader) watch() {
	for {
		select {
		case <-l.done:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := configName(event.Name)
			l.mu.Lock()
			_, cached := l.cache[name]
			delete(l.cache, name)
			l.mu.Unlock()
			if cached {
				l.logger.Info("Config cache invalidated", map[string]interface{}{
					"operation": "config_load",
					"adapter":   name,
					"file":      event.Name,
				})
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("Config watcher error", map[string]interface{}{
				"operation": "config_load",
				"error":     err,
			})
		}
	}
}

func configName(path string) string {
	base := filepath.Base(path)
	return NormalizeName(base[:len(base)-len(filepath.Ext(base))])
}

// Load returns the raw config map for an adapter, from cache when fresh.
func (l *ConfigLoader) Load(name string) (map[string]interface{}, error) {
	name = NormalizeName(name)

	l.mu.Lock()
	if entry, ok := l.cache[name]; ok && l.now().Sub(entry.loadedAt) < configCacheTTL {
		raw := entry.raw
		l.mu.Unlock()
		return raw, nil
	}
	l.mu.Unlock()

	path := filepath.Join(l.dir, name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config for %s: %w", name, err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config for %s: %w", name, err)
	}
	if err := validateSchema(name, raw); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[name] = cachedConfig{raw: raw, loadedAt: l.now()}
	l.mu.Unlock()

	l.logger.Debug("Config loaded", map[string]interface{}{
		"operation": "config_load",
		"adapter":   name,
		"file":      path,
	})
	return raw, nil
}

// Invalidate drops a cache entry.
func (l *ConfigLoader) Invalidate(name string) {
	l.mu.Lock()
	delete(l.cache, NormalizeName(name))
	l.mu.Unlock()
}

// validateSchema rejects configs that would only fail at first crawl.
// Missing selectors and malformed URLs are load-time errors.
func validateSchema(name string, raw map[string]interface{}) error {
	fail := func(format string, args ...interface{}) error {
		return fmt.Errorf("config for %s: %s: %w", name, fmt.Sprintf(format, args...), core.ErrInvalidConfiguration)
	}

	if s, _ := raw["name"].(string); s == "" {
		return fail("name is required")
	}
	baseURL, _ := raw["base_url"].(string)
	if baseURL == "" {
		return fail("base_url is required")
	}
	for _, key := range []string{"base_url", "search_url"} {
		s, _ := raw[key].(string)
		if s == "" {
			continue
		}
		u, err := url.Parse(s)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fail("%s %q is not an absolute http(s) URL", key, s)
		}
	}

	if v, ok := raw["max_retries"]; ok {
		if n, isInt := asInt(v); !isInt || n <= 0 {
			return fail("max_retries must be a positive integer, got %v", v)
		}
	}

	extraction, _ := raw["extraction_config"].(map[string]interface{})
	parsing, _ := extraction["results_parsing"].(map[string]interface{})
	if container, _ := parsing["container"].(string); container == "" {
		return fail("extraction_config.results_parsing.container is required")
	}

	if rl, ok := raw["rate_limiting"].(map[string]interface{}); ok {
		if v, ok := rl["requests_per_second"]; ok {
			if f, isNum := asFloat(v); !isNum || f <= 0 {
				return fail("rate_limiting.requests_per_second must be positive, got %v", v)
			}
		}
		for _, key := range []string{"burst_limit", "requests_per_minute"} {
			if v, ok := rl[key]; ok {
				if n, isInt := asInt(v); !isInt || n <= 0 {
					return fail("rate_limiting.%s must be a positive integer, got %v", key, v)
				}
			}
		}
	}
	return nil
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
