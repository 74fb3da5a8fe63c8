// Package registry maps adapter names to their metadata and builds adapter
// instances from it.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/farescout/farescout/core"
)

// Metadata describes one registered adapter: what kind of site it is, how
// to construct it and how the scheduler should run it. The selector-level
// detail stays in the per-adapter config file; the entry carries what
// callers need without loading it.
type Metadata struct {
	Name string `yaml:"name"`
	// Kind is the site family: persian, international or aggregator.
	Kind     string `yaml:"kind"`
	BaseURL  string `yaml:"base_url"`
	Currency string `yaml:"currency"`
	// Features tags site capabilities (round_trip, multi_city, ...).
	Features []string `yaml:"features"`
	// Strategy picks construction: "direct" builds the config-driven
	// template, "module" resolves a registered constructor.
	Strategy string `yaml:"strategy"`
	// Module names the constructor for the module strategy; defaults to the
	// adapter name.
	Module string `yaml:"module"`
	// ConfigFile overrides the config file name; defaults to <name>.yaml.
	ConfigFile string        `yaml:"config_file"`
	Interval   time.Duration `yaml:"interval"`
	Active     bool          `yaml:"active"`
}

// NormalizeName canonicalizes adapter names: lowercase, with every
// non-alphanumeric run flattened to underscores.
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Registry is a thread-safe name to metadata mapping.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Metadata
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Metadata)}
}

// Register adds an adapter. Names normalize before storage; registering the
// same normalized name twice is an error.
func (r *Registry) Register(meta Metadata) error {
	if meta.Name == "" {
		return fmt.Errorf("adapter name is required: %w", core.ErrMissingConfiguration)
	}
	name := NormalizeName(meta.Name)
	switch meta.Strategy {
	case "", "direct":
		meta.Strategy = "direct"
	case "module":
		if meta.Module == "" {
			meta.Module = name
		}
	default:
		return fmt.Errorf("unknown creation strategy %q for %s: %w",
			meta.Strategy, meta.Name, core.ErrInvalidConfiguration)
	}
	meta.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%s: %w", name, core.ErrAdapterExists)
	}
	r.entries[name] = meta
	return nil
}

// Get looks up an adapter's metadata by any spelling of its name.
func (r *Registry) Get(name string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.entries[NormalizeName(name)]
	return meta, ok
}

// Names lists the registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Suggest returns registered names resembling the query: substring matches
// either way, or names within edit distance 2.
func (r *Registry) Suggest(name string) []string {
	query := NormalizeName(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var suggestions []string
	for candidate := range r.entries {
		if strings.Contains(candidate, query) || strings.Contains(query, candidate) ||
			editDistance(query, candidate) <= 2 {
			suggestions = append(suggestions, candidate)
		}
	}
	sort.Strings(suggestions)
	return suggestions
}

// editDistance is plain Levenshtein over bytes, single-row DP.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}
	for i := 1; i <= len(a); i++ {
		prev := row[0]
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cur := row[j]
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			row[j] = min3(row[j]+1, row[j-1]+1, prev+cost)
			prev = cur
		}
	}
	return row[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// NotFoundError reports an unknown adapter with name suggestions attached.
type NotFoundError struct {
	Name        string
	Suggestions []string
}

// Error returns the string representation of the error
func (e *NotFoundError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("adapter %q not found", e.Name)
	}
	return fmt.Sprintf("adapter %q not found, did you mean: %s",
		e.Name, strings.Join(e.Suggestions, ", "))
}

// Unwrap ties the error into the sentinel taxonomy
func (e *NotFoundError) Unwrap() error { return core.ErrAdapterNotFound }
