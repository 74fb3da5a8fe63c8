package core

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// StateStore is the key-value interface components use for shared state
// (rate-limiter cooldowns, breaker state, site health). The production
// implementation is Redis; when the store is unavailable components fall
// back to the in-memory implementation without crashing.
type StateStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Pipelined runs a batch of mutations atomically with respect to
	// other Pipelined calls on the same store.
	Pipelined(ctx context.Context, fn func(Pipe) error) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// Pipe is the mutation surface available inside a Pipelined batch.
type Pipe interface {
	Set(key string, value string, ttl time.Duration)
	Incr(key string)
	Expire(key string, ttl time.Duration)
	Del(keys ...string)
}

// MemoryStore is the in-memory StateStore used when no Redis URL is
// configured or the connection cannot be established. State lives for the
// process lifetime; TTLs are honored on read.
type MemoryStore struct {
	mu     sync.Mutex
	store  map[string]memoryEntry
	logger Logger
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		store:  make(map[string]memoryEntry),
		logger: &NoOpLogger{},
	}
}

// SetLogger configures the logger for this store
func (m *MemoryStore) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

func (m *MemoryStore) get(key string) (memoryEntry, bool) {
	entry, exists := m.store[key]
	if !exists {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(m.store, key)
		return memoryEntry{}, false
	}
	return entry, true
}

// Get retrieves a value; missing keys return empty string and no error.
func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.get(key)
	if !ok {
		return "", nil
	}
	return entry.value, nil
}

// Set stores a value with optional TTL
func (m *MemoryStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.store[key] = entry
	return nil
}

// Incr increments a counter key, creating it at 1 when absent.
func (m *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrLocked(key), nil
}

func (m *MemoryStore) incrLocked(key string) int64 {
	entry, ok := m.get(key)
	var n int64
	if ok {
		parsed, err := strconv.ParseInt(entry.value, 10, 64)
		if err == nil {
			n = parsed
		}
	}
	n++
	entry.value = strconv.FormatInt(n, 10)
	m.store[key] = entry
	return n
}

// Expire sets a TTL on an existing key
func (m *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.get(key)
	if !ok {
		return nil
	}
	entry.expiresAt = time.Now().Add(ttl)
	m.store[key] = entry
	return nil
}

// Del removes keys
func (m *MemoryStore) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.store, key)
	}
	return nil
}

// Exists checks if a key exists
func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.get(key)
	return ok, nil
}

// Pipelined applies the batch under the store lock, making it atomic with
// respect to every other operation on this store.
func (m *MemoryStore) Pipelined(ctx context.Context, fn func(Pipe) error) error {
	var batch memoryPipe
	if err := fn(&batch); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, op := range batch.ops {
		op(m)
	}
	return nil
}

// HealthCheck always succeeds for the in-memory store
func (m *MemoryStore) HealthCheck(ctx context.Context) error { return nil }

// Close releases the store
func (m *MemoryStore) Close() error { return nil }

type memoryPipe struct {
	ops []func(*MemoryStore)
}

func (p *memoryPipe) Set(key string, value string, ttl time.Duration) {
	p.ops = append(p.ops, func(m *MemoryStore) {
		entry := memoryEntry{value: value}
		if ttl > 0 {
			entry.expiresAt = time.Now().Add(ttl)
		}
		m.store[key] = entry
	})
}

func (p *memoryPipe) Incr(key string) {
	p.ops = append(p.ops, func(m *MemoryStore) {
		m.incrLocked(key)
	})
}

func (p *memoryPipe) Expire(key string, ttl time.Duration) {
	p.ops = append(p.ops, func(m *MemoryStore) {
		if entry, ok := m.get(key); ok {
			entry.expiresAt = time.Now().Add(ttl)
			m.store[key] = entry
		}
	})
}

func (p *memoryPipe) Del(keys ...string) {
	p.ops = append(p.ops, func(m *MemoryStore) {
		for _, key := range keys {
			delete(m.store, key)
		}
	})
}
