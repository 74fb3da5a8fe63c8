// Package core provides the shared abstractions of the farescout crawler.
// This file implements the Redis-backed StateStore with database isolation
// and key namespacing.
//
// Database Allocation:
// The crawler uses different Redis databases for isolation:
// - DB 0: Rate limiting
// - DB 1: Circuit breaker state
// - DB 2: Site health
// - DB 3-15: Available for extensions
//
// All keys are automatically prefixed with the namespace, e.g.
// "farescout:ratelimit:*".
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// RedisDBRateLimiting is for rate limiting state
	RedisDBRateLimiting = 0

	// RedisDBCircuitBreaker is for circuit breaker state
	RedisDBCircuitBreaker = 1

	// RedisDBSiteHealth is for site health accounting
	RedisDBSiteHealth = 2
)

// RedisStore is a StateStore backed by Redis with namespace isolation.
type RedisStore struct {
	client    *redis.Client
	dbID      int
	namespace string
	logger    Logger
}

// RedisStoreOptions configures the Redis store
type RedisStoreOptions struct {
	RedisURL  string
	DB        int    // Redis DB number for isolation (0-15)
	Namespace string // Key namespace for organization
	Logger    Logger // Optional logger
}

// NewRedisStore creates a Redis-backed store. The connection is verified
// with a ping before the store is returned; callers that want degraded
// operation fall back to NewMemoryStore on error.
func NewRedisStore(opts RedisStoreOptions) (*RedisStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = &NoOpLogger{}
	}

	if opts.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required: %w", ErrInvalidConfiguration)
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		logger.Error("Failed to parse Redis URL", map[string]interface{}{
			"error":     err,
			"redis_url": opts.RedisURL,
		})
		return nil, fmt.Errorf("invalid Redis URL: %w", ErrInvalidConfiguration)
	}

	if opts.DB >= 0 && opts.DB <= 15 {
		redisOpt.DB = opts.DB
	}

	client := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to connect to Redis", map[string]interface{}{
			"error":     err,
			"db":        opts.DB,
			"namespace": opts.Namespace,
		})
		return nil, fmt.Errorf("failed to connect to Redis DB %d: %w", opts.DB, ErrConnectionFailed)
	}

	logger.Info("Redis store connected", map[string]interface{}{
		"db":        opts.DB,
		"namespace": opts.Namespace,
	})

	return &RedisStore{
		client:    client,
		dbID:      opts.DB,
		namespace: opts.Namespace,
		logger:    logger,
	}, nil
}

// formatKey formats a key with the namespace
func (r *RedisStore) formatKey(key string) string {
	if r.namespace != "" {
		return fmt.Sprintf("%s:%s", r.namespace, key)
	}
	return key
}

// Get retrieves a value; a missing key returns empty string and no error.
func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.formatKey(key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

// Set stores a value with optional TTL
func (r *RedisStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.formatKey(key), value, ttl).Err()
}

// Incr increments a counter
func (r *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, r.formatKey(key)).Result()
}

// Expire sets a TTL on a key
func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, r.formatKey(key), ttl).Err()
}

// Del deletes keys
func (r *RedisStore) Del(ctx context.Context, keys ...string) error {
	formatted := make([]string, len(keys))
	for i, key := range keys {
		formatted[i] = r.formatKey(key)
	}
	return r.client.Del(ctx, formatted...).Err()
}

// Exists checks if a key exists
func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.formatKey(key)).Result()
	return n > 0, err
}

// Pipelined runs a batch of mutations in a single Redis pipeline.
func (r *RedisStore) Pipelined(ctx context.Context, fn func(Pipe) error) error {
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		return fn(&redisPipe{store: r, pipe: p, ctx: ctx})
	})
	return err
}

// HealthCheck verifies Redis connectivity
func (r *RedisStore) HealthCheck(ctx context.Context) error {
	err := r.client.Ping(ctx).Err()
	if err != nil {
		r.logger.Error("Redis health check failed", map[string]interface{}{
			"error":     err,
			"db":        r.dbID,
			"namespace": r.namespace,
		})
	}
	return err
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	r.logger.Info("Closing Redis store connection", map[string]interface{}{
		"db":        r.dbID,
		"namespace": r.namespace,
	})
	return r.client.Close()
}

type redisPipe struct {
	store *RedisStore
	pipe  redis.Pipeliner
	ctx   context.Context
}

func (p *redisPipe) Set(key string, value string, ttl time.Duration) {
	p.pipe.Set(p.ctx, p.store.formatKey(key), value, ttl)
}

func (p *redisPipe) Incr(key string) {
	p.pipe.Incr(p.ctx, p.store.formatKey(key))
}

func (p *redisPipe) Expire(key string, ttl time.Duration) {
	p.pipe.Expire(p.ctx, p.store.formatKey(key), ttl)
}

func (p *redisPipe) Del(keys ...string) {
	for _, key := range keys {
		p.pipe.Del(p.ctx, p.store.formatKey(key))
	}
}

// OpenStateStore connects to Redis when a URL is configured and falls back
// to the in-memory store otherwise. Components must keep working when the
// shared store is unreachable, so a failed connection degrades rather than
// aborts.
func OpenStateStore(opts RedisStoreOptions) StateStore {
	logger := opts.Logger
	if logger == nil {
		logger = &NoOpLogger{}
	}

	if opts.RedisURL == "" {
		logger.Info("No Redis URL configured, using in-memory state store", map[string]interface{}{
			"namespace": opts.Namespace,
		})
		mem := NewMemoryStore()
		mem.SetLogger(logger)
		return mem
	}

	store, err := NewRedisStore(opts)
	if err != nil {
		logger.Warn("Redis unavailable, falling back to in-memory state store", map[string]interface{}{
			"error":     err,
			"namespace": opts.Namespace,
		})
		mem := NewMemoryStore()
		mem.SetLogger(logger)
		return mem
	}
	return store
}
