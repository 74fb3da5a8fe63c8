package core

import (
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
)

// HostMetrics is a point-in-time snapshot of process resource usage,
// captured when an error context is created so that error records can be
// read against the load the host was under at the time.
type HostMetrics struct {
	MemoryPercent float64 `json:"memory_percent"`
	HeapBytes     uint64  `json:"heap_bytes"`
	NumGoroutine  int     `json:"num_goroutine"`
}

// CaptureHostMetrics samples the current process state.
func CaptureHostMetrics() HostMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	percent := 0.0
	if ms.Sys > 0 {
		percent = float64(ms.HeapAlloc) / float64(ms.Sys) * 100
	}
	return HostMetrics{
		MemoryPercent: percent,
		HeapBytes:     ms.HeapAlloc,
		NumGoroutine:  runtime.NumGoroutine(),
	}
}

// ErrorContext is the request-scoped record threaded through every
// retriable operation. Child operations inherit the session, correlation id
// and URL, but carry their own operation name and retry counter.
type ErrorContext struct {
	ErrorID       string                 `json:"error_id"`
	Timestamp     time.Time              `json:"timestamp"`
	Adapter       string                 `json:"adapter"`
	Operation     string                 `json:"operation"`
	SessionID     string                 `json:"session_id"`
	URL           string                 `json:"url"`
	RetryCount    int                    `json:"retry_count"`
	MaxRetries    int                    `json:"max_retries"`
	SearchParams  map[string]interface{} `json:"search_params,omitempty"`
	StackLocation string                 `json:"stack_location"`
	HostMetrics   HostMetrics            `json:"host_metrics"`
	CorrelationID string                 `json:"correlation_id"`
}

// ContextOption configures an ErrorContext at creation time
type ContextOption func(*ErrorContext)

// WithSessionID attaches the owning session id
func WithSessionID(id string) ContextOption {
	return func(c *ErrorContext) { c.SessionID = id }
}

// WithURL attaches the URL the operation targets
func WithURL(url string) ContextOption {
	return func(c *ErrorContext) { c.URL = url }
}

// WithMaxRetries caps the retry counter
func WithMaxRetries(n int) ContextOption {
	return func(c *ErrorContext) { c.MaxRetries = n }
}

// WithSearchParams attaches redacted search parameters
func WithSearchParams(params map[string]interface{}) ContextOption {
	return func(c *ErrorContext) { c.SearchParams = params }
}

// NewErrorContext creates a context for the entry of a retriable operation.
func NewErrorContext(adapter, operation string, opts ...ContextOption) *ErrorContext {
	ectx := &ErrorContext{
		ErrorID:       uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Adapter:       adapter,
		Operation:     operation,
		MaxRetries:    3,
		StackLocation: callerLocation(2),
		HostMetrics:   CaptureHostMetrics(),
		CorrelationID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(ectx)
	}
	return ectx
}

// Child derives a context for a nested operation. Session id, correlation
// id and URL carry over; the operation name and retry counter are fresh.
func (c *ErrorContext) Child(operation string) *ErrorContext {
	return &ErrorContext{
		ErrorID:       uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Adapter:       c.Adapter,
		Operation:     operation,
		SessionID:     c.SessionID,
		URL:           c.URL,
		RetryCount:    0,
		MaxRetries:    c.MaxRetries,
		SearchParams:  c.SearchParams,
		StackLocation: callerLocation(2),
		HostMetrics:   CaptureHostMetrics(),
		CorrelationID: c.CorrelationID,
	}
}

// CanRetry reports whether the retry budget still has room.
func (c *ErrorContext) CanRetry() bool {
	return c.RetryCount < c.MaxRetries
}

func callerLocation(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", file, line)
}
