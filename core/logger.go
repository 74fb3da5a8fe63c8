package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger is the minimal logging interface shared by every component.
// Implementations must be safe for concurrent use.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// NoOpLogger provides a no-op logger implementation
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

// LogRateLimiter throttles repetitive log lines (typically error logs
// emitted from hot failure paths) to at most one per interval.
type LogRateLimiter struct {
	interval time.Duration
	lastTime time.Time
	mu       sync.Mutex
}

// NewLogRateLimiter creates a new log rate limiter
func NewLogRateLimiter(interval time.Duration) *LogRateLimiter {
	return &LogRateLimiter{interval: interval}
}

// Allow returns true if a log line is allowed through
func (r *LogRateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.lastTime) >= r.interval {
		r.lastTime = now
		return true
	}
	return false
}

// ProductionLogger emits structured logs to a writer. It renders JSON in
// aggregated environments and plain text for local development, and
// rate-limits error output so failure storms cannot flood the log stream.
//
// Configuration priority:
//  1. Explicit LoggingConfig values (highest)
//  2. Environment variables (FARESCOUT_LOG_LEVEL, FARESCOUT_LOG_FORMAT, FARESCOUT_DEBUG)
//  3. Environment auto-detection (JSON inside Kubernetes)
type ProductionLogger struct {
	level        string
	debug        bool
	format       string
	component    string
	output       io.Writer
	mu           sync.Mutex
	errorLimiter *LogRateLimiter
}

// NewProductionLogger creates a logger for the named component.
func NewProductionLogger(cfg LoggingConfig, component string) *ProductionLogger {
	level := cfg.Level
	if v := os.Getenv("FARESCOUT_LOG_LEVEL"); v != "" {
		level = v
	}
	if level == "" {
		level = "info"
	}

	debug := strings.EqualFold(level, "debug") || os.Getenv("FARESCOUT_DEBUG") == "true"

	format := cfg.Format
	if format == "" {
		format = "text"
		if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
			format = "json"
		}
	}
	if v := os.Getenv("FARESCOUT_LOG_FORMAT"); v != "" {
		format = v
	}

	var output io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		output = os.Stderr
	}

	return &ProductionLogger{
		level:        strings.ToUpper(level),
		debug:        debug,
		format:       format,
		component:    component,
		output:       output,
		errorLimiter: NewLogRateLimiter(time.Second),
	}
}

// WithComponent returns a logger that attributes lines to the given component.
func (l *ProductionLogger) WithComponent(component string) Logger {
	return &ProductionLogger{
		level:        l.level,
		debug:        l.debug,
		format:       l.format,
		component:    component,
		output:       l.output,
		errorLimiter: l.errorLimiter,
	}
}

// Info logs informational messages
func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log("INFO", msg, fields)
}

// Warn logs warning messages
func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}

// Error logs error messages with rate limiting
func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	if l.errorLimiter != nil && !l.errorLimiter.Allow() {
		return
	}
	l.log("ERROR", msg, fields)
}

// Debug logs debug messages (only when debug mode is enabled)
func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if !l.debug {
		return
	}
	l.log("DEBUG", msg, fields)
}

func (l *ProductionLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().UTC().Format(time.RFC3339Nano)

	if l.format == "json" {
		entry := make(map[string]interface{}, len(fields)+4)
		for k, v := range fields {
			switch vv := v.(type) {
			case error:
				entry[k] = vv.Error()
			default:
				entry[k] = v
			}
		}
		entry["timestamp"] = ts
		entry["level"] = level
		entry["component"] = l.component
		entry["message"] = msg

		data, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(l.output, "%s [%s] %s %s (marshal error: %v)\n", ts, level, l.component, msg, err)
			return
		}
		fmt.Fprintln(l.output, string(data))
		return
	}

	// Text format: stable key ordering keeps lines diffable.
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] %s: %s", ts, level, l.component, msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, fields[k])
		}
	}
	fmt.Fprintln(l.output, sb.String())
}
