package breaker

import (
	"fmt"
	"time"

	"github.com/farescout/farescout/core"
)

// Config holds the per-scope state machine settings. One Config governs all
// scopes of all sites managed by a Manager.
type Config struct {
	// FailureThreshold is the weighted consecutive-failure total that opens
	// a scope.
	FailureThreshold int `yaml:"failure_threshold"`

	// RecoveryTimeout is how long an open scope waits before probing.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`

	// HalfOpenMaxCalls caps trial admissions while half-open.
	HalfOpenMaxCalls int `yaml:"half_open_max_calls"`

	// SuccessThreshold is the consecutive successes needed to close from
	// half-open.
	SuccessThreshold int `yaml:"success_threshold"`

	// AdaptiveThresholds lets the failure threshold drift with observed
	// volume instead of staying fixed.
	AdaptiveThresholds bool `yaml:"adaptive_thresholds"`

	// ResetScopeOnRecovery clears the failure accumulator of sibling scopes
	// when a scope closes. Off by default: one recovered scope says nothing
	// about the others.
	ResetScopeOnRecovery bool `yaml:"reset_scope_on_recovery"`

	Logger  core.Logger      `yaml:"-"`
	Metrics MetricsCollector `yaml:"-"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 3,
		SuccessThreshold: 2,
	}
}

// Validate checks the breaker configuration
func (c *Config) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be at least 1, got %d: %w",
			c.FailureThreshold, core.ErrInvalidConfiguration)
	}
	if c.RecoveryTimeout <= 0 {
		return fmt.Errorf("recovery_timeout must be positive, got %v: %w",
			c.RecoveryTimeout, core.ErrInvalidConfiguration)
	}
	if c.HalfOpenMaxCalls < 1 {
		return fmt.Errorf("half_open_max_calls must be at least 1, got %d: %w",
			c.HalfOpenMaxCalls, core.ErrInvalidConfiguration)
	}
	if c.SuccessThreshold < 1 {
		return fmt.Errorf("success_threshold must be at least 1, got %d: %w",
			c.SuccessThreshold, core.ErrInvalidConfiguration)
	}
	return nil
}
