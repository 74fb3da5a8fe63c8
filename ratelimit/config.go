package ratelimit

import (
	"fmt"
	"time"

	"github.com/farescout/farescout/core"
)

// Config controls the per-site limiter. The three mechanisms compose: the
// token bucket shapes short-term burstiness, the sliding window caps the
// per-minute total, and the cooldown freezes a site after it pushed back.
type Config struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	BurstLimit        int           `yaml:"burst_limit"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	CooldownPeriod    time.Duration `yaml:"cooldown_period"`
}

// DefaultConfig returns conservative per-site defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 0.5,
		BurstLimit:        3,
		RequestsPerMinute: 30,
		CooldownPeriod:    5 * time.Minute,
	}
}

// Validate checks the limiter configuration and fills derived defaults.
func (c *Config) Validate() error {
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive, got %f: %w",
			c.RequestsPerSecond, core.ErrInvalidConfiguration)
	}
	if c.BurstLimit < 1 {
		return fmt.Errorf("burst_limit must be at least 1, got %d: %w",
			c.BurstLimit, core.ErrInvalidConfiguration)
	}
	if c.RequestsPerMinute == 0 {
		c.RequestsPerMinute = int(c.RequestsPerSecond * 60)
		if c.RequestsPerMinute < 1 {
			c.RequestsPerMinute = 1
		}
	}
	if c.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must be non-negative, got %d: %w",
			c.RequestsPerMinute, core.ErrInvalidConfiguration)
	}
	if c.CooldownPeriod < 0 {
		return fmt.Errorf("cooldown_period must be non-negative: %w", core.ErrInvalidConfiguration)
	}
	if c.CooldownPeriod == 0 {
		c.CooldownPeriod = 5 * time.Minute
	}
	return nil
}
