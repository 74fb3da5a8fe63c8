package core

import (
	"fmt"
	"os"
	"strings"
)

// LoggingConfig controls the production logger. Zero values mean
// "auto-detect": text locally, JSON inside Kubernetes, info level.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text; empty auto-detects
	Output string `yaml:"output"` // stdout (default) or stderr
}

// Validate checks the logging configuration
func (c *LoggingConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q: %w", c.Level, ErrInvalidConfiguration)
	}
	switch c.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log format %q: %w", c.Format, ErrInvalidConfiguration)
	}
	switch c.Output {
	case "", "stdout", "stderr":
	default:
		return fmt.Errorf("invalid log output %q: %w", c.Output, ErrInvalidConfiguration)
	}
	return nil
}

// Config is the process-level configuration shared by the wiring binary.
// Component-specific settings live with their components; this carries only
// what every component needs injected.
type Config struct {
	Logging   LoggingConfig `yaml:"logging"`
	RedisURL  string        `yaml:"redis_url"`
	Namespace string        `yaml:"namespace"`

	// ConfigDir is where per-adapter YAML files live.
	ConfigDir string `yaml:"config_dir"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "info"},
		Namespace: "farescout",
		ConfigDir: "configs",
	}
}

// LoadFromEnv applies environment overrides on top of the current values.
// Environment variables win over file-loaded values, matching the logger's
// own precedence.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("FARESCOUT_REDIS_URL"); v != "" {
		c.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("FARESCOUT_NAMESPACE"); v != "" {
		c.Namespace = v
	}
	if v := os.Getenv("FARESCOUT_CONFIG_DIR"); v != "" {
		c.ConfigDir = v
	}
	if v := os.Getenv("FARESCOUT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FARESCOUT_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks the process configuration
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if c.Namespace == "" {
		return fmt.Errorf("namespace is required: %w", ErrMissingConfiguration)
	}
	return nil
}
