// Package config handles vaultpilot configuration loading and validation.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure for vaultpilot.
type Config struct {
	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Scheduler settings for per-thread command dispatch
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`

	// Poller settings for the list-refresh fan-out
	Poller PollerConfig `yaml:"poller" mapstructure:"poller"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// SchedulerConfig contains command scheduler settings.
type SchedulerConfig struct {
	// MaxSyncBusyRetries bounds automatic sync replays after busy rejections.
	MaxSyncBusyRetries int `yaml:"max_sync_busy_retries" mapstructure:"max_sync_busy_retries"`

	// SyncReplayDelayMs is the pause before a busy sync is replayed.
	SyncReplayDelayMs int `yaml:"sync_replay_delay_ms" mapstructure:"sync_replay_delay_ms"`
}

// PollerConfig contains list-refresh poller settings.
type PollerConfig struct {
	// MaxConcurrent limits how many thread polls run simultaneously.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`

	// TimeoutMs is the hard per-poll deadline for observing a snapshot.
	TimeoutMs int `yaml:"timeout_ms" mapstructure:"timeout_ms"`

	// RunCompletionGraceMs is how long to wait, after a snapshot, for the
	// run to terminate before flagging the thread busy.
	RunCompletionGraceMs int `yaml:"run_completion_grace_ms" mapstructure:"run_completion_grace_ms"`

	// BusyCooldownMs suppresses periodic polling of a thread after a
	// busy/unterminated observation.
	BusyCooldownMs int `yaml:"busy_cooldown_ms" mapstructure:"busy_cooldown_ms"`

	// RefreshIntervalMs is the cadence of the periodic list refresh.
	RefreshIntervalMs int `yaml:"refresh_interval_ms" mapstructure:"refresh_interval_ms"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Scheduler: SchedulerConfig{
			MaxSyncBusyRetries: 3,
			SyncReplayDelayMs:  500,
		},
		Poller: PollerConfig{
			MaxConcurrent:        4,
			TimeoutMs:            10000,
			RunCompletionGraceMs: 1000,
			BusyCooldownMs:       15000,
			RefreshIntervalMs:    5000,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Scheduler.MaxSyncBusyRetries < 0 {
		return fmt.Errorf("scheduler.max_sync_busy_retries must be >= 0, got %d", c.Scheduler.MaxSyncBusyRetries)
	}
	if c.Scheduler.SyncReplayDelayMs <= 0 {
		return fmt.Errorf("scheduler.sync_replay_delay_ms must be > 0, got %d", c.Scheduler.SyncReplayDelayMs)
	}
	if c.Poller.MaxConcurrent <= 0 {
		return fmt.Errorf("poller.max_concurrent must be > 0, got %d", c.Poller.MaxConcurrent)
	}
	if c.Poller.TimeoutMs <= 0 {
		return fmt.Errorf("poller.timeout_ms must be > 0, got %d", c.Poller.TimeoutMs)
	}
	if c.Poller.RunCompletionGraceMs <= 0 {
		return fmt.Errorf("poller.run_completion_grace_ms must be > 0, got %d", c.Poller.RunCompletionGraceMs)
	}
	if c.Poller.RunCompletionGraceMs >= c.Poller.TimeoutMs {
		return fmt.Errorf("poller.run_completion_grace_ms (%d) must be below poller.timeout_ms (%d)",
			c.Poller.RunCompletionGraceMs, c.Poller.TimeoutMs)
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	return nil
}

// SyncReplayDelay returns the scheduler replay delay as a duration.
func (c *SchedulerConfig) SyncReplayDelay() time.Duration {
	return time.Duration(c.SyncReplayDelayMs) * time.Millisecond
}

// Timeout returns the per-poll deadline as a duration.
func (c *PollerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// RunCompletionGrace returns the post-snapshot grace as a duration.
func (c *PollerConfig) RunCompletionGrace() time.Duration {
	return time.Duration(c.RunCompletionGraceMs) * time.Millisecond
}

// BusyCooldown returns the busy cooldown as a duration.
func (c *PollerConfig) BusyCooldown() time.Duration {
	return time.Duration(c.BusyCooldownMs) * time.Millisecond
}

// RefreshInterval returns the refresh cadence as a duration.
func (c *PollerConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMs) * time.Millisecond
}
