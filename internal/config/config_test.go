package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "negative retry budget",
			mutate:  func(c *Config) { c.Scheduler.MaxSyncBusyRetries = -1 },
			wantErr: "max_sync_busy_retries",
		},
		{
			name:    "zero replay delay",
			mutate:  func(c *Config) { c.Scheduler.SyncReplayDelayMs = 0 },
			wantErr: "sync_replay_delay_ms",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Poller.MaxConcurrent = 0 },
			wantErr: "max_concurrent",
		},
		{
			name:    "zero poll timeout",
			mutate:  func(c *Config) { c.Poller.TimeoutMs = 0 },
			wantErr: "timeout_ms",
		},
		{
			name: "grace exceeds timeout",
			mutate: func(c *Config) {
				c.Poller.TimeoutMs = 1000
				c.Poller.RunCompletionGraceMs = 1000
			},
			wantErr: "run_completion_grace_ms",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestZeroRetryBudgetIsAllowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scheduler.MaxSyncBusyRetries = 0
	require.NoError(t, cfg.Validate())
}

func TestDurationAccessors(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 500*time.Millisecond, cfg.Scheduler.SyncReplayDelay())
	require.Equal(t, 10*time.Second, cfg.Poller.Timeout())
	require.Equal(t, time.Second, cfg.Poller.RunCompletionGrace())
	require.Equal(t, 15*time.Second, cfg.Poller.BusyCooldown())
	require.Equal(t, 5*time.Second, cfg.Poller.RefreshInterval())
}
