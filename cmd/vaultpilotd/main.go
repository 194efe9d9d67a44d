// Package main is the entry point for the vaultpilotd daemon. It drives the
// agent coordinator over a simulated runtime fleet, mainly for soak testing
// the dispatch/poll/ownership machinery.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kvisle/vaultpilot/internal/config"
	"github.com/kvisle/vaultpilot/internal/coordinator"
	"github.com/kvisle/vaultpilot/internal/events"
	"github.com/kvisle/vaultpilot/internal/logging"
	"github.com/kvisle/vaultpilot/internal/sim"
)

// Version information (set by goreleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vaultpilotd",
		Short: "Coordinator daemon for DeFi strategy agents",
	}
	root.AddCommand(runCmd(), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vaultpilotd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func runCmd() *cobra.Command {
	var (
		configFile string
		logLevel   string
		logFormat  string
		agents     int
		runLatency time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the coordinator against a simulated agent fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader()
			if configFile != "" {
				loader.SetConfigFile(configFile)
			}
			cfg, err := loader.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if logFormat != "" {
				cfg.Logging.Format = logFormat
			}
			logging.Init(logging.Config{
				Level:        cfg.Logging.Level,
				Format:       cfg.Logging.Format,
				EnableCaller: cfg.Logging.EnableCaller,
			})
			logger := logging.Component("vaultpilotd")

			if used := loader.ConfigFileUsed(); used != "" {
				logger.Debug().Str("config_file", used).Msg("loaded config file")
			}
			logger.Info().
				Str("version", version).
				Int("agents", agents).
				Msg("vaultpilotd starting")

			fleet := sim.NewFleet(agents, sim.Script{RunLatency: runLatency})
			coord := coordinator.New(cfg, fleet.Handle)
			defer coord.Close()
			for _, id := range fleet.ThreadIDs() {
				coord.AddAgent(id)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := coord.Events().Subscribe("daemon-log", events.Filter{
				Types: []events.Type{events.TypeEntryUpdated, events.TypeCooldownStarted},
			}, func(ev events.Event) {
				logEvent(logger, ev)
			}); err != nil {
				return err
			}

			refresher := coordinator.NewRefresher(coord, cfg.Poller.RefreshInterval())
			if err := refresher.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			logger.Info().Msg("vaultpilotd stopping")
			return refresher.Stop()
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "config file (default is $HOME/.config/vaultpilot/config.yaml)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override logging level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", "", "override logging format (json, console)")
	cmd.Flags().IntVar(&agents, "agents", 8, "number of simulated agents")
	cmd.Flags().DurationVar(&runLatency, "run-latency", 200*time.Millisecond, "simulated run duration")
	return cmd
}

// logEvent reports one coordinator notification.
func logEvent(logger zerolog.Logger, ev events.Event) {
	switch ev.Type {
	case events.TypeEntryUpdated:
		entry := ev.Entry
		evt := logger.Info().
			Str("thread_id", entry.ThreadID).
			Bool("synced", entry.Synced).
			Float64("total_value_usd", entry.Metrics.TotalValueUSD).
			Int("cycles", entry.Metrics.Cycles)
		if entry.TaskID != "" {
			evt = evt.Str("task_state", string(entry.TaskState))
		}
		if entry.Error != "" {
			evt = evt.Str("error", entry.Error)
		}
		evt.Msg("agent updated")
	case events.TypeCooldownStarted:
		logger.Debug().Str("thread_id", ev.ThreadID).Msg("agent cooling down")
	}
}
