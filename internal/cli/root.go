// Package cli provides the command-line interface for roadmapctl.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/741311791/roadmap-agent-sub009/internal/api"
	"github.com/741311791/roadmap-agent-sub009/internal/channel"
	"github.com/741311791/roadmap-agent-sub009/internal/config"
	"github.com/741311791/roadmap-agent-sub009/internal/metrics"
	"github.com/741311791/roadmap-agent-sub009/internal/reconcile"
	"github.com/741311791/roadmap-agent-sub009/internal/roadmap"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config and API client
	cfg        config.Config
	apiClient  *api.Client
	logger     *slog.Logger
	logCleanup func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "roadmapctl",
	Short: "Follow and steer AI learning-roadmap generation",
	Long: `Roadmapctl tracks the asynchronous generation of AI learning roadmaps.

It subscribes to the backend's per-task event channel over websocket, keeps a
local projection of per-concept content statuses in sync, and falls back to
polling when the channel drops. Use it to watch generation live, resolve
human-review gates, retry failed content, and detect stale jobs.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// No config or logger needed for version and help
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, logCleanup = config.SetupLogger(cfg.LogFile, level)
		slog.SetDefault(logger)

		apiClient = api.New(cfg.APIBaseURL, cfg.RequestTimeout)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCleanup != nil {
			if err := logCleanup(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// newReconciler builds the store/reconciler pair every stateful command uses.
// The session factory honors the configured websocket base URL, which may
// differ from the one derived from the API URL.
func newReconciler() (*roadmap.Store, *reconcile.Reconciler, *metrics.Collector) {
	store := roadmap.NewStore()
	collector := metrics.NewCollector()
	rec := reconcile.New(apiClient, store, reconcile.Config{
		PollInterval:      cfg.PollInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Logger:            logger,
		Metrics:           collector,
		NewSession: func(taskID string, handlers channel.Handlers) reconcile.Session {
			return channel.NewSession(channel.Config{
				BaseURL:           cfg.WSBaseURL,
				HeartbeatInterval: cfg.HeartbeatInterval,
				Logger:            logger,
				OnReconnect:       func(int) { collector.RecordReconnect() },
			}, taskID, handlers)
		},
	})
	return store, rec, collector
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
