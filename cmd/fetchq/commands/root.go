// Package commands implements the fetchq command line.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamwoolhether/fetchq"
	"github.com/adamwoolhether/fetchq/internal/config"
	"github.com/adamwoolhether/fetchq/internal/logging"
	"github.com/adamwoolhether/fetchq/request"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"

	// Global flags.
	cfgFile  string
	priority string
)

const shutdownTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:   "fetchq",
	Short: "fetchq - prioritized HTTP request engine",
	Long: `fetchq schedules HTTP requests by priority over a fixed worker pool,
streams downloads to disk and loads images through a deduplicating cache.

Configuration is read from --config and FETCHQ_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&priority, "priority", "normal", "request priority: low, normal, high, immediate")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(imageCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("fetchq %s (%s)\n", Version, Commit)
	},
}

// withEngine loads configuration, starts an engine, runs fn and shuts the
// engine down.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *fetchq.Engine) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	log, err := logging.New(cmd.ErrOrStderr(), "fetchq", cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}

	e, err := fetchq.New(cfg.EngineOptions(log)...)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	e.Start()

	runErr := fn(cmd.Context(), e)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil && runErr == nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	return runErr
}

func parsePriority(s string) (request.Priority, error) {
	switch s {
	case "low":
		return request.Low, nil
	case "normal", "medium":
		return request.Medium, nil
	case "high":
		return request.High, nil
	case "immediate":
		return request.Immediate, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}
