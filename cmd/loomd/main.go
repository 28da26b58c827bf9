// Package main provides the CLI entry point for the Loom agent engine.
//
// Loom executes agent jobs: streaming multi-round tool-calling turns pulled
// from a durable queue, plus a cron-style routine scheduler that fires
// autonomous per-agent actions.
//
// # Basic Usage
//
// Start the engine:
//
//	loomd serve --config loom.yaml
//
// # Environment Variables
//
//   - LOOM_CONFIG: Path to configuration file (default: loom.yaml)
//   - LOOM_DATABASE_DSN: Postgres DSN (referenced as ${LOOM_DATABASE_DSN}
//     from the config file)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "loomd",
		Short:        "Loom - agent job execution engine",
		Long:         "Loom runs agent turns against a model backend, orchestrates the job queue, and fires scheduled per-agent routines.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
	)
	return rootCmd
}
