package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/config"
)

// defaultConfigPath is used when neither --config nor LOOM_CONFIG is set.
const defaultConfigPath = "loom.yaml"

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("LOOM_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// buildServeCmd creates the "serve" command that runs the engine.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Loom engine",
		Long: `Start the Loom engine.

The engine will:
1. Load configuration from the specified file (or loom.yaml)
2. Open the database, or fall back to in-memory stores when no DSN is set
3. Start the interactive and batch worker pools
4. Start the routine scheduler

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  loomd serve

  # Start with custom config and debug logging
  loomd serve --config /etc/loom/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")
	return cmd
}

// buildMigrateCmd creates the "migrate" command that prepares the schema.
func buildMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return fmt.Errorf("migrate requires a database DSN")
			}
			db, err := sql.Open("postgres", cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			if err := ensureSchemas(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file")
	return cmd
}

// ensureSchemas creates every table the engine needs.
func ensureSchemas(ctx context.Context, db *sql.DB) error {
	for _, ensure := range schemaEnsurers(db) {
		if err := ensure(ctx); err != nil {
			return err
		}
	}
	return nil
}
