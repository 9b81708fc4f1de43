// Package main provides the stab CLI entry point.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/matsen/scholartab/internal/config"
	"github.com/matsen/scholartab/internal/observability"
	"github.com/matsen/scholartab/internal/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	// humanOutput controls whether to use human-readable output
	humanOutput bool
	logLevel    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stab",
	Short: "Normalize Scopus abstract records into relational tables",
	Long: `stab turns a directory of Scopus abstract-retrieval JSON documents into
nine relational tables (papers, classification codes, affiliations,
references, keywords and their link tables).

Raw documents are flattened into a JSONL checkpoint, normalized, checked
and written as CSV (and optionally parquet, SQLite and Postgres).
All commands output JSON by default; use --human for text.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (trace, debug, info, warn, error)")
	rootCmd.Version = Version
}

// mustFindWorkspace finds the workspace root, exits on error.
func mustFindWorkspace() string {
	cwd, err := os.Getwd()
	if err != nil {
		exitWithError(ExitError, "getting current directory: %v", err)
	}

	root, err := config.ResolveWorkspace(cwd)
	if err != nil {
		if errors.Is(err, config.ErrWorkspaceNotFound) {
			fmt.Fprintln(os.Stderr, config.HelpfulConfigMessage())
		}
		exitWithError(ExitConfigError, "%v", err)
	}
	return root
}

// mustLoadConfig loads configuration, exits on error.
func mustLoadConfig(root string) *config.Config {
	cfg, err := config.Load(root)
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg
}

// mustSetup finds the workspace and loads its config and logger.
func mustSetup() (*config.Config, zerolog.Logger) {
	cfg := mustLoadConfig(mustFindWorkspace())
	return cfg, observability.NewLogger(cfg.Logging)
}

// mustOpenDatabase opens the SQLite index, exits on error.
// The caller is responsible for calling Close() on the returned DB.
func mustOpenDatabase(root string) *storage.DB {
	path := config.DBPath(root)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		exitWithError(ExitConfigError, "SQLite index not found\n\nRun 'stab run' or 'stab rebuild' to create it.")
	}
	db, err := storage.OpenDB(path)
	if err != nil {
		exitWithError(ExitError, "opening database: %v", err)
	}
	return db
}
