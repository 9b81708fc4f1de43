package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matsen/scholartab/internal/config"
	"github.com/matsen/scholartab/internal/export"
	"github.com/matsen/scholartab/internal/pipeline"
	"github.com/matsen/scholartab/internal/storage"
)

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the SQLite index from the CSV tables",
	Long: `Rebuild the SQLite query index from the CSV tables in processed_dir.

Use this after copying tables from elsewhere or if the index becomes corrupted.`,
	Args: cobra.NoArgs,
	RunE: runRebuild,
}

// RebuildResult is the response for the rebuild command.
type RebuildResult struct {
	Status string         `json:"status"`
	Path   string         `json:"path"`
	Rows   map[string]int `json:"rows"`
}

func runRebuild(cmd *cobra.Command, args []string) error {
	cfg, _ := mustSetup()

	tables, err := export.ReadCSV(cfg.ProcessedDir)
	if err != nil {
		exitWithError(ExitDataError, "reading tables: %v", err)
	}

	hash, err := storage.ComputeHash(config.CheckpointPath(cfg.ProcessedDir))
	if err != nil {
		exitWithError(ExitError, "hashing checkpoint: %v", err)
	}

	path := config.DBPath(cfg.Root)
	if err := pipeline.RebuildSQLite(path, tables, hash); err != nil {
		exitWithError(ExitDataError, "%v", err)
	}

	if humanOutput {
		total := 0
		for _, n := range tables.Counts() {
			total += n
		}
		fmt.Printf("Rebuilt %s with %d rows across %d tables (%s)\n", path, total, len(tables.Counts()), fileSize(path))
		return nil
	}
	return outputJSON(RebuildResult{Status: "rebuilt", Path: path, Rows: tables.Counts()})
}
