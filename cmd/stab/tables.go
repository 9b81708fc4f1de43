package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/matsen/scholartab/internal/config"
	"github.com/matsen/scholartab/internal/storage"
)

func init() {
	rootCmd.AddCommand(tablesCmd)
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Show row counts from the SQLite index",
	Long: `Show the row count of every table in the SQLite index, when it was
last rebuilt, and whether it matches the current checkpoint.`,
	Args: cobra.NoArgs,
	RunE: runTables,
}

// TablesResult is the response for the tables command.
type TablesResult struct {
	Path     string         `json:"path"`
	Rows     map[string]int `json:"rows"`
	LastSync time.Time      `json:"last_sync,omitzero"`
	InSync   bool           `json:"in_sync"`
}

func runTables(cmd *cobra.Command, args []string) error {
	cfg, _ := mustSetup()
	db := mustOpenDatabase(cfg.Root)
	defer db.Close()

	counts, err := db.Counts()
	if err != nil {
		exitWithError(ExitError, "counting rows: %v", err)
	}
	lastSync, err := db.LastSync()
	if err != nil {
		exitWithError(ExitError, "reading last sync: %v", err)
	}
	stored, err := db.StoredHash()
	if err != nil {
		exitWithError(ExitError, "reading stored hash: %v", err)
	}
	current, err := storage.ComputeHash(config.CheckpointPath(cfg.ProcessedDir))
	if err != nil {
		exitWithError(ExitError, "hashing checkpoint: %v", err)
	}

	result := TablesResult{
		Path:     config.DBPath(cfg.Root),
		Rows:     counts,
		LastSync: lastSync,
		InSync:   stored == current,
	}

	if humanOutput {
		printCounts(counts)
		fmt.Printf("\nIndex: %s (%s)\n", result.Path, fileSize(result.Path))
		if !lastSync.IsZero() {
			fmt.Printf("Last rebuilt: %s\n", humanize.Time(lastSync))
		}
		if result.InSync {
			fmt.Println("Sync status: in sync with checkpoint")
		} else {
			fmt.Println("Sync status: out of sync (run 'stab normalize' or 'stab rebuild')")
		}
		return nil
	}
	return outputJSON(result)
}
