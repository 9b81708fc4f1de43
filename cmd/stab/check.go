package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matsen/scholartab/internal/check"
	"github.com/matsen/scholartab/internal/pipeline"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the persisted tables",
	Long: `Read the CSV tables from processed_dir and check them for duplicate
keys, orphaned links and invalid values (negative counts, malformed
dates). Exits with status 3 when any issue is found.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

// CheckResult is the response for the check command.
type CheckResult struct {
	Status string         `json:"status"`
	Rows   map[string]int `json:"rows"`
	Issues []check.Issue  `json:"issues"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, _ := mustSetup()

	tables, issues, err := pipeline.Check(cfg.ProcessedDir)
	if err != nil {
		exitWithError(ExitDataError, "reading tables: %v", err)
	}

	status := "ok"
	if len(issues) > 0 {
		status = "issues_found"
	}

	if humanOutput {
		printCounts(tables.Counts())
		fmt.Println()
		if len(issues) == 0 {
			fmt.Println("No issues found")
		} else {
			fmt.Printf("Found %d issues:\n", len(issues))
			for _, issue := range issues {
				fmt.Printf("  - %s\n", issue)
			}
		}
	} else {
		if issues == nil {
			issues = []check.Issue{}
		}
		outputJSON(CheckResult{Status: status, Rows: tables.Counts(), Issues: issues})
	}

	if len(issues) > 0 {
		os.Exit(ExitDataError)
	}
	return nil
}
