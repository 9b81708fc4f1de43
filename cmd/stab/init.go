package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/matsen/scholartab/internal/config"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create a scholartab workspace",
	Long: `Create a .scholartab directory with a default config.yml in dir
(default: the current directory). An existing config is left untouched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	root, err := filepath.Abs(config.ExpandPath(dir))
	if err != nil {
		exitWithError(ExitError, "resolving %s: %v", dir, err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		exitWithError(ExitError, "creating %s: %v", root, err)
	}

	existed := config.IsWorkspace(root)
	if err := config.Init(root); err != nil {
		exitWithError(ExitError, "initializing workspace: %v", err)
	}

	status := "created"
	if existed {
		status = "exists"
	}
	if humanOutput {
		if existed {
			fmt.Printf("Workspace already initialized at %s\n", root)
		} else {
			fmt.Printf("Initialized workspace at %s\n", root)
			fmt.Printf("Edit %s to configure it.\n", config.ConfigPath(root))
		}
		return nil
	}
	return outputJSON(StatusResponse{Status: status, Path: root})
}
