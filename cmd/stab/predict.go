package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsen/scholartab/internal/classify"
	"github.com/matsen/scholartab/internal/config"
)

func init() {
	rootCmd.AddCommand(predictCmd)
}

var predictCmd = &cobra.Command{
	Use:   "predict [text]",
	Short: "Classify text into subject areas",
	Long: `Send text to the configured classifier and map the predicted subject
abbreviations to full names and supergroups.

Text is taken from the arguments, or from stdin when none are given.`,
	RunE: runPredict,
}

func runPredict(cmd *cobra.Command, args []string) error {
	cfg, logger := mustSetup()

	text := strings.Join(args, " ")
	if len(args) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitWithError(ExitError, "reading stdin: %v", err)
		}
		text = string(data)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		exitWithError(ExitError, "no text to classify")
	}

	classifier, err := newClassifier(cfg, logger)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	if classifier == nil {
		exitWithError(ExitConfigError, "%v\n\nSet classifier.url in %s.", classify.ErrNotConfigured, config.ConfigPath(cfg.Root))
	}

	ctx, stop := signalContext()
	defer stop()

	res, err := classifier.Classify(ctx, text)
	if err != nil {
		code := ExitError
		if errors.Is(err, classify.ErrAuthError) {
			code = ExitConfigError
		}
		exitWithError(code, "classifying: %v", err)
	}

	if humanOutput {
		fmt.Printf("Subjects:    %s\n", joinOrDash(res.Subjects))
		fmt.Printf("Full names:  %s\n", joinOrDash(res.FullNames))
		fmt.Printf("Supergroups: %s\n", joinOrDash(res.Supergroups))
		return nil
	}
	return outputJSON(res)
}
