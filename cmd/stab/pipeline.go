package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/matsen/scholartab/internal/check"
	"github.com/matsen/scholartab/internal/config"
	"github.com/matsen/scholartab/internal/pgsink"
	"github.com/matsen/scholartab/internal/pipeline"
	"github.com/matsen/scholartab/internal/storage"
)

var (
	forceLoad    bool
	skipPostgres bool
)

func init() {
	loadCmd.Flags().BoolVar(&forceLoad, "force", false, "Reload raw files even when the checkpoint is current")
	runCmd.Flags().BoolVar(&forceLoad, "force", false, "Reload raw files even when the checkpoint is current")
	runCmd.Flags().BoolVar(&skipPostgres, "no-postgres", false, "Skip the Postgres sink even when a DSN is configured")

	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(runCmd)
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Flatten raw documents into the checkpoint",
	Long: `Discover every JSON document under raw_dir, flatten each into a
merged record, and write the records to the JSONL checkpoint in
processed_dir. Unreadable files are skipped and reported.

The checkpoint is reused when no raw file changed; use --force to reload.`,
	Args: cobra.NoArgs,
	RunE: runLoad,
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Build and persist tables from the checkpoint",
	Long: `Normalize the records in the checkpoint into the nine tables and
write them in every configured output format.`,
	Args: cobra.NoArgs,
	RunE: runNormalize,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load, normalize, check and persist in one pass",
	Args:  cobra.NoArgs,
	RunE:  runRun,
}

// signalContext is cancelled on Ctrl-C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newPipeline builds a pipeline for cfg. The returned cleanup closes the
// Postgres pool when one was opened.
func newPipeline(ctx context.Context, cfg *config.Config, logger zerolog.Logger, withPostgres bool) (*pipeline.Pipeline, func()) {
	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	cleanup := func() {}

	if withPostgres && cfg.Postgres.DSN != "" {
		pool := mustConnectPostgres(ctx, cfg, logger)
		opts = append(opts, pipeline.WithPostgres(pgsink.New(pool, logger)))
		cleanup = pool.Close
	}
	return pipeline.New(cfg, opts...), cleanup
}

func mustConnectPostgres(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	pool, err := pgsink.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	if cfg.Postgres.Migrate {
		if err := pgsink.Migrate(pool, logger); err != nil {
			pool.Close()
			exitWithError(ExitError, "%v", err)
		}
	}
	return pool
}

// exitForPipelineError maps a stage error to an exit code.
func exitForPipelineError(err error) {
	switch {
	case errors.Is(err, check.ErrIntegrity):
		exitWithError(ExitDataError, "%v", err)
	case errors.Is(err, context.Canceled):
		exitWithError(ExitError, "interrupted")
	default:
		exitWithError(ExitError, "%v", err)
	}
}

func runLoad(cmd *cobra.Command, args []string) error {
	cfg, logger := mustSetup()
	ctx, stop := signalContext()
	defer stop()

	p, cleanup := newPipeline(ctx, cfg, logger, false)
	defer cleanup()

	report, err := p.Load(ctx, forceLoad)
	if err != nil {
		exitForPipelineError(err)
	}

	if humanOutput {
		printLoad(report)
		return nil
	}
	return outputJSON(report)
}

// NormalizeResult is the response for the normalize command.
type NormalizeResult struct {
	RunID     string                    `json:"run_id"`
	Normalize *pipeline.NormalizeReport `json:"normalize"`
	Issues    []check.Issue             `json:"issues,omitempty"`
	Persist   *pipeline.PersistReport   `json:"persist"`
}

func runNormalize(cmd *cobra.Command, args []string) error {
	cfg, logger := mustSetup()
	ctx, stop := signalContext()
	defer stop()

	p, cleanup := newPipeline(ctx, cfg, logger, true)
	defer cleanup()

	if _, err := os.Stat(config.CheckpointPath(cfg.ProcessedDir)); os.IsNotExist(err) {
		exitWithError(ExitConfigError, "checkpoint not found\n\nRun 'stab load' first.")
	}

	norm, tables, err := p.Normalize()
	if err != nil {
		exitForPipelineError(err)
	}
	issues := p.Validate(tables)

	fingerprint, err := fingerprintOf(cfg)
	if err != nil {
		exitWithError(ExitError, "%v", err)
	}
	persist, err := p.Persist(ctx, tables, fingerprint)
	if err != nil {
		exitForPipelineError(err)
	}

	if humanOutput {
		printNormalize(norm, issues, persist)
		return nil
	}
	return outputJSON(NormalizeResult{RunID: p.RunID(), Normalize: norm, Issues: issues, Persist: persist})
}

// fingerprintOf returns the raw-corpus fingerprint stored by the last load.
func fingerprintOf(cfg *config.Config) (string, error) {
	return storage.ReadFingerprint(config.FingerprintPath(cfg.ProcessedDir))
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger := mustSetup()
	ctx, stop := signalContext()
	defer stop()

	p, cleanup := newPipeline(ctx, cfg, logger, !skipPostgres)
	defer cleanup()

	report, err := p.Run(ctx, forceLoad)
	if err != nil {
		exitForPipelineError(err)
	}

	if humanOutput {
		printLoad(&report.Load)
		fmt.Println()
		printNormalize(&report.Normalize, report.Issues, &report.Persist)
		fmt.Printf("\nRun %s finished in %s\n", report.RunID, formatDuration(report.Duration))
		return nil
	}
	return outputJSON(report)
}

func printLoad(r *pipeline.LoadReport) {
	if r.Reused {
		fmt.Printf("Checkpoint current, reused %s records from %s\n",
			humanize.Comma(int64(r.Records)), r.Checkpoint)
		return
	}
	fmt.Printf("Loaded %s records from %s files into %s (%s)\n",
		humanize.Comma(int64(r.Records)), humanize.Comma(int64(r.Files)), r.Checkpoint, fileSize(r.Checkpoint))
	if r.Failed > 0 {
		fmt.Printf("Skipped %d files:\n", r.Failed)
		for _, f := range r.Failures {
			fmt.Printf("  %s: %s\n", f.Path, f.Error)
		}
	}
}

func printNormalize(n *pipeline.NormalizeReport, issues []check.Issue, p *pipeline.PersistReport) {
	printCounts(n.Rows)
	if n.DuplicatePapers > 0 {
		fmt.Printf("\nDuplicate papers skipped: %d\n", n.DuplicatePapers)
	}
	if n.DuplicateReferences > 0 {
		fmt.Printf("Duplicate references skipped: %d\n", n.DuplicateReferences)
	}
	printSkipped("\nRows dropped for empty keys", n.Dropped)
	printSkipped("\nConflicting attributes (first kept)", n.Conflicts)

	if len(issues) > 0 {
		fmt.Printf("\n%d validation issues (run 'stab check' for details)\n", len(issues))
	}

	fmt.Printf("\nWrote %d table files", len(p.Files))
	if p.SQLite != "" {
		fmt.Printf(", SQLite index %s (%s)", p.SQLite, fileSize(p.SQLite))
	}
	if p.Postgres != nil {
		var total int64
		for _, n := range p.Postgres {
			total += n
		}
		fmt.Printf(", %s rows to Postgres", humanize.Comma(total))
	}
	fmt.Printf("\nManifest: %s\n", p.Manifest)
}
