package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/matsen/scholartab/internal/classify"
	"github.com/matsen/scholartab/internal/config"
	"github.com/matsen/scholartab/internal/dashboard"
	"github.com/matsen/scholartab/internal/observability"
	"github.com/matsen/scholartab/internal/server"
)

const shutdownTimeout = 10 * time.Second

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from server.addr)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analytics API over the persisted tables",
	Long: `Serve JSON analytics endpoints under /api backed by the CSV tables in
processed_dir. Tables are reread when their files change on disk.

When classifier.url and classifier.subjects_path are configured,
POST /api/predict classifies free text into subject areas.
Prometheus metrics are served on /metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger := mustSetup()
	ctx, stop := signalContext()
	defer stop()

	cache, err := dashboard.NewCache(cfg.ProcessedDir, cfg.Dashboard.CacheSize, logger)
	if err != nil {
		exitWithError(ExitConfigError, "creating table cache: %v", err)
	}

	classifier, err := newClassifier(cfg, logger)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := server.New(server.Config{
		Address:         addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: shutdownTimeout,
	}, cache, classifier, observability.NewMetrics(), logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			exitWithError(ExitError, "serving: %v", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			exitWithError(ExitError, "shutting down: %v", err)
		}
	}
	return nil
}

// newClassifier builds the subject classifier, or returns nil when no
// classifier URL is configured.
func newClassifier(cfg *config.Config, logger zerolog.Logger) (*classify.Classifier, error) {
	if cfg.Classifier.URL == "" {
		logger.Info().Msg("classifier.url not set, predictions disabled")
		return nil, nil
	}

	vocab, err := classify.LoadVocabulary(cfg.Classifier.SubjectsPath)
	if err != nil {
		return nil, err
	}

	opts := []classify.Option{
		classify.WithRateLimit(cfg.Classifier.RateLimit),
		classify.WithTimeout(cfg.Classifier.Timeout),
	}
	if cfg.Classifier.APIKey != "" {
		opts = append(opts, classify.WithAPIKey(cfg.Classifier.APIKey))
	}
	predictor := classify.NewHTTPPredictor(cfg.Classifier.URL, opts...)

	logger.Info().Str("url", cfg.Classifier.URL).Int("subjects", vocab.Len()).Msg("classifier enabled")
	return classify.New(predictor, vocab), nil
}
