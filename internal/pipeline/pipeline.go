// Package pipeline runs the load, normalize and persist stages over a
// workspace.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/matsen/scholartab/internal/check"
	"github.com/matsen/scholartab/internal/config"
	"github.com/matsen/scholartab/internal/export"
	"github.com/matsen/scholartab/internal/loader"
	"github.com/matsen/scholartab/internal/normalize"
	"github.com/matsen/scholartab/internal/observability"
	"github.com/matsen/scholartab/internal/paper"
	"github.com/matsen/scholartab/internal/storage"
)

// Stage names used in logs and the stage duration metric.
const (
	StageLoad      = "load"
	StageNormalize = "normalize"
	StageValidate  = "validate"
	StagePersist   = "persist"
)

// TableWriter replaces a remote copy of the tables, e.g. Postgres.
type TableWriter interface {
	Write(ctx context.Context, t *paper.Tables) (map[string]int64, error)
}

// Pipeline runs stages for one workspace configuration.
type Pipeline struct {
	cfg      *config.Config
	fs       afero.Fs
	logger   zerolog.Logger
	metrics  *observability.Metrics
	postgres TableWriter
	runID    string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFs sets the filesystem raw documents are read from.
func WithFs(fs afero.Fs) Option {
	return func(p *Pipeline) { p.fs = fs }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithPostgres enables the Postgres sink.
func WithPostgres(w TableWriter) Option {
	return func(p *Pipeline) { p.postgres = w }
}

// New creates a pipeline with a fresh run id.
func New(cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		fs:     afero.NewOsFs(),
		logger: zerolog.Nop(),
		runID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = observability.NewMetrics()
	}
	p.logger = observability.WithRunContext(observability.WithComponent(p.logger, "pipeline"), p.runID)
	return p
}

// RunID identifies this pipeline's run in logs and the manifest.
func (p *Pipeline) RunID() string {
	return p.runID
}

// Metrics returns the metrics the pipeline records into.
func (p *Pipeline) Metrics() *observability.Metrics {
	return p.metrics
}

// Failure is one skipped raw file.
type Failure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// LoadReport summarizes the load stage.
type LoadReport struct {
	Files       int       `json:"files"`
	Records     int       `json:"records"`
	Failed      int       `json:"failed"`
	Failures    []Failure `json:"failures,omitempty"`
	Reused      bool      `json:"reused"`
	Checkpoint  string    `json:"checkpoint"`
	Fingerprint string    `json:"fingerprint"`
}

// NormalizeReport summarizes the normalize stage.
type NormalizeReport struct {
	normalize.Stats
	Rows map[string]int `json:"rows"`
}

// PersistReport lists the outputs written.
type PersistReport struct {
	Files    []string         `json:"files"`
	SQLite   string           `json:"sqlite,omitempty"`
	Postgres map[string]int64 `json:"postgres,omitempty"`
	Manifest string           `json:"manifest"`
}

// RunReport is the result of a full run.
type RunReport struct {
	RunID     string          `json:"run_id"`
	Load      LoadReport      `json:"load"`
	Normalize NormalizeReport `json:"normalize"`
	Issues    []check.Issue   `json:"issues,omitempty"`
	Persist   PersistReport   `json:"persist"`
	Duration  time.Duration   `json:"duration_ns"`
}

func (p *Pipeline) checkpointPath() string {
	return config.CheckpointPath(p.cfg.ProcessedDir)
}

func (p *Pipeline) fingerprintPath() string {
	return config.FingerprintPath(p.cfg.ProcessedDir)
}

func (p *Pipeline) failuresPath() string {
	return config.FailuresPath(p.cfg.ProcessedDir)
}

// stage times fn and records it under name.
func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	p.metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		p.logger.Error().Err(err).Str("stage", name).Dur("duration", elapsed).Msg("stage failed")
		return err
	}
	p.logger.Info().Str("stage", name).Dur("duration", elapsed).Msg("stage complete")
	return nil
}

// Load flattens the raw tree into the checkpoint. When the raw corpus
// fingerprint matches the stored one and force is false, the existing
// checkpoint is reused.
func (p *Pipeline) Load(ctx context.Context, force bool) (*LoadReport, error) {
	report, _, err := p.load(ctx, force)
	return report, err
}

func (p *Pipeline) load(ctx context.Context, force bool) (*LoadReport, []paper.FlatRecord, error) {
	report := &LoadReport{Checkpoint: p.checkpointPath()}
	var records []paper.FlatRecord

	err := p.stage(StageLoad, func() error {
		paths, err := loader.Discover(p.fs, p.cfg.RawDir)
		if err != nil {
			return fmt.Errorf("discovering raw files: %w", err)
		}
		report.Files = len(paths)

		fp, err := storage.Fingerprint(p.fs, paths)
		if err != nil {
			return err
		}
		report.Fingerprint = fp

		if !force {
			reused, recs, failures, err := p.reuse(fp)
			if err != nil {
				return err
			}
			if reused {
				report.Reused = true
				report.Records = len(recs)
				report.Failed = len(failures)
				report.Failures = failures
				records = recs
				p.logger.Info().Str("checkpoint", report.Checkpoint).Msg("raw files unchanged, reusing checkpoint")
				return nil
			}
		}

		l := loader.New(
			loader.WithFs(p.fs),
			loader.WithWorkers(p.cfg.Load.Workers),
			loader.WithLogger(p.logger),
			loader.WithMetrics(p.metrics),
		)
		res, err := l.Load(ctx, paths)
		if err != nil {
			return err
		}

		records = res.Records
		report.Records = len(res.Records)
		report.Failed = len(res.Failures)
		for _, f := range res.Failures {
			report.Failures = append(report.Failures, Failure{Path: f.Path, Error: f.Err.Error()})
		}

		if err := storage.WriteCheckpoint(report.Checkpoint, records); err != nil {
			return fmt.Errorf("writing checkpoint: %w", err)
		}
		if err := WriteFailures(p.failuresPath(), report.Failures); err != nil {
			return err
		}
		// The fingerprint goes last: it marks the checkpoint and failures complete.
		return storage.WriteFingerprint(p.fingerprintPath(), fp)
	})
	if err != nil {
		return nil, nil, err
	}
	return report, records, nil
}

// reuse returns the stored records and load failures when the stored
// fingerprint matches and both files are present.
func (p *Pipeline) reuse(fingerprint string) (bool, []paper.FlatRecord, []Failure, error) {
	stored, err := storage.ReadFingerprint(p.fingerprintPath())
	if err != nil || stored != fingerprint {
		return false, nil, nil, err
	}
	if _, err := os.Stat(p.checkpointPath()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil, nil, nil
		}
		return false, nil, nil, err
	}
	failures, found, err := ReadFailures(p.failuresPath())
	if err != nil || !found {
		return false, nil, nil, err
	}
	recs, err := storage.ReadCheckpoint(p.checkpointPath())
	if err != nil {
		return false, nil, nil, err
	}
	return true, recs, failures, nil
}

// Normalize builds tables from the checkpoint. A structural violation is
// returned as an error wrapping check.ErrIntegrity.
func (p *Pipeline) Normalize() (*NormalizeReport, *paper.Tables, error) {
	records, err := storage.ReadCheckpoint(p.checkpointPath())
	if err != nil {
		return nil, nil, err
	}
	return p.normalize(records)
}

func (p *Pipeline) normalize(records []paper.FlatRecord) (*NormalizeReport, *paper.Tables, error) {
	var (
		tables *paper.Tables
		stats  normalize.Stats
	)
	err := p.stage(StageNormalize, func() error {
		var err error
		tables, stats, err = normalize.New(p.logger, p.metrics).Run(records)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &NormalizeReport{Stats: stats, Rows: tables.Counts()}, tables, nil
}

// Validate runs the row-level checks. Issues are reported, not fatal.
func (p *Pipeline) Validate(t *paper.Tables) []check.Issue {
	var issues []check.Issue
	_ = p.stage(StageValidate, func() error {
		issues = check.Rows(t)
		return nil
	})
	if len(issues) > 0 {
		p.logger.Warn().Int("issues", len(issues)).Str("first", issues[0].String()).Msg("row validation issues")
	}
	return issues
}

// Persist writes t in every configured output and the manifest.
func (p *Pipeline) Persist(ctx context.Context, t *paper.Tables, fingerprint string) (*PersistReport, error) {
	report := &PersistReport{}
	err := p.stage(StagePersist, func() error {
		dir := p.cfg.ProcessedDir
		files := make(map[string][]string)

		if p.cfg.HasFormat(config.FormatCSV) {
			paths, err := export.WriteCSV(dir, t)
			if err != nil {
				return err
			}
			addFiles(files, paths)
			report.Files = append(report.Files, paths...)
		}
		if p.cfg.HasFormat(config.FormatParquet) {
			paths, err := export.WriteParquet(dir, t)
			if err != nil {
				return err
			}
			addFiles(files, paths)
			report.Files = append(report.Files, paths...)
		}

		hash, err := storage.ComputeHash(p.checkpointPath())
		if err != nil {
			return err
		}

		if p.cfg.Output.SQLite {
			path := config.DBPath(p.cfg.Root)
			if err := RebuildSQLite(path, t, hash); err != nil {
				return err
			}
			report.SQLite = path
		}

		if p.postgres != nil {
			counts, err := p.postgres.Write(ctx, t)
			if err != nil {
				return fmt.Errorf("writing postgres: %w", err)
			}
			report.Postgres = counts
		}

		report.Manifest = config.ManifestPath(dir)
		m := NewManifest(p.runID, hash, fingerprint, p.cfg.Output.Formats, t, files, dir)
		return WriteManifest(report.Manifest, m)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// addFiles groups written paths by table, relying on write order matching
// paper.TableNames.
func addFiles(files map[string][]string, paths []string) {
	for i, path := range paths {
		if i < len(paper.TableNames) {
			name := paper.TableNames[i]
			files[name] = append(files[name], path)
		}
	}
}

// RebuildSQLite replaces the SQLite index at path with t.
func RebuildSQLite(path string, t *paper.Tables, hash string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	db, err := storage.OpenDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.RebuildFromTables(t, hash); err != nil {
		return fmt.Errorf("rebuilding sqlite: %w", err)
	}
	return nil
}

// Run executes load, normalize, validate and persist. The metrics textfile
// is written when configured, even after a failed stage.
func (p *Pipeline) Run(ctx context.Context, force bool) (*RunReport, error) {
	start := time.Now()
	report := &RunReport{RunID: p.runID}
	defer p.writeTextfile()

	load, records, err := p.load(ctx, force)
	if err != nil {
		return nil, err
	}
	report.Load = *load

	norm, tables, err := p.normalize(records)
	if err != nil {
		return nil, err
	}
	report.Normalize = *norm

	report.Issues = p.Validate(tables)

	persist, err := p.Persist(ctx, tables, load.Fingerprint)
	if err != nil {
		return nil, err
	}
	report.Persist = *persist

	report.Duration = time.Since(start)
	p.logger.Info().Dur("duration", report.Duration).Int("papers", len(tables.Papers)).Msg("run complete")
	return report, nil
}

func (p *Pipeline) writeTextfile() {
	if p.cfg.Metrics.Textfile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(p.cfg.Metrics.Textfile), 0755); err != nil {
		p.logger.Warn().Err(err).Msg("creating metrics dir")
		return
	}
	if err := p.metrics.WriteTextfile(p.cfg.Metrics.Textfile); err != nil {
		p.logger.Warn().Err(err).Msg("writing metrics textfile")
	}
}

// Check reads the persisted CSV tables and runs every check over them.
func Check(dir string) (*paper.Tables, []check.Issue, error) {
	t, err := export.ReadCSV(dir)
	if err != nil {
		return nil, nil, err
	}
	return t, check.All(t), nil
}
