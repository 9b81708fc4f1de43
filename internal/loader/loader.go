// Package loader reads a tree of raw documents into flattened records using
// a sharded fork-join.
package loader

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"github.com/matsen/scholartab/internal/flatten"
	"github.com/matsen/scholartab/internal/observability"
	"github.com/matsen/scholartab/internal/paper"
)

// FileError records why one raw file was skipped.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// ShardResult is the output of loading one shard.
type ShardResult struct {
	Records  []paper.FlatRecord
	Failures []*FileError
}

// Result is the merged output of a load, in shard-index order.
type Result struct {
	Records  []paper.FlatRecord
	Failures []*FileError
	Files    int
	Shards   int
}

// Err combines all per-file failures, or returns nil.
func (r *Result) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, f)
	}
	return err
}

// Loader loads raw documents from a filesystem.
type Loader struct {
	fs      afero.Fs
	workers int
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// Option configures a Loader.
type Option func(*Loader)

// WithFs sets the filesystem. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(l *Loader) { l.fs = fs }
}

// WithWorkers sets the number of shards. Values below 1 mean one per CPU.
func WithWorkers(n int) Option {
	return func(l *Loader) { l.workers = n }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loader) { l.logger = observability.WithComponent(logger, "loader") }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// New creates a Loader.
func New(opts ...Option) *Loader {
	l := &Loader{
		fs:     afero.NewOsFs(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.workers < 1 {
		l.workers = runtime.NumCPU()
	}
	return l
}

// Workers returns the configured shard count.
func (l *Loader) Workers() int {
	return l.workers
}

// Discover returns every regular, non-hidden file under root in sorted
// order. Hidden directories are not descended into.
func Discover(fs afero.Fs, root string) ([]string, error) {
	var paths []string
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		name := info.Name()
		if path != root && strings.HasPrefix(name, ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Mode().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Shard partitions paths into n disjoint groups by hashing each path.
// Assignment depends only on the path, and input order is kept inside
// each shard.
func Shard(paths []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	shards := make([][]string, n)
	for _, p := range paths {
		i := shardIndex(p, n)
		shards[i] = append(shards[i], p)
	}
	return shards
}

func shardIndex(path string, n int) int {
	sum := blake2b.Sum256([]byte(path))
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(n))
}

// LoadShard flattens each file in paths. Failures are logged and skipped.
// It stops early only when ctx is cancelled.
func LoadShard(ctx context.Context, fs afero.Fs, paths []string, logger zerolog.Logger) (ShardResult, error) {
	var res ShardResult
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, err := loadFile(fs, p)
		if err != nil {
			logger.Warn().Str("path", p).Err(err).Msg("skipping file")
			res.Failures = append(res.Failures, &FileError{Path: p, Err: err})
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

func loadFile(fs afero.Fs, path string) (rec paper.FlatRecord, err error) {
	// A malformed document must not take down its shard.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while flattening: %v", r)
		}
	}()

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return paper.FlatRecord{}, fmt.Errorf("reading file: %w", err)
	}
	rec, err = flatten.Parse(data)
	if err != nil {
		return paper.FlatRecord{}, err
	}
	rec.Source = path
	return rec, nil
}

// LoadDir discovers files under root and loads them.
func (l *Loader) LoadDir(ctx context.Context, root string) (*Result, error) {
	paths, err := Discover(l.fs, root)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, paths)
}

// Load shards paths and loads each shard concurrently. Each worker writes
// only its own slot, and the merged records follow shard-index order.
func (l *Loader) Load(ctx context.Context, paths []string) (*Result, error) {
	shards := Shard(paths, l.workers)
	results := make([]ShardResult, len(shards))

	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range shards {
		g.Go(func() error {
			start := time.Now()
			res, err := LoadShard(gctx, l.fs, shard, l.logger.With().Int("shard", i).Logger())
			if err != nil {
				return err
			}
			results[i] = res
			if l.metrics != nil {
				l.metrics.LoadDuration.Observe(time.Since(start).Seconds())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading shards: %w", err)
	}

	merged := &Result{Files: len(paths), Shards: len(shards)}
	for _, r := range results {
		merged.Records = append(merged.Records, r.Records...)
		merged.Failures = append(merged.Failures, r.Failures...)
	}

	if l.metrics != nil {
		l.metrics.FilesLoaded.Add(float64(len(merged.Records)))
		l.metrics.FilesFailed.Add(float64(len(merged.Failures)))
	}
	l.logger.Info().
		Int("files", merged.Files).
		Int("records", len(merged.Records)).
		Int("failed", len(merged.Failures)).
		Int("shards", merged.Shards).
		Msg("load complete")

	return merged, nil
}
