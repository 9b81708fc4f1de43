// Package config handles workspace and global configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/matsen/scholartab/internal/observability"
	"github.com/matsen/scholartab/internal/paper"
)

const (
	WorkspaceDir    = ".scholartab"
	ConfigName      = "config"
	ConfigFile      = "config.yml"
	CheckpointFile  = "merged.jsonl"
	FingerprintFile = "merged.fingerprint"
	FailuresFile    = "merged.failures.json"
	ManifestFile    = "manifest.yml"
	CacheDir        = "cache"
	DBFile          = "tables.db"
	EnvFile         = ".env"

	// EnvPrefix prefixes environment overrides, e.g. SCHOLARTAB_LOAD_WORKERS.
	EnvPrefix = "SCHOLARTAB"
)

// Output formats for the normalized tables.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// ErrWorkspaceNotFound is returned when no .scholartab directory is found.
var ErrWorkspaceNotFound = errors.New("not in a scholartab workspace (no .scholartab directory found)")

// Config is the workspace configuration read from .scholartab/config.yml
// with environment overrides.
type Config struct {
	// Root is the workspace directory. Not read from the file.
	Root string `mapstructure:"-"`

	RawDir       string `mapstructure:"raw_dir"`
	ProcessedDir string `mapstructure:"processed_dir"`

	Load       LoadConfig                  `mapstructure:"load"`
	Output     OutputConfig                `mapstructure:"output"`
	Postgres   PostgresConfig              `mapstructure:"postgres"`
	Logging    observability.LoggingConfig `mapstructure:"logging"`
	Metrics    MetricsConfig               `mapstructure:"metrics"`
	Server     ServerConfig                `mapstructure:"server"`
	Classifier ClassifierConfig            `mapstructure:"classifier"`
	Dashboard  DashboardConfig             `mapstructure:"dashboard"`
}

// LoadConfig controls the bulk loader. Zero workers means one per CPU.
type LoadConfig struct {
	Workers int `mapstructure:"workers"`
}

type OutputConfig struct {
	Formats []string `mapstructure:"formats"`
	SQLite  bool     `mapstructure:"sqlite"`
}

// PostgresConfig enables the Postgres sink when DSN is set. The DSN is a
// secret and comes from the environment or the global config only.
type PostgresConfig struct {
	DSN     string `mapstructure:"-"`
	Migrate bool   `mapstructure:"migrate"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type ClassifierConfig struct {
	URL          string        `mapstructure:"url"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SubjectsPath string        `mapstructure:"subjects_path"`
	APIKey       string        `mapstructure:"-"`
}

type DashboardConfig struct {
	CacheSize int `mapstructure:"cache_size"`
}

// WorkspacePath returns the path to the .scholartab directory from a root path.
func WorkspacePath(root string) string {
	return filepath.Join(root, WorkspaceDir)
}

// ConfigPath returns the path to config.yml from a root path.
func ConfigPath(root string) string {
	return filepath.Join(root, WorkspaceDir, ConfigFile)
}

// CheckpointPath returns the merged-record checkpoint inside dir.
func CheckpointPath(dir string) string {
	return filepath.Join(dir, CheckpointFile)
}

// FingerprintPath returns the raw-corpus fingerprint stored next to the
// checkpoint in dir.
func FingerprintPath(dir string) string {
	return filepath.Join(dir, FingerprintFile)
}

// FailuresPath returns the per-file load failures recorded with the
// checkpoint in dir.
func FailuresPath(dir string) string {
	return filepath.Join(dir, FailuresFile)
}

// ManifestPath returns the run manifest inside dir.
func ManifestPath(dir string) string {
	return filepath.Join(dir, ManifestFile)
}

// DBPath returns the path to the SQLite index from a root path.
func DBPath(root string) string {
	return filepath.Join(root, WorkspaceDir, CacheDir, DBFile)
}

// IsWorkspace checks if the given path contains a scholartab workspace.
func IsWorkspace(root string) bool {
	info, err := os.Stat(WorkspacePath(root))
	return err == nil && info.IsDir()
}

// FindRepository walks up from the given path to find a workspace.
// Returns the workspace root or ErrWorkspaceNotFound.
func FindRepository(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	for {
		if IsWorkspace(abs) {
			return abs, nil
		}

		parent := filepath.Dir(abs)
		if parent == abs {
			return "", ErrWorkspaceNotFound
		}
		abs = parent
	}
}

// Load reads the workspace configuration at root. Values come from, in
// increasing priority: defaults, config.yml, .env, and SCHOLARTAB_*
// environment variables.
func Load(root string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(root, EnvFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", EnvFile, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName(ConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(WorkspacePath(root))

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Root = root
	cfg.RawDir = resolve(root, cfg.RawDir)
	cfg.ProcessedDir = resolve(root, cfg.ProcessedDir)
	cfg.Classifier.SubjectsPath = resolve(root, cfg.Classifier.SubjectsPath)
	cfg.Metrics.Textfile = resolve(root, cfg.Metrics.Textfile)

	if err := loadSecrets(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// loadSecrets fills fields that never live in the workspace file. The
// environment wins over the global config.
func loadSecrets(cfg *Config) error {
	global, err := LoadGlobalConfig()
	if err != nil {
		return err
	}

	cfg.Postgres.DSN = firstNonEmpty(os.Getenv(EnvPrefix+"_POSTGRES_DSN"), global.PostgresDSN)
	cfg.Classifier.APIKey = firstNonEmpty(os.Getenv(EnvPrefix+"_CLASSIFIER_API_KEY"), global.ClassifierAPIKey)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func resolve(root, path string) string {
	if path == "" {
		return ""
	}
	path = ExpandPath(path)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("raw_dir", "data/raw")
	v.SetDefault("processed_dir", "data/processed")

	v.SetDefault("load.workers", 0)

	v.SetDefault("output.formats", []string{FormatCSV})
	v.SetDefault("output.sqlite", true)

	v.SetDefault("postgres.migrate", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("server.addr", "127.0.0.1:8050")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("classifier.url", "")
	v.SetDefault("classifier.rate_limit", 5.0)
	v.SetDefault("classifier.timeout", "30s")
	v.SetDefault("classifier.subjects_path", "data/subjects.csv")

	v.SetDefault("dashboard.cache_size", 32)
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.RawDir == "" {
		return fmt.Errorf("raw_dir is required")
	}
	if c.ProcessedDir == "" {
		return fmt.Errorf("processed_dir is required")
	}
	if c.Load.Workers < 0 {
		return fmt.Errorf("invalid load.workers: %d", c.Load.Workers)
	}
	for _, f := range c.Output.Formats {
		if !slices.Contains(ValidFormats, f) {
			return fmt.Errorf("invalid output format: %s (valid: %v)", f, ValidFormats)
		}
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Logging.Format)
	}

	if c.Classifier.RateLimit <= 0 {
		return fmt.Errorf("classifier.rate_limit must be positive")
	}
	if c.Dashboard.CacheSize < len(paper.TableNames) {
		return fmt.Errorf("dashboard.cache_size must be at least %d, one entry per table", len(paper.TableNames))
	}
	return nil
}

// ValidFormats lists the supported output.formats values.
var ValidFormats = []string{FormatCSV, FormatParquet}

// HasFormat reports whether the given output format is enabled.
func (c *Config) HasFormat(format string) bool {
	return slices.Contains(c.Output.Formats, format)
}

// Init creates a workspace at root with a default config.yml. An existing
// config file is left untouched.
func Init(root string) error {
	if err := os.MkdirAll(filepath.Join(WorkspacePath(root), CacheDir), 0755); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}

	path := ConfigPath(root)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	v := viper.New()
	setDefaults(v)
	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[1:])
}
