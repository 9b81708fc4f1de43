package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/matsen/scholartab/internal/config"
)

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after defaults, config.yml, .env and
SCHOLARTAB_* environment overrides are applied. Secrets are shown only
as set or unset.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

// ConfigResponse is the effective configuration with secrets redacted.
type ConfigResponse struct {
	Root         string   `json:"root" yaml:"root"`
	ConfigFile   string   `json:"config_file" yaml:"config_file"`
	RawDir       string   `json:"raw_dir" yaml:"raw_dir"`
	ProcessedDir string   `json:"processed_dir" yaml:"processed_dir"`
	Workers      int      `json:"load_workers" yaml:"load_workers"`
	Formats      []string `json:"output_formats" yaml:"output_formats"`
	SQLite       bool     `json:"output_sqlite" yaml:"output_sqlite"`
	Postgres     string   `json:"postgres_dsn" yaml:"postgres_dsn"`
	Migrate      bool     `json:"postgres_migrate" yaml:"postgres_migrate"`
	LogLevel     string   `json:"log_level" yaml:"log_level"`
	LogFormat    string   `json:"log_format" yaml:"log_format"`
	Textfile     string   `json:"metrics_textfile,omitempty" yaml:"metrics_textfile,omitempty"`
	ServerAddr   string   `json:"server_addr" yaml:"server_addr"`
	Classifier   string   `json:"classifier_url,omitempty" yaml:"classifier_url,omitempty"`
	APIKey       string   `json:"classifier_api_key" yaml:"classifier_api_key"`
	Subjects     string   `json:"classifier_subjects_path" yaml:"classifier_subjects_path"`
	CacheSize    int      `json:"dashboard_cache_size" yaml:"dashboard_cache_size"`
}

func secretState(s string) string {
	if s == "" {
		return "unset"
	}
	return "set"
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig(mustFindWorkspace())

	resp := ConfigResponse{
		Root:         cfg.Root,
		ConfigFile:   config.ConfigPath(cfg.Root),
		RawDir:       cfg.RawDir,
		ProcessedDir: cfg.ProcessedDir,
		Workers:      cfg.Load.Workers,
		Formats:      cfg.Output.Formats,
		SQLite:       cfg.Output.SQLite,
		Postgres:     secretState(cfg.Postgres.DSN),
		Migrate:      cfg.Postgres.Migrate,
		LogLevel:     cfg.Logging.Level,
		LogFormat:    cfg.Logging.Format,
		Textfile:     cfg.Metrics.Textfile,
		ServerAddr:   cfg.Server.Addr,
		Classifier:   cfg.Classifier.URL,
		APIKey:       secretState(cfg.Classifier.APIKey),
		Subjects:     cfg.Classifier.SubjectsPath,
		CacheSize:    cfg.Dashboard.CacheSize,
	}

	if humanOutput {
		data, err := yaml.Marshal(resp)
		if err != nil {
			exitWithError(ExitError, "encoding config: %v", err)
		}
		fmt.Print(string(data))
		return nil
	}
	return outputJSON(resp)
}
