package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate points the global config at an empty directory for one test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	ResetGlobalConfigCache()
	t.Cleanup(ResetGlobalConfigCache)
}

func newWorkspace(t *testing.T, configYAML string) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(WorkspacePath(root), 0755); err != nil {
		t.Fatalf("creating workspace: %v", err)
	}
	if configYAML != "" {
		if err := os.WriteFile(ConfigPath(root), []byte(configYAML), 0644); err != nil {
			t.Fatalf("writing config: %v", err)
		}
	}
	return root
}

func TestPathFunctions(t *testing.T) {
	root := "/test/ws"

	tests := []struct {
		name string
		fn   func(string) string
		want string
	}{
		{"WorkspacePath", WorkspacePath, "/test/ws/.scholartab"},
		{"ConfigPath", ConfigPath, "/test/ws/.scholartab/config.yml"},
		{"DBPath", DBPath, "/test/ws/.scholartab/cache/tables.db"},
		{"CheckpointPath", CheckpointPath, "/test/ws/merged.jsonl"},
		{"FingerprintPath", FingerprintPath, "/test/ws/merged.fingerprint"},
		{"FailuresPath", FailuresPath, "/test/ws/merged.failures.json"},
		{"ManifestPath", ManifestPath, "/test/ws/manifest.yml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.fn(root)
			if got != tt.want {
				t.Errorf("%s(%q) = %q, want %q", tt.name, root, got, tt.want)
			}
		})
	}
}

func TestIsWorkspace(t *testing.T) {
	tmpDir := t.TempDir()

	if IsWorkspace(tmpDir) {
		t.Error("IsWorkspace() = true for plain directory")
	}

	if err := os.WriteFile(WorkspacePath(tmpDir), []byte("not a dir"), 0644); err != nil {
		t.Fatal(err)
	}
	if IsWorkspace(tmpDir) {
		t.Error("IsWorkspace() = true when .scholartab is a file")
	}

	other := t.TempDir()
	if err := os.Mkdir(WorkspacePath(other), 0755); err != nil {
		t.Fatal(err)
	}
	if !IsWorkspace(other) {
		t.Error("IsWorkspace() = false for workspace")
	}
}

func TestFindRepository(t *testing.T) {
	root := newWorkspace(t, "")
	nested := filepath.Join(root, "data", "raw", "2021")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	got, err := FindRepository(nested)
	if err != nil {
		t.Fatalf("FindRepository() error = %v", err)
	}
	want, _ := filepath.Abs(root)
	if got != want {
		t.Errorf("FindRepository() = %q, want %q", got, want)
	}

	_, err = FindRepository(t.TempDir())
	if !errors.Is(err, ErrWorkspaceNotFound) {
		t.Errorf("FindRepository() outside workspace error = %v, want ErrWorkspaceNotFound", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	root := newWorkspace(t, "")

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Root != root {
		t.Errorf("Root = %q, want %q", cfg.Root, root)
	}
	if want := filepath.Join(root, "data", "raw"); cfg.RawDir != want {
		t.Errorf("RawDir = %q, want %q", cfg.RawDir, want)
	}
	if want := filepath.Join(root, "data", "processed"); cfg.ProcessedDir != want {
		t.Errorf("ProcessedDir = %q, want %q", cfg.ProcessedDir, want)
	}
	if cfg.Load.Workers != 0 {
		t.Errorf("Load.Workers = %d, want 0", cfg.Load.Workers)
	}
	if !cfg.HasFormat(FormatCSV) || cfg.HasFormat(FormatParquet) {
		t.Errorf("Output.Formats = %v, want [csv]", cfg.Output.Formats)
	}
	if !cfg.Output.SQLite {
		t.Error("Output.SQLite should default to true")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Dashboard.CacheSize != 32 {
		t.Errorf("Dashboard.CacheSize = %d, want 32", cfg.Dashboard.CacheSize)
	}
	if cfg.Postgres.DSN != "" {
		t.Errorf("Postgres.DSN = %q, want empty", cfg.Postgres.DSN)
	}
}

func TestLoadFromFile(t *testing.T) {
	isolate(t)
	root := newWorkspace(t, `
raw_dir: /abs/raw
processed_dir: out
load:
  workers: 4
output:
  formats: [csv, parquet]
  sqlite: false
logging:
  level: debug
  format: console
classifier:
  url: http://localhost:9000
  timeout: 5s
`)

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RawDir != "/abs/raw" {
		t.Errorf("RawDir = %q, want absolute path kept", cfg.RawDir)
	}
	if want := filepath.Join(root, "out"); cfg.ProcessedDir != want {
		t.Errorf("ProcessedDir = %q, want %q", cfg.ProcessedDir, want)
	}
	if cfg.Load.Workers != 4 {
		t.Errorf("Load.Workers = %d, want 4", cfg.Load.Workers)
	}
	if !cfg.HasFormat(FormatParquet) {
		t.Errorf("Output.Formats = %v, want parquet enabled", cfg.Output.Formats)
	}
	if cfg.Output.SQLite {
		t.Error("Output.SQLite = true, want false")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Classifier.URL != "http://localhost:9000" || cfg.Classifier.Timeout != 5*time.Second {
		t.Errorf("Classifier = %+v", cfg.Classifier)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	root := newWorkspace(t, "load:\n  workers: 4\n")

	t.Setenv("SCHOLARTAB_LOAD_WORKERS", "2")
	t.Setenv("SCHOLARTAB_POSTGRES_DSN", "postgres://localhost/scholartab")

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Load.Workers != 2 {
		t.Errorf("Load.Workers = %d, want env override 2", cfg.Load.Workers)
	}
	if cfg.Postgres.DSN != "postgres://localhost/scholartab" {
		t.Errorf("Postgres.DSN = %q", cfg.Postgres.DSN)
	}
}

func TestLoadDotEnv(t *testing.T) {
	isolate(t)
	root := newWorkspace(t, "")
	// godotenv never overrides existing variables; t.Setenv restores the
	// empty value once the test ends.
	t.Setenv("SCHOLARTAB_CLASSIFIER_API_KEY", "")
	os.Unsetenv("SCHOLARTAB_CLASSIFIER_API_KEY")

	if err := os.WriteFile(filepath.Join(root, EnvFile), []byte("SCHOLARTAB_CLASSIFIER_API_KEY=from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Classifier.APIKey != "from-dotenv" {
		t.Errorf("Classifier.APIKey = %q, want from-dotenv", cfg.Classifier.APIKey)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"negative workers", "load:\n  workers: -1\n"},
		{"unknown format", "output:\n  formats: [xlsx]\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"bad log format", "logging:\n  format: xml\n"},
		{"zero rate limit", "classifier:\n  rate_limit: 0\n"},
		{"cache below table count", "dashboard:\n  cache_size: 4\n"},
		{"malformed yaml", "load: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			root := newWorkspace(t, tt.yaml)
			if _, err := Load(root); err == nil {
				t.Error("Load() expected error")
			}
		})
	}
}

func TestInit(t *testing.T) {
	isolate(t)
	root := t.TempDir()

	if err := Init(root); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if !IsWorkspace(root) {
		t.Fatal("Init() did not create the workspace")
	}
	if _, err := os.Stat(filepath.Dir(DBPath(root))); err != nil {
		t.Errorf("cache dir missing: %v", err)
	}

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() after Init error = %v", err)
	}
	if cfg.Dashboard.CacheSize != 32 {
		t.Errorf("Dashboard.CacheSize = %d, want 32", cfg.Dashboard.CacheSize)
	}

	// A second Init keeps user edits.
	custom := []byte("load:\n  workers: 7\n")
	if err := os.WriteFile(ConfigPath(root), custom, 0644); err != nil {
		t.Fatal(err)
	}
	if err := Init(root); err != nil {
		t.Fatalf("Init() again error = %v", err)
	}
	data, _ := os.ReadFile(ConfigPath(root))
	if string(data) != string(custom) {
		t.Errorf("Init() overwrote config: %q", data)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Cannot get home directory")
	}

	tests := []struct {
		in, want string
	}{
		{"~/data", filepath.Join(home, "data")},
		{"/abs/data", "/abs/data"},
		{"rel/data", "rel/data"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExpandPath(tt.in); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
