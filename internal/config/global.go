package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// GlobalConfig represents configuration stored in ~/.config/stab/config.yml.
// Secrets belong here or in the environment, never in a workspace.
type GlobalConfig struct {
	WorkspacePath    string `yaml:"workspace_path,omitempty"`
	ClassifierAPIKey string `yaml:"classifier_api_key,omitempty"`
	PostgresDSN      string `yaml:"postgres_dsn,omitempty"`
}

const (
	// GlobalConfigDir is the directory name under XDG_CONFIG_HOME.
	GlobalConfigDir = "stab"
	// GlobalConfigFile is the config file name.
	GlobalConfigFile = "config.yml"
)

var globalConfigCache *GlobalConfig

// GlobalConfigPath returns the path to the global config file.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/stab/config.yml.
func GlobalConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, GlobalConfigDir, GlobalConfigFile)
}

// LoadGlobalConfig loads the global configuration file.
// Returns an empty config (not an error) if the file doesn't exist.
func LoadGlobalConfig() (*GlobalConfig, error) {
	if globalConfigCache != nil {
		return globalConfigCache, nil
	}

	path := GlobalConfigPath()
	if path == "" {
		return &GlobalConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &GlobalConfig{}, nil
		}
		return nil, fmt.Errorf("reading global config: %w", err)
	}

	var cfg GlobalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing global config: %w", err)
	}

	if cfg.WorkspacePath != "" {
		cfg.WorkspacePath = ExpandPath(cfg.WorkspacePath)
	}

	globalConfigCache = &cfg
	return &cfg, nil
}

// ResetGlobalConfigCache clears the cached global config.
// Useful for testing.
func ResetGlobalConfigCache() {
	globalConfigCache = nil
}

// ErrWorkspacePathNotExist is returned when the configured workspace_path
// is not a workspace.
var ErrWorkspacePathNotExist = errors.New("workspace_path is not a scholartab workspace")

// ResolveWorkspace finds the workspace containing start, falling back to
// workspace_path from the global config.
func ResolveWorkspace(start string) (string, error) {
	root, err := FindRepository(start)
	if err == nil {
		return root, nil
	}
	if !errors.Is(err, ErrWorkspaceNotFound) {
		return "", err
	}

	global, gerr := LoadGlobalConfig()
	if gerr != nil {
		return "", gerr
	}
	if global.WorkspacePath == "" {
		return "", ErrWorkspaceNotFound
	}
	if !IsWorkspace(global.WorkspacePath) {
		return "", fmt.Errorf("%w: %s", ErrWorkspacePathNotExist, global.WorkspacePath)
	}
	return global.WorkspacePath, nil
}

// HelpfulConfigMessage returns a hint for when no workspace was found.
func HelpfulConfigMessage() string {
	configPath := GlobalConfigPath()
	return fmt.Sprintf(`No scholartab workspace found.

Run 'stab init' in your project directory, or create %s to set a default:
  mkdir -p %s
  echo 'workspace_path: /path/to/your/workspace' > %s`,
		configPath,
		filepath.Dir(configPath),
		configPath)
}
