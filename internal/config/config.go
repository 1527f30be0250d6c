// Package config loads the service configuration from a YAML file layered
// over built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the service.
type Config struct {
	// DataDir is where the database lives. Defaults to ~/.cortex.
	DataDir string `yaml:"data_dir"`

	// DBFile is the database filename inside DataDir.
	DBFile string `yaml:"db_file"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Context ContextConfig `yaml:"context"`
	Scanner ScannerConfig `yaml:"scanner"`
}

// ContextConfig tunes conversation retrieval.
type ContextConfig struct {
	// DefaultLimit is the window size when a get_context request does
	// not specify one.
	DefaultLimit int `yaml:"default_limit"`
}

// ScannerConfig tunes the marker scanner.
type ScannerConfig struct {
	// MaxResults caps findings per scan when the request does not
	// specify one.
	MaxResults int `yaml:"max_results"`

	// IgnoreDirs are extra directory names skipped on every scan.
	IgnoreDirs []string `yaml:"ignore_dirs"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		DataDir:  filepath.Join(home, ".cortex"),
		DBFile:   "cortex.db",
		LogLevel: "info",
		Context:  ContextConfig{DefaultLimit: 20},
		Scanner:  ScannerConfig{MaxResults: 100},
	}
}

// Load reads the YAML file at path over the defaults. An empty path or a
// missing file yields the defaults; a present but malformed file is an
// error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// DBPath returns the full path of the database file.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, c.DBFile)
}
