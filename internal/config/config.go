// Package config loads the process-level configuration file. It covers
// where the store lives and how the process logs; the runtime storage
// policy (limits, retention) is the persisted config row inside the store,
// which these values only seed or override at initialization.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// StorageOverrides optionally overrides persisted storage policy at
// initialization. Zero values mean "keep what is persisted".
type StorageOverrides struct {
	MaxNotebooks    int   `toml:"max_notebooks"`
	MaxTotalSize    int64 `toml:"max_total_size"`
	MaxFileSize     int64 `toml:"max_file_size"`
	RetentionDays   int   `toml:"retention_days"`
	CleanupMinutes  int   `toml:"cleanup_minutes"`
	DisableCompress bool  `toml:"disable_compression"`
}

// Config is the process configuration for nbstore
type Config struct {
	DataDir  string           `toml:"data_dir"`
	LogLevel string           `toml:"log_level"`
	Storage  StorageOverrides `toml:"storage"`
}

// Default returns the configuration used when no file is given
func Default() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return &Config{
		DataDir:  filepath.Join(home, ".nbstore"),
		LogLevel: "info",
	}, nil
}

// Load reads the TOML file at path, filling unset fields with defaults
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot work
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Storage.MaxNotebooks < 0 || c.Storage.MaxTotalSize < 0 || c.Storage.MaxFileSize < 0 {
		return fmt.Errorf("storage limits must not be negative")
	}
	return nil
}

// DBPath returns the store file location under the data dir
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "nbstore.db")
}
