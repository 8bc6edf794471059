// Package config loads the engine configuration: defaults first, then
// the YAML config file, then environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the config file.
const (
	EnvConfig   = "APPLOCK_CONFIG"
	EnvDataDir  = "APPLOCK_DATA_DIR"
	EnvLogLevel = "APPLOCK_LOG_LEVEL"
)

// Config is the engine configuration. Every behavioral tunable (poll
// cadence, retry limit, relock threshold) lives here instead of being
// hardcoded.
type Config struct {
	// DataDir holds the vault, recovery codes and state database.
	DataDir string `yaml:"data_dir"`
	// BackupDir holds the vault backup copy and protected-file backups.
	// Kept separate from DataDir so one damaged directory never takes
	// out both copies.
	BackupDir string `yaml:"backup_dir"`

	// PollInterval is the process-scan cadence of the monitor.
	PollInterval time.Duration `yaml:"poll_interval"`
	// WatcherInterval is the protected-file verification cadence.
	WatcherInterval time.Duration `yaml:"watcher_interval"`
	// MaxAttempts is the wrong-password limit before the triggering
	// process is terminated.
	MaxAttempts int `yaml:"max_attempts"`
	// RelockAfter is the number of consecutive scans without any group
	// process before an unlocked app returns to locked.
	RelockAfter int `yaml:"relock_after"`

	// ProtectedPaths are guarded by the file-protection subsystem while
	// the monitor runs.
	ProtectedPaths []string `yaml:"protected_paths"`

	LogLevel string `yaml:"log_level"`
}

// DefaultPath returns the per-user config file location, honoring the
// APPLOCK_CONFIG override.
func DefaultPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "applock", "config.yaml")
}

// Default returns the built-in configuration.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		DataDir:         filepath.Join(home, ".applock"),
		BackupDir:       filepath.Join(home, ".applock", "backup"),
		PollInterval:    time.Second,
		WatcherInterval: 5 * time.Second,
		MaxAttempts:     3,
		RelockAfter:     10,
		LogLevel:        "info",
	}
}

// Load reads the config file at path (DefaultPath when empty) over the
// defaults. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults plus env only.
	case err != nil:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
		c.BackupDir = filepath.Join(v, "backup")
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Validate bounds the tunables: small, bounded, never zero or negative.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.BackupDir == "" {
		return fmt.Errorf("backup_dir must not be empty")
	}
	if c.PollInterval < 100*time.Millisecond || c.PollInterval > time.Minute {
		return fmt.Errorf("poll_interval %s out of range [100ms, 1m]", c.PollInterval)
	}
	if c.WatcherInterval < time.Second || c.WatcherInterval > 10*time.Minute {
		return fmt.Errorf("watcher_interval %s out of range [1s, 10m]", c.WatcherInterval)
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return fmt.Errorf("max_attempts %d out of range [1, 10]", c.MaxAttempts)
	}
	if c.RelockAfter < 1 || c.RelockAfter > 1000 {
		return fmt.Errorf("relock_after %d out of range [1, 1000]", c.RelockAfter)
	}
	return nil
}

// Save writes the config to path (DefaultPath when empty).
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// StatePath returns the state database location under DataDir.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "state.db")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "monitor.lock")
}
