package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("poll_interval = %s, want 1s", cfg.PollInterval)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("max_attempts = %d, want 3", cfg.MaxAttempts)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("poll_interval: 2s\nmax_attempts: 5\nprotected_paths:\n  - /etc/critical.conf\n")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("poll_interval = %s, want 2s", cfg.PollInterval)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d, want 5", cfg.MaxAttempts)
	}
	// Untouched fields keep their defaults.
	if cfg.RelockAfter != 10 {
		t.Errorf("relock_after = %d, want default 10", cfg.RelockAfter)
	}
	if len(cfg.ProtectedPaths) != 1 || cfg.ProtectedPaths[0] != "/etc/critical.conf" {
		t.Errorf("protected_paths = %v", cfg.ProtectedPaths)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvDataDir, "/var/lib/applock")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log_level = %q, want warn", cfg.LogLevel)
	}
	if cfg.DataDir != "/var/lib/applock" {
		t.Errorf("data_dir = %q", cfg.DataDir)
	}
	if cfg.BackupDir != filepath.Join("/var/lib/applock", "backup") {
		t.Errorf("backup_dir = %q", cfg.BackupDir)
	}
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero poll", func(c *Config) { c.PollInterval = 0 }},
		{"huge poll", func(c *Config) { c.PollInterval = time.Hour }},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }},
		{"zero relock", func(c *Config) { c.RelockAfter = 0 }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted invalid config")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := Default()
	cfg.MaxAttempts = 7
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.MaxAttempts != 7 {
		t.Errorf("max_attempts = %d, want 7", loaded.MaxAttempts)
	}
}
