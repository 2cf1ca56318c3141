package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.ClaudeCommand != "claude" {
		t.Errorf("ClaudeCommand = %q, want %q", cfg.ClaudeCommand, "claude")
	}
	if cfg.Timeouts.Subprocess.Duration != 300*time.Second {
		t.Errorf("Subprocess timeout = %v, want 300s", cfg.Timeouts.Subprocess)
	}
	if cfg.Timeouts.Terminate.Duration != 5*time.Second {
		t.Errorf("Terminate timeout = %v, want 5s", cfg.Timeouts.Terminate)
	}
	if cfg.Timeouts.TaskWait.Duration != 10*time.Second {
		t.Errorf("TaskWait timeout = %v, want 10s", cfg.Timeouts.TaskWait)
	}
}

func TestLoadFromCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: unexpected error: %v", err)
	}
	if cfg.ClaudeCommand != "claude" {
		t.Errorf("ClaudeCommand = %q, want default", cfg.ClaudeCommand)
	}

	// File should have been created with defaults
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file not created: %v", err)
	}
}

func TestLoadFromRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	original := Default()
	original.ClaudeCommand = "/usr/local/bin/claude"
	original.MaxConcurrent = 3
	original.ResourceFiles = []string{"/docs/style.md"}
	original.Timeouts.Subprocess = Duration{120 * time.Second}

	if err := original.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if loaded.ClaudeCommand != original.ClaudeCommand {
		t.Errorf("ClaudeCommand = %q, want %q", loaded.ClaudeCommand, original.ClaudeCommand)
	}
	if loaded.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %d, want 3", loaded.MaxConcurrent)
	}
	if len(loaded.ResourceFiles) != 1 || loaded.ResourceFiles[0] != "/docs/style.md" {
		t.Errorf("ResourceFiles = %v", loaded.ResourceFiles)
	}
	if loaded.Timeouts.Subprocess.Duration != 120*time.Second {
		t.Errorf("Subprocess timeout = %v, want 120s", loaded.Timeouts.Subprocess)
	}
}

func TestLoadFromBackfillsZeroTimeouts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	// A partial config with no timeouts section
	if err := os.WriteFile(path, []byte("claude_command = \"claude\"\nmax_concurrent = 2\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Timeouts.Subprocess.Duration != 300*time.Second {
		t.Errorf("Subprocess timeout = %v, want backfilled 300s", cfg.Timeouts.Subprocess)
	}
	if cfg.MaxConcurrent != 2 {
		t.Errorf("MaxConcurrent = %d, want 2", cfg.MaxConcurrent)
	}
}

func TestLoadFromInvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	if err := os.WriteFile(path, []byte("[timeouts]\nsubprocess = \"not-a-duration\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFrom(path); err == nil {
		t.Fatal("LoadFrom: expected error for invalid duration")
	}
}
