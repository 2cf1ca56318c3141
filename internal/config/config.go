// Package config provides Harlowe configuration loading.
//
// Configuration lives at ~/.config/harlowe/config.toml and is created with
// defaults on first load. Everything the core needs is taken by
// construction; there is no process-wide state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the Harlowe session configuration.
type Config struct {
	// ClaudeCommand is the assistant executable to spawn for each invocation.
	ClaudeCommand string `toml:"claude_command"`

	// ResourceFiles are read-only reference files copied into every
	// workspace alongside the document.
	ResourceFiles []string `toml:"resource_files,omitempty"`

	// MaxConcurrent limits how many threads may be in their subprocess
	// phase at once. Zero means unlimited.
	MaxConcurrent int `toml:"max_concurrent"`

	// WorkspaceRoot is where ephemeral workspaces are created.
	// Defaults to the OS temp directory.
	WorkspaceRoot string `toml:"workspace_root,omitempty"`

	// PreserveWorkspaces keeps every workspace on disk after release.
	// For debugging only; failed invocations are preserved regardless.
	PreserveWorkspaces bool `toml:"preserve_workspaces"`

	// Timeouts contains the subprocess and scheduling bounds.
	Timeouts TimeoutConfig `toml:"timeouts"`
}

// TimeoutConfig contains timing bounds for thread execution.
type TimeoutConfig struct {
	// Subprocess is the ceiling on any one assistant invocation.
	Subprocess Duration `toml:"subprocess"`

	// Terminate is how long to wait for graceful subprocess exit
	// before killing.
	Terminate Duration `toml:"terminate"`

	// TaskWait is how long send_message waits for a thread's prior
	// task before cancelling it.
	TaskWait Duration `toml:"task_wait"`
}

// Duration is a wrapper for time.Duration that supports TOML marshaling.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler for Duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return d.Duration.String()
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		ClaudeCommand: "claude",
		MaxConcurrent: 0,
		Timeouts: TimeoutConfig{
			Subprocess: Duration{300 * time.Second},
			Terminate:  Duration{5 * time.Second},
			TaskWait:   Duration{10 * time.Second},
		},
	}
}

// Path returns the config file path.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "harlowe", "config.toml"), nil
}

// Load reads the configuration, creating the default file if none exists.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads configuration from an explicit path, creating it with
// defaults if missing.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is the user's own config
	if err != nil {
		if os.IsNotExist(err) {
			if err := cfg.Save(path); err != nil {
				// A read-only config dir is not fatal; run with defaults.
				return cfg, nil
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyFloors()
	return cfg, nil
}

// Save writes the configuration to the given path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}

// applyFloors backfills zero timeouts with defaults so a partial config
// file cannot disable the bounds.
func (c *Config) applyFloors() {
	def := Default()
	if c.ClaudeCommand == "" {
		c.ClaudeCommand = def.ClaudeCommand
	}
	if c.Timeouts.Subprocess.Duration <= 0 {
		c.Timeouts.Subprocess = def.Timeouts.Subprocess
	}
	if c.Timeouts.Terminate.Duration <= 0 {
		c.Timeouts.Terminate = def.Timeouts.Terminate
	}
	if c.Timeouts.TaskWait.Duration <= 0 {
		c.Timeouts.TaskWait = def.Timeouts.TaskWait
	}
}

// ValidResourceFiles filters the configured resource files down to the
// ones that exist, warning about the rest on stderr.
func (c *Config) ValidResourceFiles() []string {
	var valid []string
	for _, file := range c.ResourceFiles {
		path := expandHome(file)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			fmt.Fprintf(os.Stderr, "Warning: resource file not found: %s\n", file)
			continue
		}
		valid = append(valid, path)
	}
	return valid
}

// expandHome expands a leading ~/ to the user's home directory.
func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
