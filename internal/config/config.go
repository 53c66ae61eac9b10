// Package config holds all graphscope configuration. Settings load
// from a YAML file under the workspace's .graphscope directory, with
// environment variable overrides applied on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all graphscope configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Session settings
	Session SessionConfig `yaml:"session"`

	// Run archive
	Archive ArchiveConfig `yaml:"archive"`

	// Source watching
	Watcher WatcherConfig `yaml:"watcher"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// SessionConfig configures the debug session core.
type SessionConfig struct {
	// PreferredPort is probed upward when taken.
	PreferredPort int `yaml:"preferred_port"`
	// InterpreterPath is the command the remote runtime is launched with.
	InterpreterPath string `yaml:"interpreter_path"`
}

// ArchiveConfig configures the run history archive.
type ArchiveConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// WatcherConfig configures workflow source watching.
type WatcherConfig struct {
	Enabled    bool   `yaml:"enabled"`
	DebounceMs int    `yaml:"debounce_ms"`
	Ignore     string `yaml:"ignore,omitempty"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Dir        string          `yaml:"dir"`
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// DefaultConfig returns sensible defaults rooted at workspace.
func DefaultConfig(workspace string) Config {
	dir := filepath.Join(workspace, ".graphscope")
	return Config{
		Name:    "graphscope",
		Version: "1.0.0",
		Session: SessionConfig{
			PreferredPort:   9876,
			InterpreterPath: "python3",
		},
		Archive: ArchiveConfig{
			Enabled:      true,
			DatabasePath: filepath.Join(dir, "runs.db"),
		},
		Watcher: WatcherConfig{
			Enabled:    true,
			DebounceMs: 500,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
			Dir:       filepath.Join(dir, "logs"),
		},
	}
}

// DefaultPath returns the config file location for a workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, ".graphscope", "config.yaml")
}

// Load reads a config file and applies environment overrides. A
// missing file yields the defaults for the file's workspace.
func Load(path string) (Config, error) {
	workspace := filepath.Dir(filepath.Dir(path))
	cfg := DefaultConfig(workspace)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the config as YAML, creating the directory if needed.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides layers environment variables over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GRAPHSCOPE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Session.PreferredPort = port
		}
	}
	if v := os.Getenv("GRAPHSCOPE_INTERPRETER"); v != "" {
		c.Session.InterpreterPath = v
	}
	if v := os.Getenv("GRAPHSCOPE_DEBUG"); v != "" {
		if debug, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = debug
		}
	}
}

// Validate checks the settings a session cannot start without.
func (c Config) Validate() error {
	if c.Session.PreferredPort <= 0 || c.Session.PreferredPort > 65535 {
		return fmt.Errorf("preferred_port %d out of range", c.Session.PreferredPort)
	}
	if c.Session.InterpreterPath == "" {
		return fmt.Errorf("interpreter_path required")
	}
	if c.Logging.DebugMode && c.Logging.Dir == "" {
		return fmt.Errorf("logging dir required when debug_mode is on")
	}
	return nil
}

// WatcherDebounce returns the debounce interval as a duration.
func (c Config) WatcherDebounce() time.Duration {
	if c.Watcher.DebounceMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Watcher.DebounceMs) * time.Millisecond
}
