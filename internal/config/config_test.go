package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/tmp/ws")

	if cfg.Session.PreferredPort != 9876 {
		t.Errorf("preferred port = %d, want 9876", cfg.Session.PreferredPort)
	}
	if cfg.Session.InterpreterPath != "python3" {
		t.Errorf("interpreter = %q, want python3", cfg.Session.InterpreterPath)
	}
	if !cfg.Archive.Enabled {
		t.Error("archive should default to enabled")
	}
	if cfg.Archive.DatabasePath != filepath.Join("/tmp/ws", ".graphscope", "runs.db") {
		t.Errorf("unexpected archive path %q", cfg.Archive.DatabasePath)
	}
	if cfg.Watcher.DebounceMs != 500 {
		t.Errorf("debounce = %d, want 500", cfg.Watcher.DebounceMs)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	ws := t.TempDir()
	cfg, err := Load(DefaultPath(ws))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Session.PreferredPort != 9876 {
		t.Errorf("expected default port, got %d", cfg.Session.PreferredPort)
	}
	if cfg.Logging.Dir != filepath.Join(ws, ".graphscope", "logs") {
		t.Errorf("log dir should be rooted at the workspace, got %q", cfg.Logging.Dir)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	ws := t.TempDir()
	path := DefaultPath(ws)

	cfg := DefaultConfig(ws)
	cfg.Session.PreferredPort = 7001
	cfg.Session.InterpreterPath = "/usr/bin/python3.12"
	cfg.Watcher.Enabled = false
	cfg.Logging.DebugMode = true

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Session.PreferredPort != 7001 {
		t.Errorf("port = %d, want 7001", loaded.Session.PreferredPort)
	}
	if loaded.Session.InterpreterPath != "/usr/bin/python3.12" {
		t.Errorf("interpreter = %q", loaded.Session.InterpreterPath)
	}
	if loaded.Watcher.Enabled {
		t.Error("watcher.enabled should roundtrip as false")
	}
	if !loaded.Logging.DebugMode {
		t.Error("debug_mode should roundtrip as true")
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	ws := t.TempDir()
	path := DefaultPath(ws)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	partial := "session:\n  preferred_port: 7100\n"
	if err := os.WriteFile(path, []byte(partial), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Session.PreferredPort != 7100 {
		t.Errorf("port = %d, want 7100", cfg.Session.PreferredPort)
	}
	if cfg.Session.InterpreterPath != "python3" {
		t.Errorf("absent keys keep defaults, interpreter = %q", cfg.Session.InterpreterPath)
	}
	if cfg.Watcher.DebounceMs != 500 {
		t.Errorf("untouched sections keep defaults, debounce = %d", cfg.Watcher.DebounceMs)
	}
}

func TestEnvOverrides(t *testing.T) {
	ws := t.TempDir()
	t.Setenv("GRAPHSCOPE_PORT", "7200")
	t.Setenv("GRAPHSCOPE_INTERPRETER", "python3.11")
	t.Setenv("GRAPHSCOPE_DEBUG", "true")

	cfg, err := Load(DefaultPath(ws))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Session.PreferredPort != 7200 {
		t.Errorf("port = %d, want env override 7200", cfg.Session.PreferredPort)
	}
	if cfg.Session.InterpreterPath != "python3.11" {
		t.Errorf("interpreter = %q, want env override", cfg.Session.InterpreterPath)
	}
	if !cfg.Logging.DebugMode {
		t.Error("debug_mode should follow GRAPHSCOPE_DEBUG")
	}
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	ws := t.TempDir()
	t.Setenv("GRAPHSCOPE_PORT", "not-a-port")
	t.Setenv("GRAPHSCOPE_DEBUG", "maybe")

	cfg, err := Load(DefaultPath(ws))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Session.PreferredPort != 9876 {
		t.Errorf("bad GRAPHSCOPE_PORT must be ignored, got %d", cfg.Session.PreferredPort)
	}
	if cfg.Logging.DebugMode {
		t.Error("bad GRAPHSCOPE_DEBUG must be ignored")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero port", func(c *Config) { c.Session.PreferredPort = 0 }, true},
		{"port too high", func(c *Config) { c.Session.PreferredPort = 70000 }, true},
		{"empty interpreter", func(c *Config) { c.Session.InterpreterPath = "" }, true},
		{"debug without dir", func(c *Config) {
			c.Logging.DebugMode = true
			c.Logging.Dir = ""
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig("/tmp/ws")
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWatcherDebounce(t *testing.T) {
	cfg := DefaultConfig("/tmp/ws")
	if cfg.WatcherDebounce() != 500*time.Millisecond {
		t.Errorf("default debounce = %v", cfg.WatcherDebounce())
	}
	cfg.Watcher.DebounceMs = 0
	if cfg.WatcherDebounce() != 500*time.Millisecond {
		t.Errorf("zero debounce should fall back, got %v", cfg.WatcherDebounce())
	}
	cfg.Watcher.DebounceMs = 250
	if cfg.WatcherDebounce() != 250*time.Millisecond {
		t.Errorf("debounce = %v, want 250ms", cfg.WatcherDebounce())
	}
}
