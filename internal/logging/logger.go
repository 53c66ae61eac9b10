// Package logging provides config-driven categorized file-based logging
// for graphscope. Logs are written to a per-workspace logs directory
// with separate files per category. When debug mode is off the whole
// package is a silent no-op, so library code can log unconditionally.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup, composition, shutdown
	CategoryTransport Category = "transport" // Socket lifecycle, frames
	CategorySession   Category = "session"   // State machine, node bookkeeping
	CategoryCapsule   Category = "capsule"   // Time Capsule history and navigation
	CategoryWatcher   Category = "watcher"   // Source file watching
	CategoryStore     Category = "store"     // Run archive
	CategoryRuntime   Category = "runtime"   // Remote process launching
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Options controls logger construction. Zero value disables logging.
type Options struct {
	DebugMode  bool
	Dir        string          // logs directory, created on demand
	Level      string          // debug/info/warn/error, default info
	Categories map[string]bool // nil enables every category
}

// Logger writes to one category's log file.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	mu      sync.RWMutex
	opts    Options
	level   int = LevelInfo
	loggers     = make(map[Category]*Logger)
)

// Configure installs the logging options. Call once at startup before
// any Get; reconfiguring closes previously opened files.
func Configure(o Options) error {
	mu.Lock()
	defer mu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			_ = l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)

	opts = o
	switch o.Level {
	case "debug":
		level = LevelDebug
	case "warn", "warning":
		level = LevelWarn
	case "error":
		level = LevelError
	default:
		level = LevelInfo
	}

	if !o.DebugMode {
		return nil
	}
	if o.Dir == "" {
		return fmt.Errorf("logging dir required when debug mode is on")
	}
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}
	return nil
}

func enabled(category Category) bool {
	if !opts.DebugMode || opts.Dir == "" {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	on, exists := opts.Categories[string(category)]
	if !exists {
		return true
	}
	return on
}

// Get returns (or creates) the logger for a category. Disabled
// categories get a no-op logger.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	on := enabled(category)
	dir := opts.Dir
	mu.RUnlock()

	if !on {
		return &Logger{category: category}
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open %s: %v\n", path, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || level > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || level > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || level > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message. Always written if the file is open.
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files. Call at shutdown.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			_ = l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Convenience helpers for the busiest categories.

// Transport logs to the transport category.
func Transport(format string, args ...interface{}) {
	Get(CategoryTransport).Info(format, args...)
}

// TransportDebug logs debug to the transport category.
func TransportDebug(format string, args ...interface{}) {
	Get(CategoryTransport).Debug(format, args...)
}

// Session logs to the session category.
func Session(format string, args ...interface{}) {
	Get(CategorySession).Info(format, args...)
}

// SessionDebug logs debug to the session category.
func SessionDebug(format string, args ...interface{}) {
	Get(CategorySession).Debug(format, args...)
}

// Capsule logs to the capsule category.
func Capsule(format string, args ...interface{}) {
	Get(CategoryCapsule).Info(format, args...)
}
