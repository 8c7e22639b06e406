// Package logging provides config-driven categorized file-based logging for
// tandem. Logs are written to .tandem/logs/ with a separate file per category.
// Logging is controlled by the logging section of .tandem/config.yaml - when
// debug_mode is false, no logs are written.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup and initialization
	CategorySession    Category = "session"    // Session store, fork/merge
	CategoryLoop       Category = "loop"       // Conversation loop turns
	CategoryContext    Category = "context"    // Context window accounting, compaction
	CategoryTools      Category = "tools"      // Tool registration and execution
	CategoryPermission Category = "permission" // Permission gate decisions
	CategoryAgent      Category = "agent"      // Sub-agent lifecycle
	CategoryShell      Category = "shell"      // Background shell manager
	CategoryStore      Category = "store"      // Persistent store operations
	CategoryAPI        Category = "api"        // Model API calls and retries
)

// loggingConfig mirrors the logging section of config.Config to avoid a
// circular import with internal/config.
type loggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

type configFile struct {
	Logging loggingConfig `yaml:"logging"`
}

// Logger wraps a zap sugared logger bound to one category file.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	loggersMu sync.RWMutex
	loggers   = make(map[Category]*Logger)
	logsDir   string
	workspace string
	cfg       loggingConfig
	level     zapcore.Level
)

// Initialize sets up the logging directory and loads config. Should be called
// once at startup with the workspace path. A missing or disabled config makes
// every logger a silent no-op.
func Initialize(ws string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	loggersMu.Lock()
	defer loggersMu.Unlock()

	workspace = ws
	logsDir = filepath.Join(workspace, ".tandem", "logs")
	loggers = make(map[Category]*Logger)

	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] warning: could not load config: %v\n", err)
		cfg.DebugMode = false
	}

	if !cfg.DebugMode {
		return nil
	}

	level = parseLevel(cfg.Level)
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := get(CategoryBoot)
	boot.Info("=== tandem logging initialized ===")
	boot.Info("Workspace: %s", workspace)
	boot.Info("Log level: %s", level)
	return nil
}

// loadConfig reads the logging config from .tandem/config.yaml.
func loadConfig() error {
	path := filepath.Join(workspace, ".tandem", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config = production mode (no logging).
			cfg = loggingConfig{}
			return nil
		}
		return err
	}

	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg = cf.Logging
	return nil
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Get returns the logger for a category, creating it on first use.
func Get(category Category) *Logger {
	loggersMu.RLock()
	l, ok := loggers[category]
	loggersMu.RUnlock()
	if ok {
		return l
	}

	loggersMu.Lock()
	defer loggersMu.Unlock()
	return get(category)
}

// get builds and caches a category logger (caller holds loggersMu).
func get(category Category) *Logger {
	if l, ok := loggers[category]; ok {
		return l
	}

	l := &Logger{category: category}
	if cfg.DebugMode && categoryEnabled(category) {
		l.sugar = newCategorySugar(category)
	}
	loggers[category] = l
	return l
}

func categoryEnabled(category Category) bool {
	if len(cfg.Categories) == 0 {
		return true
	}
	enabled, listed := cfg.Categories[string(category)]
	if !listed {
		return true
	}
	return enabled
}

// newCategorySugar builds a zap core writing to the category's log file.
// Falls back to a nop logger if the file cannot be opened.
func newCategorySugar(category Category) *zap.SugaredLogger {
	path := filepath.Join(logsDir, string(category)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] warning: cannot open %s: %v\n", path, err)
		return nil
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(f), level)
	return zap.New(core).Sugar().Named(string(category))
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...any) {
	if l.sugar != nil {
		l.sugar.Debugf(format, args...)
	}
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...any) {
	if l.sugar != nil {
		l.sugar.Infof(format, args...)
	}
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...any) {
	if l.sugar != nil {
		l.sugar.Warnf(format, args...)
	}
}

// Error logs at error level.
func (l *Logger) Error(format string, args ...any) {
	if l.sugar != nil {
		l.sugar.Errorf(format, args...)
	}
}

// Sync flushes all open category loggers.
func Sync() {
	loggersMu.RLock()
	defer loggersMu.RUnlock()
	for _, l := range loggers {
		if l.sugar != nil {
			_ = l.sugar.Sync()
		}
	}
}

// =============================================================================
// PERF TIMERS
// =============================================================================

// Timer measures the duration of one operation for a category.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation. Call Stop to log the duration.
func StartTimer(category Category, op string) *Timer {
	return &Timer{category: category, op: op, start: time.Now()}
}

// Stop logs the elapsed time; slow operations (>250ms) are logged at warn.
func (t *Timer) Stop() {
	elapsed := time.Since(t.start)
	l := Get(t.category)
	if elapsed > 250*time.Millisecond {
		l.Warn("%s took %v (slow)", t.op, elapsed)
		return
	}
	l.Debug("%s took %v", t.op, elapsed)
}
