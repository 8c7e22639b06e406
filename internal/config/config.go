// Package config loads tandem configuration from .tandem/config.yaml with
// sensible defaults and environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tandem configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Model configuration
	Model ModelConfig `yaml:"model"`

	// Loop configuration
	Loop LoopConfig `yaml:"loop"`

	// Context window management
	ContextWindow ContextWindowConfig `yaml:"context_window"`

	// Storage
	Storage StorageConfig `yaml:"storage"`

	// Shell execution
	Shell ShellConfig `yaml:"shell"`

	// Sub-agent supervision
	Agents AgentConfig `yaml:"agents"`

	// Permission gate
	Permissions PermissionConfig `yaml:"permissions"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ModelConfig configures the model client.
type ModelConfig struct {
	ID             string `yaml:"id"`
	MaxRetries     int    `yaml:"max_retries"`
	RetryBaseDelay string `yaml:"retry_base_delay"`
	Timeout        string `yaml:"timeout"`

	// MaxConcurrentCalls bounds simultaneous API calls across the process.
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`
}

// LoopConfig configures the conversation loop.
type LoopConfig struct {
	// MaxTurns caps model round-trips per user message.
	MaxTurns int `yaml:"max_turns"`

	// MaxConcurrentTools bounds concurrent tool calls within one turn.
	MaxConcurrentTools int `yaml:"max_concurrent_tools"`

	// ToolTimeout is the default per-tool execution bound.
	ToolTimeout string `yaml:"tool_timeout"`
}

// ContextWindowConfig configures compaction behavior.
type ContextWindowConfig struct {
	// CompactionThreshold triggers compaction at this usage fraction.
	CompactionThreshold float64 `yaml:"compaction_threshold"`

	// PreserveHead/PreserveTail are the message counts kept verbatim by
	// last-resort truncation.
	PreserveHead int `yaml:"preserve_head"`
	PreserveTail int `yaml:"preserve_tail"`

	// LargeResultBytes is the size above which an old tool result is
	// collapsed to a tool_reference.
	LargeResultBytes int `yaml:"large_result_bytes"`

	// CacheReadWeight discounts cache-read tokens in budget pressure.
	CacheReadWeight float64 `yaml:"cache_read_weight"`
}

// StorageConfig configures the persistent store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`

	// SessionTTL is the retention window for the cleanup policy.
	SessionTTL string `yaml:"session_ttl"`
}

// ShellConfig configures the background shell manager.
type ShellConfig struct {
	DefaultTimeout string `yaml:"default_timeout"`

	// KillGracePeriod is the SIGTERM-to-SIGKILL grace window.
	KillGracePeriod string `yaml:"kill_grace_period"`

	// MaxLifetime is the safety ceiling for orphaned background shells.
	MaxLifetime string `yaml:"max_lifetime"`

	// SweepInterval is how often the orphan sweep runs.
	SweepInterval string `yaml:"sweep_interval"`

	// OutputDir holds the durable output mirror files.
	OutputDir string `yaml:"output_dir"`
}

// AgentConfig configures the sub-agent supervisor.
type AgentConfig struct {
	MaxActive      int    `yaml:"max_active"`
	DefaultTimeout string `yaml:"default_timeout"`
}

// PermissionConfig configures the permission gate. Rules are validated at
// load time; a malformed rule is a fatal load error.
type PermissionConfig struct {
	Mode  string           `yaml:"mode"`
	Allow []PermissionRule `yaml:"allow"`
	Deny  []PermissionRule `yaml:"deny"`
}

// PermissionRule scopes a decision to a tool name plus an optional argument
// pattern, e.g. tool "bash" with pattern "git *".
type PermissionRule struct {
	Tool    string `yaml:"tool"`
	Pattern string `yaml:"pattern,omitempty"`
}

// Validate rejects malformed permission rules.
func (r PermissionRule) Validate() error {
	if r.Tool == "" {
		return fmt.Errorf("permission rule missing tool name")
	}
	return nil
}

// LoggingConfig configures categorized logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "tandem",
		Version: "0.3.0",

		Model: ModelConfig{
			ID:                 "claude-sonnet-4-20250514",
			MaxRetries:         3,
			RetryBaseDelay:     "1s",
			Timeout:            "120s",
			MaxConcurrentCalls: 5,
		},

		Loop: LoopConfig{
			MaxTurns:           25,
			MaxConcurrentTools: 4,
			ToolTimeout:        "5m",
		},

		ContextWindow: ContextWindowConfig{
			CompactionThreshold: 0.80,
			PreserveHead:        2,
			PreserveTail:        10,
			LargeResultBytes:    4096,
			CacheReadWeight:     0.1,
		},

		Storage: StorageConfig{
			DatabasePath: ".tandem/tandem.db",
			SessionTTL:   "720h",
		},

		Shell: ShellConfig{
			DefaultTimeout:  "2m",
			KillGracePeriod: "5s",
			MaxLifetime:     "1h",
			SweepInterval:   "30s",
			OutputDir:       ".tandem/shells",
		},

		Agents: AgentConfig{
			MaxActive:      10,
			DefaultTimeout: "30m",
		},

		Permissions: PermissionConfig{
			Mode: "default",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, starting from defaults. A
// missing file returns defaults; a malformed file or permission rule is an
// error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	for _, r := range append(append([]PermissionRule{}, cfg.Permissions.Allow...), cfg.Permissions.Deny...) {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("invalid permission config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies TANDEM_* environment variables on top of the
// loaded file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TANDEM_MODEL"); v != "" {
		c.Model.ID = v
	}
	if v := os.Getenv("TANDEM_DB_PATH"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("TANDEM_PERMISSION_MODE"); v != "" {
		c.Permissions.Mode = v
	}
	if v := os.Getenv("TANDEM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Duration parses a duration field, falling back to def on empty or bad
// values.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
