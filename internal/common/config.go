package common

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Engine      EngineConfig    `toml:"engine"`
	Registry    RegistryConfig  `toml:"registry"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Reconnect   ReconnectConfig `toml:"reconnect"`
	Maintain    MaintainConfig  `toml:"maintenance"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// EngineConfig tunes job execution and progress tracking.
type EngineConfig struct {
	MaxConcurrentJobs int `toml:"max_concurrent_jobs"` // Concurrent job goroutines (default: 4)
	// DefaultUnits is the fallback total-unit count when the prober cannot
	// determine one from input metadata. It directly shapes the progress
	// curve for unprobeable inputs, so it is configuration, not a constant.
	DefaultUnits int `toml:"default_units"` // Fallback unit count (default: 100)
	ProgressStep int `toml:"progress_step"` // Persist/broadcast when progress crosses this boundary (default: 5)
}

// RegistryConfig locates plugin manifests.
type RegistryConfig struct {
	ManifestDir string `toml:"manifest_dir"` // Directory containing plugin manifest files (YAML)
}

// WebSocketConfig contains configuration for the real-time channel
type WebSocketConfig struct {
	MailboxSize  int    `toml:"mailbox_size"`  // Bounded per-connection outbound queue (default: 64)
	PingInterval string `toml:"ping_interval"` // Server-side heartbeat interval (default: "30s")
	PongTimeout  string `toml:"pong_timeout"`  // Half-open detection deadline (default: "60s")
	// Throttle intervals for high-frequency events. Map of message type to
	// duration string, e.g. {"progress": "250ms"}.
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
	MinLogLevel       string            `toml:"min_log_level"` // Minimum server log level relayed to subscribers
}

// ReconnectConfig tunes the client-side reconnection state machine.
// Exposed in server config so embedded subscribers (test runner, CLI
// watchers) share one schedule.
type ReconnectConfig struct {
	BaseDelay   string `toml:"base_delay"`   // First retry delay (default: "1s")
	MaxAttempts int    `toml:"max_attempts"` // Attempts before giving up (default: 5)
}

// MaintainConfig schedules background database maintenance.
type MaintainConfig struct {
	GCSchedule        string `toml:"gc_schedule"`        // Cron expression for Badger value-log GC (default: "@every 10m")
	RetentionSchedule string `toml:"retention_schedule"` // Cron expression for terminal-job retention sweep
	RetentionDays     int    `toml:"retention_days"`     // Terminal jobs older than this are deleted (0 = keep forever)
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability; only
// user-facing settings belong in argus.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Engine: EngineConfig{
			MaxConcurrentJobs: 4,
			DefaultUnits:      100,
			ProgressStep:      5,
		},
		Registry: RegistryConfig{
			ManifestDir: "./plugins",
		},
		WebSocket: WebSocketConfig{
			MailboxSize:  64,
			PingInterval: "30s",
			PongTimeout:  "60s",
			ThrottleIntervals: map[string]string{
				"progress": "250ms",
			},
			MinLogLevel: "warn",
		},
		Reconnect: ReconnectConfig{
			BaseDelay:   "1s",
			MaxAttempts: 5,
		},
		Maintain: MaintainConfig{
			GCSchedule:        "@every 10m",
			RetentionSchedule: "0 3 * * *",
			RetentionDays:     30,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override earlier
// files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("ARGUS_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("ARGUS_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("ARGUS_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if path := os.Getenv("ARGUS_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if level := os.Getenv("ARGUS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if units := os.Getenv("ARGUS_DEFAULT_UNITS"); units != "" {
		if u, err := strconv.Atoi(units); err == nil && u > 0 {
			config.Engine.DefaultUnits = u
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config.
// CLI flags have the highest priority, above files and environment.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// IsProduction returns true when running with a production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
