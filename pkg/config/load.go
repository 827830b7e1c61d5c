package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "SWEEPER_"

// LoadConfig loads configuration from a YAML file at the specified path.
// The file is decoded over NewDefaultConfig, zero values are filled by
// ApplyDefaults, and the result is validated. Environment variables are not
// consulted; use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention SWEEPER_SECTION_FIELD (e.g., SWEEPER_DISCORD_TOKEN) and always
// take precedence over the file.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// LoadDefaultsWithEnvOverrides builds a configuration from defaults and the
// environment alone. It is used when no configuration file exists.
func LoadDefaultsWithEnvOverrides() (*Config, error) {
	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Load reads path when it exists and falls back to defaults when it does not.
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return LoadConfigWithEnvOverrides(path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat configuration file %q: %w", path, err)
		}
	}
	return LoadDefaultsWithEnvOverrides()
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Values that fail to parse are ignored.
func applyEnvOverrides(cfg *Config) {
	// Discord overrides
	envString("DISCORD_TOKEN", &cfg.Discord.Token)
	envString("DISCORD_APPLICATION_ID", &cfg.Discord.ApplicationID)
	envString("DISCORD_GUILD_ID", &cfg.Discord.GuildID)
	envInt("DISCORD_HISTORY_PAGE_LIMIT", &cfg.Discord.HistoryPageLimit)
	envDuration("DISCORD_REQUEST_TIMEOUT", &cfg.Discord.RequestTimeout)

	// Store overrides
	envString("STORE_BACKEND", &cfg.Store.Backend)
	envString("STORE_SQLITE_PATH", &cfg.Store.SQLite.Path)
	envString("STORE_SQLITE_DRIVER", &cfg.Store.SQLite.Driver)
	envBool("STORE_SQLITE_WAL_MODE", &cfg.Store.SQLite.WALMode)
	envDuration("STORE_SQLITE_BUSY_TIMEOUT", &cfg.Store.SQLite.BusyTimeout)
	envString("STORE_BOLT_PATH", &cfg.Store.Bolt.Path)

	// Retention overrides
	envDuration("RETENTION_MAX_DURATION", &cfg.Retention.MaxDuration)
	envBool("RETENTION_EXEMPT_AUTOMATED", &cfg.Retention.ExemptAutomated)

	// Monitor overrides
	envDuration("MONITOR_IDLE_WAIT", &cfg.Monitor.IdleWait)
	envDuration("MONITOR_MAX_WAIT", &cfg.Monitor.MaxWait)
	envDuration("MONITOR_RETRY_INTERVAL", &cfg.Monitor.RetryInterval)

	// Backfill overrides
	envInt("BACKFILL_CONCURRENCY", &cfg.Backfill.Concurrency)
	envInt("BACKFILL_RATE_PER_SECOND", &cfg.Backfill.RatePerSecond)
	envString("BACKFILL_RESCAN_SCHEDULE", &cfg.Backfill.RescanSchedule)
	envDuration("BACKFILL_STALE_GRACE_PERIOD", &cfg.Backfill.StaleGracePeriod)
	envBool("BACKFILL_ON_RECONNECT", &cfg.Backfill.OnReconnect)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_LOGGING_FILE_ENABLED", &cfg.Telemetry.Logging.File.Enabled)
	envString("TELEMETRY_LOGGING_FILE_PATH", &cfg.Telemetry.Logging.File.Path)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	if val := os.Getenv(EnvPrefix + "TELEMETRY_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}

	// Server overrides
	envBool("SERVER_ENABLED", &cfg.Server.Enabled)
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
}

func envString(key string, dst *string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
