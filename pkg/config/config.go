package config

import "time"

// Config is the root configuration structure for sweeper.
// It contains all configuration sections for the Discord connection, the
// retention store, the scheduler components, telemetry, and the ops server.
type Config struct {
	// Discord contains bot credentials and REST client settings.
	Discord DiscordConfig `yaml:"discord"`

	// Store selects and configures the durable retention store.
	Store StoreConfig `yaml:"store"`

	// Retention contains limits on channel policies and the platform's
	// bulk-delete constraints.
	Retention RetentionConfig `yaml:"retention"`

	// Monitor controls how the expiry monitor sleeps between cycles.
	Monitor MonitorConfig `yaml:"monitor"`

	// Backfill controls history reconciliation scans.
	Backfill BackfillConfig `yaml:"backfill"`

	// Audit controls the asynchronous audit trail writer.
	Audit AuditConfig `yaml:"audit"`

	// Telemetry contains configuration for observability including logging,
	// metrics, and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Server contains the ops HTTP server configuration (health, metrics, status).
	Server ServerConfig `yaml:"server"`
}

// DiscordConfig contains configuration for the Discord bot connection.
type DiscordConfig struct {
	// Token is the bot token. Prefer SWEEPER_DISCORD_TOKEN over the file.
	Token string `yaml:"token"`

	// ApplicationID is the application that owns the slash commands.
	ApplicationID string `yaml:"application_id"`

	// GuildID restricts command registration to one guild. Empty registers
	// global commands.
	GuildID string `yaml:"guild_id"`

	// HistoryPageLimit caps the number of 100-message pages fetched per
	// channel in one backfill scan.
	// Default: 50
	HistoryPageLimit int `yaml:"history_page_limit"`

	// RequestTimeout bounds every REST call.
	// Default: 15s
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StoreConfig selects the retention store backend.
type StoreConfig struct {
	// Backend is the storage backend type.
	// Options: "sqlite", "bolt", "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite-specific configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Bolt contains bbolt-specific configuration.
	Bolt BoltConfig `yaml:"bolt"`
}

// SQLiteConfig contains SQLite storage configuration.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/sweeper.db"
	Path string `yaml:"path"`

	// Driver is the database/sql driver.
	// Options: "sqlite" (modernc, pure Go), "sqlite3" (mattn, cgo)
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 1
	MaxOpenConns int `yaml:"max_open_conns"`

	// WALMode enables Write-Ahead Logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long to wait for a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// BoltConfig contains bbolt storage configuration.
type BoltConfig struct {
	// Path is the database file path.
	// Default: "data/sweeper.bolt"
	Path string `yaml:"path"`

	// Timeout is how long to wait for the file lock on open.
	// Default: 2s
	Timeout time.Duration `yaml:"timeout"`
}

// RetentionConfig contains channel policy limits.
type RetentionConfig struct {
	// MaxDuration is the longest retention a channel may be enabled with.
	// It must stay below Bulk.MaxAge so messages are still bulk-deletable
	// when they expire.
	// Default: 288h (12 days)
	MaxDuration time.Duration `yaml:"max_duration"`

	// ExemptAutomated leaves messages from bots and webhooks alone.
	// Hot-reloadable.
	// Default: true
	ExemptAutomated bool `yaml:"exempt_automated"`

	// Bulk describes the platform's bulk-delete constraints.
	Bulk BulkConfig `yaml:"bulk"`
}

// BulkConfig describes the platform's bulk-delete constraints.
type BulkConfig struct {
	// MaxAge is the age beyond which the platform rejects bulk deletes.
	// Default: 336h (14 days)
	MaxAge time.Duration `yaml:"max_age"`

	// AgeMargin is subtracted from MaxAge to absorb clock skew and
	// in-flight time.
	// Default: 5h
	AgeMargin time.Duration `yaml:"age_margin"`

	// MaxSize is the largest bulk call.
	// Default: 100
	MaxSize int `yaml:"max_size"`

	// MinSize is the smallest bulk call.
	// Default: 2
	MinSize int `yaml:"min_size"`
}

// MonitorConfig controls the expiry monitor's deadline-aware sleep.
type MonitorConfig struct {
	// IdleWait is the sleep when nothing is pending.
	// Default: 30s
	IdleWait time.Duration `yaml:"idle_wait"`

	// MaxWait caps any single sleep.
	// Default: 1m
	MaxWait time.Duration `yaml:"max_wait"`

	// MinWait is the shortest sleep between cycles.
	// Default: 250ms
	MinWait time.Duration `yaml:"min_wait"`

	// RetryInterval is the sleep after a cycle that left marked rows behind
	// or failed on the store.
	// Default: 30s
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// BackfillConfig controls history reconciliation scans.
type BackfillConfig struct {
	// Concurrency is the number of channels scanned in parallel.
	// Default: 4
	Concurrency int `yaml:"concurrency"`

	// RatePerSecond limits channel and history fetches across all channels.
	// Zero disables the limit.
	// Default: 5
	RatePerSecond int `yaml:"rate_per_second"`

	// RescanSchedule is a cron expression for periodic rescans.
	// Empty disables scheduled rescans.
	// Default: "@every 6h"
	RescanSchedule string `yaml:"rescan_schedule"`

	// StaleGracePeriod is how long a channel may stay unreachable before its
	// policy is removed.
	// Default: 72h
	StaleGracePeriod time.Duration `yaml:"stale_grace_period"`

	// OnReconnect triggers a rescan whenever the gateway session resumes.
	// Default: true
	OnReconnect bool `yaml:"on_reconnect"`
}

// AuditConfig controls the audit trail writer.
type AuditConfig struct {
	// BufferSize is the async buffer capacity. Entries are dropped when full.
	// Default: 1000
	BufferSize int `yaml:"buffer_size"`

	// WriteTimeout bounds one audit write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains structured logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains Prometheus metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains OpenTelemetry tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit. Hot-reloadable.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// File additionally writes logs to a rotating file.
	File LogFileConfig `yaml:"file"`
}

// LogFileConfig configures rotating log file output.
type LogFileConfig struct {
	// Enabled turns on file output.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Path is the log file path.
	// Default: "logs/sweeper.log"
	Path string `yaml:"path"`

	// MaxSizeMB is the size at which the file is rotated.
	// Default: 100
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files kept.
	// Default: 5
	MaxBackups int `yaml:"max_backups"`

	// MaxAgeDays is how long rotated files are kept.
	// Default: 30
	MaxAgeDays int `yaml:"max_age_days"`

	// Compress gzips rotated files.
	// Default: true
	Compress bool `yaml:"compress"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "sweeper"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "retention"
	Subsystem string `yaml:"subsystem"`

	// CycleDurationBuckets defines histogram buckets for cycle and scan durations (seconds).
	// Default: [0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60]
	CycleDurationBuckets []float64 `yaml:"cycle_duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the OTLP connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// ServiceName is the service name in traces.
	// Default: "sweeper"
	ServiceName string `yaml:"service_name"`
}

// ServerConfig contains the ops HTTP server configuration.
type ServerConfig struct {
	// Enabled starts the ops server with the bot.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 60s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown of the whole process.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RequireCredentials reports whether the bot can connect to Discord.
func (c *DiscordConfig) RequireCredentials() error {
	var errs []FieldError
	if c.Token == "" {
		errs = append(errs, FieldError{Field: "discord.token", Message: "bot token is required (set SWEEPER_DISCORD_TOKEN)"})
	}
	if c.ApplicationID == "" {
		errs = append(errs, FieldError{Field: "discord.application_id", Message: "application ID is required"})
	}
	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
