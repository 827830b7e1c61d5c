package config

import "time"

// Default values for configuration fields.
const (
	// Discord defaults
	DefaultHistoryPageLimit = 50
	DefaultRequestTimeout   = 15 * time.Second

	// Store defaults
	DefaultStoreBackend       = "sqlite"
	DefaultSQLitePath         = "data/sweeper.db"
	DefaultSQLiteDriver       = "sqlite"
	DefaultSQLiteMaxOpenConns = 1
	DefaultSQLiteWALMode      = true
	DefaultSQLiteBusyTimeout  = 5 * time.Second
	DefaultBoltPath           = "data/sweeper.bolt"
	DefaultBoltTimeout        = 2 * time.Second

	// Retention defaults
	DefaultRetentionMaxDuration = 12 * 24 * time.Hour
	DefaultExemptAutomated      = true
	DefaultBulkMaxAge           = 14 * 24 * time.Hour
	DefaultBulkAgeMargin        = 5 * time.Hour
	DefaultBulkMaxSize          = 100
	DefaultBulkMinSize          = 2

	// Monitor defaults
	DefaultMonitorIdleWait      = 30 * time.Second
	DefaultMonitorMaxWait       = time.Minute
	DefaultMonitorMinWait       = 250 * time.Millisecond
	DefaultMonitorRetryInterval = 30 * time.Second

	// Backfill defaults
	DefaultBackfillConcurrency      = 4
	DefaultBackfillRatePerSecond    = 5
	DefaultBackfillRescanSchedule   = "@every 6h"
	DefaultBackfillStaleGracePeriod = 72 * time.Hour
	DefaultBackfillOnReconnect      = true

	// Audit defaults
	DefaultAuditBufferSize   = 1000
	DefaultAuditWriteTimeout = 5 * time.Second

	// Telemetry defaults
	DefaultLoggingLevel        = "info"
	DefaultLoggingFormat       = "json"
	DefaultLogFilePath         = "logs/sweeper.log"
	DefaultLogFileMaxSizeMB    = 100
	DefaultLogFileMaxBackups   = 5
	DefaultLogFileMaxAgeDays   = 30
	DefaultLogFileCompress     = true
	DefaultMetricsEnabled      = true
	DefaultMetricsPath         = "/metrics"
	DefaultMetricsNamespace    = "sweeper"
	DefaultMetricsSubsystem    = "retention"
	DefaultTracingEnabled      = false
	DefaultTracingSamplingRate = 1.0
	DefaultTracingInsecure     = true
	DefaultTracingServiceName  = "sweeper"

	// Server defaults
	DefaultServerEnabled   = true
	DefaultListenAddress   = "127.0.0.1:9090"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// DefaultCycleDurationBuckets covers fast idle cycles up to long backfill scans.
var DefaultCycleDurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60}

// NewDefaultConfig returns a Config with every field set to its default.
// LoadConfig decodes YAML on top of it, so boolean fields that default to
// true can still be switched off explicitly.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	cfg.Store.SQLite.WALMode = DefaultSQLiteWALMode
	cfg.Retention.ExemptAutomated = DefaultExemptAutomated
	cfg.Backfill.OnReconnect = DefaultBackfillOnReconnect
	cfg.Backfill.RescanSchedule = DefaultBackfillRescanSchedule
	cfg.Telemetry.Logging.File.Compress = DefaultLogFileCompress
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	cfg.Telemetry.Tracing.Enabled = DefaultTracingEnabled
	cfg.Telemetry.Tracing.Insecure = DefaultTracingInsecure
	cfg.Server.Enabled = DefaultServerEnabled
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Discord defaults
	if cfg.Discord.HistoryPageLimit == 0 {
		cfg.Discord.HistoryPageLimit = DefaultHistoryPageLimit
	}
	if cfg.Discord.RequestTimeout == 0 {
		cfg.Discord.RequestTimeout = DefaultRequestTimeout
	}

	// Store defaults
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultStoreBackend
	}
	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = DefaultSQLitePath
	}
	if cfg.Store.SQLite.Driver == "" {
		cfg.Store.SQLite.Driver = DefaultSQLiteDriver
	}
	if cfg.Store.SQLite.MaxOpenConns == 0 {
		cfg.Store.SQLite.MaxOpenConns = DefaultSQLiteMaxOpenConns
	}
	if cfg.Store.SQLite.BusyTimeout == 0 {
		cfg.Store.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.Store.Bolt.Path == "" {
		cfg.Store.Bolt.Path = DefaultBoltPath
	}
	if cfg.Store.Bolt.Timeout == 0 {
		cfg.Store.Bolt.Timeout = DefaultBoltTimeout
	}

	// Retention defaults
	if cfg.Retention.MaxDuration == 0 {
		cfg.Retention.MaxDuration = DefaultRetentionMaxDuration
	}
	if cfg.Retention.Bulk.MaxAge == 0 {
		cfg.Retention.Bulk.MaxAge = DefaultBulkMaxAge
	}
	if cfg.Retention.Bulk.AgeMargin == 0 {
		cfg.Retention.Bulk.AgeMargin = DefaultBulkAgeMargin
	}
	if cfg.Retention.Bulk.MaxSize == 0 {
		cfg.Retention.Bulk.MaxSize = DefaultBulkMaxSize
	}
	if cfg.Retention.Bulk.MinSize == 0 {
		cfg.Retention.Bulk.MinSize = DefaultBulkMinSize
	}

	// Monitor defaults
	if cfg.Monitor.IdleWait == 0 {
		cfg.Monitor.IdleWait = DefaultMonitorIdleWait
	}
	if cfg.Monitor.MaxWait == 0 {
		cfg.Monitor.MaxWait = DefaultMonitorMaxWait
	}
	if cfg.Monitor.MinWait == 0 {
		cfg.Monitor.MinWait = DefaultMonitorMinWait
	}
	if cfg.Monitor.RetryInterval == 0 {
		cfg.Monitor.RetryInterval = DefaultMonitorRetryInterval
	}

	// Backfill defaults
	if cfg.Backfill.Concurrency == 0 {
		cfg.Backfill.Concurrency = DefaultBackfillConcurrency
	}
	if cfg.Backfill.RatePerSecond == 0 {
		cfg.Backfill.RatePerSecond = DefaultBackfillRatePerSecond
	}
	if cfg.Backfill.StaleGracePeriod == 0 {
		cfg.Backfill.StaleGracePeriod = DefaultBackfillStaleGracePeriod
	}

	// Audit defaults
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = DefaultAuditBufferSize
	}
	if cfg.Audit.WriteTimeout == 0 {
		cfg.Audit.WriteTimeout = DefaultAuditWriteTimeout
	}

	applyTelemetryDefaults(cfg)

	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// applyTelemetryDefaults applies default values to telemetry configuration.
func applyTelemetryDefaults(cfg *Config) {
	logging := &cfg.Telemetry.Logging
	if logging.Level == "" {
		logging.Level = DefaultLoggingLevel
	}
	if logging.Format == "" {
		logging.Format = DefaultLoggingFormat
	}
	if logging.File.Path == "" {
		logging.File.Path = DefaultLogFilePath
	}
	if logging.File.MaxSizeMB == 0 {
		logging.File.MaxSizeMB = DefaultLogFileMaxSizeMB
	}
	if logging.File.MaxBackups == 0 {
		logging.File.MaxBackups = DefaultLogFileMaxBackups
	}
	if logging.File.MaxAgeDays == 0 {
		logging.File.MaxAgeDays = DefaultLogFileMaxAgeDays
	}

	metrics := &cfg.Telemetry.Metrics
	if metrics.Path == "" {
		metrics.Path = DefaultMetricsPath
	}
	if metrics.Namespace == "" {
		metrics.Namespace = DefaultMetricsNamespace
	}
	if metrics.Subsystem == "" {
		metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(metrics.CycleDurationBuckets) == 0 {
		metrics.CycleDurationBuckets = append([]float64(nil), DefaultCycleDurationBuckets...)
	}

	tracing := &cfg.Telemetry.Tracing
	if tracing.SampleRatio == 0 {
		tracing.SampleRatio = DefaultTracingSamplingRate
	}
	if tracing.ServiceName == "" {
		tracing.ServiceName = DefaultTracingServiceName
	}
}
