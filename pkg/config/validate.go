package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "monitor.max_wait").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any rule fails. All field errors are collected and returned together.
// Discord credentials are not checked here; see DiscordConfig.RequireCredentials.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateDiscord(&cfg.Discord)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateRetention(&cfg.Retention)...)
	errs = append(errs, validateMonitor(&cfg.Monitor)...)
	errs = append(errs, validateBackfill(&cfg.Backfill)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateServer(&cfg.Server)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateDiscord(cfg *DiscordConfig) []FieldError {
	var errs []FieldError
	if cfg.HistoryPageLimit < 1 {
		errs = append(errs, FieldError{
			Field:   "discord.history_page_limit",
			Message: "history page limit must be at least 1",
		})
	}
	if cfg.RequestTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "discord.request_timeout",
			Message: "request timeout must be positive",
		})
	}
	return errs
}

func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "store.sqlite.path",
				Message: "database path is required for the sqlite backend",
			})
		}
		if cfg.SQLite.Driver != "sqlite" && cfg.SQLite.Driver != "sqlite3" {
			errs = append(errs, FieldError{
				Field:   "store.sqlite.driver",
				Message: fmt.Sprintf("invalid driver %q: must be 'sqlite' or 'sqlite3'", cfg.SQLite.Driver),
			})
		}
		if cfg.SQLite.MaxOpenConns < 1 {
			errs = append(errs, FieldError{
				Field:   "store.sqlite.max_open_conns",
				Message: "max open connections must be at least 1",
			})
		}
		if cfg.SQLite.BusyTimeout < 0 {
			errs = append(errs, FieldError{
				Field:   "store.sqlite.busy_timeout",
				Message: "busy timeout must be non-negative",
			})
		}
	case "bolt":
		if cfg.Bolt.Path == "" {
			errs = append(errs, FieldError{
				Field:   "store.bolt.path",
				Message: "database path is required for the bolt backend",
			})
		}
	case "memory":
	default:
		errs = append(errs, FieldError{
			Field:   "store.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'sqlite', 'bolt', or 'memory'", cfg.Backend),
		})
	}

	return errs
}

func validateRetention(cfg *RetentionConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxDuration <= 0 {
		errs = append(errs, FieldError{
			Field:   "retention.max_duration",
			Message: "max duration must be positive",
		})
	}

	// A message must still be bulk-deletable at its deadline.
	if limit := cfg.Bulk.MaxAge - cfg.Bulk.AgeMargin; cfg.MaxDuration >= limit {
		errs = append(errs, FieldError{
			Field:   "retention.max_duration",
			Message: fmt.Sprintf("max duration %s must be below bulk.max_age minus bulk.age_margin (%s)", cfg.MaxDuration, limit),
		})
	}

	if cfg.Bulk.AgeMargin < 0 {
		errs = append(errs, FieldError{
			Field:   "retention.bulk.age_margin",
			Message: "age margin must be non-negative",
		})
	}
	if cfg.Bulk.MinSize < 2 {
		errs = append(errs, FieldError{
			Field:   "retention.bulk.min_size",
			Message: "bulk min size must be at least 2",
		})
	}
	if cfg.Bulk.MaxSize < cfg.Bulk.MinSize {
		errs = append(errs, FieldError{
			Field:   "retention.bulk.max_size",
			Message: fmt.Sprintf("bulk max size %d is below min size %d", cfg.Bulk.MaxSize, cfg.Bulk.MinSize),
		})
	}

	return errs
}

func validateMonitor(cfg *MonitorConfig) []FieldError {
	var errs []FieldError

	if cfg.MinWait <= 0 {
		errs = append(errs, FieldError{
			Field:   "monitor.min_wait",
			Message: "min wait must be positive",
		})
		return errs
	}

	for _, w := range []struct {
		field string
		value time.Duration
	}{
		{"monitor.idle_wait", cfg.IdleWait},
		{"monitor.max_wait", cfg.MaxWait},
		{"monitor.retry_interval", cfg.RetryInterval},
	} {
		if w.value < cfg.MinWait {
			errs = append(errs, FieldError{
				Field:   w.field,
				Message: fmt.Sprintf("%s is below min_wait %s", w.value, cfg.MinWait),
			})
		}
	}

	return errs
}

func validateBackfill(cfg *BackfillConfig) []FieldError {
	var errs []FieldError

	if cfg.Concurrency < 1 {
		errs = append(errs, FieldError{
			Field:   "backfill.concurrency",
			Message: "concurrency must be at least 1",
		})
	}
	if cfg.RatePerSecond < 0 {
		errs = append(errs, FieldError{
			Field:   "backfill.rate_per_second",
			Message: "rate per second must be non-negative",
		})
	}
	if cfg.RescanSchedule != "" {
		if _, err := cron.ParseStandard(cfg.RescanSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "backfill.rescan_schedule",
				Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.RescanSchedule, err),
			})
		}
	}
	if cfg.StaleGracePeriod <= 0 {
		errs = append(errs, FieldError{
			Field:   "backfill.stale_grace_period",
			Message: "stale grace period must be positive",
		})
	}

	return errs
}

func validateAudit(cfg *AuditConfig) []FieldError {
	var errs []FieldError
	if cfg.BufferSize < 1 {
		errs = append(errs, FieldError{
			Field:   "audit.buffer_size",
			Message: "buffer size must be at least 1",
		})
	}
	if cfg.WriteTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "audit.write_timeout",
			Message: "write timeout must be positive",
		})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json', 'text', or 'console'", cfg.Logging.Format),
		})
	}

	if cfg.Logging.File.Enabled && cfg.Logging.File.Path == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.file.path",
			Message: "log file path is required when file logging is enabled",
		})
	}

	if cfg.Metrics.Enabled {
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.path",
				Message: "metrics path must start with '/'",
			})
		}
		for i := 1; i < len(cfg.Metrics.CycleDurationBuckets); i++ {
			if cfg.Metrics.CycleDurationBuckets[i] <= cfg.Metrics.CycleDurationBuckets[i-1] {
				errs = append(errs, FieldError{
					Field:   "telemetry.metrics.cycle_duration_buckets",
					Message: "buckets must be strictly increasing",
				})
				break
			}
		}
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	return errs
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.Enabled {
		if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
			errs = append(errs, FieldError{
				Field:   "server.listen_address",
				Message: fmt.Sprintf("invalid listen address %q: %v", cfg.ListenAddress, err),
			})
		}
	}
	if cfg.ShutdownTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "server.shutdown_timeout",
			Message: "shutdown timeout must be positive",
		})
	}

	return errs
}
