package config

import (
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend = %q, want sqlite", cfg.Store.Backend)
	}
	if !cfg.Store.SQLite.WALMode {
		t.Error("Store.SQLite.WALMode should default to true")
	}
	if cfg.Retention.MaxDuration != 288*time.Hour {
		t.Errorf("Retention.MaxDuration = %v, want 288h", cfg.Retention.MaxDuration)
	}
	if !cfg.Retention.ExemptAutomated {
		t.Error("Retention.ExemptAutomated should default to true")
	}
	if cfg.Retention.Bulk.MaxAge != 14*24*time.Hour || cfg.Retention.Bulk.AgeMargin != 5*time.Hour {
		t.Errorf("Bulk = %+v", cfg.Retention.Bulk)
	}
	if cfg.Monitor.IdleWait != 30*time.Second || cfg.Monitor.MaxWait != time.Minute {
		t.Errorf("Monitor = %+v", cfg.Monitor)
	}
	if cfg.Backfill.RescanSchedule != "@every 6h" {
		t.Errorf("Backfill.RescanSchedule = %q", cfg.Backfill.RescanSchedule)
	}
	if !cfg.Backfill.OnReconnect {
		t.Error("Backfill.OnReconnect should default to true")
	}
	if !cfg.Telemetry.Metrics.Enabled || cfg.Telemetry.Metrics.Namespace != "sweeper" {
		t.Errorf("Metrics = %+v", cfg.Telemetry.Metrics)
	}
	if cfg.Telemetry.Tracing.Enabled {
		t.Error("Tracing should default to disabled")
	}
	if !cfg.Server.Enabled || cfg.Server.ListenAddress != DefaultListenAddress {
		t.Errorf("Server = %+v", cfg.Server)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Backend = "bolt"
	cfg.Monitor.MaxWait = 5 * time.Minute
	cfg.Backfill.Concurrency = 9
	cfg.Telemetry.Logging.Level = "debug"

	ApplyDefaults(cfg)

	if cfg.Store.Backend != "bolt" {
		t.Errorf("Store.Backend = %q, want bolt", cfg.Store.Backend)
	}
	if cfg.Monitor.MaxWait != 5*time.Minute {
		t.Errorf("Monitor.MaxWait = %v", cfg.Monitor.MaxWait)
	}
	if cfg.Backfill.Concurrency != 9 {
		t.Errorf("Backfill.Concurrency = %d", cfg.Backfill.Concurrency)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Telemetry.Logging.Level)
	}
	if cfg.Monitor.IdleWait != DefaultMonitorIdleWait {
		t.Errorf("Monitor.IdleWait = %v, want default", cfg.Monitor.IdleWait)
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	a := NewDefaultConfig()
	b := NewDefaultConfig()
	ApplyDefaults(b)
	ApplyDefaults(b)

	if a.Audit != b.Audit || a.Monitor != b.Monitor || a.Server != b.Server {
		t.Error("ApplyDefaults changed an already-defaulted config")
	}
}

func TestApplyDefaults_BucketsAreCopied(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Telemetry.Metrics.CycleDurationBuckets[0] = 99

	if DefaultCycleDurationBuckets[0] == 99 {
		t.Error("defaults share the bucket slice with the package variable")
	}
}
