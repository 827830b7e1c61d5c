package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sweeper.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
discord:
  application_id: "42"
  request_timeout: 20s
store:
  backend: bolt
  bolt:
    path: /var/lib/sweeper/state.bolt
retention:
  max_duration: 72h
monitor:
  max_wait: 2m
backfill:
  concurrency: 2
  rescan_schedule: "0 */4 * * *"
telemetry:
  logging:
    level: debug
    format: text
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Discord.ApplicationID != "42" {
		t.Errorf("ApplicationID = %q", cfg.Discord.ApplicationID)
	}
	if cfg.Discord.RequestTimeout != 20*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.Discord.RequestTimeout)
	}
	if cfg.Store.Backend != "bolt" || cfg.Store.Bolt.Path != "/var/lib/sweeper/state.bolt" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Retention.MaxDuration != 72*time.Hour {
		t.Errorf("MaxDuration = %v", cfg.Retention.MaxDuration)
	}
	if cfg.Monitor.MaxWait != 2*time.Minute {
		t.Errorf("MaxWait = %v", cfg.Monitor.MaxWait)
	}
	if cfg.Backfill.RescanSchedule != "0 */4 * * *" {
		t.Errorf("RescanSchedule = %q", cfg.Backfill.RescanSchedule)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Telemetry.Logging.Level)
	}

	// Untouched sections keep their defaults.
	if cfg.Monitor.IdleWait != DefaultMonitorIdleWait {
		t.Errorf("IdleWait = %v, want default", cfg.Monitor.IdleWait)
	}
}

func TestLoadConfig_ExplicitFalseOverridesTrueDefault(t *testing.T) {
	path := writeConfig(t, `
retention:
  exempt_automated: false
backfill:
  on_reconnect: false
  rescan_schedule: ""
server:
  enabled: false
telemetry:
  metrics:
    enabled: false
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Retention.ExemptAutomated {
		t.Error("exempt_automated: false was ignored")
	}
	if cfg.Backfill.OnReconnect {
		t.Error("on_reconnect: false was ignored")
	}
	if cfg.Backfill.RescanSchedule != "" {
		t.Errorf("empty rescan_schedule should disable rescans, got %q", cfg.Backfill.RescanSchedule)
	}
	if cfg.Server.Enabled || cfg.Telemetry.Metrics.Enabled {
		t.Error("enabled: false was ignored")
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"malformed yaml", "discord: [", "failed to parse"},
		{"bad duration", "monitor:\n  max_wait: soon\n", "failed to parse"},
		{"invalid backend", "store:\n  backend: redis\n", "store.backend"},
		{"retention above bulk window", "retention:\n  max_duration: 400h\n", "retention.max_duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadConfig() error = %v, want ErrNotExist", err)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
discord:
  token: from-file
telemetry:
  logging:
    level: info
`)

	t.Setenv("SWEEPER_DISCORD_TOKEN", "from-env")
	t.Setenv("SWEEPER_TELEMETRY_LOGGING_LEVEL", "warn")
	t.Setenv("SWEEPER_BACKFILL_CONCURRENCY", "7")
	t.Setenv("SWEEPER_RETENTION_EXEMPT_AUTOMATED", "false")
	t.Setenv("SWEEPER_MONITOR_IDLE_WAIT", "45s")
	t.Setenv("SWEEPER_TELEMETRY_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("SWEEPER_BACKFILL_RATE_PER_SECOND", "not-a-number")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides() error = %v", err)
	}

	if cfg.Discord.Token != "from-env" {
		t.Errorf("Token = %q, want from-env", cfg.Discord.Token)
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q", cfg.Telemetry.Logging.Level)
	}
	if cfg.Backfill.Concurrency != 7 {
		t.Errorf("Concurrency = %d", cfg.Backfill.Concurrency)
	}
	if cfg.Retention.ExemptAutomated {
		t.Error("ExemptAutomated override ignored")
	}
	if cfg.Monitor.IdleWait != 45*time.Second {
		t.Errorf("IdleWait = %v", cfg.Monitor.IdleWait)
	}
	if cfg.Telemetry.Tracing.SampleRatio != 0.25 {
		t.Errorf("SampleRatio = %v", cfg.Telemetry.Tracing.SampleRatio)
	}
	if cfg.Backfill.RatePerSecond != DefaultBackfillRatePerSecond {
		t.Errorf("unparsable override should be ignored, got %d", cfg.Backfill.RatePerSecond)
	}
}

func TestLoadConfigWithEnvOverrides_Revalidates(t *testing.T) {
	path := writeConfig(t, "{}\n")
	t.Setenv("SWEEPER_STORE_BACKEND", "etcd")

	_, err := LoadConfigWithEnvOverrides(path)
	if err == nil || !strings.Contains(err.Error(), "after environment overrides") {
		t.Errorf("error = %v, want validation failure after overrides", err)
	}
}

func TestLoad_FallsBackToDefaults(t *testing.T) {
	t.Setenv("SWEEPER_STORE_BACKEND", "memory")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Store.Backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Monitor.MaxWait != DefaultMonitorMaxWait {
		t.Errorf("MaxWait = %v, want default", cfg.Monitor.MaxWait)
	}
}

func TestLoad_UsesExistingFile(t *testing.T) {
	path := writeConfig(t, "audit:\n  buffer_size: 12\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Audit.BufferSize != 12 {
		t.Errorf("Audit.BufferSize = %d, want 12", cfg.Audit.BufferSize)
	}
}
