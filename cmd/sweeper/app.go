package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"mercator-hq/sweeper/pkg/cli"
	"mercator-hq/sweeper/pkg/config"
	"mercator-hq/sweeper/pkg/retention"
	"mercator-hq/sweeper/pkg/retention/audit"
	"mercator-hq/sweeper/pkg/retention/service"
	"mercator-hq/sweeper/pkg/retention/storage"
	"mercator-hq/sweeper/pkg/secrets"
	"mercator-hq/sweeper/pkg/telemetry/logging"
	"mercator-hq/sweeper/pkg/telemetry/metrics"
)

// env is the configuration, logger and store shared by every command.
type env struct {
	cfg    *config.Config
	log    *logging.Logger
	logger *slog.Logger
	store  retention.Store
}

// loadConfig reads --config, resolves secret references and applies
// --log-level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, cli.WrapConfigError(err)
	}
	if err := newSecretResolver().ResolveConfig(context.Background(), cfg); err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	if logLevel != "" {
		if _, err := logging.ParseLevel(logLevel); err != nil {
			return nil, cli.NewConfigError("--log-level", err.Error())
		}
		cfg.Telemetry.Logging.Level = logLevel
	}
	return cfg, nil
}

// newSecretResolver looks secrets up in the environment, then in
// SWEEPER_SECRETS_DIR (default /run/secrets) when that directory exists.
func newSecretResolver() *secrets.Resolver {
	providers := []secrets.Provider{secrets.NewEnvProvider(secrets.DefaultEnvPrefix)}

	dir := os.Getenv("SWEEPER_SECRETS_DIR")
	if dir == "" {
		dir = secrets.DefaultDir
	}
	if files, err := secrets.NewFileProvider(dir); err == nil {
		providers = append(providers, files)
	}
	return secrets.NewResolver(providers...)
}

// newEnv loads the configuration and builds the logger. Logs go to logOut;
// offline commands pass stderr so their output stays machine-readable.
func newEnv(logOut io.Writer, openStore bool) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	lc := logging.FromConfig(&cfg.Telemetry.Logging, cfg.Discord.Token)
	lc.Writer = logOut
	log, err := logging.New(lc)
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	logger := log.Slog()
	slog.SetDefault(logger)

	e := &env{cfg: cfg, log: log, logger: logger}
	if openStore {
		store, err := storage.Open(storage.ConfigFromSettings(cfg.Store))
		if err != nil {
			log.Close()
			return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
		}
		e.store = store
	}
	return e, nil
}

// Close releases the store and the log file.
func (e *env) Close() {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Warn("failed to close store", "error", err)
		}
	}
	e.log.Close()
}

// newAuditTrail starts an audit writer over the store. Callers must Close
// it to flush pending entries.
func (e *env) newAuditTrail(collector *metrics.Collector) *audit.Trail {
	return audit.New(e.store, audit.ConfigFromSettings(e.cfg.Audit),
		audit.WithMetrics(collector),
		audit.WithLogger(e.logger),
	)
}

// newService builds the channel service without a notifier; run attaches
// the monitor.
func (e *env) newService(filter *retention.AuthorFilter, auditor retention.Auditor, collector *metrics.Collector) (*service.Service, error) {
	return service.New(
		service.Config{MaxRetention: e.cfg.Retention.MaxDuration},
		service.Deps{
			Store:   e.store,
			Filter:  filter,
			Auditor: auditor,
			Metrics: collector,
			Logger:  e.logger,
		},
	)
}
