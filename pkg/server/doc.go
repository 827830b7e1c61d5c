// Package server provides the ops HTTP server of the retention scheduler.
//
// The server exposes probes, Prometheus metrics and a read-only view of the
// scheduler's state:
//
//	GET /healthz      liveness
//	GET /readyz       readiness (store, gateway, monitor checks)
//	GET /version      build information
//	GET /metrics      Prometheus exposition
//	GET /v1/channels  channels under retention
//	GET /v1/audit     recent audit entries (?limit=, ?since=, ?cycle_id=)
//	GET /v1/status    monitor state, pending count, next deadline, next rescan
//
// # Basic Usage
//
//	srv := server.New(&cfg.Server, cfg.Telemetry.Metrics.Path, server.Deps{
//	    Health:   checker,
//	    Metrics:  collector.Handler(),
//	    Channels: svc,
//	    Audit:    store,
//	    Status:   statusFunc,
//	})
//	go srv.Start()
//	defer srv.Shutdown(ctx)
//
// The server never mutates scheduler state. Channel administration goes
// through the slash commands or the CLI.
package server
