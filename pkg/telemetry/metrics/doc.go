// Package metrics provides Prometheus metrics collection for sweeper.
//
// # Metrics Categories
//
//   - Deletion metrics: messages registered, deleted, failed, and the pending gauge
//   - Cycle metrics: expiry cycles, history scans, audit drops, channel count
//
// All metric names are prefixed with the configured namespace and subsystem,
// "sweeper_retention_" by default.
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordDeleted("bulk", 100)
//	collector.RecordCycle("ok", 120*time.Millisecond)
//
//	router.Handle("/metrics", collector.Handler())
package metrics
