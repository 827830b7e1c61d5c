// Package telemetry groups sweeper's observability packages.
//
//   - logging: slog handler chain with redaction, context fields, and rotation
//   - metrics: Prometheus collector for deletion and cycle metrics
//   - health: liveness and readiness checks
//   - tracing: OpenTelemetry spans exported over OTLP gRPC
package telemetry
