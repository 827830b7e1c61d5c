// Package tracing provides OpenTelemetry tracing for sweeper.
//
// Spans cover expiry monitor cycles (monitor.cycle), per-channel deletion
// batches (executor.channel), history scans (backfill.channel), and slash
// command handling (command.<name>). Spans are exported over OTLP gRPC when
// telemetry.tracing.enabled is set; otherwise every call is a noop.
//
//	tracer, err := tracing.New(ctx, &cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "monitor.cycle")
//	defer func() { tracing.End(span, err) }()
package tracing
