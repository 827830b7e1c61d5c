package main

import (
	"fmt"

	"mercator-hq/sweeper/pkg/retention"
	"mercator-hq/sweeper/pkg/retention/backfill"
	"mercator-hq/sweeper/pkg/retention/monitor"
	"mercator-hq/sweeper/pkg/retention/planner"
	"mercator-hq/sweeper/pkg/retention/service"
	"mercator-hq/sweeper/pkg/telemetry/metrics"
	"mercator-hq/sweeper/pkg/telemetry/tracing"
)

// core is the scheduler assembled over one store and sink.
type core struct {
	filter   *retention.AuthorFilter
	executor *planner.Executor
	scanner  *backfill.Scanner
	monitor  *monitor.Monitor
	service  *service.Service
}

// newCore wires the executor, backfill scanner, monitor and channel service.
// The service notifies the monitor of every registered message.
func (e *env) newCore(sink retention.Sink, auditor retention.Auditor, collector *metrics.Collector, tracer *tracing.Tracer) (*core, error) {
	clock := retention.SystemClock{}
	filter := retention.NewAuthorFilter(e.cfg.Retention.ExemptAutomated)

	executor := planner.NewExecutor(sink,
		planner.WithAuditor(auditor),
		planner.WithMetrics(collector),
		planner.WithTracer(tracer),
		planner.WithLogger(e.logger),
	)

	scanner := backfill.New(backfill.ConfigFromSettings(e.cfg), backfill.Deps{
		Store:    e.store,
		Sink:     sink,
		Executor: executor,
		Filter:   filter,
		Clock:    clock,
		Auditor:  auditor,
		Metrics:  collector,
		Tracer:   tracer,
		Logger:   e.logger,
	})

	mon := monitor.New(monitor.ConfigFromSettings(e.cfg), monitor.Deps{
		Store:    e.store,
		Executor: executor,
		Backfill: scanner,
		Clock:    clock,
		Auditor:  auditor,
		Metrics:  collector,
		Tracer:   tracer,
		Logger:   e.logger,
	})

	svc, err := e.newService(filter, auditor, collector)
	if err != nil {
		return nil, fmt.Errorf("failed to create channel service: %w", err)
	}
	svc.SetNotifier(mon)

	return &core{
		filter:   filter,
		executor: executor,
		scanner:  scanner,
		monitor:  mon,
		service:  svc,
	}, nil
}
