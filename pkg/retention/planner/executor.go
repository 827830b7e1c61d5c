package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mercator-hq/sweeper/pkg/retention"
	"mercator-hq/sweeper/pkg/telemetry/metrics"
	"mercator-hq/sweeper/pkg/telemetry/tracing"
)

// Result reports what happened to one channel's plan.
type Result struct {
	ChannelID string

	// Confirmed messages are gone from the platform, including ones that
	// were already deleted.
	Confirmed []string

	// Failed messages hit an error and stay marked for the next cycle.
	Failed []string

	// Remaining messages were never attempted because the context ended or
	// the channel became unreachable.
	Remaining []string

	// Rejected counts bulk calls the platform refused.
	Rejected int

	// ChannelGone is set when the sink reported the channel unreachable.
	ChannelGone bool

	cause error
}

// Err returns a *retention.PartialBatchError when any message was not
// confirmed, or nil.
func (r Result) Err() error {
	unconfirmed := len(r.Failed) + len(r.Remaining)
	if unconfirmed == 0 {
		return nil
	}
	return &retention.PartialBatchError{
		ChannelID: r.ChannelID,
		Confirmed: len(r.Confirmed),
		Failed:    unconfirmed,
		Cause:     r.cause,
	}
}

func (r *Result) fail(err error, ids ...string) {
	r.Failed = append(r.Failed, ids...)
	if r.cause == nil {
		r.cause = err
	}
}

func (r *Result) skip(err error, ids ...string) {
	r.Remaining = append(r.Remaining, ids...)
	if r.cause == nil {
		r.cause = err
	}
}

// Executor runs plans against a sink.
type Executor struct {
	sink    retention.Sink
	audit   retention.Auditor
	metrics *metrics.Collector
	tracer  *tracing.Tracer
	logger  *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithAuditor records bulk rejections on the audit trail.
func WithAuditor(a retention.Auditor) Option {
	return func(e *Executor) {
		if a != nil {
			e.audit = a
		}
	}
}

// WithMetrics records deletions on the collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Executor) { e.metrics = c }
}

// WithTracer wraps each Execute call in a span.
func WithTracer(t *tracing.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithLogger overrides the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor creates an executor deleting through sink.
func NewExecutor(sink retention.Sink, opts ...Option) *Executor {
	e := &Executor{
		sink:   sink,
		audit:  retention.NopAuditor{},
		logger: slog.Default().With("component", "retention.executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every operation of the plan in order.
//
// A rejected bulk call falls back to single deletes of its messages. An
// unreachable channel stops the plan. Once ctx is done no new sink call is
// made; messages not yet attempted are reported in Result.Remaining.
func (e *Executor) Execute(ctx context.Context, plan Plan) Result {
	ctx, span := e.tracer.Start(ctx, "planner.execute")
	tracing.SetBatchAttributes(span, plan.ChannelID, planMethod(plan), plan.MessageCount())

	res := Result{ChannelID: plan.ChannelID}
	for _, op := range plan.Operations {
		if op.Method == MethodBulk {
			e.bulk(ctx, plan.ChannelID, op.MessageIDs, &res)
			continue
		}
		e.singles(ctx, plan.ChannelID, op.MessageIDs, &res)
	}

	if res.ChannelGone {
		for range len(res.Remaining) {
			e.metrics.RecordDeleteFailure("unreachable")
		}
	}

	e.logger.DebugContext(ctx, "plan executed",
		"channel_id", plan.ChannelID,
		"bulk_ops", plan.BulkCount(),
		"single_ops", plan.SingleCount(),
		"confirmed", len(res.Confirmed),
		"failed", len(res.Failed),
		"remaining", len(res.Remaining),
		"rejected", res.Rejected,
	)
	tracing.End(span, res.Err())
	return res
}

// stopped reports whether no further sink call may be made. It moves ids
// to Remaining when so.
func (e *Executor) stopped(ctx context.Context, res *Result, ids []string) bool {
	switch {
	case res.ChannelGone:
		res.skip(retention.ErrChannelUnreachable, ids...)
		return true
	case ctx.Err() != nil:
		res.skip(ctx.Err(), ids...)
		return true
	}
	return false
}

func (e *Executor) bulk(ctx context.Context, channelID string, ids []string, res *Result) {
	if e.stopped(ctx, res, ids) {
		return
	}

	err := e.sink.BulkDelete(ctx, channelID, ids)
	switch {
	case err == nil:
		res.Confirmed = append(res.Confirmed, ids...)
		e.metrics.RecordDeleted(string(MethodBulk), len(ids))

	case errors.Is(err, retention.ErrSinkRejected):
		reason := retention.RejectionReason(err)
		res.Rejected++
		e.metrics.RecordSinkRejection(reason)
		e.logger.ErrorContext(ctx, "bulk delete rejected, falling back to single deletes",
			"channel_id", channelID,
			"messages", len(ids),
			"reason", reason,
			"error", err,
		)
		e.audit.Record(ctx, fmt.Sprintf("bulk delete of %d messages in channel %s rejected (%s), retrying one by one",
			len(ids), channelID, reason))
		e.singles(ctx, channelID, ids, res)

	case errors.Is(err, retention.ErrChannelUnreachable):
		res.ChannelGone = true
		res.skip(err, ids...)

	case canceled(ctx, err):
		res.skip(err, ids...)

	default:
		e.logger.WarnContext(ctx, "bulk delete failed",
			"channel_id", channelID,
			"messages", len(ids),
			"error", err,
		)
		res.fail(err, ids...)
		for range ids {
			e.metrics.RecordDeleteFailure("transient")
		}
	}
}

func (e *Executor) singles(ctx context.Context, channelID string, ids []string, res *Result) {
	for i, id := range ids {
		if e.stopped(ctx, res, ids[i:]) {
			return
		}

		err := e.sink.DeleteMessage(ctx, channelID, id)
		switch {
		case err == nil:
			res.Confirmed = append(res.Confirmed, id)
			e.metrics.RecordDeleted(string(MethodSingle), 1)

		case errors.Is(err, retention.ErrMessageNotFound):
			res.Confirmed = append(res.Confirmed, id)
			e.logger.DebugContext(ctx, "message already deleted",
				"channel_id", channelID,
				"message_id", id,
			)

		case errors.Is(err, retention.ErrChannelUnreachable):
			res.ChannelGone = true
			res.skip(err, ids[i:]...)
			return

		case canceled(ctx, err):
			res.skip(err, ids[i:]...)
			return

		default:
			e.logger.WarnContext(ctx, "message delete failed",
				"channel_id", channelID,
				"message_id", id,
				"error", err,
			)
			res.fail(err, id)
			e.metrics.RecordDeleteFailure("transient")
		}
	}
}

func canceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func planMethod(p Plan) string {
	bulk, single := p.BulkCount(), p.SingleCount()
	switch {
	case bulk > 0 && single > 0:
		return "mixed"
	case bulk > 0:
		return string(MethodBulk)
	default:
		return string(MethodSingle)
	}
}
