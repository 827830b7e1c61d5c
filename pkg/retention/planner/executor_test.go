package planner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mercator-hq/sweeper/internal/retentiontest"
	"mercator-hq/sweeper/pkg/config"
	"mercator-hq/sweeper/pkg/retention"
	"mercator-hq/sweeper/pkg/telemetry/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type executorFixture struct {
	sink     *retentiontest.FakeSink
	auditor  *retentiontest.RecordingAuditor
	registry *prometheus.Registry
	exec     *Executor
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	f := &executorFixture{
		sink:     retentiontest.NewFakeSink(retentiontest.NewManualClock(now)),
		auditor:  &retentiontest.RecordingAuditor{},
		registry: prometheus.NewRegistry(),
	}
	collector := metrics.NewCollector(&config.MetricsConfig{Enabled: true}, f.registry)
	f.exec = NewExecutor(f.sink, WithAuditor(f.auditor), WithMetrics(collector))
	return f
}

func (f *executorFixture) seed(channelID string, age time.Duration, n int) []*retention.PendingMessage {
	msgs := retentiontest.Series(channelID, now.Add(-age), time.Second, n)
	f.sink.AddMessages(msgs...)
	return retentiontest.Pending(msgs, time.Hour)
}

func TestExecutor_BulkAndSingles(t *testing.T) {
	f := newExecutorFixture(t)
	rows := f.seed("C1", time.Hour, 101)

	res := f.exec.Execute(context.Background(), Build("C1", rows, now, DiscordConstraints()))

	if err := res.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}
	if len(res.Confirmed) != 101 {
		t.Errorf("confirmed %d, want 101", len(res.Confirmed))
	}
	if got := len(f.sink.CallsOf(retentiontest.OpBulkDelete)); got != 1 {
		t.Errorf("bulk calls = %d, want 1", got)
	}
	if got := len(f.sink.CallsOf(retentiontest.OpDelete)); got != 1 {
		t.Errorf("single calls = %d, want 1", got)
	}
}

func TestExecutor_RejectedBulkFallsBack(t *testing.T) {
	f := newExecutorFixture(t)
	rows := f.seed("C1", time.Hour, 3)
	f.sink.FailNextBulk(retention.ErrBulkTooOld)

	res := f.exec.Execute(context.Background(), Build("C1", rows, now, DiscordConstraints()))

	if res.Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", res.Rejected)
	}
	if len(res.Confirmed) != 3 {
		t.Errorf("confirmed %d, want 3", len(res.Confirmed))
	}
	if got := len(f.sink.CallsOf(retentiontest.OpDelete)); got != 3 {
		t.Errorf("single calls = %d, want 3", got)
	}
	if !f.auditor.Contains("rejected (too_old)") {
		t.Errorf("audit events = %v, want a rejection entry", f.auditor.Events())
	}

	expected := `
# HELP sweeper_retention_sink_rejections_total Total number of bulk delete requests refused by the platform
# TYPE sweeper_retention_sink_rejections_total counter
sweeper_retention_sink_rejections_total{reason="too_old"} 1
`
	if err := testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "sweeper_retention_sink_rejections_total"); err != nil {
		t.Error(err)
	}
}

func TestExecutor_AlreadyDeletedCountsAsConfirmed(t *testing.T) {
	f := newExecutorFixture(t)
	msg := retentiontest.NewMessage("C1", now.Add(-time.Hour), 1)
	f.sink.AddChannel("C1", "general")
	rows := retentiontest.Pending([]retention.Message{msg}, time.Hour)

	res := f.exec.Execute(context.Background(), Build("C1", rows, now, DiscordConstraints()))

	if res.Err() != nil || len(res.Confirmed) != 1 {
		t.Errorf("res = %+v, want one confirmed message", res)
	}
}

func TestExecutor_UnreachableChannelStops(t *testing.T) {
	f := newExecutorFixture(t)
	rows := f.seed("C1", 20*24*time.Hour, 3)
	f.sink.SetUnreachable("C1", true)

	res := f.exec.Execute(context.Background(), Build("C1", rows, now, DiscordConstraints()))

	if !res.ChannelGone {
		t.Error("ChannelGone = false, want true")
	}
	if len(res.Remaining) != 3 || len(res.Confirmed) != 0 {
		t.Errorf("remaining=%d confirmed=%d, want 3 and 0", len(res.Remaining), len(res.Confirmed))
	}
	if got := len(f.sink.CallsOf(retentiontest.OpDelete)); got != 1 {
		t.Errorf("single calls = %d, want 1", got)
	}
	if !errors.Is(res.Err(), retention.ErrChannelUnreachable) {
		t.Errorf("Err() = %v, want ErrChannelUnreachable", res.Err())
	}
}

func TestExecutor_TransientFailureIsPartial(t *testing.T) {
	f := newExecutorFixture(t)
	rows := f.seed("C1", 20*24*time.Hour, 3)
	boom := errors.New("gateway timeout")
	f.sink.FailDelete(rows[1].MessageID, boom)

	res := f.exec.Execute(context.Background(), Build("C1", rows, now, DiscordConstraints()))

	var partial *retention.PartialBatchError
	if !errors.As(res.Err(), &partial) {
		t.Fatalf("Err() = %v, want PartialBatchError", res.Err())
	}
	if partial.Confirmed != 2 || partial.Failed != 1 {
		t.Errorf("partial = %+v, want 2 confirmed and 1 failed", partial)
	}
	if !errors.Is(res.Err(), boom) {
		t.Error("partial error does not wrap the sink failure")
	}
}

func TestExecutor_CanceledContextMakesNoCalls(t *testing.T) {
	f := newExecutorFixture(t)
	rows := f.seed("C1", time.Hour, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.exec.Execute(ctx, Build("C1", rows, now, DiscordConstraints()))

	if len(f.sink.Calls()) != 0 {
		t.Errorf("sink calls = %d, want 0", len(f.sink.Calls()))
	}
	if len(res.Remaining) != 5 {
		t.Errorf("remaining = %d, want 5", len(res.Remaining))
	}
}

func TestExecutor_NilCollaborators(t *testing.T) {
	sink := retentiontest.NewFakeSink(retentiontest.NewManualClock(now))
	msgs := retentiontest.Series("C1", now.Add(-time.Hour), time.Second, 2)
	sink.AddMessages(msgs...)

	exec := NewExecutor(sink, WithAuditor(nil), WithMetrics(nil), WithTracer(nil), WithLogger(nil))
	res := exec.Execute(context.Background(), Build("C1", retentiontest.Pending(msgs, time.Hour), now, DiscordConstraints()))
	if res.Err() != nil {
		t.Errorf("Err() = %v", res.Err())
	}
}
