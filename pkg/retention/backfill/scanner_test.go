package backfill

import (
	"context"
	"errors"
	"testing"
	"time"

	"mercator-hq/sweeper/internal/retentiontest"
	"mercator-hq/sweeper/pkg/retention"
	"mercator-hq/sweeper/pkg/retention/storage"
)

var epoch = retentiontest.Epoch

type scanFixture struct {
	store   *storage.MemoryStore
	sink    *retentiontest.FakeSink
	clock   *retentiontest.ManualClock
	auditor *retentiontest.RecordingAuditor
	filter  *retention.AuthorFilter
	scanner *Scanner
}

func newScanFixture(t *testing.T) *scanFixture {
	t.Helper()
	f := &scanFixture{
		store:   storage.NewMemoryStore(),
		clock:   retentiontest.NewManualClock(epoch),
		auditor: &retentiontest.RecordingAuditor{},
		filter:  retention.NewAuthorFilter(true),
	}
	f.sink = retentiontest.NewFakeSink(f.clock)
	f.scanner = f.newScanner(f.sink)
	return f
}

func (f *scanFixture) newScanner(sink retention.Sink) *Scanner {
	return New(Config{Concurrency: 2, StaleGracePeriod: 72 * time.Hour}, Deps{
		Store:   f.store,
		Sink:    sink,
		Filter:  f.filter,
		Clock:   f.clock,
		Auditor: f.auditor,
	})
}

// registerChannel enables channelID with a 24h retention, watermarked two
// days before epoch.
func (f *scanFixture) registerChannel(t *testing.T, channelID string) *retention.ChannelPolicy {
	t.Helper()
	f.sink.AddChannel(channelID, "chan-"+channelID)
	return retentiontest.MustUpsert(t, f.store, retentiontest.NewPolicy(channelID, 24*time.Hour, epoch.Add(-48*time.Hour)))
}

func TestScanAll_RegistersAndFastDeletes(t *testing.T) {
	f := newScanFixture(t)
	f.registerChannel(t, "C1")

	expired := retentiontest.NewMessage("C1", epoch.Add(-30*time.Hour), 1)
	fresh := retentiontest.NewMessage("C1", epoch.Add(-time.Hour), 2)
	f.sink.AddMessages(expired, fresh)

	report, err := f.scanner.ScanAll(context.Background(), Options{Reason: ReasonStartup})
	if err != nil {
		t.Fatalf("ScanAll() error = %v", err)
	}

	if report.Scanned != 1 || report.Registered != 1 || report.FastDeleted != 1 {
		t.Errorf("report = %+v, want 1 scanned, 1 registered, 1 fast-deleted", report)
	}
	if f.sink.Has("C1", expired.ID) {
		t.Error("expired message still present in the sink")
	}
	if !f.sink.Has("C1", fresh.ID) {
		t.Error("fresh message was deleted")
	}

	count, _ := f.store.PendingCount(context.Background())
	if count != 1 {
		t.Errorf("PendingCount() = %d, want 1", count)
	}
	p, _ := f.store.GetPolicy(context.Background(), "C1")
	if p.ScanCursor != fresh.ID {
		t.Errorf("ScanCursor = %q, want %q", p.ScanCursor, fresh.ID)
	}
}

func TestScanAll_UnreachableChannelMarkedStale(t *testing.T) {
	f := newScanFixture(t)
	f.registerChannel(t, "C1")
	f.registerChannel(t, "C2")
	f.sink.AddMessages(retentiontest.NewMessage("C1", epoch.Add(-time.Hour), 1))
	f.sink.SetUnreachable("C2", true)

	report, err := f.scanner.ScanAll(context.Background(), Options{Reason: ReasonStartup})
	if err != nil {
		t.Fatalf("ScanAll() error = %v", err)
	}

	if report.Scanned != 1 || report.Stale != 1 {
		t.Errorf("report = %+v, want 1 scanned and 1 stale", report)
	}
	p, err := f.store.GetPolicy(context.Background(), "C2")
	if err != nil {
		t.Fatalf("C2 policy removed: %v", err)
	}
	if !p.IsStale() {
		t.Error("C2 policy not marked stale")
	}
	if !f.auditor.Contains("channel C2 unreachable") {
		t.Errorf("audit events = %v, want an unreachable entry", f.auditor.Events())
	}
	if count, _ := f.store.PendingCount(context.Background()); count != 1 {
		t.Errorf("PendingCount() = %d, want 1 from C1", count)
	}
}

func TestScanAll_SkipsWatermarkedAndAutomated(t *testing.T) {
	f := newScanFixture(t)
	p := f.registerChannel(t, "C1")

	beforeWatermark := retentiontest.NewMessage("C1", epoch.Add(-72*time.Hour), 1)
	watermark := retention.Message{ID: p.WatermarkID, ChannelID: "C1", CreatedAt: p.WatermarkAt}
	bot := retentiontest.NewMessage("C1", epoch.Add(-2*time.Hour), 2)
	bot.Automated = true
	human := retentiontest.NewMessage("C1", epoch.Add(-time.Hour), 3)
	f.sink.AddMessages(beforeWatermark, watermark, bot, human)

	report, err := f.scanner.ScanAll(context.Background(), Options{Full: true})
	if err != nil {
		t.Fatalf("ScanAll() error = %v", err)
	}
	if report.Registered != 1 {
		t.Errorf("Registered = %d, want 1", report.Registered)
	}

	f.filter.SetExemptAutomated(false)
	report, _ = f.scanner.ScanAll(context.Background(), Options{Full: true})
	if report.Registered != 2 {
		t.Errorf("Registered with exemption off = %d, want 2", report.Registered)
	}
	if !f.sink.Has("C1", watermark.ID) || !f.sink.Has("C1", beforeWatermark.ID) {
		t.Error("messages at or before the watermark were touched")
	}
}

func TestScanAll_IncrementalAndFull(t *testing.T) {
	f := newScanFixture(t)
	p := f.registerChannel(t, "C1")
	first := retentiontest.NewMessage("C1", epoch.Add(-time.Hour), 1)
	f.sink.AddMessages(first)

	if _, err := f.scanner.ScanAll(context.Background(), Options{}); err != nil {
		t.Fatalf("ScanAll() error = %v", err)
	}
	f.sink.ResetCalls()

	f.scanner.ScanAll(context.Background(), Options{})
	fetches := f.sink.CallsOf(retentiontest.OpFetchMessages)
	if len(fetches) != 1 || fetches[0].AfterID != first.ID {
		t.Errorf("incremental fetch = %+v, want after %s", fetches, first.ID)
	}
	f.sink.ResetCalls()

	f.scanner.ScanAll(context.Background(), Options{Full: true})
	fetches = f.sink.CallsOf(retentiontest.OpFetchMessages)
	if len(fetches) != 1 || fetches[0].AfterID != p.WatermarkID {
		t.Errorf("full fetch = %+v, want after watermark %s", fetches, p.WatermarkID)
	}
}

func TestScanAll_IdempotentDeadlines(t *testing.T) {
	f := newScanFixture(t)
	f.registerChannel(t, "C1")
	m := retentiontest.NewMessage("C1", epoch.Add(-time.Hour), 1)
	f.sink.AddMessages(m)

	f.scanner.ScanAll(context.Background(), Options{})
	f.clock.Advance(time.Hour)
	f.scanner.ScanAll(context.Background(), Options{Full: true})

	next, ok, err := f.store.NextDeadline(context.Background())
	if err != nil || !ok {
		t.Fatalf("NextDeadline() = %v, %v, %v", next, ok, err)
	}
	if want := m.CreatedAt.Add(24 * time.Hour); !next.Equal(want) {
		t.Errorf("deadline = %v, want %v", next, want)
	}
	if count, _ := f.store.PendingCount(context.Background()); count != 1 {
		t.Errorf("PendingCount() = %d, want 1", count)
	}
}

func TestScanAll_FetchErrorKeepsCursor(t *testing.T) {
	f := newScanFixture(t)
	f.registerChannel(t, "C1")
	f.sink.AddMessages(retentiontest.NewMessage("C1", epoch.Add(-time.Hour), 1))
	f.sink.FailFetch("C1", errors.New("503 service unavailable"))

	report, err := f.scanner.ScanAll(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ScanAll() error = %v", err)
	}
	if report.Failed != 1 {
		t.Errorf("Failed = %d, want 1", report.Failed)
	}
	p, _ := f.store.GetPolicy(context.Background(), "C1")
	if p.ScanCursor != "" || p.IsStale() {
		t.Errorf("policy = %+v, want untouched", p)
	}
	if !f.auditor.Contains("failed to fetch history") {
		t.Errorf("audit events = %v, want a fetch failure", f.auditor.Events())
	}
}

func TestScanAll_EmptyHistory(t *testing.T) {
	f := newScanFixture(t)
	f.registerChannel(t, "C1")

	report, err := f.scanner.ScanAll(context.Background(), Options{})
	if err != nil || report.Scanned != 1 {
		t.Fatalf("ScanAll() = %+v, %v", report, err)
	}
	p, _ := f.store.GetPolicy(context.Background(), "C1")
	if p.ScanCursor != "" {
		t.Errorf("ScanCursor = %q, want empty", p.ScanCursor)
	}
}

func TestScanAll_ClearsStaleWhenReachable(t *testing.T) {
	f := newScanFixture(t)
	f.registerChannel(t, "C1")
	f.store.MarkPolicyStale(context.Background(), "C1", epoch.Add(-time.Hour))

	f.scanner.ScanAll(context.Background(), Options{})

	p, _ := f.store.GetPolicy(context.Background(), "C1")
	if p.IsStale() {
		t.Error("stale flag not cleared")
	}
}

type blockingSink struct {
	*retentiontest.FakeSink
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSink) FetchRecentMessages(ctx context.Context, channelID, afterID string) ([]retention.Message, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.FakeSink.FetchRecentMessages(ctx, channelID, afterID)
}

func TestScanChannel_GuardsConcurrentScans(t *testing.T) {
	f := newScanFixture(t)
	f.registerChannel(t, "C1")
	sink := &blockingSink{FakeSink: f.sink, entered: make(chan struct{}), release: make(chan struct{})}
	scanner := f.newScanner(sink)

	done := make(chan error, 1)
	go func() {
		_, err := scanner.ScanChannel(context.Background(), "C1", Options{})
		done <- err
	}()
	<-sink.entered

	if _, err := scanner.ScanChannel(context.Background(), "C1", Options{}); !errors.Is(err, retention.ErrScanInProgress) {
		t.Errorf("second ScanChannel() error = %v, want ErrScanInProgress", err)
	}

	close(sink.release)
	if err := <-done; err != nil {
		t.Errorf("first ScanChannel() error = %v", err)
	}
}

func TestPruneStale(t *testing.T) {
	f := newScanFixture(t)
	ctx := context.Background()
	for _, id := range []string{"recent", "expired", "back", "healthy"} {
		f.registerChannel(t, id)
	}
	f.store.MarkPolicyStale(ctx, "recent", epoch.Add(-time.Hour))
	f.store.MarkPolicyStale(ctx, "expired", epoch.Add(-100*time.Hour))
	f.store.MarkPolicyStale(ctx, "back", epoch.Add(-100*time.Hour))
	f.sink.SetUnreachable("recent", true)
	f.sink.SetUnreachable("expired", true)

	removed, err := f.scanner.PruneStale(ctx)
	if err != nil {
		t.Fatalf("PruneStale() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if _, err := f.store.GetPolicy(ctx, "expired"); !errors.Is(err, retention.ErrPolicyNotFound) {
		t.Errorf("expired policy still present: %v", err)
	}
	if p, _ := f.store.GetPolicy(ctx, "recent"); p == nil || !p.IsStale() {
		t.Error("recent stale policy should be kept stale")
	}
	if p, _ := f.store.GetPolicy(ctx, "back"); p == nil || p.IsStale() {
		t.Error("reachable policy should have its stale flag cleared")
	}
	if !f.auditor.Contains("policy for channel expired removed") {
		t.Errorf("audit events = %v, want a removal entry", f.auditor.Events())
	}
}

func TestScanAll_ReportsProgress(t *testing.T) {
	f := newScanFixture(t)
	for _, id := range []string{"C1", "C2", "C3"} {
		f.registerChannel(t, id)
	}

	var calls [][2]int
	_, err := f.scanner.ScanAll(context.Background(), Options{
		Reason:   ReasonManual,
		Progress: func(done, total int) { calls = append(calls, [2]int{done, total}) },
	})
	if err != nil {
		t.Fatalf("ScanAll() error = %v", err)
	}

	if len(calls) != 3 {
		t.Fatalf("progress called %d times, want 3", len(calls))
	}
	for i, c := range calls {
		if c[0] != i+1 || c[1] != 3 {
			t.Errorf("progress call %d = %v, want [%d 3]", i, c, i+1)
		}
	}
}

func TestScanAll_ShorterReenableKeepsFrozenDeadline(t *testing.T) {
	f := newScanFixture(t)
	ctx := context.Background()
	p := f.registerChannel(t, "C1")

	m := retentiontest.NewMessage("C1", epoch.Add(-2*time.Hour), 1)
	f.sink.AddMessages(m)
	if _, err := f.scanner.ScanAll(ctx, Options{}); err != nil {
		t.Fatalf("ScanAll() error = %v", err)
	}

	// Re-enable with 1h over the same watermark; the cursor resets.
	retentiontest.MustUpsert(t, f.store, retentiontest.NewPolicy("C1", time.Hour, p.WatermarkAt))
	report, err := f.scanner.ScanAll(ctx, Options{Full: true})
	if err != nil {
		t.Fatalf("ScanAll() after re-enable error = %v", err)
	}

	if report.FastDeleted != 0 {
		t.Errorf("FastDeleted = %d, want 0", report.FastDeleted)
	}
	if !f.sink.Has("C1", m.ID) {
		t.Fatal("message deleted before its stored deadline")
	}
	next, ok, err := f.store.NextDeadline(ctx)
	if err != nil || !ok {
		t.Fatalf("NextDeadline() = %v, %v, %v", next, ok, err)
	}
	if want := m.CreatedAt.Add(24 * time.Hour); !next.Equal(want) {
		t.Errorf("deadline = %v, want %v", next, want)
	}
}

func TestScanAll_SkipsRowsInFlight(t *testing.T) {
	f := newScanFixture(t)
	ctx := context.Background()
	f.registerChannel(t, "C1")

	m := retentiontest.NewMessage("C1", epoch.Add(-30*time.Hour), 1)
	f.sink.AddMessages(m)
	if _, err := f.store.RegisterPendingMessage(ctx, "C1", m.ID, m.CreatedAt); err != nil {
		t.Fatalf("RegisterPendingMessage() error = %v", err)
	}
	if _, err := f.store.TakeExpired(ctx, epoch); err != nil {
		t.Fatalf("TakeExpired() error = %v", err)
	}

	report, err := f.scanner.ScanAll(ctx, Options{})
	if err != nil {
		t.Fatalf("ScanAll() error = %v", err)
	}
	if report.FastDeleted != 0 || len(f.sink.CallsOf(retentiontest.OpDelete)) != 0 {
		t.Errorf("report = %+v, want the marked row left to the monitor", report)
	}
	if marked, _ := f.store.Marked(ctx); len(marked) != 1 {
		t.Errorf("Marked() = %d rows, want 1", len(marked))
	}
}
