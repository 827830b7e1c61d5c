package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mercator-hq/sweeper/internal/retentiontest"
	"mercator-hq/sweeper/pkg/config"
	"mercator-hq/sweeper/pkg/retention"
	"mercator-hq/sweeper/pkg/retention/storage"
	"mercator-hq/sweeper/pkg/telemetry/logging"
)

// gatedWriter blocks every write until release is closed.
type gatedWriter struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written []string
}

func newGatedWriter() *gatedWriter {
	return &gatedWriter{started: make(chan struct{}), release: make(chan struct{})}
}

func (w *gatedWriter) AppendAudit(ctx context.Context, entry *retention.AuditEntry) error {
	w.once.Do(func() { close(w.started) })
	<-w.release
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written = append(w.written, entry.Event)
	return nil
}

type failingWriter struct {
	calls int
	mu    sync.Mutex
}

func (w *failingWriter) AppendAudit(context.Context, *retention.AuditEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	return errors.New("disk full")
}

func TestConfigFromSettings(t *testing.T) {
	tests := []struct {
		name string
		in   config.AuditConfig
		want Config
	}{
		{"zero uses defaults", config.AuditConfig{}, DefaultConfig()},
		{"explicit", config.AuditConfig{BufferSize: 3, WriteTimeout: time.Second}, Config{BufferSize: 3, WriteTimeout: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConfigFromSettings(tt.in); got != tt.want {
				t.Errorf("ConfigFromSettings() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTrail_WritesAndDrainsOnClose(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := retentiontest.NewManualClock(retentiontest.Epoch)
	trail := New(store, DefaultConfig(), WithClock(clock))

	ctx := logging.WithCycleID(context.Background(), "cycle-1")
	for i := 0; i < 5; i++ {
		trail.Recordf(ctx, "event %d", i)
	}
	trail.Record(context.Background(), "standalone")

	if err := trail.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	all, err := store.QueryAudit(context.Background(), retention.AuditQuery{})
	if err != nil {
		t.Fatalf("QueryAudit() error = %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("got %d entries, want 6", len(all))
	}

	cycle, err := store.QueryAudit(context.Background(), retention.AuditQuery{CycleID: "cycle-1"})
	if err != nil {
		t.Fatalf("QueryAudit(cycle) error = %v", err)
	}
	if len(cycle) != 5 {
		t.Errorf("got %d cycle entries, want 5", len(cycle))
	}
	if all[0].TimestampMs != retentiontest.Epoch.UnixMilli() {
		t.Errorf("TimestampMs = %d, want the clock time", all[0].TimestampMs)
	}
}

func TestTrail_FullBufferDrops(t *testing.T) {
	w := newGatedWriter()
	trail := New(w, Config{BufferSize: 1, WriteTimeout: time.Second})

	trail.Record(context.Background(), "first")
	<-w.started // worker holds "first"

	trail.Record(context.Background(), "second") // buffered
	trail.Record(context.Background(), "third")  // dropped

	close(w.release)
	trail.Close()

	if got := trail.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.written) != 2 || w.written[0] != "first" || w.written[1] != "second" {
		t.Errorf("written = %v, want [first second]", w.written)
	}
}

func TestTrail_WriteFailureIsSwallowed(t *testing.T) {
	w := &failingWriter{}
	trail := New(w, DefaultConfig())

	trail.Record(context.Background(), "lost")
	if err := trail.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.calls != 1 {
		t.Errorf("writer calls = %d, want 1", w.calls)
	}
}

func TestTrail_RecordAfterClose(t *testing.T) {
	w := &failingWriter{}
	trail := New(w, DefaultConfig())
	trail.Close()
	trail.Close()

	trail.Record(context.Background(), "late")
	if w.calls != 0 {
		t.Errorf("writer calls = %d, want 0", w.calls)
	}
}

func TestTrail_ImplementsAuditor(t *testing.T) {
	var _ retention.Auditor = (*Trail)(nil)
}
