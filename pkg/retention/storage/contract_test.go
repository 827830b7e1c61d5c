package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mercator-hq/sweeper/pkg/retention"
)

// backends returns a constructor for every Store implementation.
func backends() map[string]func(t *testing.T) retention.Store {
	return map[string]func(t *testing.T) retention.Store{
		"memory": func(t *testing.T) retention.Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) retention.Store {
			t.Helper()
			s, err := NewSQLiteStore(&SQLiteConfig{
				Path:        filepath.Join(t.TempDir(), "test.db"),
				Driver:      DriverModernc,
				WALMode:     true,
				BusyTimeout: 5 * time.Second,
			})
			if err != nil {
				t.Fatalf("Failed to create SQLite store: %v", err)
			}
			return s
		},
		"bolt": func(t *testing.T) retention.Store {
			t.Helper()
			s, err := NewBoltStore(&BoltConfig{Path: filepath.Join(t.TempDir(), "test.bolt")})
			if err != nil {
				t.Fatalf("Failed to create bolt store: %v", err)
			}
			return s
		},
	}
}

// forEachBackend runs fn as a subtest against a fresh store of every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, s retention.Store)) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			fn(t, s)
		})
	}
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testPolicy(channelID string, d time.Duration) *retention.ChannelPolicy {
	return &retention.ChannelPolicy{
		ChannelID:      channelID,
		ChannelName:    "general",
		Retention:      d,
		RetentionLabel: d.String(),
		WatermarkID:    "1000",
		WatermarkAt:    t0.Add(-time.Hour),
		CreatedAt:      t0.Add(-time.Hour),
		UpdatedAt:      t0.Add(-time.Hour),
	}
}

func mustUpsert(t *testing.T, s retention.Store, p *retention.ChannelPolicy) {
	t.Helper()
	if _, err := s.UpsertPolicy(context.Background(), p); err != nil {
		t.Fatalf("UpsertPolicy(%s) error = %v", p.ChannelID, err)
	}
}

func mustRegister(t *testing.T, s retention.Store, channelID, messageID string, createdAt time.Time) *retention.PendingMessage {
	t.Helper()
	m, err := s.RegisterPendingMessage(context.Background(), channelID, messageID, createdAt)
	if err != nil {
		t.Fatalf("RegisterPendingMessage(%s, %s) error = %v", channelID, messageID, err)
	}
	return m
}

func messageIDs(msgs []*retention.PendingMessage) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ChannelID + "/" + m.MessageID
	}
	return ids
}

func TestStore_PolicyLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s retention.Store) {
		ctx := context.Background()

		if _, err := s.GetPolicy(ctx, "C1"); !errors.Is(err, retention.ErrPolicyNotFound) {
			t.Fatalf("GetPolicy() on empty store error = %v, want ErrPolicyNotFound", err)
		}

		stored, err := s.UpsertPolicy(ctx, testPolicy("C1", time.Hour))
		if err != nil {
			t.Fatalf("UpsertPolicy() error = %v", err)
		}
		if stored.Retention != time.Hour {
			t.Errorf("stored Retention = %v, want 1h", stored.Retention)
		}

		replacement := testPolicy("C1", 2*time.Hour)
		replacement.WatermarkID = "2000"
		mustUpsert(t, s, replacement)

		policies, err := s.ListPolicies(ctx)
		if err != nil {
			t.Fatalf("ListPolicies() error = %v", err)
		}
		if len(policies) != 1 {
			t.Fatalf("ListPolicies() returned %d policies, want 1", len(policies))
		}
		if policies[0].Retention != 2*time.Hour || policies[0].WatermarkID != "2000" {
			t.Errorf("policy after re-registration = %+v", policies[0])
		}

		got, err := s.GetPolicy(ctx, "C1")
		if err != nil {
			t.Fatalf("GetPolicy() error = %v", err)
		}
		if !got.WatermarkAt.Equal(replacement.WatermarkAt) {
			t.Errorf("WatermarkAt = %v, want %v", got.WatermarkAt, replacement.WatermarkAt)
		}

		if err := s.RemovePolicy(ctx, "C1"); err != nil {
			t.Fatalf("RemovePolicy() error = %v", err)
		}
		if _, err := s.GetPolicy(ctx, "C1"); !errors.Is(err, retention.ErrPolicyNotFound) {
			t.Errorf("GetPolicy() after remove error = %v, want ErrPolicyNotFound", err)
		}
		if err := s.RemovePolicy(ctx, "C1"); err != nil {
			t.Errorf("RemovePolicy() of absent policy error = %v, want nil", err)
		}
	})
}

func TestStore_UpsertPolicyRejectsInvalid(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s retention.Store) {
		ctx := context.Background()
		tests := []struct {
			name   string
			policy *retention.ChannelPolicy
		}{
			{"nil", nil},
			{"empty channel", testPolicy("", time.Hour)},
			{"zero retention", testPolicy("C1", 0)},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := s.UpsertPolicy(ctx, tt.policy); err == nil {
					t.Error("UpsertPolicy() expected error")
				}
			})
		}
	})
}

func TestStore_StaleAndCursor(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s retention.Store) {
		ctx := context.Background()
		mustUpsert(t, s, testPolicy("C1", time.Hour))

		if err := s.MarkPolicyStale(ctx, "C1", t0); err != nil {
			t.Fatalf("MarkPolicyStale() error = %v", err)
		}
		// A later sighting keeps the first timestamp.
		if err := s.MarkPolicyStale(ctx, "C1", t0.Add(time.Hour)); err != nil {
			t.Fatalf("MarkPolicyStale() error = %v", err)
		}
		p, _ := s.GetPolicy(ctx, "C1")
		if p.StaleSince == nil || !p.StaleSince.Equal(t0) {
			t.Errorf("StaleSince = %v, want %v", p.StaleSince, t0)
		}

		if err := s.ClearPolicyStale(ctx, "C1"); err != nil {
			t.Fatalf("ClearPolicyStale() error = %v", err)
		}
		p, _ = s.GetPolicy(ctx, "C1")
		if p.IsStale() {
			t.Error("policy still stale after ClearPolicyStale()")
		}

		for _, id := range []string{"5000", "4000", "10000"} {
			if err := s.AdvanceScanCursor(ctx, "C1", id); err != nil {
				t.Fatalf("AdvanceScanCursor(%s) error = %v", id, err)
			}
		}
		p, _ = s.GetPolicy(ctx, "C1")
		if p.ScanCursor != "10000" {
			t.Errorf("ScanCursor = %q, want 10000", p.ScanCursor)
		}

		if err := s.MarkPolicyStale(ctx, "missing", t0); !errors.Is(err, retention.ErrPolicyNotFound) {
			t.Errorf("MarkPolicyStale() on missing channel error = %v, want ErrPolicyNotFound", err)
		}
		if err := s.AdvanceScanCursor(ctx, "missing", "1"); !errors.Is(err, retention.ErrPolicyNotFound) {
			t.Errorf("AdvanceScanCursor() on missing channel error = %v, want ErrPolicyNotFound", err)
		}
	})
}

func TestStore_RegisterComputesFrozenDeadline(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s retention.Store) {
		ctx := context.Background()
		mustUpsert(t, s, testPolicy("C1", time.Hour))

		m := mustRegister(t, s, "C1", "M1", t0)
		if want := t0.Add(time.Hour); !m.DeleteAt.Equal(want) {
			t.Errorf("DeleteAt = %v, want %v", m.DeleteAt, want)
		}
		if m.Marked {
			t.Error("new row should not be marked")
		}

		// Re-registering the channel with a new duration keeps the old deadline.
		mustUpsert(t, s, testPolicy("C1", 24*time.Hour))
		again := mustRegister(t, s, "C1", "M1", t0)
		if !again.DeleteAt.Equal(m.DeleteAt) {
			t.Errorf("DeleteAt after policy change = %v, want %v", again.DeleteAt, m.DeleteAt)
		}

		// New messages use the new duration.
		m2 := mustRegister(t, s, "C1", "M2", t0)
		if want := t0.Add(24 * time.Hour); !m2.DeleteAt.Equal(want) {
			t.Errorf("DeleteAt for new message = %v, want %v", m2.DeleteAt, want)
		}

		n, err := s.PendingCount(ctx)
		if err != nil {
			t.Fatalf("PendingCount() error = %v", err)
		}
		if n != 2 {
			t.Errorf("PendingCount() = %d, want 2", n)
		}
	})
}

func TestStore_RegisterRejections(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s retention.Store) {
		ctx := context.Background()
		mustUpsert(t, s, testPolicy("C1", time.Hour))

		tests := []struct {
			name      string
			channelID string
			messageID string
			createdAt time.Time
			want      error
		}{
			{"unregistered channel", "C2", "M1", t0, retention.ErrNotRegistered},
			{"before watermark", "C1", "900", t0.Add(-2 * time.Hour), retention.ErrBeforeWatermark},
			{"watermark message", "C1", "1000", t0, retention.ErrBeforeWatermark},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := s.RegisterPendingMessage(ctx, tt.channelID, tt.messageID, tt.createdAt)
				if !errors.Is(err, tt.want) {
					t.Errorf("RegisterPendingMessage() error = %v, want %v", err, tt.want)
				}
				if errors.Is(err, retention.ErrStoreUnavailable) {
					t.Error("domain rejection must not look like a store outage")
				}
			})
		}

		if n, _ := s.PendingCount(ctx); n != 0 {
			t.Errorf("PendingCount() = %d, want 0", n)
		}
	})
}

func TestStore_TakeExpiredScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s retention.Store) {
		ctx := context.Background()
		mustUpsert(t, s, testPolicy("C1", 3600000*time.Millisecond))
		m := mustRegister(t, s, "C1", "M1", t0)
		if want := t0.Add(3600000 * time.Millisecond); !m.DeleteAt.Equal(want) {
			t.Fatalf("DeleteAt = %v, want %v", m.DeleteAt, want)
		}

		early, err := s.TakeExpired(ctx, t0.Add(3599999*time.Millisecond))
		if err != nil {
			t.Fatalf("TakeExpired() error = %v", err)
		}
		if len(early) != 0 {
			t.Fatalf("TakeExpired() before deadline returned %v", messageIDs(early))
		}

		now := t0.Add(3600001 * time.Millisecond)
		expired, err := s.TakeExpired(ctx, now)
		if err != nil {
			t.Fatalf("TakeExpired() error = %v", err)
		}
		if len(expired) != 1 || expired[0].MessageID != "M1" || !expired[0].Marked {
			t.Fatalf("TakeExpired() = %+v, want M1 marked", expired)
		}

		if _, ok, _ := s.NextDeadline(ctx); ok {
			t.Error("NextDeadline() should ignore marked rows")
		}

		n, err := s.ClearMarked(ctx, "C1", []string{"M1"})
		if err != nil {
			t.Fatalf("ClearMarked() error = %v", err)
		}
		if n != 1 {
			t.Errorf("ClearMarked() = %d, want 1", n)
		}

		if left, _ := s.PendingCount(ctx); left != 0 {
			t.Errorf("PendingCount() after clear = %d, want 0", left)
		}
		if again, _ := s.TakeExpired(ctx, now); len(again) != 0 {
			t.Errorf("TakeExpired() after clear = %v, want empty", messageIDs(again))
		}
	})
}

func TestStore_TakeExpiredIsRepeatable(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s retention.Store) {
		ctx := context.Background()
		mustUpsert(t, s, testPolicy("A", time.Minute))
		mustUpsert(t, s, testPolicy("B", time.Hour))

		for i := 0; i < 5; i++ {
			mustRegister(t, s, "A", fmt.Sprintf("%d", 2000+i), t0.Add(time.Duration(i)*time.Second))
			mustRegister(t, s, "B", fmt.Sprintf("%d", 3000+i), t0)
		}

		now := t0.Add(10 * time.Minute)
		first, err := s.TakeExpired(ctx, now)
		if err != nil {
			t.Fatalf("TakeExpired() error = %v", err)
		}
		second, err := s.TakeExpired(ctx, now)
		if err != nil {
			t.Fatalf("TakeExpired() error = %v", err)
		}
		recovered, err := s.Marked(ctx)
		if err != nil {
			t.Fatalf("Marked() error = %v", err)
		}

		want := fmt.Sprint(messageIDs(first))
		if len(first) != 5 {
			t.Fatalf("TakeExpired() returned %d rows, want 5", len(first))
		}
		if got := fmt.Sprint(messageIDs(second)); got != want {
			t.Errorf("second TakeExpired() = %s, want %s", got, want)
		}
		if got := fmt.Sprint(messageIDs(recovered)); got != want {
			t.Errorf("Marked() = %s, want %s", got, want)
		}

		next, ok, err := s.NextDeadline(ctx)
		if err != nil {
			t.Fatalf("NextDeadline() error = %v", err)
		}
		if !ok || !next.Equal(t0.Add(time.Hour)) {
			t.Errorf("NextDeadline() = %v, %v, want %v", next, ok, t0.Add(time.Hour))
		}
	})
}

func TestStore_PartialClearKeepsRemainderMarked(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s retention.Store) {
		ctx := context.Background()
		mustUpsert(t, s, testPolicy("C1", time.Minute))
		for _, id := range []string{"2001", "2002", "2003"} {
			mustRegister(t, s, "C1", id, t0)
		}
		if _, err := s.TakeExpired(ctx, t0.Add(time.Hour)); err != nil {
			t.Fatalf("TakeExpired() error = %v", err)
		}

		if _, err := s.ClearMarked(ctx, "C1", []string{"2001", "2003", "9999"}); err != nil {
			t.Fatalf("ClearMarked() error = %v", err)
		}

		marked, err := s.Marked(ctx)
		if err != nil {
			t.Fatalf("Marked() error = %v", err)
		}
		if len(marked) != 1 || marked[0].MessageID != "2002" || !marked[0].Marked {
			t.Errorf("Marked() = %v, want only 2002", messageIDs(marked))
		}
	})
}

func TestStore_ClearMarkedLargeBatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s retention.Store) {
		ctx := context.Background()
		mustUpsert(t, s, testPolicy("C1", time.Minute))

		var ids []string
		for i := 0; i < 1201; i++ {
			id := fmt.Sprintf("%d", 100000+i)
			ids = append(ids, id)
			mustRegister(t, s, "C1", id, t0)
		}

		n, err := s.ClearMarked(ctx, "C1", ids)
		if err != nil {
			t.Fatalf("ClearMarked() error = %v", err)
		}
		if n != 1201 {
			t.Errorf("ClearMarked() = %d, want 1201", n)
		}
	})
}

func TestStore_RemovePolicyCascades(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s retention.Store) {
		ctx := context.Background()
		mustUpsert(t, s, testPolicy("C1", time.Minute))
		mustUpsert(t, s, testPolicy("C2", time.Minute))
		mustRegister(t, s, "C1", "2001", t0)
		mustRegister(t, s, "C1", "2002", t0)
		mustRegister(t, s, "C2", "3001", t0)

		// One C1 row is already in flight.
		if _, err := s.TakeExpired(ctx, t0.Add(time.Hour)); err != nil {
			t.Fatalf("TakeExpired() error = %v", err)
		}
		mustRegister(t, s, "C1", "2003", t0.Add(time.Hour))

		if err := s.RemovePolicy(ctx, "C1"); err != nil {
			t.Fatalf("RemovePolicy() error = %v", err)
		}

		expired, err := s.TakeExpired(ctx, t0.Add(24*time.Hour))
		if err != nil {
			t.Fatalf("TakeExpired() error = %v", err)
		}
		for _, m := range expired {
			if m.ChannelID == "C1" {
				t.Errorf("TakeExpired() returned removed channel row %s", m.MessageID)
			}
		}
		if n, _ := s.PendingCount(ctx); n != 1 {
			t.Errorf("PendingCount() = %d, want 1", n)
		}
		if _, err := s.RegisterPendingMessage(ctx, "C1", "2004", t0); !errors.Is(err, retention.ErrNotRegistered) {
			t.Errorf("RegisterPendingMessage() after remove error = %v, want ErrNotRegistered", err)
		}
	})
}

func TestStore_ConcurrentRegisterAndTake(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s retention.Store) {
		ctx := context.Background()
		mustUpsert(t, s, testPolicy("C1", time.Minute))

		var wg sync.WaitGroup
		errs := make(chan error, 200)
		for i := 0; i < 100; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				if _, err := s.RegisterPendingMessage(ctx, "C1", fmt.Sprintf("%d", 5000+i), t0); err != nil {
					errs <- err
				}
			}(i)
			go func() {
				defer wg.Done()
				if _, err := s.TakeExpired(ctx, t0.Add(time.Hour)); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("concurrent operation error = %v", err)
		}

		marked, err := s.TakeExpired(ctx, t0.Add(time.Hour))
		if err != nil {
			t.Fatalf("TakeExpired() error = %v", err)
		}
		if len(marked) != 100 {
			t.Errorf("TakeExpired() returned %d rows, want 100", len(marked))
		}
	})
}

func TestStore_Audit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s retention.Store) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			cycle := "a"
			if i%2 == 1 {
				cycle = "b"
			}
			e := retention.NewAuditEntry(fmt.Sprintf("event %d", i), cycle, t0.Add(time.Duration(i)*time.Minute))
			if err := s.AppendAudit(ctx, e); err != nil {
				t.Fatalf("AppendAudit() error = %v", err)
			}
			if e.ID == 0 {
				t.Error("AppendAudit() did not assign an ID")
			}
		}

		all, err := s.QueryAudit(ctx, retention.AuditQuery{})
		if err != nil {
			t.Fatalf("QueryAudit() error = %v", err)
		}
		if len(all) != 5 || all[0].Event != "event 4" {
			t.Fatalf("QueryAudit() newest first = %+v", all)
		}
		if all[0].ID <= all[1].ID {
			t.Errorf("IDs not increasing: %d, %d", all[1].ID, all[0].ID)
		}

		tests := []struct {
			name  string
			query retention.AuditQuery
			want  int
		}{
			{"limit", retention.AuditQuery{Limit: 2}, 2},
			{"since", retention.AuditQuery{Since: t0.Add(3 * time.Minute)}, 2},
			{"cycle", retention.AuditQuery{CycleID: "b"}, 2},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.QueryAudit(ctx, tt.query)
				if err != nil {
					t.Fatalf("QueryAudit() error = %v", err)
				}
				if len(got) != tt.want {
					t.Errorf("QueryAudit() returned %d entries, want %d", len(got), tt.want)
				}
			})
		}
	})
}

func TestStore_ClosedStoreIsUnavailable(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			if err := s.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
			_, err := s.TakeExpired(context.Background(), t0)
			if !errors.Is(err, retention.ErrStoreUnavailable) {
				t.Errorf("TakeExpired() on closed store error = %v, want ErrStoreUnavailable", err)
			}
		})
	}
}
