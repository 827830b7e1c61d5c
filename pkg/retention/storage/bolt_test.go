package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestBoltStore_ReopenKeepsStateAndIndex(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sweeper.bolt")

	s, err := NewBoltStore(&BoltConfig{Path: path})
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	mustUpsert(t, s, testPolicy("C1", time.Minute))
	mustRegister(t, s, "C1", "2001", t0)
	mustRegister(t, s, "C1", "2002", t0.Add(time.Hour))
	if _, err := s.TakeExpired(ctx, t0.Add(5*time.Minute)); err != nil {
		t.Fatalf("TakeExpired() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err = NewBoltStore(&BoltConfig{Path: path, Timeout: time.Second})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	marked, err := s.Marked(ctx)
	if err != nil {
		t.Fatalf("Marked() error = %v", err)
	}
	if len(marked) != 1 || marked[0].MessageID != "2001" {
		t.Errorf("Marked() = %v, want [C1/2001]", messageIDs(marked))
	}

	next, ok, err := s.NextDeadline(ctx)
	if err != nil || !ok || !next.Equal(t0.Add(time.Hour+time.Minute)) {
		t.Errorf("NextDeadline() = %v, %v, %v", next, ok, err)
	}

	// Clearing a marked row removes it from both indexes.
	if _, err := s.ClearMarked(ctx, "C1", []string{"2001", "2002"}); err != nil {
		t.Fatalf("ClearMarked() error = %v", err)
	}
	if _, ok, _ := s.NextDeadline(ctx); ok {
		t.Error("NextDeadline() should be absent after clearing every row")
	}
	if m, _ := s.Marked(ctx); len(m) != 0 {
		t.Errorf("Marked() after clear = %v", messageIDs(m))
	}
}

func TestPendingKeyRoundTrip(t *testing.T) {
	ch, id := splitPendingKey(pendingKeyBytes("123", "456"))
	if ch != "123" || id != "456" {
		t.Errorf("splitPendingKey() = %q, %q", ch, id)
	}

	early := deadlineKey(1000, pendingKeyBytes("9", "1"))
	late := deadlineKey(2000, pendingKeyBytes("1", "1"))
	if string(early) >= string(late) {
		t.Error("deadline keys must sort by deadline first")
	}
}
