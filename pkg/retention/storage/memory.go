package storage

import (
	"context"
	"sync"
	"time"

	"mercator-hq/sweeper/pkg/retention"
)

// MemoryStore implements retention.Store using in-memory maps.
// It is intended for tests and dry runs; nothing survives a restart.
type MemoryStore struct {
	policies map[string]*retention.ChannelPolicy
	pending  map[pendingKey]*retention.PendingMessage
	audit    []*retention.AuditEntry
	nextID   int64
	closed   bool
	mu       sync.RWMutex
}

type pendingKey struct {
	channelID string
	messageID string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		policies: make(map[string]*retention.ChannelPolicy),
		pending:  make(map[pendingKey]*retention.PendingMessage),
	}
}

// UpsertPolicy replaces the channel's policy. Pending rows are untouched.
func (s *MemoryStore) UpsertPolicy(ctx context.Context, policy *retention.ChannelPolicy) (*retention.ChannelPolicy, error) {
	if err := validatePolicy(policy); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("upsert_policy"); err != nil {
		return nil, err
	}

	stored := normalizePolicy(policy)
	s.policies[policy.ChannelID] = stored
	return stored.Clone(), nil
}

// GetPolicy returns the channel's policy or retention.ErrPolicyNotFound.
func (s *MemoryStore) GetPolicy(ctx context.Context, channelID string) (*retention.ChannelPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("get_policy"); err != nil {
		return nil, err
	}

	p, ok := s.policies[channelID]
	if !ok {
		return nil, retention.ErrPolicyNotFound
	}
	return p.Clone(), nil
}

// ListPolicies returns every policy.
func (s *MemoryStore) ListPolicies(ctx context.Context) ([]*retention.ChannelPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("list_policies"); err != nil {
		return nil, err
	}

	out := make([]*retention.ChannelPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p.Clone())
	}
	return out, nil
}

// RemovePolicy deletes the policy and all of its pending rows.
func (s *MemoryStore) RemovePolicy(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("remove_policy"); err != nil {
		return err
	}

	delete(s.policies, channelID)
	for k := range s.pending {
		if k.channelID == channelID {
			delete(s.pending, k)
		}
	}
	return nil
}

// MarkPolicyStale records the first time a channel was seen unreachable.
func (s *MemoryStore) MarkPolicyStale(ctx context.Context, channelID string, at time.Time) error {
	return s.updatePolicy("mark_stale", channelID, func(p *retention.ChannelPolicy) {
		if p.StaleSince == nil {
			t := truncate(at)
			p.StaleSince = &t
		}
	})
}

// ClearPolicyStale clears the stale flag.
func (s *MemoryStore) ClearPolicyStale(ctx context.Context, channelID string) error {
	return s.updatePolicy("clear_stale", channelID, func(p *retention.ChannelPolicy) {
		p.StaleSince = nil
	})
}

// AdvanceScanCursor moves the scan cursor forward. Older IDs are ignored.
func (s *MemoryStore) AdvanceScanCursor(ctx context.Context, channelID, messageID string) error {
	return s.updatePolicy("advance_cursor", channelID, func(p *retention.ChannelPolicy) {
		if retention.CompareIDs(messageID, p.ScanCursor) > 0 {
			p.ScanCursor = messageID
		}
	})
}

func (s *MemoryStore) updatePolicy(op, channelID string, fn func(*retention.ChannelPolicy)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(op); err != nil {
		return err
	}

	p, ok := s.policies[channelID]
	if !ok {
		return retention.ErrPolicyNotFound
	}
	fn(p)
	return nil
}

// RegisterPendingMessage records a message with a deadline derived from the current policy.
func (s *MemoryStore) RegisterPendingMessage(ctx context.Context, channelID, messageID string, createdAt time.Time) (*retention.PendingMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("register"); err != nil {
		return nil, err
	}

	p, ok := s.policies[channelID]
	if !ok {
		return nil, retention.ErrNotRegistered
	}
	createdAt = truncate(createdAt)
	if !p.Covers(messageID, createdAt) {
		return nil, retention.ErrBeforeWatermark
	}

	key := pendingKey{channelID, messageID}
	if existing, ok := s.pending[key]; ok {
		c := *existing
		return &c, nil
	}

	m := &retention.PendingMessage{
		ChannelID: channelID,
		MessageID: messageID,
		CreatedAt: createdAt,
		DeleteAt:  p.DeadlineFor(createdAt),
	}
	s.pending[key] = m
	c := *m
	return &c, nil
}

// TakeExpired marks rows due at or before now and returns every marked row.
func (s *MemoryStore) TakeExpired(ctx context.Context, now time.Time) ([]*retention.PendingMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("take_expired"); err != nil {
		return nil, err
	}

	for _, m := range s.pending {
		if !m.Marked && !m.DeleteAt.After(now) {
			m.Marked = true
		}
	}
	return s.markedLocked(), nil
}

// Marked returns every marked row.
func (s *MemoryStore) Marked(ctx context.Context) ([]*retention.PendingMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("marked"); err != nil {
		return nil, err
	}
	return s.markedLocked(), nil
}

func (s *MemoryStore) markedLocked() []*retention.PendingMessage {
	var out []*retention.PendingMessage
	for _, m := range s.pending {
		if m.Marked {
			c := *m
			out = append(out, &c)
		}
	}
	sortPending(out)
	return out
}

// ClearMarked removes the given rows of one channel.
func (s *MemoryStore) ClearMarked(ctx context.Context, channelID string, messageIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("clear_marked"); err != nil {
		return 0, err
	}

	var n int64
	for _, id := range messageIDs {
		key := pendingKey{channelID, id}
		if _, ok := s.pending[key]; ok {
			delete(s.pending, key)
			n++
		}
	}
	return n, nil
}

// NextDeadline returns the earliest deadline among unmarked rows.
func (s *MemoryStore) NextDeadline(ctx context.Context) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("next_deadline"); err != nil {
		return time.Time{}, false, err
	}

	var next time.Time
	found := false
	for _, m := range s.pending {
		if m.Marked {
			continue
		}
		if !found || m.DeleteAt.Before(next) {
			next = m.DeleteAt
			found = true
		}
	}
	return next, found, nil
}

// PendingCount returns the number of pending rows, marked or not.
func (s *MemoryStore) PendingCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("pending_count"); err != nil {
		return 0, err
	}
	return int64(len(s.pending)), nil
}

// AppendAudit appends an entry and assigns its ID.
func (s *MemoryStore) AppendAudit(ctx context.Context, entry *retention.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("append_audit"); err != nil {
		return err
	}

	s.nextID++
	c := *entry
	c.ID = s.nextID
	entry.ID = c.ID
	s.audit = append(s.audit, &c)
	return nil
}

// QueryAudit returns matching entries, newest first.
func (s *MemoryStore) QueryAudit(ctx context.Context, query retention.AuditQuery) ([]*retention.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("query_audit"); err != nil {
		return nil, err
	}

	limit := query.EffectiveLimit()
	var out []*retention.AuditEntry
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.audit[i]
		if !query.Since.IsZero() && e.TimestampMs < toMillis(query.Since) {
			continue
		}
		if query.CycleID != "" && e.CycleID != query.CycleID {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

// Ping reports whether the store is open.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkOpen("ping")
}

// Close marks the store closed. Later calls fail with a StorageError.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) checkOpen(op string) error {
	if s.closed {
		return retention.NewStorageError("memory", op, errStoreClosed)
	}
	return nil
}
