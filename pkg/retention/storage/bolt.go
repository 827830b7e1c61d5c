package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"mercator-hq/sweeper/pkg/retention"
)

var (
	bChannels  = []byte("channels")  // channelID → policy JSON
	bPending   = []byte("pending")   // channelID\x00messageID → pendingRecord JSON
	bDeadlines = []byte("deadlines") // deleteAtMs(BE)|channelID\x00messageID, unmarked rows only
	bMarked    = []byte("marked")    // channelID\x00messageID, marked rows only
	bAudit     = []byte("audit")     // sequence(BE) → AuditEntry JSON
)

// BoltConfig contains configuration for the bbolt storage backend.
type BoltConfig struct {
	// Path is the database file path.
	Path string

	// Timeout is how long Open waits for the file lock.
	// Default: 2 seconds
	Timeout time.Duration
}

// DefaultBoltConfig returns the default bbolt configuration.
func DefaultBoltConfig() *BoltConfig {
	return &BoltConfig{
		Path:    "data/sweeper.bolt",
		Timeout: 2 * time.Second,
	}
}

// BoltStore implements retention.Store on a single bbolt file.
type BoltStore struct {
	db     *bolt.DB
	logger *slog.Logger
}

type pendingRecord struct {
	CreatedAtMs int64 `json:"created_at_ms"`
	DeleteAtMs  int64 `json:"delete_at_ms"`
	Marked      bool  `json:"marked"`
}

// NewBoltStore opens (or creates) the database and its buckets.
func NewBoltStore(config *BoltConfig) (*BoltStore, error) {
	if config == nil {
		config = DefaultBoltConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if config.Path == "" {
		return nil, retention.NewStorageError("bolt", "open", fmt.Errorf("bolt path cannot be empty"))
	}
	if dir := filepath.Dir(config.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, retention.NewStorageError("bolt", "open", err)
		}
	}

	db, err := bolt.Open(config.Path, 0o600, &bolt.Options{Timeout: config.Timeout})
	if err != nil {
		return nil, retention.NewStorageError("bolt", "open", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bChannels, bPending, bDeadlines, bMarked, bAudit} {
			if _, e := tx.CreateBucketIfNotExists(name); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, retention.NewStorageError("bolt", "create_buckets", err)
	}

	logger := slog.Default().With("component", "retention.storage.bolt")
	logger.Info("bolt storage initialized", "path", config.Path)

	return &BoltStore{db: db, logger: logger}, nil
}

func pendingKeyBytes(channelID, messageID string) []byte {
	k := make([]byte, 0, len(channelID)+1+len(messageID))
	k = append(k, channelID...)
	k = append(k, 0)
	return append(k, messageID...)
}

func splitPendingKey(k []byte) (string, string) {
	i := bytes.IndexByte(k, 0)
	if i < 0 {
		return string(k), ""
	}
	return string(k[:i]), string(k[i+1:])
}

func deadlineKey(deleteAtMs int64, pk []byte) []byte {
	k := make([]byte, 8, 8+len(pk))
	binary.BigEndian.PutUint64(k, uint64(deleteAtMs))
	return append(k, pk...)
}

func (s *BoltStore) update(op string, fn func(tx *bolt.Tx) error) error {
	err := s.db.Update(fn)
	return s.wrap(op, err)
}

func (s *BoltStore) view(op string, fn func(tx *bolt.Tx) error) error {
	err := s.db.View(fn)
	return s.wrap(op, err)
}

// wrap converts bbolt failures to StorageErrors and passes domain sentinels through.
func (s *BoltStore) wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case retention.IsIgnorable(err), err == retention.ErrPolicyNotFound:
		return err
	}
	var se *retention.StorageError
	if errors.As(err, &se) {
		return err
	}
	return retention.NewStorageError("bolt", op, err)
}

func getPolicy(tx *bolt.Tx, channelID string) (*retention.ChannelPolicy, error) {
	v := tx.Bucket(bChannels).Get([]byte(channelID))
	if v == nil {
		return nil, retention.ErrPolicyNotFound
	}
	var p retention.ChannelPolicy
	if err := json.Unmarshal(v, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func putPolicy(tx *bolt.Tx, p *retention.ChannelPolicy) error {
	j, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return tx.Bucket(bChannels).Put([]byte(p.ChannelID), j)
}

// UpsertPolicy replaces the channel's policy. Pending rows are untouched.
func (s *BoltStore) UpsertPolicy(ctx context.Context, policy *retention.ChannelPolicy) (*retention.ChannelPolicy, error) {
	if err := validatePolicy(policy); err != nil {
		return nil, err
	}
	p := normalizePolicy(policy)
	if err := s.update("upsert_policy", func(tx *bolt.Tx) error { return putPolicy(tx, p) }); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPolicy returns the channel's policy or retention.ErrPolicyNotFound.
func (s *BoltStore) GetPolicy(ctx context.Context, channelID string) (*retention.ChannelPolicy, error) {
	var p *retention.ChannelPolicy
	err := s.view("get_policy", func(tx *bolt.Tx) error {
		var e error
		p, e = getPolicy(tx, channelID)
		return e
	})
	return p, err
}

// ListPolicies returns every policy ordered by channel ID.
func (s *BoltStore) ListPolicies(ctx context.Context) ([]*retention.ChannelPolicy, error) {
	var out []*retention.ChannelPolicy
	err := s.view("list_policies", func(tx *bolt.Tx) error {
		return tx.Bucket(bChannels).ForEach(func(k, v []byte) error {
			var p retention.ChannelPolicy
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, &p)
			return nil
		})
	})
	return out, err
}

// RemovePolicy deletes the policy and every pending row of the channel in one transaction.
func (s *BoltStore) RemovePolicy(ctx context.Context, channelID string) error {
	return s.update("remove_policy", func(tx *bolt.Tx) error {
		prefix := pendingKeyBytes(channelID, "")
		var keys [][]byte
		c := tx.Bucket(bPending).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if _, err := deletePendingRow(tx, k); err != nil {
				return err
			}
		}
		return tx.Bucket(bChannels).Delete([]byte(channelID))
	})
}

func (s *BoltStore) modifyPolicy(op, channelID string, fn func(*retention.ChannelPolicy) bool) error {
	return s.update(op, func(tx *bolt.Tx) error {
		p, err := getPolicy(tx, channelID)
		if err != nil {
			return err
		}
		if !fn(p) {
			return nil
		}
		return putPolicy(tx, p)
	})
}

// MarkPolicyStale records the first time a channel was seen unreachable.
func (s *BoltStore) MarkPolicyStale(ctx context.Context, channelID string, at time.Time) error {
	return s.modifyPolicy("mark_stale", channelID, func(p *retention.ChannelPolicy) bool {
		if p.StaleSince != nil {
			return false
		}
		t := truncate(at)
		p.StaleSince = &t
		return true
	})
}

// ClearPolicyStale clears the stale flag.
func (s *BoltStore) ClearPolicyStale(ctx context.Context, channelID string) error {
	return s.modifyPolicy("clear_stale", channelID, func(p *retention.ChannelPolicy) bool {
		if p.StaleSince == nil {
			return false
		}
		p.StaleSince = nil
		return true
	})
}

// AdvanceScanCursor moves the scan cursor forward. Older IDs are ignored.
func (s *BoltStore) AdvanceScanCursor(ctx context.Context, channelID, messageID string) error {
	return s.modifyPolicy("advance_cursor", channelID, func(p *retention.ChannelPolicy) bool {
		if retention.CompareIDs(messageID, p.ScanCursor) <= 0 {
			return false
		}
		p.ScanCursor = messageID
		return true
	})
}

// RegisterPendingMessage records a message with a deadline derived from the current policy.
func (s *BoltStore) RegisterPendingMessage(ctx context.Context, channelID, messageID string, createdAt time.Time) (*retention.PendingMessage, error) {
	createdAt = truncate(createdAt)
	var out *retention.PendingMessage

	err := s.update("register", func(tx *bolt.Tx) error {
		p, err := getPolicy(tx, channelID)
		if err == retention.ErrPolicyNotFound {
			return retention.ErrNotRegistered
		}
		if err != nil {
			return err
		}
		if !p.Covers(messageID, createdAt) {
			return retention.ErrBeforeWatermark
		}

		pk := pendingKeyBytes(channelID, messageID)
		pending := tx.Bucket(bPending)
		if v := pending.Get(pk); v != nil {
			var rec pendingRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = rec.toMessage(channelID, messageID)
			return nil
		}

		rec := pendingRecord{
			CreatedAtMs: toMillis(createdAt),
			DeleteAtMs:  toMillis(p.DeadlineFor(createdAt)),
		}
		j, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := pending.Put(pk, j); err != nil {
			return err
		}
		if err := tx.Bucket(bDeadlines).Put(deadlineKey(rec.DeleteAtMs, pk), nil); err != nil {
			return err
		}
		out = rec.toMessage(channelID, messageID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r pendingRecord) toMessage(channelID, messageID string) *retention.PendingMessage {
	return &retention.PendingMessage{
		ChannelID: channelID,
		MessageID: messageID,
		CreatedAt: fromMillis(r.CreatedAtMs),
		DeleteAt:  fromMillis(r.DeleteAtMs),
		Marked:    r.Marked,
	}
}

// TakeExpired marks rows due at or before now and returns every marked row.
func (s *BoltStore) TakeExpired(ctx context.Context, now time.Time) ([]*retention.PendingMessage, error) {
	var out []*retention.PendingMessage
	nowMs := toMillis(now)

	err := s.update("take_expired", func(tx *bolt.Tx) error {
		deadlines := tx.Bucket(bDeadlines)
		var due [][]byte
		c := deadlines.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if int64(binary.BigEndian.Uint64(k[:8])) > nowMs {
				break
			}
			due = append(due, append([]byte(nil), k...))
		}

		pending := tx.Bucket(bPending)
		marked := tx.Bucket(bMarked)
		for _, dk := range due {
			pk := dk[8:]
			if err := deadlines.Delete(dk); err != nil {
				return err
			}
			v := pending.Get(pk)
			if v == nil {
				continue
			}
			var rec pendingRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			rec.Marked = true
			j, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := pending.Put(pk, j); err != nil {
				return err
			}
			if err := marked.Put(pk, nil); err != nil {
				return err
			}
		}
		if len(due) > 0 {
			s.logger.Debug("marked expired messages", "count", len(due))
		}

		var err error
		out, err = markedRows(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Marked returns every marked row.
func (s *BoltStore) Marked(ctx context.Context) ([]*retention.PendingMessage, error) {
	var out []*retention.PendingMessage
	err := s.view("marked", func(tx *bolt.Tx) error {
		var e error
		out, e = markedRows(tx)
		return e
	})
	return out, err
}

func markedRows(tx *bolt.Tx) ([]*retention.PendingMessage, error) {
	pending := tx.Bucket(bPending)
	var out []*retention.PendingMessage
	err := tx.Bucket(bMarked).ForEach(func(k, _ []byte) error {
		v := pending.Get(k)
		if v == nil {
			return nil
		}
		var rec pendingRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		ch, id := splitPendingKey(k)
		out = append(out, rec.toMessage(ch, id))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortPending(out)
	return out, nil
}

// deletePendingRow removes a pending row and its index entries. It reports
// whether the row existed.
func deletePendingRow(tx *bolt.Tx, pk []byte) (bool, error) {
	pending := tx.Bucket(bPending)
	v := pending.Get(pk)
	if v == nil {
		return false, nil
	}
	var rec pendingRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return false, err
	}
	if err := tx.Bucket(bDeadlines).Delete(deadlineKey(rec.DeleteAtMs, pk)); err != nil {
		return false, err
	}
	if err := tx.Bucket(bMarked).Delete(pk); err != nil {
		return false, err
	}
	return true, pending.Delete(pk)
}

// ClearMarked removes the given rows of one channel.
func (s *BoltStore) ClearMarked(ctx context.Context, channelID string, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	var n int64
	err := s.update("clear_marked", func(tx *bolt.Tx) error {
		for _, id := range messageIDs {
			ok, err := deletePendingRow(tx, pendingKeyBytes(channelID, id))
			if err != nil {
				return err
			}
			if ok {
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// NextDeadline returns the earliest deadline among unmarked rows.
func (s *BoltStore) NextDeadline(ctx context.Context) (time.Time, bool, error) {
	var next time.Time
	found := false
	err := s.view("next_deadline", func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(bDeadlines).Cursor().First()
		if k != nil {
			next = fromMillis(int64(binary.BigEndian.Uint64(k[:8])))
			found = true
		}
		return nil
	})
	return next, found, err
}

// PendingCount returns the number of pending rows, marked or not.
func (s *BoltStore) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.view("pending_count", func(tx *bolt.Tx) error {
		n = int64(tx.Bucket(bPending).Stats().KeyN)
		return nil
	})
	return n, err
}

// AppendAudit appends an entry and assigns its ID from the bucket sequence.
func (s *BoltStore) AppendAudit(ctx context.Context, entry *retention.AuditEntry) error {
	return s.update("append_audit", func(tx *bolt.Tx) error {
		b := tx.Bucket(bAudit)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		c := *entry
		c.ID = int64(seq)
		j, err := json.Marshal(c)
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := b.Put(key, j); err != nil {
			return err
		}
		entry.ID = c.ID
		return nil
	})
}

// QueryAudit returns matching entries, newest first.
func (s *BoltStore) QueryAudit(ctx context.Context, query retention.AuditQuery) ([]*retention.AuditEntry, error) {
	limit := query.EffectiveLimit()
	var out []*retention.AuditEntry
	err := s.view("query_audit", func(tx *bolt.Tx) error {
		c := tx.Bucket(bAudit).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var e retention.AuditEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if !query.Since.IsZero() && e.TimestampMs < toMillis(query.Since) {
				continue
			}
			if query.CycleID != "" && e.CycleID != query.CycleID {
				continue
			}
			out = append(out, &e)
		}
		return nil
	})
	return out, err
}

// Ping runs an empty read transaction.
func (s *BoltStore) Ping(ctx context.Context) error {
	return s.view("ping", func(tx *bolt.Tx) error { return nil })
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	s.logger.Info("closing bolt storage")
	if err := s.db.Close(); err != nil {
		return retention.NewStorageError("bolt", "close", err)
	}
	return nil
}
