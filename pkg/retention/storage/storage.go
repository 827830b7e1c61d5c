package storage

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"mercator-hq/sweeper/pkg/config"
	"mercator-hq/sweeper/pkg/retention"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

var errStoreClosed = errors.New("store is closed")

// Config selects and configures a backend.
type Config struct {
	Backend string
	SQLite  *SQLiteConfig
	Bolt    *BoltConfig
}

// Open creates the configured backend.
func Open(cfg Config) (retention.Store, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		return NewSQLiteStore(cfg.SQLite)
	case BackendBolt:
		return NewBoltStore(cfg.Bolt)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// ConfigFromSettings builds a backend config from the store section.
func ConfigFromSettings(cfg config.StoreConfig) Config {
	return Config{
		Backend: cfg.Backend,
		SQLite: &SQLiteConfig{
			Path:         cfg.SQLite.Path,
			Driver:       cfg.SQLite.Driver,
			MaxOpenConns: cfg.SQLite.MaxOpenConns,
			WALMode:      cfg.SQLite.WALMode,
			BusyTimeout:  cfg.SQLite.BusyTimeout,
		},
		Bolt: &BoltConfig{
			Path:    cfg.Bolt.Path,
			Timeout: cfg.Bolt.Timeout,
		},
	}
}

// sortPending orders rows by deadline, then channel, then message ID.
func sortPending(msgs []*retention.PendingMessage) {
	sort.Slice(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if !a.DeleteAt.Equal(b.DeleteAt) {
			return a.DeleteAt.Before(b.DeleteAt)
		}
		if a.ChannelID != b.ChannelID {
			return a.ChannelID < b.ChannelID
		}
		return retention.CompareIDs(a.MessageID, b.MessageID) < 0
	})
}

func validatePolicy(p *retention.ChannelPolicy) error {
	switch {
	case p == nil:
		return fmt.Errorf("policy is nil")
	case p.ChannelID == "":
		return fmt.Errorf("policy channel ID is empty")
	case p.Retention <= 0:
		return fmt.Errorf("policy retention must be positive, got %s", p.Retention)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// truncate normalizes a time to the precision every backend persists.
func truncate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return fromMillis(toMillis(t))
}

func normalizePolicy(p *retention.ChannelPolicy) *retention.ChannelPolicy {
	c := p.Clone()
	c.Retention = time.Duration(c.Retention.Milliseconds()) * time.Millisecond
	c.WatermarkAt = truncate(c.WatermarkAt)
	c.CreatedAt = truncate(c.CreatedAt)
	c.UpdatedAt = truncate(c.UpdatedAt)
	if c.StaleSince != nil {
		s := truncate(*c.StaleSince)
		c.StaleSince = &s
	}
	return c
}
