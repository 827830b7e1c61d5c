package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // "sqlite3" driver (cgo)
	_ "modernc.org/sqlite"          // "sqlite" driver (pure Go)

	"mercator-hq/sweeper/pkg/retention"
)

// Driver names accepted in SQLiteConfig.Driver.
const (
	DriverModernc = "sqlite"
	DriverMattn   = "sqlite3"
)

// clearChunkSize keeps IN lists under SQLite's bound-parameter limit.
const clearChunkSize = 500

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// Driver is the database/sql driver: "sqlite" (modernc, pure Go) or
	// "sqlite3" (mattn, cgo).
	// Default: "sqlite"
	Driver string

	// MaxOpenConns is the maximum number of open connections to the database.
	// SQLite allows a single writer.
	// Default: 1
	MaxOpenConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/sweeper.db",
		Driver:       DriverModernc,
		MaxOpenConns: 1,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStore implements retention.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database and applies the schema.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.Driver == "" {
		config.Driver = DriverModernc
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 1
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "retention.storage.sqlite")

	dsn, err := buildDSN(config)
	if err != nil {
		return nil, retention.NewStorageError("sqlite", "open", err)
	}

	if !strings.HasPrefix(config.Path, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
			return nil, retention.NewStorageError("sqlite", "open", err)
		}
	}

	db, err := sql.Open(config.Driver, dsn)
	if err != nil {
		return nil, retention.NewStorageError("sqlite", "open", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxOpenConns)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite storage initialized",
		"path", config.Path,
		"driver", config.Driver,
		"wal_mode", config.WALMode,
		"max_open_conns", config.MaxOpenConns,
	)

	return s, nil
}

// buildDSN encodes per-connection pragmas in the driver's DSN dialect so
// every pooled connection gets them.
func buildDSN(config *SQLiteConfig) (string, error) {
	if config.Path == "" {
		return "", fmt.Errorf("sqlite path cannot be empty")
	}
	busy := config.BusyTimeout.Milliseconds()

	switch config.Driver {
	case DriverMattn:
		return fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=%d&_txlock=immediate", config.Path, busy), nil
	case DriverModernc:
		return fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_txlock=immediate", config.Path, busy), nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", config.Driver)
	}
}

// initialize sets up the database schema and enables WAL mode.
func (s *SQLiteStore) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return retention.NewStorageError("sqlite", "enable_wal", err)
		}
		s.logger.Debug("WAL mode enabled")
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return retention.NewStorageError("sqlite", "create_schema", err)
	}

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return retention.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return retention.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return retention.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	s.logger.Debug("schema version verified", "version", version)
	return nil
}

// withTx runs fn in a transaction and commits if it returns nil.
func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return retention.NewStorageError("sqlite", op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return retention.NewStorageError("sqlite", op, err)
	}
	return nil
}

// UpsertPolicy replaces the channel's policy in place. Pending rows keep
// their frozen deadlines because the parent row is never deleted.
func (s *SQLiteStore) UpsertPolicy(ctx context.Context, policy *retention.ChannelPolicy) (*retention.ChannelPolicy, error) {
	if err := validatePolicy(policy); err != nil {
		return nil, err
	}
	p := normalizePolicy(policy)

	query := `
		INSERT INTO channels (` + policyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			channel_name = excluded.channel_name,
			retention_ms = excluded.retention_ms,
			retention_label = excluded.retention_label,
			watermark_id = excluded.watermark_id,
			watermark_at = excluded.watermark_at,
			scan_cursor = excluded.scan_cursor,
			stale_since = excluded.stale_since,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ChannelID, p.ChannelName, p.Retention.Milliseconds(), p.RetentionLabel, p.WatermarkID,
		toMillis(p.WatermarkAt), p.ScanCursor, nullMillis(p.StaleSince), toMillis(p.CreatedAt), toMillis(p.UpdatedAt),
	)
	if err != nil {
		return nil, retention.NewStorageError("sqlite", "upsert_policy", err)
	}
	return p, nil
}

// GetPolicy returns the channel's policy or retention.ErrPolicyNotFound.
func (s *SQLiteStore) GetPolicy(ctx context.Context, channelID string) (*retention.ChannelPolicy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM channels WHERE channel_id = ?`, channelID)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, retention.ErrPolicyNotFound
	}
	if err != nil {
		return nil, retention.NewStorageError("sqlite", "get_policy", err)
	}
	return p, nil
}

// ListPolicies returns every policy ordered by channel ID.
func (s *SQLiteStore) ListPolicies(ctx context.Context) ([]*retention.ChannelPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+policyColumns+` FROM channels ORDER BY channel_id`)
	if err != nil {
		return nil, retention.NewStorageError("sqlite", "list_policies", err)
	}
	defer rows.Close()

	var out []*retention.ChannelPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, retention.NewStorageError("sqlite", "list_policies", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, retention.NewStorageError("sqlite", "list_policies", err)
	}
	return out, nil
}

// RemovePolicy deletes the policy. The foreign key cascades to pending rows;
// the explicit delete covers databases opened without foreign_keys.
func (s *SQLiteStore) RemovePolicy(ctx context.Context, channelID string) error {
	return s.withTx(ctx, "remove_policy", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_messages WHERE channel_id = ?`, channelID); err != nil {
			return retention.NewStorageError("sqlite", "remove_policy", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE channel_id = ?`, channelID); err != nil {
			return retention.NewStorageError("sqlite", "remove_policy", err)
		}
		return nil
	})
}

// MarkPolicyStale records the first time a channel was seen unreachable.
func (s *SQLiteStore) MarkPolicyStale(ctx context.Context, channelID string, at time.Time) error {
	return s.execPolicyUpdate(ctx, "mark_stale",
		`UPDATE channels SET stale_since = COALESCE(stale_since, ?) WHERE channel_id = ?`,
		toMillis(at), channelID)
}

// ClearPolicyStale clears the stale flag.
func (s *SQLiteStore) ClearPolicyStale(ctx context.Context, channelID string) error {
	return s.execPolicyUpdate(ctx, "clear_stale",
		`UPDATE channels SET stale_since = NULL WHERE channel_id = ?`, channelID)
}

// AdvanceScanCursor moves the scan cursor forward. Older IDs are ignored.
func (s *SQLiteStore) AdvanceScanCursor(ctx context.Context, channelID, messageID string) error {
	return s.withTx(ctx, "advance_cursor", func(tx *sql.Tx) error {
		var cursor string
		err := tx.QueryRowContext(ctx, `SELECT scan_cursor FROM channels WHERE channel_id = ?`, channelID).Scan(&cursor)
		if errors.Is(err, sql.ErrNoRows) {
			return retention.ErrPolicyNotFound
		}
		if err != nil {
			return retention.NewStorageError("sqlite", "advance_cursor", err)
		}
		if retention.CompareIDs(messageID, cursor) <= 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE channels SET scan_cursor = ? WHERE channel_id = ?`, messageID, channelID); err != nil {
			return retention.NewStorageError("sqlite", "advance_cursor", err)
		}
		return nil
	})
}

func (s *SQLiteStore) execPolicyUpdate(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return retention.NewStorageError("sqlite", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return retention.NewStorageError("sqlite", op, err)
	}
	if n == 0 {
		return retention.ErrPolicyNotFound
	}
	return nil
}

// RegisterPendingMessage reads the policy and inserts the row in one
// transaction, so a concurrent re-registration never pairs an old duration
// with a new watermark.
func (s *SQLiteStore) RegisterPendingMessage(ctx context.Context, channelID, messageID string, createdAt time.Time) (*retention.PendingMessage, error) {
	createdAt = truncate(createdAt)
	var out *retention.PendingMessage

	err := s.withTx(ctx, "register", func(tx *sql.Tx) error {
		var retentionMs, watermarkAt int64
		var watermarkID string
		err := tx.QueryRowContext(ctx,
			`SELECT retention_ms, watermark_id, watermark_at FROM channels WHERE channel_id = ?`, channelID,
		).Scan(&retentionMs, &watermarkID, &watermarkAt)
		if errors.Is(err, sql.ErrNoRows) {
			return retention.ErrNotRegistered
		}
		if err != nil {
			return retention.NewStorageError("sqlite", "register", err)
		}

		policy := retention.ChannelPolicy{
			Retention:   time.Duration(retentionMs) * time.Millisecond,
			WatermarkID: watermarkID,
			WatermarkAt: fromMillis(watermarkAt),
		}
		if !policy.Covers(messageID, createdAt) {
			return retention.ErrBeforeWatermark
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO pending_messages (`+pendingColumns+`)
			VALUES (?, ?, ?, ?, 0)
			ON CONFLICT(channel_id, message_id) DO NOTHING`,
			channelID, messageID, toMillis(createdAt), toMillis(policy.DeadlineFor(createdAt)),
		)
		if err != nil {
			return retention.NewStorageError("sqlite", "register", err)
		}

		row := tx.QueryRowContext(ctx,
			`SELECT `+pendingColumns+` FROM pending_messages WHERE channel_id = ? AND message_id = ?`,
			channelID, messageID)
		out, err = scanPending(row)
		if err != nil {
			return retention.NewStorageError("sqlite", "register", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TakeExpired marks rows due at or before now and returns every marked row.
func (s *SQLiteStore) TakeExpired(ctx context.Context, now time.Time) ([]*retention.PendingMessage, error) {
	var out []*retention.PendingMessage
	err := s.withTx(ctx, "take_expired", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE pending_messages SET marked = 1 WHERE marked = 0 AND delete_at <= ?`, toMillis(now))
		if err != nil {
			return retention.NewStorageError("sqlite", "take_expired", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.Debug("marked expired messages", "count", n)
		}

		out, err = queryPending(ctx, tx, `SELECT `+pendingColumns+` FROM pending_messages WHERE marked = 1`)
		if err != nil {
			return retention.NewStorageError("sqlite", "take_expired", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortPending(out)
	return out, nil
}

// Marked returns every marked row.
func (s *SQLiteStore) Marked(ctx context.Context) ([]*retention.PendingMessage, error) {
	out, err := queryPending(ctx, s.db, `SELECT `+pendingColumns+` FROM pending_messages WHERE marked = 1`)
	if err != nil {
		return nil, retention.NewStorageError("sqlite", "marked", err)
	}
	sortPending(out)
	return out, nil
}

// ClearMarked removes the given rows of one channel.
func (s *SQLiteStore) ClearMarked(ctx context.Context, channelID string, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}

	var total int64
	err := s.withTx(ctx, "clear_marked", func(tx *sql.Tx) error {
		for start := 0; start < len(messageIDs); start += clearChunkSize {
			end := min(start+clearChunkSize, len(messageIDs))
			chunk := messageIDs[start:end]

			args := make([]any, 0, len(chunk)+1)
			args = append(args, channelID)
			for _, id := range chunk {
				args = append(args, id)
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

			res, err := tx.ExecContext(ctx,
				`DELETE FROM pending_messages WHERE channel_id = ? AND message_id IN (`+placeholders+`)`, args...)
			if err != nil {
				return retention.NewStorageError("sqlite", "clear_marked", err)
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// NextDeadline returns the earliest deadline among unmarked rows.
func (s *SQLiteStore) NextDeadline(ctx context.Context) (time.Time, bool, error) {
	var next sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MIN(delete_at) FROM pending_messages WHERE marked = 0`).Scan(&next)
	if err != nil {
		return time.Time{}, false, retention.NewStorageError("sqlite", "next_deadline", err)
	}
	if !next.Valid {
		return time.Time{}, false, nil
	}
	return fromMillis(next.Int64), true, nil
}

// PendingCount returns the number of pending rows, marked or not.
func (s *SQLiteStore) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_messages`).Scan(&n); err != nil {
		return 0, retention.NewStorageError("sqlite", "pending_count", err)
	}
	return n, nil
}

// AppendAudit appends an entry and assigns its ID.
func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *retention.AuditEntry) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (event, timestamp, timestamp_ms, cycle_id) VALUES (?, ?, ?, ?)`,
		entry.Event, entry.Timestamp, entry.TimestampMs, entry.CycleID)
	if err != nil {
		return retention.NewStorageError("sqlite", "append_audit", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// QueryAudit returns matching entries, newest first.
func (s *SQLiteStore) QueryAudit(ctx context.Context, query retention.AuditQuery) ([]*retention.AuditEntry, error) {
	var where []string
	var args []any
	if !query.Since.IsZero() {
		where = append(where, "timestamp_ms >= ?")
		args = append(args, toMillis(query.Since))
	}
	if query.CycleID != "" {
		where = append(where, "cycle_id = ?")
		args = append(args, query.CycleID)
	}

	q := `SELECT id, event, timestamp, timestamp_ms, cycle_id FROM audit_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, query.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, retention.NewStorageError("sqlite", "query_audit", err)
	}
	defer rows.Close()

	var out []*retention.AuditEntry
	for rows.Next() {
		e := &retention.AuditEntry{}
		if err := rows.Scan(&e.ID, &e.Event, &e.Timestamp, &e.TimestampMs, &e.CycleID); err != nil {
			return nil, retention.NewStorageError("sqlite", "query_audit", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, retention.NewStorageError("sqlite", "query_audit", err)
	}
	return out, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return retention.NewStorageError("sqlite", "ping", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite storage")
	if err := s.db.Close(); err != nil {
		return retention.NewStorageError("sqlite", "close", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanPolicy(row rowScanner) (*retention.ChannelPolicy, error) {
	var (
		p                        retention.ChannelPolicy
		retentionMs, watermarkAt int64
		createdAt, updatedAt     int64
		staleSince               sql.NullInt64
	)
	err := row.Scan(&p.ChannelID, &p.ChannelName, &retentionMs, &p.RetentionLabel, &p.WatermarkID,
		&watermarkAt, &p.ScanCursor, &staleSince, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.Retention = time.Duration(retentionMs) * time.Millisecond
	p.WatermarkAt = fromMillis(watermarkAt)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	if staleSince.Valid {
		t := fromMillis(staleSince.Int64)
		p.StaleSince = &t
	}
	return &p, nil
}

func scanPending(row rowScanner) (*retention.PendingMessage, error) {
	var (
		m                retention.PendingMessage
		createdAt, dueAt int64
		marked           int64
	)
	if err := row.Scan(&m.ChannelID, &m.MessageID, &createdAt, &dueAt, &marked); err != nil {
		return nil, err
	}
	m.CreatedAt = fromMillis(createdAt)
	m.DeleteAt = fromMillis(dueAt)
	m.Marked = marked != 0
	return &m, nil
}

func queryPending(ctx context.Context, q queryer, query string, args ...any) ([]*retention.PendingMessage, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*retention.PendingMessage
	for rows.Next() {
		m, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}
