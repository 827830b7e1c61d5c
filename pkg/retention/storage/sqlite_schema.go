package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the retention database schema.
// All timestamps are unix milliseconds.
const Schema = `
-- One row per channel under retention
CREATE TABLE IF NOT EXISTS channels (
    channel_id TEXT PRIMARY KEY,
    channel_name TEXT NOT NULL DEFAULT '',
    retention_ms INTEGER NOT NULL CHECK (retention_ms > 0),
    retention_label TEXT NOT NULL DEFAULT '',
    watermark_id TEXT NOT NULL DEFAULT '',
    watermark_at INTEGER NOT NULL,
    scan_cursor TEXT NOT NULL DEFAULT '',
    stale_since INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Messages awaiting deletion
CREATE TABLE IF NOT EXISTS pending_messages (
    channel_id TEXT NOT NULL REFERENCES channels(channel_id) ON DELETE CASCADE,
    message_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    delete_at INTEGER NOT NULL,
    marked INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (channel_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_pending_marked_deadline ON pending_messages(marked, delete_at);

-- Append-only audit trail
CREATE TABLE IF NOT EXISTS audit_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    timestamp_ms INTEGER NOT NULL,
    cycle_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_timestamp_ms ON audit_events(timestamp_ms);
CREATE INDEX IF NOT EXISTS idx_audit_cycle_id ON audit_events(cycle_id);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);
`

// InsertSchemaVersion inserts the schema version into the schema_version table.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version from the database.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`

const policyColumns = `channel_id, channel_name, retention_ms, retention_label, watermark_id,
    watermark_at, scan_cursor, stale_since, created_at, updated_at`

const pendingColumns = `channel_id, message_id, created_at, delete_at, marked`
