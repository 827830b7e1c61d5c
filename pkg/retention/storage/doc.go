// Package storage provides the durable backends behind retention.Store.
//
// # Backends
//
//   - SQLite (SQLiteStore): the default. Runs on either the pure-Go
//     modernc.org/sqlite driver ("sqlite") or the cgo mattn/go-sqlite3 driver
//     ("sqlite3"). Uses WAL mode, a busy timeout, foreign keys with cascading
//     deletes, and IMMEDIATE transactions so read-then-write operations never
//     race a concurrent writer.
//   - bbolt (BoltStore): single-file embedded key/value store with a
//     secondary deadline index.
//   - Memory (MemoryStore): map-backed, for tests and dry runs.
//
// All backends store times with millisecond precision and in UTC.
//
// # Schema
//
// The SQLite schema has four tables:
//
//	channels          one row per channel policy
//	pending_messages  (channel_id, message_id) → deadline, FK to channels ON DELETE CASCADE
//	audit_events      append-only, AUTOINCREMENT id
//	schema_version    applied schema versions
//
// # Usage
//
//	store, err := storage.Open(storage.Config{
//	    Backend: "sqlite",
//	    SQLite:  &storage.SQLiteConfig{Path: "data/sweeper.db", WALMode: true},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
package storage
