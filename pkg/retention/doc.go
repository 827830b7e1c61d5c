// Package retention defines the domain model of the message retention
// scheduler: channel policies, pending deletions, audit entries, and the
// collaborator interfaces (Store, Sink, Clock) the scheduler is built on.
//
// # Architecture
//
// The scheduler is split into small packages that share the types defined here:
//
//  1. storage  - durable policies, pending deadlines and audit rows (SQLite, bbolt, memory)
//  2. backfill - reconciliation scan of channel history after downtime
//  3. planner  - partitions expired messages into platform-legal delete calls
//  4. monitor  - wakes at the next deadline and drives deletion cycles
//  5. audit    - best-effort, append-only record of scheduler decisions
//  6. service  - the channel-management API (enable, disable, list, message hook)
//
// # Lifecycle
//
// A ChannelPolicy is created by enabling a channel and destroyed by disabling
// it. Disabling cascades to every PendingMessage of that channel. A
// PendingMessage is created when a message arrives in a covered channel (or is
// found by a backfill scan) and removed once the sink confirms deletion:
//
//	message created → RegisterPendingMessage (deleteAt frozen)
//	     ↓
//	deadline passes → TakeExpired (row marked)
//	     ↓
//	planner + sink  → ClearMarked (confirmed ids only)
//
// Marked rows survive a crash. On restart the monitor re-reads them with
// Store.Marked before doing anything else.
//
// # Identifiers
//
// Channel and message identifiers are opaque decimal strings that grow
// monotonically with creation time (Discord snowflakes). CompareIDs orders
// them without parsing.
package retention
