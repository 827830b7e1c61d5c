// Package backfill reconciles the retention store with channel history.
//
// A scan runs at startup, after a gateway reconnect, and on the rescan
// schedule. For every registered channel it fetches the messages posted since
// the last completed scan, registers those still within their retention
// window, and deletes those already past it. Channels the platform reports
// unreachable are marked stale rather than removed; PruneStale removes them
// once the grace period has passed.
//
// Scans run with bounded parallelism and a shared fetch rate limit. A
// channel is never scanned twice at once.
package backfill
