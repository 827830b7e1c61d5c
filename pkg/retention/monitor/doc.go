// Package monitor deletes expired messages as their deadlines pass.
//
// The Monitor recovers rows left marked by an interrupted cycle, runs a
// startup backfill, then polls the store. Each cycle takes every expired row,
// groups the rows by channel and hands each channel's plan to the executor.
// Rows that could not be deleted stay marked and are retried on the next
// cycle. Between cycles the monitor sleeps until the next deadline, bounded
// by the configured wait limits, and wakes early when Notify is called.
//
// The Scheduler runs periodic rescans and stale-policy pruning on a cron
// schedule, and accepts on-demand rescans after a gateway reconnect.
package monitor
