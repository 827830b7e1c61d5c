// Package audit provides the append-only audit trail of retention decisions.
//
// Entries are queued on a bounded channel and written by a single worker
// through the store's AppendAudit. A full queue drops the entry and counts
// it; a failed write is logged. Callers never see an error.
//
//	trail := audit.New(store, audit.ConfigFromSettings(cfg.Audit), audit.WithMetrics(collector))
//	defer trail.Close()
//
//	trail.Recordf(ctx, "channel %s enabled with retention %s", id, label)
package audit
