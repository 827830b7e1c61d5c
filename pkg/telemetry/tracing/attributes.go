package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on sweeper spans.
const (
	AttrChannelID   = attribute.Key("sweeper.channel_id")
	AttrCycleID     = attribute.Key("sweeper.cycle_id")
	AttrMessages    = attribute.Key("sweeper.messages")
	AttrDeleted     = attribute.Key("sweeper.deleted")
	AttrFailed      = attribute.Key("sweeper.failed")
	AttrMethod      = attribute.Key("sweeper.delete_method")
	AttrCommand     = attribute.Key("sweeper.command")
	AttrScanReason  = attribute.Key("sweeper.scan_reason")
	AttrFullHistory = attribute.Key("sweeper.full_history")
)

// SetCycleAttributes annotates an expiry cycle span.
func SetCycleAttributes(span trace.Span, cycleID string, taken, deleted, failed int) {
	span.SetAttributes(
		AttrCycleID.String(cycleID),
		AttrMessages.Int(taken),
		AttrDeleted.Int(deleted),
		AttrFailed.Int(failed),
	)
}

// SetBatchAttributes annotates a per-channel deletion span.
func SetBatchAttributes(span trace.Span, channelID, method string, messages int) {
	span.SetAttributes(
		AttrChannelID.String(channelID),
		AttrMethod.String(method),
		AttrMessages.Int(messages),
	)
}

// SetScanAttributes annotates a channel scan span.
func SetScanAttributes(span trace.Span, channelID, reason string, full bool) {
	span.SetAttributes(
		AttrChannelID.String(channelID),
		AttrScanReason.String(reason),
		AttrFullHistory.Bool(full),
	)
}
