package retention

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
)

// ChannelPolicy places one channel under retention.
type ChannelPolicy struct {
	ChannelID      string        `json:"channel_id"`
	ChannelName    string        `json:"channel_name"`
	Retention      time.Duration `json:"retention"`       // Added to a message's creation time to get its deadline
	RetentionLabel string        `json:"retention_label"` // Display form, derived once at registration

	// Watermark is the registration-confirmation message. It and everything
	// created at or before it are never acted on.
	WatermarkID string    `json:"watermark_id"`
	WatermarkAt time.Time `json:"watermark_at"`

	// ScanCursor is the newest message ID processed by a completed backfill scan.
	ScanCursor string `json:"scan_cursor,omitempty"`

	// StaleSince is set while the sink reports the channel unreachable.
	StaleSince *time.Time `json:"stale_since,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Covers reports whether a message falls inside the policy's watermark.
func (p *ChannelPolicy) Covers(messageID string, createdAt time.Time) bool {
	if messageID == p.WatermarkID {
		return false
	}
	return createdAt.After(p.WatermarkAt)
}

// DeadlineFor returns the deletion deadline for a message created at createdAt.
func (p *ChannelPolicy) DeadlineFor(createdAt time.Time) time.Time {
	return createdAt.Add(p.Retention)
}

// IsStale reports whether the channel was last seen unreachable.
func (p *ChannelPolicy) IsStale() bool {
	return p.StaleSince != nil
}

// ScanFrom returns the message ID an incremental history scan starts after.
func (p *ChannelPolicy) ScanFrom() string {
	if p.ScanCursor != "" && CompareIDs(p.ScanCursor, p.WatermarkID) > 0 {
		return p.ScanCursor
	}
	return p.WatermarkID
}

// Clone returns a deep copy of the policy.
func (p *ChannelPolicy) Clone() *ChannelPolicy {
	if p == nil {
		return nil
	}
	c := *p
	if p.StaleSince != nil {
		t := *p.StaleSince
		c.StaleSince = &t
	}
	return &c
}

// PendingMessage is a message slated for deletion.
type PendingMessage struct {
	ChannelID string    `json:"channel_id"`
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
	DeleteAt  time.Time `json:"delete_at"` // Frozen at insert
	Marked    bool      `json:"marked"`    // Deadline passed, deletion in flight
}

// AuditEntry is one immutable line of the audit trail.
type AuditEntry struct {
	ID          int64  `json:"id"`
	Event       string `json:"event"`
	Timestamp   string `json:"timestamp"`    // RFC 3339, UTC
	TimestampMs int64  `json:"timestamp_ms"` // Unix milliseconds, used for ordering
	CycleID     string `json:"cycle_id,omitempty"`
}

// NewAuditEntry builds an entry stamped with at.
func NewAuditEntry(event, cycleID string, at time.Time) *AuditEntry {
	at = at.UTC()
	return &AuditEntry{
		Event:       event,
		Timestamp:   at.Format(time.RFC3339Nano),
		TimestampMs: at.UnixMilli(),
		CycleID:     cycleID,
	}
}

// AuditQuery filters audit entries. Results are newest first.
type AuditQuery struct {
	Since   time.Time // Zero means no lower bound
	CycleID string
	Limit   int // Zero means DefaultAuditLimit
}

// DefaultAuditLimit bounds unlimited audit queries.
const DefaultAuditLimit = 100

// EffectiveLimit returns the row limit to apply.
func (q AuditQuery) EffectiveLimit() int {
	if q.Limit <= 0 {
		return DefaultAuditLimit
	}
	return q.Limit
}

// Channel is the sink's view of a channel.
type Channel struct {
	ID      string
	Name    string
	GuildID string
}

// Message is the sink's view of a message.
type Message struct {
	ID        string
	ChannelID string
	CreatedAt time.Time
	Automated bool // Authored by a bot or webhook
}

// Sink is the chat platform capability the scheduler deletes through.
type Sink interface {
	// FetchChannel resolves a channel. It returns ErrChannelUnreachable when
	// the channel no longer exists or cannot be accessed.
	FetchChannel(ctx context.Context, channelID string) (*Channel, error)

	// FetchRecentMessages returns messages newer than afterID, oldest first.
	FetchRecentMessages(ctx context.Context, channelID, afterID string) ([]Message, error)

	// DeleteMessage deletes one message. ErrMessageNotFound means it is
	// already gone.
	DeleteMessage(ctx context.Context, channelID, messageID string) error

	// BulkDelete deletes many messages in one call. It fails with
	// ErrBulkTooOld, ErrBulkTooFew or ErrBulkTooMany when the call violates
	// platform limits.
	BulkDelete(ctx context.Context, channelID string, messageIDs []string) error
}

// Store durably holds policies, pending deadlines and the audit log.
// Every method is individually atomic.
type Store interface {
	UpsertPolicy(ctx context.Context, policy *ChannelPolicy) (*ChannelPolicy, error)
	GetPolicy(ctx context.Context, channelID string) (*ChannelPolicy, error)
	ListPolicies(ctx context.Context) ([]*ChannelPolicy, error)
	RemovePolicy(ctx context.Context, channelID string) error
	MarkPolicyStale(ctx context.Context, channelID string, at time.Time) error
	ClearPolicyStale(ctx context.Context, channelID string) error
	AdvanceScanCursor(ctx context.Context, channelID, messageID string) error

	// RegisterPendingMessage records a message under its channel's policy
	// and returns the stored row. A message that is already pending keeps
	// its original deadline.
	RegisterPendingMessage(ctx context.Context, channelID, messageID string, createdAt time.Time) (*PendingMessage, error)

	// TakeExpired marks every row whose deadline is at or before now and
	// returns all marked rows.
	TakeExpired(ctx context.Context, now time.Time) ([]*PendingMessage, error)

	// Marked returns rows already marked, without marking more.
	Marked(ctx context.Context) ([]*PendingMessage, error)

	// ClearMarked removes rows whose deletion has been confirmed.
	ClearMarked(ctx context.Context, channelID string, messageIDs []string) (int64, error)

	// NextDeadline returns the earliest deadline among unmarked rows.
	NextDeadline(ctx context.Context) (time.Time, bool, error)

	PendingCount(ctx context.Context) (int64, error)

	AppendAudit(ctx context.Context, entry *AuditEntry) error
	QueryAudit(ctx context.Context, query AuditQuery) ([]*AuditEntry, error)

	Ping(ctx context.Context) error
	Close() error
}

// Auditor records scheduler decisions. It never fails the caller.
type Auditor interface {
	Record(ctx context.Context, event string)
}

// NopAuditor discards every event.
type NopAuditor struct{}

// Record does nothing.
func (NopAuditor) Record(context.Context, string) {}

// Clock supplies wall-clock time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real clock.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time { return time.Now() }

// AuthorFilter decides whether automated authors are exempt from retention.
// It is safe for concurrent use and can be changed at runtime.
type AuthorFilter struct {
	exemptAutomated atomic.Bool
}

// NewAuthorFilter creates a filter.
func NewAuthorFilter(exemptAutomated bool) *AuthorFilter {
	f := &AuthorFilter{}
	f.exemptAutomated.Store(exemptAutomated)
	return f
}

// Skip reports whether a message should be left alone.
func (f *AuthorFilter) Skip(automated bool) bool {
	if f == nil {
		return false
	}
	return automated && f.exemptAutomated.Load()
}

// SetExemptAutomated changes the exemption.
func (f *AuthorFilter) SetExemptAutomated(exempt bool) {
	f.exemptAutomated.Store(exempt)
}

// ExemptAutomated returns the current setting.
func (f *AuthorFilter) ExemptAutomated() bool {
	return f.exemptAutomated.Load()
}

// CompareIDs orders two decimal identifiers numerically.
// It returns -1, 0 or 1. Leading zeros are ignored.
func CompareIDs(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return strings.Compare(a, b)
}

// GroupByChannel groups pending rows by channel ID.
func GroupByChannel(msgs []*PendingMessage) map[string][]*PendingMessage {
	groups := make(map[string][]*PendingMessage)
	for _, m := range msgs {
		groups[m.ChannelID] = append(groups[m.ChannelID], m)
	}
	return groups
}
