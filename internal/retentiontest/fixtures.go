// Package retentiontest provides fakes and fixtures for testing the retention
// scheduler without a network: a scriptable sink, a manual clock, and
// helpers that build policies and time-ordered message IDs.
package retentiontest

import (
	"context"
	"strconv"
	"testing"
	"time"

	"mercator-hq/sweeper/pkg/retention"
)

// Epoch is the reference time fixtures are built around.
var Epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const idEpochMs = 1420070400000

// MessageID returns a snowflake-style ID that sorts by creation time.
// seq disambiguates messages created in the same millisecond.
func MessageID(createdAt time.Time, seq int) string {
	ms := createdAt.UnixMilli() - idEpochMs
	return strconv.FormatUint(uint64(ms)<<22|uint64(seq&0xfff), 10)
}

// NewMessage builds a human-authored message created at createdAt.
func NewMessage(channelID string, createdAt time.Time, seq int) retention.Message {
	return retention.Message{
		ID:        MessageID(createdAt, seq),
		ChannelID: channelID,
		CreatedAt: createdAt,
	}
}

// NewPolicy builds a policy watermarked at watermarkAt.
func NewPolicy(channelID string, ttl time.Duration, watermarkAt time.Time) *retention.ChannelPolicy {
	return &retention.ChannelPolicy{
		ChannelID:      channelID,
		ChannelName:    "chan-" + channelID,
		Retention:      ttl,
		RetentionLabel: ttl.String(),
		WatermarkID:    MessageID(watermarkAt, 0),
		WatermarkAt:    watermarkAt,
		CreatedAt:      watermarkAt,
		UpdatedAt:      watermarkAt,
	}
}

// MustUpsert stores a policy or fails the test.
func MustUpsert(t *testing.T, store retention.Store, policy *retention.ChannelPolicy) *retention.ChannelPolicy {
	t.Helper()
	stored, err := store.UpsertPolicy(context.Background(), policy)
	if err != nil {
		t.Fatalf("UpsertPolicy(%s) error = %v", policy.ChannelID, err)
	}
	return stored
}

// MustRegister registers a pending message or fails the test.
func MustRegister(t *testing.T, store retention.Store, m retention.Message) *retention.PendingMessage {
	t.Helper()
	p, err := store.RegisterPendingMessage(context.Background(), m.ChannelID, m.ID, m.CreatedAt)
	if err != nil {
		t.Fatalf("RegisterPendingMessage(%s/%s) error = %v", m.ChannelID, m.ID, err)
	}
	return p
}

// Pending builds pending rows for messages as the store would.
func Pending(msgs []retention.Message, ttl time.Duration) []*retention.PendingMessage {
	out := make([]*retention.PendingMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, &retention.PendingMessage{
			ChannelID: m.ChannelID,
			MessageID: m.ID,
			CreatedAt: m.CreatedAt,
			DeleteAt:  m.CreatedAt.Add(ttl),
			Marked:    true,
		})
	}
	return out
}

// Series builds n messages in one channel, spaced step apart from start.
func Series(channelID string, start time.Time, step time.Duration, n int) []retention.Message {
	out := make([]retention.Message, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, NewMessage(channelID, start.Add(time.Duration(i)*step), i))
	}
	return out
}
