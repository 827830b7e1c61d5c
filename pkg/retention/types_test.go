package retention

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCompareIDs(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1", "2", -1},
		{"10", "9", 1},
		{"1234567890123456789", "1234567890123456789", 0},
		{"999999999999999999", "1000000000000000000", -1},
		{"007", "7", 0},
		{"", "1", -1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_vs_%s", tt.a, tt.b), func(t *testing.T) {
			if got := CompareIDs(tt.a, tt.b); got != tt.want {
				t.Errorf("CompareIDs(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestChannelPolicy_Covers(t *testing.T) {
	wm := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	p := &ChannelPolicy{ChannelID: "C1", WatermarkID: "100", WatermarkAt: wm}

	tests := []struct {
		name      string
		messageID string
		createdAt time.Time
		want      bool
	}{
		{"after watermark", "101", wm.Add(time.Second), true},
		{"at watermark time", "101", wm, false},
		{"before watermark", "99", wm.Add(-time.Second), false},
		{"watermark message itself", "100", wm.Add(time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Covers(tt.messageID, tt.createdAt); got != tt.want {
				t.Errorf("Covers() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChannelPolicy_ScanFrom(t *testing.T) {
	p := &ChannelPolicy{WatermarkID: "500"}
	if got := p.ScanFrom(); got != "500" {
		t.Errorf("ScanFrom() without cursor = %q, want 500", got)
	}

	p.ScanCursor = "400"
	if got := p.ScanFrom(); got != "500" {
		t.Errorf("ScanFrom() with older cursor = %q, want 500", got)
	}

	p.ScanCursor = "1000"
	if got := p.ScanFrom(); got != "1000" {
		t.Errorf("ScanFrom() with newer cursor = %q, want 1000", got)
	}
}

func TestChannelPolicy_Clone(t *testing.T) {
	stale := time.Now()
	p := &ChannelPolicy{ChannelID: "C1", StaleSince: &stale}
	c := p.Clone()

	*c.StaleSince = stale.Add(time.Hour)
	if !p.StaleSince.Equal(stale) {
		t.Error("Clone() shares StaleSince with the original")
	}

	var nilPolicy *ChannelPolicy
	if nilPolicy.Clone() != nil {
		t.Error("Clone() of nil should be nil")
	}
}

func TestAuthorFilter(t *testing.T) {
	f := NewAuthorFilter(true)
	if !f.Skip(true) {
		t.Error("automated message should be skipped when exempt")
	}
	if f.Skip(false) {
		t.Error("human message should never be skipped")
	}

	f.SetExemptAutomated(false)
	if f.Skip(true) {
		t.Error("automated message should be kept when exemption is off")
	}

	var nilFilter *AuthorFilter
	if nilFilter.Skip(true) {
		t.Error("nil filter should skip nothing")
	}
}

func TestErrors(t *testing.T) {
	for _, err := range []error{ErrBulkTooOld, ErrBulkTooFew, ErrBulkTooMany} {
		if !errors.Is(err, ErrSinkRejected) {
			t.Errorf("%v should match ErrSinkRejected", err)
		}
		wrapped := fmt.Errorf("bulk: %w", err)
		if !errors.Is(wrapped, err) {
			t.Errorf("wrapped %v should still match itself", err)
		}
	}

	if got := RejectionReason(fmt.Errorf("x: %w", ErrBulkTooOld)); got != "too_old" {
		t.Errorf("RejectionReason() = %q, want too_old", got)
	}
	if got := RejectionReason(ErrMessageNotFound); got != "" {
		t.Errorf("RejectionReason() = %q, want empty", got)
	}

	se := NewStorageError("sqlite", "take_expired", errors.New("disk I/O error"))
	if !errors.Is(se, ErrStoreUnavailable) {
		t.Error("StorageError should match ErrStoreUnavailable")
	}
	var target *StorageError
	if !errors.As(fmt.Errorf("cycle: %w", se), &target) || target.Operation != "take_expired" {
		t.Error("errors.As should recover the StorageError")
	}

	if !errors.Is(&RetentionRangeError{Reason: "too long"}, ErrInvalidRetention) {
		t.Error("RetentionRangeError should match ErrInvalidRetention")
	}

	if !IsIgnorable(fmt.Errorf("register: %w", ErrNotRegistered)) || !IsIgnorable(ErrBeforeWatermark) {
		t.Error("NotRegistered and BeforeWatermark should be ignorable")
	}
	if IsIgnorable(se) {
		t.Error("store errors are not ignorable")
	}
}

func TestGroupByChannel(t *testing.T) {
	msgs := []*PendingMessage{
		{ChannelID: "A", MessageID: "1"},
		{ChannelID: "B", MessageID: "2"},
		{ChannelID: "A", MessageID: "3"},
	}
	groups := GroupByChannel(msgs)
	if len(groups) != 2 || len(groups["A"]) != 2 || len(groups["B"]) != 1 {
		t.Errorf("GroupByChannel() = %v", groups)
	}
}

func TestNewAuditEntry(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	e := NewAuditEntry("cycle done", "abc", at)
	if e.TimestampMs != at.UnixMilli() {
		t.Errorf("TimestampMs = %d, want %d", e.TimestampMs, at.UnixMilli())
	}
	if e.Timestamp != "2025-03-01T09:00:00Z" {
		t.Errorf("Timestamp = %q", e.Timestamp)
	}
}
