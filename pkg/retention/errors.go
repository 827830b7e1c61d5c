package retention

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotRegistered is returned when a message arrives for a channel with no policy.
	ErrNotRegistered = errors.New("channel not registered")

	// ErrBeforeWatermark is returned for messages at or before a policy's watermark.
	ErrBeforeWatermark = errors.New("message precedes watermark")

	// ErrPolicyNotFound is returned by lookups of an absent policy.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrChannelUnreachable is returned by the sink when a channel cannot be resolved.
	ErrChannelUnreachable = errors.New("channel unreachable")

	// ErrMessageNotFound is returned by the sink when a message is already deleted.
	ErrMessageNotFound = errors.New("message not found")

	// ErrSinkRejected is the parent of every bulk-constraint violation.
	ErrSinkRejected = errors.New("sink rejected operation")

	// Bulk-constraint violations. Each matches ErrSinkRejected.
	ErrBulkTooOld  = &rejection{reason: "too_old"}
	ErrBulkTooFew  = &rejection{reason: "too_few"}
	ErrBulkTooMany = &rejection{reason: "too_many"}

	// ErrStoreUnavailable matches every StorageError.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrScanInProgress is returned when a channel is already being scanned.
	ErrScanInProgress = errors.New("scan already in progress")

	// ErrInvalidRetention is returned for durations outside (0, max].
	ErrInvalidRetention = errors.New("invalid retention duration")
)

// rejection is a bulk-constraint violation. It matches ErrSinkRejected.
type rejection struct {
	reason string
}

func (r *rejection) Error() string {
	return "bulk delete rejected: " + strings.ReplaceAll(r.reason, "_", " ")
}

func (r *rejection) Is(target error) bool {
	return target == ErrSinkRejected
}

// RejectionReason returns the metric label of a bulk rejection, or "" if err
// is not one.
func RejectionReason(err error) string {
	var r *rejection
	if errors.As(err, &r) {
		return r.reason
	}
	return ""
}

// StorageError represents an error from a storage backend.
type StorageError struct {
	Backend   string // Storage backend type ("sqlite", "bolt", "memory")
	Operation string // Operation that failed ("register", "take_expired", etc.)
	Cause     error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is makes every StorageError match ErrStoreUnavailable.
func (e *StorageError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}

// SinkError wraps a failed platform call.
type SinkError struct {
	Operation string // "fetch_channel", "fetch_messages", "delete", "bulk_delete"
	ChannelID string
	Cause     error
}

// Error implements the error interface.
func (e *SinkError) Error() string {
	return fmt.Sprintf("sink error [operation=%s, channel=%s]: %v", e.Operation, e.ChannelID, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *SinkError) Unwrap() error {
	return e.Cause
}

// NewSinkError creates a new SinkError.
func NewSinkError(operation, channelID string, cause error) *SinkError {
	return &SinkError{
		Operation: operation,
		ChannelID: channelID,
		Cause:     cause,
	}
}

// PartialBatchError reports a channel batch where only some deletes were confirmed.
type PartialBatchError struct {
	ChannelID string
	Confirmed int
	Failed    int
	Cause     error // First failure
}

// Error implements the error interface.
func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("partial batch failure [channel=%s, confirmed=%d, failed=%d]: %v",
		e.ChannelID, e.Confirmed, e.Failed, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *PartialBatchError) Unwrap() error {
	return e.Cause
}

// RetentionRangeError describes why a retention duration was refused.
type RetentionRangeError struct {
	Reason string
}

// Error implements the error interface.
func (e *RetentionRangeError) Error() string {
	return "invalid retention duration: " + e.Reason
}

// Is makes RetentionRangeError match ErrInvalidRetention.
func (e *RetentionRangeError) Is(target error) bool {
	return target == ErrInvalidRetention
}

// IsIgnorable reports errors that mean "nothing to do" for a message event.
func IsIgnorable(err error) bool {
	return errors.Is(err, ErrNotRegistered) || errors.Is(err, ErrBeforeWatermark)
}
