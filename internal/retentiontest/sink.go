package retentiontest

import (
	"context"
	"sort"
	"sync"
	"time"

	"mercator-hq/sweeper/pkg/retention"
)

// Op names recorded by FakeSink.
const (
	OpFetchChannel  = "fetch_channel"
	OpFetchMessages = "fetch_messages"
	OpDelete        = "delete"
	OpBulkDelete    = "bulk_delete"
)

// Platform limits enforced by FakeSink on bulk deletes.
const (
	BulkMaxAge  = 14 * 24 * time.Hour
	BulkMaxSize = 100
	BulkMinSize = 2
)

// Call is one recorded sink invocation.
type Call struct {
	Op         string
	ChannelID  string
	AfterID    string
	MessageIDs []string
}

// FakeSink is an in-memory retention.Sink with scriptable failures.
// Bulk deletes are checked against the same limits the real platform applies.
type FakeSink struct {
	mu          sync.Mutex
	clock       retention.Clock
	channels    map[string]*retention.Channel
	messages    map[string]map[string]retention.Message
	unreachable map[string]bool
	fetchErrs   map[string]error
	deleteErrs  map[string]error
	bulkErrs    []error
	calls       []Call
	deleted     []string
}

// NewFakeSink creates an empty sink. clock is used for the bulk age check;
// nil means the system clock.
func NewFakeSink(clock retention.Clock) *FakeSink {
	if clock == nil {
		clock = retention.SystemClock{}
	}
	return &FakeSink{
		clock:       clock,
		channels:    make(map[string]*retention.Channel),
		messages:    make(map[string]map[string]retention.Message),
		unreachable: make(map[string]bool),
		fetchErrs:   make(map[string]error),
		deleteErrs:  make(map[string]error),
	}
}

// AddChannel makes a channel resolvable.
func (s *FakeSink) AddChannel(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addChannelLocked(id, name)
}

func (s *FakeSink) addChannelLocked(id, name string) {
	if _, ok := s.channels[id]; !ok {
		s.channels[id] = &retention.Channel{ID: id, Name: name, GuildID: "guild"}
		s.messages[id] = make(map[string]retention.Message)
	}
}

// AddMessages stores messages, creating their channels as needed.
func (s *FakeSink) AddMessages(msgs ...retention.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.addChannelLocked(m.ChannelID, m.ChannelID)
		s.messages[m.ChannelID][m.ID] = m
	}
}

// SetUnreachable makes every call on the channel fail with
// retention.ErrChannelUnreachable.
func (s *FakeSink) SetUnreachable(channelID string, unreachable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unreachable[channelID] = unreachable
}

// FailFetch makes FetchRecentMessages on the channel return err. A nil err
// clears the failure.
func (s *FakeSink) FailFetch(channelID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fetchErrs, channelID)
		return
	}
	s.fetchErrs[channelID] = err
}

// FailDelete makes DeleteMessage of the message return err.
func (s *FakeSink) FailDelete(messageID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.deleteErrs, messageID)
		return
	}
	s.deleteErrs[messageID] = err
}

// FailNextBulk queues errors returned by the following BulkDelete calls,
// one per call.
func (s *FakeSink) FailNextBulk(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkErrs = append(s.bulkErrs, errs...)
}

// FetchChannel implements retention.Sink.
func (s *FakeSink) FetchChannel(ctx context.Context, channelID string) (*retention.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Op: OpFetchChannel, ChannelID: channelID})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch, ok := s.channels[channelID]
	if !ok || s.unreachable[channelID] {
		return nil, retention.ErrChannelUnreachable
	}
	c := *ch
	return &c, nil
}

// FetchRecentMessages implements retention.Sink.
func (s *FakeSink) FetchRecentMessages(ctx context.Context, channelID, afterID string) ([]retention.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Op: OpFetchMessages, ChannelID: channelID, AfterID: afterID})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := s.fetchErrs[channelID]; ok {
		return nil, err
	}
	if _, ok := s.channels[channelID]; !ok || s.unreachable[channelID] {
		return nil, retention.ErrChannelUnreachable
	}

	var out []retention.Message
	for _, m := range s.messages[channelID] {
		if afterID == "" || retention.CompareIDs(m.ID, afterID) > 0 {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return retention.CompareIDs(out[i].ID, out[j].ID) < 0
	})
	return out, nil
}

// DeleteMessage implements retention.Sink.
func (s *FakeSink) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Op: OpDelete, ChannelID: channelID, MessageIDs: []string{messageID}})

	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := s.channels[channelID]; !ok || s.unreachable[channelID] {
		return retention.ErrChannelUnreachable
	}
	if err, ok := s.deleteErrs[messageID]; ok {
		return err
	}
	if _, ok := s.messages[channelID][messageID]; !ok {
		return retention.ErrMessageNotFound
	}
	delete(s.messages[channelID], messageID)
	s.deleted = append(s.deleted, messageID)
	return nil
}

// BulkDelete implements retention.Sink.
func (s *FakeSink) BulkDelete(ctx context.Context, channelID string, messageIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Op: OpBulkDelete, ChannelID: channelID, MessageIDs: append([]string(nil), messageIDs...)})

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(s.bulkErrs) > 0 {
		err := s.bulkErrs[0]
		s.bulkErrs = s.bulkErrs[1:]
		if err != nil {
			return err
		}
	}
	if _, ok := s.channels[channelID]; !ok || s.unreachable[channelID] {
		return retention.ErrChannelUnreachable
	}
	switch {
	case len(messageIDs) < BulkMinSize:
		return retention.ErrBulkTooFew
	case len(messageIDs) > BulkMaxSize:
		return retention.ErrBulkTooMany
	}

	now := s.clock.Now()
	for _, id := range messageIDs {
		if m, ok := s.messages[channelID][id]; ok && now.Sub(m.CreatedAt) >= BulkMaxAge {
			return retention.ErrBulkTooOld
		}
	}
	for _, id := range messageIDs {
		if _, ok := s.messages[channelID][id]; ok {
			delete(s.messages[channelID], id)
			s.deleted = append(s.deleted, id)
		}
	}
	return nil
}

func (s *FakeSink) record(c Call) {
	s.calls = append(s.calls, c)
}

// Calls returns every recorded call in order.
func (s *FakeSink) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsOf returns the recorded calls of one operation.
func (s *FakeSink) CallsOf(op string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Deleted returns the IDs of messages the sink actually removed.
func (s *FakeSink) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

// Has reports whether a message still exists.
func (s *FakeSink) Has(channelID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.messages[channelID][messageID]
	return ok
}

// ResetCalls forgets recorded calls and deletions.
func (s *FakeSink) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.deleted = nil
}
