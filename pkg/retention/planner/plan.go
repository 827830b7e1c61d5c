package planner

import (
	"fmt"
	"sort"
	"time"

	"mercator-hq/sweeper/pkg/config"
	"mercator-hq/sweeper/pkg/retention"
)

// Method is how an operation deletes its messages.
type Method string

const (
	MethodBulk   Method = "bulk"
	MethodSingle Method = "single"
)

// Constraints are the platform's bulk-delete limits.
type Constraints struct {
	MaxBulkAge  time.Duration // Bulk calls fail for messages at least this old
	AgeMargin   time.Duration // Subtracted from MaxBulkAge before comparing
	MaxBulkSize int
	MinBulkSize int
}

// DiscordConstraints returns the limits of Discord's bulk-delete endpoint.
func DiscordConstraints() Constraints {
	return Constraints{
		MaxBulkAge:  config.DefaultBulkMaxAge,
		AgeMargin:   config.DefaultBulkAgeMargin,
		MaxBulkSize: config.DefaultBulkMaxSize,
		MinBulkSize: config.DefaultBulkMinSize,
	}
}

// ConstraintsFromConfig converts the retention.bulk section.
func ConstraintsFromConfig(cfg config.BulkConfig) Constraints {
	return Constraints{
		MaxBulkAge:  cfg.MaxAge,
		AgeMargin:   cfg.AgeMargin,
		MaxBulkSize: cfg.MaxSize,
		MinBulkSize: cfg.MinSize,
	}
}

// Validate rejects constraint sets that could produce illegal bulk calls.
func (c Constraints) Validate() error {
	switch {
	case c.MaxBulkAge <= c.AgeMargin:
		return fmt.Errorf("max bulk age %s must exceed age margin %s", c.MaxBulkAge, c.AgeMargin)
	case c.MinBulkSize < 2:
		return fmt.Errorf("min bulk size must be at least 2, got %d", c.MinBulkSize)
	case c.MaxBulkSize < c.MinBulkSize:
		return fmt.Errorf("max bulk size %d is below min bulk size %d", c.MaxBulkSize, c.MinBulkSize)
	}
	return nil
}

// BulkEligible reports whether a message created at createdAt may be
// bulk-deleted at now.
func (c Constraints) BulkEligible(createdAt, now time.Time) bool {
	return now.Sub(createdAt) < c.MaxBulkAge-c.AgeMargin
}

// Operation is one sink call.
type Operation struct {
	Method     Method
	MessageIDs []string
}

// Plan is the ordered set of operations that deletes one channel's messages.
type Plan struct {
	ChannelID  string
	Operations []Operation
}

// BulkCount returns the number of bulk operations.
func (p Plan) BulkCount() int {
	return p.count(MethodBulk)
}

// SingleCount returns the number of single-message operations.
func (p Plan) SingleCount() int {
	return p.count(MethodSingle)
}

func (p Plan) count(m Method) int {
	n := 0
	for _, op := range p.Operations {
		if op.Method == m {
			n++
		}
	}
	return n
}

// MessageCount returns the number of messages the plan deletes.
func (p Plan) MessageCount() int {
	n := 0
	for _, op := range p.Operations {
		n += len(op.MessageIDs)
	}
	return n
}

// Build partitions one channel's expired messages into operations.
//
// Bulk-eligible messages are ordered by creation time and chunked to
// MaxBulkSize. A trailing chunk smaller than MinBulkSize is deleted one at a
// time, as is every message too old for a bulk call. Rows belonging to other
// channels and duplicate IDs are ignored.
func Build(channelID string, msgs []*retention.PendingMessage, now time.Time, c Constraints) Plan {
	plan := Plan{ChannelID: channelID}

	seen := make(map[string]struct{}, len(msgs))
	var eligible, tooOld []*retention.PendingMessage
	for _, m := range msgs {
		if m == nil || m.ChannelID != channelID {
			continue
		}
		if _, dup := seen[m.MessageID]; dup {
			continue
		}
		seen[m.MessageID] = struct{}{}

		if c.BulkEligible(m.CreatedAt, now) {
			eligible = append(eligible, m)
		} else {
			tooOld = append(tooOld, m)
		}
	}
	sortByCreation(eligible)
	sortByCreation(tooOld)

	size := c.MaxBulkSize
	if size < 1 {
		size = 1
	}
	for start := 0; start < len(eligible); start += size {
		end := min(start+size, len(eligible))
		chunk := eligible[start:end]
		if len(chunk) < c.MinBulkSize || len(chunk) < 2 {
			plan.Operations = append(plan.Operations, singles(chunk)...)
			continue
		}
		plan.Operations = append(plan.Operations, Operation{Method: MethodBulk, MessageIDs: ids(chunk)})
	}
	plan.Operations = append(plan.Operations, singles(tooOld)...)
	return plan
}

func sortByCreation(msgs []*retention.PendingMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return retention.CompareIDs(msgs[i].MessageID, msgs[j].MessageID) < 0
	})
}

func singles(msgs []*retention.PendingMessage) []Operation {
	ops := make([]Operation, 0, len(msgs))
	for _, m := range msgs {
		ops = append(ops, Operation{Method: MethodSingle, MessageIDs: []string{m.MessageID}})
	}
	return ops
}

func ids(msgs []*retention.PendingMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.MessageID
	}
	return out
}
