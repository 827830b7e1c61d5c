package server

import (
	"context"
	"fmt"
	"time"

	"mercator-hq/sweeper/pkg/retention"
)

// Status is the body of /v1/status.
type Status struct {
	State         string     `json:"state,omitempty"`
	Pending       int64      `json:"pending"`
	NextDeadline  *time.Time `json:"next_deadline,omitempty"`
	Channels      int        `json:"channels"`
	StaleChannels int        `json:"stale_channels"`
	LastCycle     *time.Time `json:"last_cycle,omitempty"`
	NextRescan    *time.Time `json:"next_rescan,omitempty"`
	Rescanning    bool       `json:"rescanning"`
	Connected     *bool      `json:"gateway_connected,omitempty"`
}

// StoreStatus fills the parts of Status the store knows.
func StoreStatus(ctx context.Context, store retention.Store) (Status, error) {
	var st Status

	pending, err := store.PendingCount(ctx)
	if err != nil {
		return st, fmt.Errorf("failed to count pending messages: %w", err)
	}
	st.Pending = pending

	next, ok, err := store.NextDeadline(ctx)
	if err != nil {
		return st, fmt.Errorf("failed to read next deadline: %w", err)
	}
	if ok {
		st.NextDeadline = &next
	}

	policies, err := store.ListPolicies(ctx)
	if err != nil {
		return st, fmt.Errorf("failed to list channels: %w", err)
	}
	st.Channels = len(policies)
	for _, p := range policies {
		if p.IsStale() {
			st.StaleChannels++
		}
	}
	return st, nil
}
