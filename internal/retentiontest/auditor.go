package retentiontest

import (
	"context"
	"strings"
	"sync"
)

// RecordingAuditor is a retention.Auditor that keeps events in memory.
type RecordingAuditor struct {
	mu     sync.Mutex
	events []string
}

// Record implements retention.Auditor.
func (a *RecordingAuditor) Record(_ context.Context, event string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

// Events returns the recorded events in order.
func (a *RecordingAuditor) Events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

// Contains reports whether any event contains substr.
func (a *RecordingAuditor) Contains(substr string) bool {
	for _, e := range a.Events() {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}
