package main

import (
	"context"
	"testing"
	"time"
)

func TestAwaitDone(t *testing.T) {
	closed := make(chan struct{})
	close(closed)

	tests := []struct {
		name    string
		done    chan struct{}
		timeout time.Duration
		want    bool
	}{
		{name: "stopped in time", done: closed, timeout: time.Second, want: true},
		{name: "stopped with expired deadline", done: closed, timeout: 0, want: true},
		{name: "still running", done: make(chan struct{}), timeout: 10 * time.Millisecond, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), tt.timeout)
			defer cancel()
			if got := awaitDone(ctx, tt.done); got != tt.want {
				t.Errorf("awaitDone() = %v, want %v", got, tt.want)
			}
		})
	}
}
