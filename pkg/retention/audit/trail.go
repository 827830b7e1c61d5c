package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/sweeper/pkg/config"
	"mercator-hq/sweeper/pkg/retention"
	"mercator-hq/sweeper/pkg/telemetry/logging"
	"mercator-hq/sweeper/pkg/telemetry/metrics"
)

// Writer persists audit entries. retention.Store satisfies it.
type Writer interface {
	AppendAudit(ctx context.Context, entry *retention.AuditEntry) error
}

// Config contains configuration for the audit trail.
type Config struct {
	// BufferSize is the size of the async write channel buffer.
	// Default: 1000
	BufferSize int

	// WriteTimeout is the timeout for writing one entry to storage.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultConfig returns the default trail configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:   config.DefaultAuditBufferSize,
		WriteTimeout: config.DefaultAuditWriteTimeout,
	}
}

// ConfigFromSettings converts the audit config section.
func ConfigFromSettings(cfg config.AuditConfig) Config {
	c := DefaultConfig()
	if cfg.BufferSize > 0 {
		c.BufferSize = cfg.BufferSize
	}
	if cfg.WriteTimeout > 0 {
		c.WriteTimeout = cfg.WriteTimeout
	}
	return c
}

// Trail records scheduler decisions asynchronously.
// It implements retention.Auditor; recording never blocks and never fails
// the caller.
type Trail struct {
	writer  Writer
	config  Config
	clock   retention.Clock
	metrics *metrics.Collector
	logger  *slog.Logger

	entries chan *retention.AuditEntry
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// Option configures a Trail.
type Option func(*Trail)

// WithClock stamps entries from c instead of the system clock.
func WithClock(c retention.Clock) Option {
	return func(t *Trail) { t.clock = c }
}

// WithMetrics counts dropped entries on the collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(t *Trail) { t.metrics = c }
}

// WithLogger overrides the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Trail) { t.logger = l }
}

// New creates a trail writing through w and starts its worker.
func New(w Writer, cfg Config, opts ...Option) *Trail {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = config.DefaultAuditBufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = config.DefaultAuditWriteTimeout
	}

	t := &Trail{
		writer:  w,
		config:  cfg,
		clock:   retention.SystemClock{},
		logger:  slog.Default().With("component", "retention.audit"),
		entries: make(chan *retention.AuditEntry, cfg.BufferSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.wg.Add(1)
	go t.worker()

	t.logger.Debug("audit trail initialized",
		"buffer_size", cfg.BufferSize,
		"write_timeout", cfg.WriteTimeout,
	)
	return t
}

// Record enqueues an event. The cycle ID is taken from ctx when present.
// A full buffer drops the event.
func (t *Trail) Record(ctx context.Context, event string) {
	entry := retention.NewAuditEntry(event, logging.GetCycleID(ctx), t.clock.Now())
	t.logger.InfoContext(ctx, "audit", "event", event)

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.logger.Debug("audit trail closed, dropping entry", "event", event)
		return
	}

	select {
	case t.entries <- entry:
	default:
		t.dropped.Add(1)
		t.metrics.RecordAuditDropped()
		t.logger.WarnContext(ctx, "audit buffer full, dropping entry",
			"event", event,
			"buffer_size", t.config.BufferSize,
		)
	}
}

// Recordf formats and records an event.
func (t *Trail) Recordf(ctx context.Context, format string, args ...any) {
	t.Record(ctx, fmt.Sprintf(format, args...))
}

// Dropped returns the number of entries lost to a full buffer.
func (t *Trail) Dropped() int64 {
	return t.dropped.Load()
}

// Close stops accepting entries, writes everything still buffered, and
// waits for the worker to exit. It is safe to call more than once.
func (t *Trail) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	t.wg.Wait()
	t.logger.Debug("audit trail closed", "dropped", t.dropped.Load())
	return nil
}

func (t *Trail) worker() {
	defer t.wg.Done()

	for {
		select {
		case entry := <-t.entries:
			t.write(entry)

		case <-t.done:
			for {
				select {
				case entry := <-t.entries:
					t.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (t *Trail) write(entry *retention.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), t.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	if err := t.writer.AppendAudit(ctx, entry); err != nil {
		t.logger.Error("failed to store audit entry",
			"event", entry.Event,
			"cycle_id", entry.CycleID,
			"error", err,
		)
		return
	}

	if d := time.Since(start); d > t.config.WriteTimeout/2 {
		t.logger.Warn("slow audit write",
			"duration_ms", d.Milliseconds(),
			"threshold_ms", (t.config.WriteTimeout / 2).Milliseconds(),
		)
	}
}
