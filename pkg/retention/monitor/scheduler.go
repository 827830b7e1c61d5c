package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/sweeper/pkg/retention/backfill"
)

// Rescanner is the part of the backfill scanner the scheduler drives.
type Rescanner interface {
	ScanAll(ctx context.Context, opts backfill.Options) (backfill.Report, error)
	PruneStale(ctx context.Context) (int, error)
}

// Scheduler runs periodic rescans and stale-policy pruning on a cron
// schedule. Rescans never overlap; a rescan requested while one is running
// is skipped.
type Scheduler struct {
	scanner  Rescanner
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
	stopped  bool
	busy     atomic.Bool
	wg       sync.WaitGroup
	ctx      context.Context
}

// NewScheduler creates a rescan scheduler. An empty schedule disables
// periodic rescans; TriggerRescan still works.
func NewScheduler(scanner Rescanner, schedule string) *Scheduler {
	return &Scheduler{
		scanner:  scanner,
		schedule: schedule,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "retention.scheduler"),
		ctx:      context.Background(),
	}
}

// Start begins scheduled rescans based on the cron expression.
//
// Common expressions:
//   - "@every 6h"      - Every six hours from start
//   - "0 */6 * * *"    - Every six hours on the hour
//   - "30 4 * * *"     - Daily at 04:30
//
// The scheduler stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx = ctx
	if s.schedule == "" {
		s.logger.Info("rescan schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		s.runRescan(ctx, backfill.ReasonScheduled)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule rescan: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("rescan scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// TriggerRescan starts a rescan in the background and returns immediately.
// It reports whether a rescan was started.
func (s *Scheduler) TriggerRescan(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := s.ctx
	if s.stopped || ctx.Err() != nil {
		return false
	}
	if s.busy.Load() {
		s.logger.Debug("rescan already running, trigger ignored", "reason", reason)
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runRescan(ctx, reason)
	}()
	return true
}

// runRescan scans every channel, then prunes stale policies.
func (s *Scheduler) runRescan(ctx context.Context, reason string) {
	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Debug("rescan already running, skipping", "reason", reason)
		return
	}
	defer s.busy.Store(false)

	s.logger.Info("starting rescan", "reason", reason)
	report, err := s.scanner.ScanAll(ctx, backfill.Options{Reason: reason})
	if err != nil {
		s.logger.Error("rescan failed", "reason", reason, "error", err)
		return
	}

	removed, err := s.scanner.PruneStale(ctx)
	if err != nil {
		s.logger.Error("stale pruning failed", "error", err)
	}

	s.logger.Info("rescan completed",
		"reason", reason,
		"scanned", report.Scanned,
		"stale", report.Stale,
		"pruned", removed,
	)
}

// Stop stops the scheduler and waits for any running rescan to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.cron != nil && s.running {
		ctx := s.cron.Stop()
		<-ctx.Done() // Wait for running jobs to finish
		s.running = false
		s.logger.Info("rescan scheduler stopped")
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// Rescanning reports whether a rescan is in progress.
func (s *Scheduler) Rescanning() bool {
	return s.busy.Load()
}

// NextRun returns the next scheduled rescan time, or nil when none is
// scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil || !s.running {
		return nil
	}

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}

	next := entries[0].Next
	return &next
}
