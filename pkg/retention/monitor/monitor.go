package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mercator-hq/sweeper/pkg/config"
	"mercator-hq/sweeper/pkg/retention"
	"mercator-hq/sweeper/pkg/retention/backfill"
	"mercator-hq/sweeper/pkg/retention/planner"
	"mercator-hq/sweeper/pkg/telemetry/logging"
	"mercator-hq/sweeper/pkg/telemetry/metrics"
	"mercator-hq/sweeper/pkg/telemetry/tracing"
)

// State is the monitor's lifecycle phase.
type State int32

const (
	StateIdle State = iota
	StateRecovering
	StateBackfilling
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecovering:
		return "recovering"
	case StateBackfilling:
		return "backfilling"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config contains configuration for the monitor's sleep policy.
type Config struct {
	IdleWait      time.Duration
	MaxWait       time.Duration
	MinWait       time.Duration
	RetryInterval time.Duration
	Constraints   planner.Constraints
}

// ConfigFromSettings builds a monitor config from the loaded configuration.
func ConfigFromSettings(cfg *config.Config) Config {
	return Config{
		IdleWait:      cfg.Monitor.IdleWait,
		MaxWait:       cfg.Monitor.MaxWait,
		MinWait:       cfg.Monitor.MinWait,
		RetryInterval: cfg.Monitor.RetryInterval,
		Constraints:   planner.ConstraintsFromConfig(cfg.Retention.Bulk),
	}
}

func (c *Config) applyDefaults() {
	if c.IdleWait <= 0 {
		c.IdleWait = config.DefaultMonitorIdleWait
	}
	if c.MaxWait <= 0 {
		c.MaxWait = config.DefaultMonitorMaxWait
	}
	if c.MinWait <= 0 {
		c.MinWait = config.DefaultMonitorMinWait
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = config.DefaultMonitorRetryInterval
	}
	if c.Constraints == (planner.Constraints{}) {
		c.Constraints = planner.DiscordConstraints()
	}
}

// Backfiller runs the startup reconciliation scan.
type Backfiller interface {
	ScanAll(ctx context.Context, opts backfill.Options) (backfill.Report, error)
}

// Deps are the monitor's collaborators. Store and Executor are required.
type Deps struct {
	Store    retention.Store
	Executor *planner.Executor
	Backfill Backfiller
	Clock    retention.Clock
	Auditor  retention.Auditor
	Metrics  *metrics.Collector
	Tracer   *tracing.Tracer
	Logger   *slog.Logger
}

// CycleReport summarizes one pass over expired messages.
type CycleReport struct {
	CycleID  string
	Taken    int
	Channels int
	Deleted  int
	Failed   int
	Duration time.Duration

	// Parked counts marked rows of stale channels, held until a scan finds
	// the channel reachable again or prunes it.
	Parked int

	// Leftover is set when marked rows remain for a retry.
	Leftover bool

	// Err is the store failure that aborted or degraded the cycle.
	Err error
}

func (r CycleReport) result() string {
	switch {
	case r.Err != nil && r.Taken == 0:
		return "error"
	case r.Taken == 0:
		return "idle"
	case r.Leftover:
		return "partial"
	default:
		return "ok"
	}
}

// Monitor deletes messages once their deadline passes.
//
// Run recovers rows left marked by a previous process, runs the startup
// backfill, and then polls: each cycle takes every expired row, deletes it
// through the executor, and clears confirmed rows. Between cycles the
// monitor sleeps until the next deadline, bounded by the configured waits.
// Only one cycle runs at a time.
type Monitor struct {
	config   Config
	store    retention.Store
	exec     *planner.Executor
	backfill Backfiller
	clock    retention.Clock
	audit    retention.Auditor
	metrics  *metrics.Collector
	tracer   *tracing.Tracer
	logger   *slog.Logger

	state     atomic.Int32
	lastCycle atomic.Int64
	wake      chan struct{}
	done      chan struct{}
	started   atomic.Bool

	cycleMu sync.Mutex
}

// New creates a monitor in StateIdle.
func New(cfg Config, deps Deps) *Monitor {
	cfg.applyDefaults()
	m := &Monitor{
		config:   cfg,
		store:    deps.Store,
		exec:     deps.Executor,
		backfill: deps.Backfill,
		clock:    deps.Clock,
		audit:    deps.Auditor,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		logger:   deps.Logger,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if m.clock == nil {
		m.clock = retention.SystemClock{}
	}
	if m.audit == nil {
		m.audit = retention.NopAuditor{}
	}
	if m.logger == nil {
		m.logger = slog.Default().With("component", "retention.monitor")
	}
	return m
}

// State returns the current lifecycle phase.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

func (m *Monitor) setState(s State) {
	prev := State(m.state.Swap(int32(s)))
	if prev != s {
		m.logger.Info("monitor state changed", "from", prev.String(), "to", s.String())
	}
}

// LastCycle returns when the last cycle finished, or the zero time.
func (m *Monitor) LastCycle() time.Time {
	ns := m.lastCycle.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Done is closed when Run returns.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Notify wakes the monitor so it recomputes its sleep. It never blocks.
func (m *Monitor) Notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run drives the monitor until ctx is cancelled. It may be called once.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return fmt.Errorf("monitor already started")
	}
	defer close(m.done)
	defer m.setState(StateStopped)

	m.setState(StateRecovering)
	m.Recover(ctx)

	if m.backfill != nil && ctx.Err() == nil {
		m.setState(StateBackfilling)
		if _, err := m.backfill.ScanAll(ctx, backfill.Options{Reason: backfill.ReasonStartup}); err != nil {
			m.logger.Error("startup backfill failed", "error", err)
		}
	}

	m.setState(StatePolling)
	for {
		if ctx.Err() != nil {
			return nil
		}
		report := m.RunCycle(ctx)
		wait := m.nextWait(ctx, report)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-m.wake:
			timer.Stop()
			// Let a burst of registrations settle before recomputing.
			m.sleep(ctx, m.config.MinWait)
		case <-timer.C:
		}
	}
}

func (m *Monitor) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// nextWait computes the sleep before the next cycle.
func (m *Monitor) nextWait(ctx context.Context, report CycleReport) time.Duration {
	wait := m.config.MaxWait
	if report.Leftover || report.Err != nil {
		wait = min(wait, m.config.RetryInterval)
	}

	next, ok, err := m.store.NextDeadline(ctx)
	switch {
	case err != nil:
		m.logger.Warn("failed to read next deadline", "error", err)
		wait = min(wait, m.config.RetryInterval)
	case ok:
		wait = min(wait, next.Sub(m.clock.Now()))
	default:
		wait = min(wait, m.config.IdleWait)
	}
	return max(wait, m.config.MinWait)
}

// RunCycle takes every expired row and deletes it.
func (m *Monitor) RunCycle(ctx context.Context) CycleReport {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	now := m.clock.Now()
	return m.process(ctx, "expiry", now, func(ctx context.Context) ([]*retention.PendingMessage, error) {
		return m.store.TakeExpired(ctx, now)
	})
}

// Recover retries rows a previous process marked but never confirmed,
// without marking new ones.
func (m *Monitor) Recover(ctx context.Context) CycleReport {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	return m.process(ctx, "recovery", m.clock.Now(), m.store.Marked)
}

func (m *Monitor) process(ctx context.Context, kind string, now time.Time, fetch func(context.Context) ([]*retention.PendingMessage, error)) (report CycleReport) {
	report.CycleID = uuid.NewString()
	ctx = logging.WithCycleID(ctx, report.CycleID)
	ctx, span := m.tracer.Start(ctx, "monitor.cycle")
	start := time.Now()
	defer func() {
		report.Duration = time.Since(start)
		report.Leftover = report.Leftover || report.Failed > 0 || report.Err != nil
		m.lastCycle.Store(m.clock.Now().UnixNano())
		m.metrics.RecordCycle(report.result(), report.Duration)
		tracing.SetCycleAttributes(span, report.CycleID, report.Taken, report.Deleted, report.Failed)
		tracing.End(span, report.Err)
	}()

	rows, err := fetch(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to load expired messages", "kind", kind, "error", err)
		report.Err = err
		return report
	}
	report.Taken = len(rows)
	if len(rows) == 0 {
		m.updatePending(ctx)
		return report
	}

	groups := retention.GroupByChannel(rows)
	stale := m.staleChannels(ctx)
	channels := make([]string, 0, len(groups))
	for ch, group := range groups {
		if stale[ch] {
			report.Parked += len(group)
			continue
		}
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	report.Channels = len(channels)

	for _, ch := range channels {
		if ctx.Err() != nil {
			report.Leftover = true
			break
		}
		m.processChannel(ctx, ch, groups[ch], now, &report)
	}

	m.updatePending(ctx)
	m.logger.InfoContext(ctx, "cycle finished",
		"kind", kind,
		"taken", report.Taken,
		"channels", report.Channels,
		"deleted", report.Deleted,
		"failed", report.Failed,
		"parked", report.Parked,
	)
	if report.Channels == 0 {
		// Only stale channels held rows; nothing was attempted.
		return report
	}
	m.audit.Record(ctx, fmt.Sprintf("%s cycle: %d messages in %d channels, %d deleted, %d left for retry",
		kind, report.Taken-report.Parked, report.Channels, report.Deleted, report.Taken-report.Parked-report.Deleted))
	return report
}

// staleChannels returns the channels whose policy is flagged stale. A
// failed lookup returns nil so every group is attempted.
func (m *Monitor) staleChannels(ctx context.Context) map[string]bool {
	policies, err := m.store.ListPolicies(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "failed to list policies, stale channels not skipped", "error", err)
		return nil
	}
	var stale map[string]bool
	for _, p := range policies {
		if p.IsStale() {
			if stale == nil {
				stale = make(map[string]bool)
			}
			stale[p.ChannelID] = true
		}
	}
	return stale
}

func (m *Monitor) processChannel(ctx context.Context, channelID string, rows []*retention.PendingMessage, now time.Time, report *CycleReport) {
	ctx = logging.WithChannelID(ctx, channelID)
	plan := planner.Build(channelID, rows, now, m.config.Constraints)
	res := m.exec.Execute(ctx, plan)

	// Confirmed clears must survive shutdown.
	detached := context.WithoutCancel(ctx)
	if len(res.Confirmed) > 0 {
		if _, err := m.store.ClearMarked(detached, channelID, res.Confirmed); err != nil {
			m.logger.ErrorContext(ctx, "failed to clear deleted messages",
				"channel_id", channelID,
				"messages", len(res.Confirmed),
				"error", err,
			)
			if report.Err == nil {
				report.Err = err
			}
		}
	}
	report.Deleted += len(res.Confirmed)
	report.Failed += len(res.Failed) + len(res.Remaining)

	if res.ChannelGone {
		if err := m.store.MarkPolicyStale(detached, channelID, now); err != nil {
			m.logger.WarnContext(ctx, "failed to mark policy stale", "channel_id", channelID, "error", err)
		}
		m.audit.Record(ctx, fmt.Sprintf("channel %s unreachable, %d messages left pending, marked stale",
			channelID, len(res.Remaining)))
	}

	event := fmt.Sprintf("channel %s: deleted %d of %d expired messages (%d bulk, %d single calls)",
		channelID, len(res.Confirmed), len(rows), plan.BulkCount(), plan.SingleCount())
	if err := res.Err(); err != nil {
		event += fmt.Sprintf(", %v", err)
	}
	m.audit.Record(ctx, event)
}

func (m *Monitor) updatePending(ctx context.Context) {
	n, err := m.store.PendingCount(ctx)
	if err != nil {
		return
	}
	m.metrics.SetPending(int(n))
}
