package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/ratelimit"
	"golang.org/x/sync/errgroup"

	"mercator-hq/sweeper/pkg/config"
	"mercator-hq/sweeper/pkg/retention"
	"mercator-hq/sweeper/pkg/retention/planner"
	"mercator-hq/sweeper/pkg/telemetry/logging"
	"mercator-hq/sweeper/pkg/telemetry/metrics"
	"mercator-hq/sweeper/pkg/telemetry/tracing"
)

// Scan reasons, used in logs, audit entries and span attributes.
const (
	ReasonStartup   = "startup"
	ReasonReconnect = "reconnect"
	ReasonScheduled = "scheduled"
	ReasonManual    = "manual"
)

// Config contains configuration for the scanner.
type Config struct {
	// Concurrency is the number of channels scanned at once.
	Concurrency int

	// RatePerSecond bounds sink fetches across all channels. Zero is unlimited.
	RatePerSecond int

	// StaleGracePeriod is how long a channel may stay unreachable before
	// PruneStale removes its policy.
	StaleGracePeriod time.Duration

	// Constraints plan fast-path deletions.
	Constraints planner.Constraints
}

// ConfigFromSettings builds a scanner config from the loaded configuration.
func ConfigFromSettings(cfg *config.Config) Config {
	return Config{
		Concurrency:      cfg.Backfill.Concurrency,
		RatePerSecond:    cfg.Backfill.RatePerSecond,
		StaleGracePeriod: cfg.Backfill.StaleGracePeriod,
		Constraints:      planner.ConstraintsFromConfig(cfg.Retention.Bulk),
	}
}

// Deps are the scanner's collaborators. Store, Sink and Executor are required.
type Deps struct {
	Store    retention.Store
	Sink     retention.Sink
	Executor *planner.Executor
	Filter   *retention.AuthorFilter
	Clock    retention.Clock
	Auditor  retention.Auditor
	Metrics  *metrics.Collector
	Tracer   *tracing.Tracer
	Logger   *slog.Logger
}

// Options select how a scan runs.
type Options struct {
	Reason string

	// Full ignores scan cursors and rescans every channel from its watermark.
	Full bool

	// Progress, if set, is called after each channel with the number of
	// channels finished and the total. Calls are serialized.
	Progress func(done, total int)
}

// ChannelReport describes the scan of one channel.
type ChannelReport struct {
	ChannelID   string
	Fetched     int
	Registered  int
	FastDeleted int
	Stale       bool
}

// Report summarizes a ScanAll pass.
type Report struct {
	ScanID      string
	Channels    int
	Scanned     int
	Skipped     int
	Failed      int
	Stale       int
	Registered  int
	FastDeleted int
	Duration    time.Duration
}

// Scanner reconciles the store with channel history.
type Scanner struct {
	config  Config
	store   retention.Store
	sink    retention.Sink
	exec    *planner.Executor
	filter  *retention.AuthorFilter
	clock   retention.Clock
	audit   retention.Auditor
	metrics *metrics.Collector
	tracer  *tracing.Tracer
	logger  *slog.Logger
	limiter ratelimit.Limiter

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates a scanner.
func New(cfg Config, deps Deps) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = config.DefaultBackfillConcurrency
	}
	if cfg.StaleGracePeriod <= 0 {
		cfg.StaleGracePeriod = config.DefaultBackfillStaleGracePeriod
	}
	if cfg.Constraints == (planner.Constraints{}) {
		cfg.Constraints = planner.DiscordConstraints()
	}

	s := &Scanner{
		config:  cfg,
		store:   deps.Store,
		sink:    deps.Sink,
		exec:    deps.Executor,
		filter:  deps.Filter,
		clock:   deps.Clock,
		audit:   deps.Auditor,
		metrics: deps.Metrics,
		tracer:  deps.Tracer,
		logger:  deps.Logger,
		active:  make(map[string]struct{}),
	}
	if s.clock == nil {
		s.clock = retention.SystemClock{}
	}
	if s.audit == nil {
		s.audit = retention.NopAuditor{}
	}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "retention.backfill")
	}
	if s.exec == nil {
		s.exec = planner.NewExecutor(deps.Sink, planner.WithAuditor(s.audit), planner.WithMetrics(deps.Metrics))
	}
	if cfg.RatePerSecond > 0 {
		s.limiter = ratelimit.New(cfg.RatePerSecond)
	} else {
		s.limiter = ratelimit.NewUnlimited()
	}
	return s
}

// ScanAll scans every registered channel with bounded parallelism.
// Per-channel failures are counted in the report; only a failure to list
// policies is returned.
func (s *Scanner) ScanAll(ctx context.Context, opts Options) (Report, error) {
	if opts.Reason == "" {
		opts.Reason = ReasonManual
	}
	report := Report{ScanID: uuid.NewString()}
	ctx = logging.WithCycleID(ctx, report.ScanID)
	start := time.Now()

	policies, err := s.store.ListPolicies(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list policies for scan", "reason", opts.Reason, "error", err)
		return report, fmt.Errorf("failed to list policies: %w", err)
	}
	report.Channels = len(policies)
	s.metrics.SetChannels(len(policies))

	var (
		g        errgroup.Group
		mu       sync.Mutex
		finished int
	)
	g.SetLimit(s.config.Concurrency)

	for _, p := range policies {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			cr, err := s.scanPolicy(ctx, p, opts)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, retention.ErrScanInProgress):
				report.Skipped++
			case cr.Stale:
				report.Stale++
			case err != nil:
				report.Failed++
			default:
				report.Scanned++
			}
			report.Registered += cr.Registered
			report.FastDeleted += cr.FastDeleted
			finished++
			if opts.Progress != nil {
				opts.Progress(finished, len(policies))
			}
			return nil
		})
	}
	g.Wait()

	report.Duration = time.Since(start)
	s.logger.InfoContext(ctx, "scan finished",
		"reason", opts.Reason,
		"full", opts.Full,
		"channels", report.Channels,
		"scanned", report.Scanned,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"stale", report.Stale,
		"registered", report.Registered,
		"fast_deleted", report.FastDeleted,
		"duration_ms", report.Duration.Milliseconds(),
	)
	s.audit.Record(ctx, fmt.Sprintf("%s scan finished: %d channels, %d scanned, %d skipped, %d failed, %d stale, %d registered, %d deleted",
		opts.Reason, report.Channels, report.Scanned, report.Skipped, report.Failed, report.Stale, report.Registered, report.FastDeleted))
	return report, nil
}

// ScanChannel scans one registered channel. It returns
// retention.ErrScanInProgress when the channel is already being scanned.
func (s *Scanner) ScanChannel(ctx context.Context, channelID string, opts Options) (ChannelReport, error) {
	if opts.Reason == "" {
		opts.Reason = ReasonManual
	}
	p, err := s.store.GetPolicy(ctx, channelID)
	if err != nil {
		return ChannelReport{ChannelID: channelID}, err
	}
	return s.scanPolicy(ctx, p, opts)
}

func (s *Scanner) scanPolicy(ctx context.Context, p *retention.ChannelPolicy, opts Options) (cr ChannelReport, err error) {
	cr.ChannelID = p.ChannelID
	if !s.acquire(p.ChannelID) {
		s.metrics.RecordScan("skipped", 0)
		s.logger.DebugContext(ctx, "channel scan already running", "channel_id", p.ChannelID)
		return cr, retention.ErrScanInProgress
	}
	defer s.release(p.ChannelID)

	ctx = logging.WithChannelID(ctx, p.ChannelID)
	ctx, span := s.tracer.Start(ctx, "backfill.scan_channel")
	tracing.SetScanAttributes(span, p.ChannelID, opts.Reason, opts.Full)
	start := time.Now()
	defer func() {
		result := "ok"
		switch {
		case cr.Stale:
			result = "stale"
		case err != nil:
			result = "failed"
		}
		s.metrics.RecordScan(result, time.Since(start))
		tracing.End(span, err)
	}()

	s.limiter.Take()
	if _, err := s.sink.FetchChannel(ctx, p.ChannelID); err != nil {
		return cr, s.fetchFailed(ctx, p, &cr, "resolve channel", err)
	}
	if p.IsStale() {
		if err := s.store.ClearPolicyStale(ctx, p.ChannelID); err != nil {
			return cr, err
		}
		s.audit.Record(ctx, fmt.Sprintf("channel %s reachable again, stale flag cleared", p.ChannelID))
	}

	after := p.ScanFrom()
	if opts.Full {
		after = p.WatermarkID
	}

	s.limiter.Take()
	msgs, err := s.sink.FetchRecentMessages(ctx, p.ChannelID, after)
	if err != nil {
		return cr, s.fetchFailed(ctx, p, &cr, "fetch history", err)
	}
	cr.Fetched = len(msgs)
	if len(msgs) == 0 {
		return cr, nil
	}

	now := s.clock.Now()
	var due []*retention.PendingMessage
	newest := ""
	for _, m := range msgs {
		if newest == "" || retention.CompareIDs(m.ID, newest) > 0 {
			newest = m.ID
		}
		if !p.Covers(m.ID, m.CreatedAt) || s.filter.Skip(m.Automated) {
			continue
		}
		// The stored row decides expiry; an existing deadline never moves.
		row, err := s.store.RegisterPendingMessage(ctx, p.ChannelID, m.ID, m.CreatedAt)
		switch {
		case err == nil:
		case errors.Is(err, retention.ErrNotRegistered):
			// Disabled mid-scan.
			s.logger.InfoContext(ctx, "channel disabled during scan", "channel_id", p.ChannelID)
			return cr, nil
		case retention.IsIgnorable(err):
			continue
		default:
			s.logger.ErrorContext(ctx, "failed to register message during scan",
				"channel_id", p.ChannelID,
				"message_id", m.ID,
				"error", err,
			)
			return cr, err
		}

		switch {
		case row.Marked:
			// Already in flight in the expiry monitor.
		case !row.DeleteAt.After(now):
			due = append(due, row)
		default:
			cr.Registered++
			s.metrics.RecordRegistered("backfill")
		}
	}

	if len(due) > 0 {
		res := s.exec.Execute(ctx, planner.Build(p.ChannelID, due, now, s.config.Constraints))
		if len(res.Confirmed) > 0 {
			if _, err := s.store.ClearMarked(context.WithoutCancel(ctx), p.ChannelID, res.Confirmed); err != nil {
				s.logger.ErrorContext(ctx, "failed to clear fast-deleted rows", "channel_id", p.ChannelID, "error", err)
				return cr, err
			}
		}
		cr.FastDeleted = len(res.Confirmed)
		if res.ChannelGone {
			return cr, s.fetchFailed(ctx, p, &cr, "delete expired messages", retention.ErrChannelUnreachable)
		}
		if err := res.Err(); err != nil {
			s.audit.Record(ctx, fmt.Sprintf("scan of channel %s deleted %d of %d expired messages: %v",
				p.ChannelID, len(res.Confirmed), len(due), err))
			return cr, err
		}
	}

	if err := s.store.AdvanceScanCursor(ctx, p.ChannelID, newest); err != nil {
		if errors.Is(err, retention.ErrPolicyNotFound) {
			return cr, nil
		}
		return cr, err
	}

	s.logger.DebugContext(ctx, "channel scanned",
		"channel_id", p.ChannelID,
		"fetched", cr.Fetched,
		"registered", cr.Registered,
		"fast_deleted", cr.FastDeleted,
		"cursor", newest,
	)
	return cr, nil
}

// fetchFailed handles a sink failure during a scan. An unreachable channel
// is marked stale, never removed.
func (s *Scanner) fetchFailed(ctx context.Context, p *retention.ChannelPolicy, cr *ChannelReport, step string, err error) error {
	if !errors.Is(err, retention.ErrChannelUnreachable) {
		s.logger.WarnContext(ctx, "channel scan failed",
			"channel_id", p.ChannelID,
			"step", step,
			"error", err,
		)
		s.audit.Record(ctx, fmt.Sprintf("scan of channel %s failed to %s: %v", p.ChannelID, step, err))
		return err
	}

	cr.Stale = true
	if !p.IsStale() {
		if serr := s.store.MarkPolicyStale(ctx, p.ChannelID, s.clock.Now()); serr != nil && !errors.Is(serr, retention.ErrPolicyNotFound) {
			s.logger.ErrorContext(ctx, "failed to mark policy stale", "channel_id", p.ChannelID, "error", serr)
		}
	}
	s.logger.WarnContext(ctx, "channel unreachable, marked stale", "channel_id", p.ChannelID, "step", step)
	s.audit.Record(ctx, fmt.Sprintf("channel %s unreachable during scan, marked stale", p.ChannelID))
	return err
}

// PruneStale re-probes every stale channel. Reachable channels are
// restored; channels unreachable for longer than the grace period lose their
// policy. It returns the number of policies removed.
func (s *Scanner) PruneStale(ctx context.Context) (int, error) {
	policies, err := s.store.ListPolicies(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list policies: %w", err)
	}

	removed := 0
	now := s.clock.Now()
	for _, p := range policies {
		if !p.IsStale() {
			continue
		}
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}

		s.limiter.Take()
		_, err := s.sink.FetchChannel(ctx, p.ChannelID)
		switch {
		case err == nil:
			if err := s.store.ClearPolicyStale(ctx, p.ChannelID); err != nil {
				return removed, err
			}
			s.audit.Record(ctx, fmt.Sprintf("channel %s reachable again, stale flag cleared", p.ChannelID))

		case errors.Is(err, retention.ErrChannelUnreachable):
			age := now.Sub(*p.StaleSince)
			if age < s.config.StaleGracePeriod {
				continue
			}
			if err := s.store.RemovePolicy(ctx, p.ChannelID); err != nil {
				return removed, err
			}
			removed++
			s.logger.InfoContext(ctx, "stale policy removed",
				"channel_id", p.ChannelID,
				"stale_for", age.Round(time.Minute).String(),
			)
			s.audit.Record(ctx, fmt.Sprintf("policy for channel %s removed after %s unreachable",
				p.ChannelID, age.Round(time.Minute)))

		default:
			s.logger.WarnContext(ctx, "failed to probe stale channel", "channel_id", p.ChannelID, "error", err)
		}
	}
	return removed, nil
}

func (s *Scanner) acquire(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[channelID]; busy {
		return false
	}
	s.active[channelID] = struct{}{}
	return true
}

func (s *Scanner) release(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, channelID)
}
