package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"mercator-hq/sweeper/pkg/retention"
	"mercator-hq/sweeper/pkg/telemetry/logging"
	"mercator-hq/sweeper/pkg/telemetry/metrics"
)

// Notifier is woken when a new deadline is registered.
type Notifier interface {
	Notify()
}

// EnableRequest places a channel under retention.
type EnableRequest struct {
	ChannelID   string
	ChannelName string
	Retention   time.Duration

	// Label is the display form of Retention. Empty derives one.
	Label string

	// WatermarkID and WatermarkAt identify the confirmation message. Nothing
	// created at or before it is ever deleted.
	WatermarkID string
	WatermarkAt time.Time
}

// MessageEvent describes a message the platform reported as created.
type MessageEvent struct {
	ChannelID string
	MessageID string
	CreatedAt time.Time
	Automated bool
}

// ChannelSummary is one row of ListChannels.
type ChannelSummary struct {
	ChannelID      string     `json:"channel_id"`
	ChannelName    string     `json:"channel_name"`
	RetentionLabel string     `json:"retention_label"`
	Retention      string     `json:"retention"`
	Stale          bool       `json:"stale"`
	StaleSince     *time.Time `json:"stale_since,omitempty"`
}

// Config contains configuration for the service.
type Config struct {
	// MaxRetention bounds EnableRequest.Retention.
	MaxRetention time.Duration
}

// Deps are the service's collaborators. Store is required.
type Deps struct {
	Store    retention.Store
	Notifier Notifier
	Filter   *retention.AuthorFilter
	Clock    retention.Clock
	Auditor  retention.Auditor
	Metrics  *metrics.Collector
	Logger   *slog.Logger
}

// Service implements channel management on top of the store.
type Service struct {
	cfg      Config
	store    retention.Store
	notifier Notifier
	filter   *retention.AuthorFilter
	clock    retention.Clock
	auditor  retention.Auditor
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// New creates a service.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if deps.Clock == nil {
		deps.Clock = retention.SystemClock{}
	}
	if deps.Auditor == nil {
		deps.Auditor = retention.NopAuditor{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		notifier: deps.Notifier,
		filter:   deps.Filter,
		clock:    deps.Clock,
		auditor:  deps.Auditor,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With("component", "retention.service"),
	}, nil
}

// SetNotifier sets the monitor woken by new registrations. The monitor is
// usually built after the service.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// EnableChannel validates req and stores the channel's policy. Enabling an
// already enabled channel replaces its retention and watermark and keeps
// the deadlines of messages already pending.
func (s *Service) EnableChannel(ctx context.Context, req EnableRequest) (*retention.ChannelPolicy, error) {
	if req.ChannelID == "" {
		return nil, fmt.Errorf("channel ID is required")
	}
	if err := retention.ValidateRetention(req.Retention, s.cfg.MaxRetention); err != nil {
		return nil, err
	}

	label := req.Label
	if label == "" {
		label = retention.FormatRetention(req.Retention)
	}
	now := s.clock.Now()
	watermarkAt := req.WatermarkAt
	if watermarkAt.IsZero() {
		watermarkAt = now
	}

	stored, err := s.store.UpsertPolicy(ctx, &retention.ChannelPolicy{
		ChannelID:      req.ChannelID,
		ChannelName:    req.ChannelName,
		Retention:      req.Retention,
		RetentionLabel: label,
		WatermarkID:    req.WatermarkID,
		WatermarkAt:    watermarkAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enable channel %s: %w", req.ChannelID, err)
	}

	s.logger.InfoContext(ctx, "retention enabled",
		"channel_id", req.ChannelID,
		"channel_name", req.ChannelName,
		"retention", req.Retention,
	)
	s.auditor.Record(ctx, fmt.Sprintf("retention enabled in channel %s (%s) with duration %s",
		req.ChannelID, displayName(req.ChannelName), label))
	s.refreshChannels(ctx)
	return stored, nil
}

// DisableChannel removes a channel's policy and every pending row with it.
func (s *Service) DisableChannel(ctx context.Context, channelID string) error {
	if err := s.store.RemovePolicy(ctx, channelID); err != nil {
		return fmt.Errorf("failed to disable channel %s: %w", channelID, err)
	}

	s.logger.InfoContext(ctx, "retention disabled", "channel_id", channelID)
	s.auditor.Record(ctx, fmt.Sprintf("retention disabled in channel %s", channelID))
	s.refreshChannels(ctx)
	return nil
}

// ListChannels returns every channel under retention, ordered by name.
func (s *Service) ListChannels(ctx context.Context) ([]ChannelSummary, error) {
	policies, err := s.store.ListPolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}

	out := make([]ChannelSummary, 0, len(policies))
	for _, p := range policies {
		out = append(out, ChannelSummary{
			ChannelID:      p.ChannelID,
			ChannelName:    p.ChannelName,
			RetentionLabel: p.RetentionLabel,
			Retention:      retention.FormatRetention(p.Retention),
			Stale:          p.IsStale(),
			StaleSince:     p.StaleSince,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChannelName != out[j].ChannelName {
			return out[i].ChannelName < out[j].ChannelName
		}
		return out[i].ChannelID < out[j].ChannelID
	})
	return out, nil
}

// OnMessageCreated registers a new message for deletion. Messages in
// channels without retention, messages at or before the watermark and
// exempt automated messages are ignored. Only store failures are returned.
func (s *Service) OnMessageCreated(ctx context.Context, ev MessageEvent) error {
	ctx = logging.WithChannelID(ctx, ev.ChannelID)
	if s.filter.Skip(ev.Automated) {
		s.logger.DebugContext(ctx, "automated message exempt", "message_id", ev.MessageID)
		return nil
	}

	row, err := s.store.RegisterPendingMessage(ctx, ev.ChannelID, ev.MessageID, ev.CreatedAt)
	switch {
	case retention.IsIgnorable(err):
		s.logger.DebugContext(ctx, "message ignored", "message_id", ev.MessageID, "reason", err)
		return nil
	case err != nil:
		return fmt.Errorf("failed to register message %s: %w", ev.MessageID, err)
	}

	s.metrics.RecordRegistered("live")
	s.logger.DebugContext(ctx, "message registered",
		"message_id", ev.MessageID,
		"delete_at", row.DeleteAt,
	)
	if s.notifier != nil {
		s.notifier.Notify()
	}
	return nil
}

// Policy returns one channel's policy.
func (s *Service) Policy(ctx context.Context, channelID string) (*retention.ChannelPolicy, error) {
	p, err := s.store.GetPolicy(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to load channel %s: %w", channelID, err)
	}
	return p, nil
}

func (s *Service) refreshChannels(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	policies, err := s.store.ListPolicies(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to refresh channel gauge", "error", err)
		return
	}
	s.metrics.SetChannels(len(policies))
}

func displayName(name string) string {
	if name == "" {
		return "unnamed"
	}
	return "#" + name
}
