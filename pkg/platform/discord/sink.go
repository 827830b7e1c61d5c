package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"

	"mercator-hq/sweeper/pkg/config"
	"mercator-hq/sweeper/pkg/retention"
)

const (
	opFetchChannel  = "fetch_channel"
	opFetchMessages = "fetch_messages"
	opDelete        = "delete"
	opBulkDelete    = "bulk_delete"
)

// AuditLogReason is attached to every deletion so moderators can tell
// retention deletes apart in the guild audit log.
const AuditLogReason = "Time-based autodelete"

// pageSize is the largest history page the API returns.
const pageSize = 100

// Bulk delete limits enforced by the API.
const (
	bulkMinSize = 2
	bulkMaxSize = 100
)

// restAPI is the subset of *discordgo.Session the sink calls.
type restAPI interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessagesBulkDelete(channelID string, messages []string, options ...discordgo.RequestOption) error
}

// SinkConfig contains configuration for the REST sink.
type SinkConfig struct {
	// PageLimit caps the history pages fetched by one FetchRecentMessages call.
	PageLimit int

	// RequestTimeout bounds each REST call. Zero leaves the caller's deadline.
	RequestTimeout time.Duration
}

// SinkConfigFromSettings builds a sink config from the Discord settings.
func SinkConfigFromSettings(cfg *config.DiscordConfig) SinkConfig {
	return SinkConfig{
		PageLimit:      cfg.HistoryPageLimit,
		RequestTimeout: cfg.RequestTimeout,
	}
}

// Sink implements retention.Sink over the Discord REST API.
type Sink struct {
	api    restAPI
	cfg    SinkConfig
	logger *slog.Logger
}

var _ retention.Sink = (*Sink)(nil)

// NewSink creates a sink over session.
func NewSink(session *discordgo.Session, cfg SinkConfig) *Sink {
	return newSink(session, cfg)
}

func newSink(api restAPI, cfg SinkConfig) *Sink {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = config.DefaultHistoryPageLimit
	}
	return &Sink{
		api:    api,
		cfg:    cfg,
		logger: slog.Default().With("component", "discord.sink"),
	}
}

func (s *Sink) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.RequestTimeout)
}

// FetchChannel resolves a channel.
func (s *Sink) FetchChannel(ctx context.Context, channelID string) (*retention.Channel, error) {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	ch, err := s.api.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(opFetchChannel, channelID, err)
	}
	return &retention.Channel{ID: ch.ID, Name: ch.Name, GuildID: ch.GuildID}, nil
}

// FetchRecentMessages pages forward through the history after afterID and
// returns the messages oldest first. At most PageLimit pages are read; the
// caller resumes from the newest ID returned.
func (s *Sink) FetchRecentMessages(ctx context.Context, channelID, afterID string) ([]retention.Message, error) {
	if afterID == "" {
		afterID = "0"
	}

	var out []retention.Message
	for page := 0; page < s.cfg.PageLimit; page++ {
		msgs, err := s.fetchPage(ctx, channelID, afterID)
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			break
		}

		sort.Slice(msgs, func(i, j int) bool {
			return CompareSnowflakes(msgs[i].ID, msgs[j].ID) < 0
		})
		for _, m := range msgs {
			out = append(out, toMessage(channelID, m))
		}
		afterID = msgs[len(msgs)-1].ID

		if len(msgs) < pageSize {
			break
		}
		if page == s.cfg.PageLimit-1 {
			s.logger.InfoContext(ctx, "history page limit reached, resuming on next scan",
				"channel_id", channelID,
				"pages", s.cfg.PageLimit,
			)
		}
	}
	return out, nil
}

func (s *Sink) fetchPage(ctx context.Context, channelID, afterID string) ([]*discordgo.Message, error) {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	msgs, err := s.api.ChannelMessages(channelID, pageSize, "", afterID, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(opFetchMessages, channelID, err)
	}
	return msgs, nil
}

func toMessage(channelID string, m *discordgo.Message) retention.Message {
	createdAt := m.Timestamp
	if createdAt.IsZero() {
		if t, err := SnowflakeTime(m.ID); err == nil {
			createdAt = t
		}
	}
	if m.ChannelID != "" {
		channelID = m.ChannelID
	}
	return retention.Message{
		ID:        m.ID,
		ChannelID: channelID,
		CreatedAt: createdAt.UTC(),
		Automated: isAutomated(m),
	}
}

// isAutomated reports messages authored by a bot or a webhook.
func isAutomated(m *discordgo.Message) bool {
	return m.WebhookID != "" || (m.Author != nil && m.Author.Bot)
}

// DeleteMessage deletes one message.
func (s *Sink) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	err := s.api.ChannelMessageDelete(channelID, messageID, deleteOptions(ctx)...)
	return mapError(opDelete, channelID, err)
}

func deleteOptions(ctx context.Context) []discordgo.RequestOption {
	return []discordgo.RequestOption{
		discordgo.WithContext(ctx),
		discordgo.WithAuditLogReason(AuditLogReason),
	}
}

// BulkDelete deletes 2 to 100 messages younger than 14 days in one call.
func (s *Sink) BulkDelete(ctx context.Context, channelID string, messageIDs []string) error {
	switch {
	case len(messageIDs) < bulkMinSize:
		return retention.NewSinkError(opBulkDelete, channelID,
			fmt.Errorf("%w: %d messages", retention.ErrBulkTooFew, len(messageIDs)))
	case len(messageIDs) > bulkMaxSize:
		return retention.NewSinkError(opBulkDelete, channelID,
			fmt.Errorf("%w: %d messages", retention.ErrBulkTooMany, len(messageIDs)))
	}

	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	err := s.api.ChannelMessagesBulkDelete(channelID, messageIDs, deleteOptions(ctx)...)
	return mapError(opBulkDelete, channelID, err)
}
