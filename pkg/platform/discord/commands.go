package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"mercator-hq/sweeper/pkg/retention"
	"mercator-hq/sweeper/pkg/retention/service"
	"mercator-hq/sweeper/pkg/telemetry/logging"
)

// Slash command and option names.
const (
	CommandEnable  = "enable"
	CommandDisable = "disable"
	CommandList    = "list"

	optionChannel  = "channel"
	optionDuration = "duration"
)

// ChannelManager is the channel-management API the commands call.
type ChannelManager interface {
	EnableChannel(ctx context.Context, req service.EnableRequest) (*retention.ChannelPolicy, error)
	DisableChannel(ctx context.Context, channelID string) error
	ListChannels(ctx context.Context) ([]service.ChannelSummary, error)
}

// interactionAPI is the subset of *discordgo.Session the commands call.
type interactionAPI interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponse(interaction *discordgo.Interaction, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

// Commands serves the retention slash commands.
type Commands struct {
	manager      ChannelManager
	maxRetention time.Duration
	logger       *slog.Logger
}

// NewCommands creates the command handler. maxRetention bounds the
// duration accepted by enable.
func NewCommands(manager ChannelManager, maxRetention time.Duration) *Commands {
	return &Commands{
		manager:      manager,
		maxRetention: maxRetention,
		logger:       slog.Default().With("component", "discord.commands"),
	}
}

// Definitions returns the application command specs.
func (c *Commands) Definitions() []*discordgo.ApplicationCommand {
	manageMessages := int64(discordgo.PermissionManageMessages)
	channelOption := func(desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:         discordgo.ApplicationCommandOptionChannel,
			Name:         optionChannel,
			Description:  desc,
			ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
			Required:     true,
		}
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:                     CommandEnable,
			Description:              "Turn on message autodeletion for a channel",
			DefaultMemberPermissions: &manageMessages,
			Options: []*discordgo.ApplicationCommandOption{
				channelOption("Channel to enable autodelete in"),
				{
					Type: discordgo.ApplicationCommandOptionString,
					Name: optionDuration,
					Description: fmt.Sprintf("How long messages should stay in the server (no longer than %s)",
						retention.FormatRetention(c.maxRetention)),
					Required: true,
				},
			},
		},
		{
			Name:                     CommandDisable,
			Description:              "Turn off message autodeletion for a channel",
			DefaultMemberPermissions: &manageMessages,
			Options: []*discordgo.ApplicationCommandOption{
				channelOption("Channel to disable autodelete in"),
			},
		},
		{
			Name:                     CommandList,
			Description:              "List all channels with autodelete enabled and their durations",
			DefaultMemberPermissions: &manageMessages,
		},
	}
}

// SyncCommands overwrites the application's commands with Definitions.
// An empty guildID registers global commands.
func (c *Commands) SyncCommands(ctx context.Context, api interactionAPI, appID, guildID string) ([]*discordgo.ApplicationCommand, error) {
	created, err := api.ApplicationCommandBulkOverwrite(appID, guildID, c.Definitions(), discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to register commands: %w", err)
	}
	c.logger.InfoContext(ctx, "commands registered", "count", len(created), "guild_id", guildID)
	return created, nil
}

// Handle dispatches one interaction. Interactions other than slash
// commands are ignored.
func (c *Commands) Handle(ctx context.Context, api interactionAPI, i *discordgo.Interaction) error {
	if i == nil || i.Type != discordgo.InteractionApplicationCommand {
		return nil
	}

	ctx = logging.WithInteractionID(ctx, i.ID)
	if i.GuildID != "" {
		ctx = logging.WithGuildID(ctx, i.GuildID)
	}

	data := i.ApplicationCommandData()
	switch data.Name {
	case CommandEnable:
		return c.enable(ctx, api, i, data)
	case CommandDisable:
		return c.disable(ctx, api, i, data)
	case CommandList:
		return c.list(ctx, api, i)
	default:
		c.logger.WarnContext(ctx, "unknown command", "command", data.Name)
		return c.respond(ctx, api, i, "Unknown command", true)
	}
}

func (c *Commands) enable(ctx context.Context, api interactionAPI, i *discordgo.Interaction, data discordgo.ApplicationCommandInteractionData) error {
	ch := channelArg(data)
	input := stringArg(data, optionDuration)
	if ch.ID == "" || input == "" {
		return c.respond(ctx, api, i, "Missing channel or duration", true)
	}

	d, err := retention.ParseRetention(input)
	if err != nil {
		return c.respond(ctx, api, i, "The duration could not be understood. Please use a recognized time format like 1hr 20min, 12d or 1w.", true)
	}
	if err := retention.ValidateRetention(d, c.maxRetention); err != nil {
		var rangeErr *retention.RetentionRangeError
		errors.As(err, &rangeErr)
		return c.respond(ctx, api, i, "Invalid duration, "+rangeErr.Reason, true)
	}

	// The reply goes out first and becomes the watermark, so it is never
	// deleted itself.
	if err := c.respond(ctx, api, i, fmt.Sprintf("Enabled autodelete in %s with message duration %s", ch.display(), input), false); err != nil {
		return err
	}

	reply, err := api.InteractionResponse(i, discordgo.WithContext(ctx))
	if err != nil {
		c.edit(ctx, api, i, fmt.Sprintf("Failed to enable autodelete in %s", ch.display()))
		return fmt.Errorf("failed to fetch confirmation message: %w", err)
	}
	watermarkAt := reply.Timestamp
	if watermarkAt.IsZero() {
		watermarkAt, _ = SnowflakeTime(reply.ID)
	}

	_, err = c.manager.EnableChannel(ctx, service.EnableRequest{
		ChannelID:   ch.ID,
		ChannelName: ch.Name,
		Retention:   d,
		Label:       input,
		WatermarkID: reply.ID,
		WatermarkAt: watermarkAt,
	})
	if err != nil {
		c.edit(ctx, api, i, fmt.Sprintf("Failed to enable autodelete in %s", ch.display()))
		return err
	}
	return nil
}

func (c *Commands) disable(ctx context.Context, api interactionAPI, i *discordgo.Interaction, data discordgo.ApplicationCommandInteractionData) error {
	ch := channelArg(data)
	if ch.ID == "" {
		return c.respond(ctx, api, i, "Missing channel", true)
	}

	if err := c.respond(ctx, api, i, fmt.Sprintf("Disabled autodelete in %s", ch.display()), false); err != nil {
		return err
	}
	if err := c.manager.DisableChannel(ctx, ch.ID); err != nil {
		c.edit(ctx, api, i, fmt.Sprintf("Failed to disable autodelete in %s", ch.display()))
		return err
	}
	return nil
}

func (c *Commands) list(ctx context.Context, api interactionAPI, i *discordgo.Interaction) error {
	if err := c.respond(ctx, api, i, "Working on it...", false); err != nil {
		return err
	}

	channels, err := c.manager.ListChannels(ctx)
	if err != nil {
		c.edit(ctx, api, i, "Failed to list the channels :(")
		return err
	}
	c.edit(ctx, api, i, RenderChannelList(channels))
	return nil
}

// RenderChannelList formats channels one per line as "#name duration: label".
func RenderChannelList(channels []service.ChannelSummary) string {
	if len(channels) == 0 {
		return "No channels have autodelete enabled."
	}

	var b strings.Builder
	for _, ch := range channels {
		name := ch.ChannelName
		if name == "" {
			name = ch.ChannelID
		}
		fmt.Fprintf(&b, "#%s duration: %s", name, ch.RetentionLabel)
		if ch.Stale {
			b.WriteString(" (unreachable)")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (c *Commands) respond(ctx context.Context, api interactionAPI, i *discordgo.Interaction, content string, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{Content: content}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to respond to interaction: %w", err)
	}
	return nil
}

func (c *Commands) edit(ctx context.Context, api interactionAPI, i *discordgo.Interaction, content string) {
	if _, err := api.InteractionResponseEdit(i, &discordgo.WebhookEdit{Content: &content}, discordgo.WithContext(ctx)); err != nil {
		c.logger.WarnContext(ctx, "failed to edit interaction response", "error", err)
	}
}

type channelRef struct {
	ID   string
	Name string
}

func (r channelRef) display() string {
	if r.Name == "" {
		return "<#" + r.ID + ">"
	}
	return "#" + r.Name
}

func channelArg(data discordgo.ApplicationCommandInteractionData) channelRef {
	for _, opt := range data.Options {
		if opt.Name != optionChannel {
			continue
		}
		id, _ := opt.Value.(string)
		ref := channelRef{ID: id}
		if data.Resolved != nil {
			if ch, ok := data.Resolved.Channels[id]; ok && ch != nil {
				ref.Name = ch.Name
			}
		}
		return ref
	}
	return channelRef{}
}

func stringArg(data discordgo.ApplicationCommandInteractionData, name string) string {
	for _, opt := range data.Options {
		if opt.Name == name {
			s, _ := opt.Value.(string)
			return strings.TrimSpace(s)
		}
	}
	return ""
}
