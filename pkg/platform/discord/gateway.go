package discord

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"mercator-hq/sweeper/pkg/retention/service"
)

// Intents are the gateway intents the bot needs: guild channel metadata and
// guild message creation events.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

// MessageHandler receives message creation events.
type MessageHandler interface {
	OnMessageCreated(ctx context.Context, ev service.MessageEvent) error
}

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	// OnReconnect runs after the session reconnects or resumes. The first
	// Ready of a process is not a reconnect.
	OnReconnect func()
}

// Gateway routes gateway events into the scheduler.
type Gateway struct {
	session  *discordgo.Session
	messages MessageHandler
	commands *Commands
	opts     GatewayOptions
	logger   *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	removers []func()
	closed   bool

	connected atomic.Bool
	readies   atomic.Int64
}

// NewGateway creates a gateway over session. commands may be nil.
func NewGateway(session *discordgo.Session, messages MessageHandler, commands *Commands, opts GatewayOptions) *Gateway {
	return &Gateway{
		session:  session,
		messages: messages,
		commands: commands,
		opts:     opts,
		logger:   slog.Default().With("component", "discord.gateway"),
		ctx:      context.Background(),
	}
}

// NewSession creates an unopened bot session.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = Intents
	return session, nil
}

// Open registers the event handlers and connects. Handlers run with ctx
// until Close.
func (g *Gateway) Open(ctx context.Context) error {
	g.mu.Lock()
	g.ctx = ctx
	g.session.Identify.Intents = Intents
	g.removers = append(g.removers,
		g.session.AddHandler(g.onMessageCreate),
		g.session.AddHandler(g.onReady),
		g.session.AddHandler(g.onResumed),
		g.session.AddHandler(g.onDisconnect),
		g.session.AddHandler(g.onInteractionCreate),
	)
	g.mu.Unlock()

	if err := g.session.Open(); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}
	g.logger.Info("gateway opened")
	return nil
}

// Close removes the handlers and disconnects. Calls after the first are
// no-ops.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	for _, remove := range g.removers {
		remove()
	}
	g.removers = nil
	g.mu.Unlock()

	g.connected.Store(false)
	if err := g.session.Close(); err != nil {
		return fmt.Errorf("failed to close gateway: %w", err)
	}
	g.logger.Info("gateway closed")
	return nil
}

// Connected reports whether the session is ready.
func (g *Gateway) Connected() bool {
	return g.connected.Load()
}

func (g *Gateway) context() context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ctx
}

// guard recovers a panicking handler so one bad event cannot kill the process.
func (g *Gateway) guard(event string) {
	if r := recover(); r != nil {
		g.logger.Error("panic in gateway handler",
			"event", event,
			"panic", r,
			"stack", string(debug.Stack()),
		)
	}
}

func (g *Gateway) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	defer g.guard("message_create")
	if m == nil || m.Message == nil {
		return
	}

	msg := toMessage(m.ChannelID, m.Message)
	ev := service.MessageEvent{
		ChannelID: msg.ChannelID,
		MessageID: msg.ID,
		CreatedAt: msg.CreatedAt,
		Automated: msg.Automated,
	}
	if err := g.messages.OnMessageCreated(g.context(), ev); err != nil {
		g.logger.Error("failed to register message",
			"channel_id", ev.ChannelID,
			"message_id", ev.MessageID,
			"error", err,
		)
	}
}

func (g *Gateway) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	defer g.guard("ready")
	g.connected.Store(true)

	user := ""
	if r != nil && r.User != nil {
		user = r.User.Username
	}
	n := g.readies.Add(1)
	g.logger.Info("gateway ready", "user", user, "sessions", n)
	if n > 1 {
		g.reconnected("ready")
	}
}

func (g *Gateway) onResumed(_ *discordgo.Session, _ *discordgo.Resumed) {
	defer g.guard("resumed")
	g.connected.Store(true)
	g.logger.Info("gateway session resumed")
	g.reconnected("resumed")
}

func (g *Gateway) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	g.connected.Store(false)
	g.logger.Warn("gateway disconnected")
}

func (g *Gateway) reconnected(event string) {
	if g.opts.OnReconnect == nil {
		return
	}
	g.logger.Info("gateway reconnected, requesting rescan", "event", event)
	g.opts.OnReconnect()
}

func (g *Gateway) onInteractionCreate(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	defer g.guard("interaction_create")
	if g.commands == nil || ic == nil {
		return
	}
	if err := g.commands.Handle(g.context(), s, ic.Interaction); err != nil {
		g.logger.Error("command failed", "error", err)
	}
}
