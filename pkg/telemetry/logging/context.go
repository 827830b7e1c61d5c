package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Context keys for common log fields.
type contextKey string

const (
	// CycleIDKey is the context key for expiry cycle and scan identifiers.
	CycleIDKey contextKey = "cycle_id"

	// ChannelIDKey is the context key for the channel being processed.
	ChannelIDKey contextKey = "channel_id"

	// GuildIDKey is the context key for the guild a command came from.
	GuildIDKey contextKey = "guild_id"

	// InteractionIDKey is the context key for slash command interactions.
	InteractionIDKey contextKey = "interaction_id"
)

// WithCycleID adds a cycle identifier to the context.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CycleIDKey, id)
}

// GetCycleID retrieves the cycle identifier from the context.
func GetCycleID(ctx context.Context) string {
	if id, ok := ctx.Value(CycleIDKey).(string); ok {
		return id
	}
	return ""
}

// WithChannelID adds a channel identifier to the context.
func WithChannelID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ChannelIDKey, id)
}

// GetChannelID retrieves the channel identifier from the context.
func GetChannelID(ctx context.Context) string {
	if id, ok := ctx.Value(ChannelIDKey).(string); ok {
		return id
	}
	return ""
}

// WithGuildID adds a guild identifier to the context.
func WithGuildID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, GuildIDKey, id)
}

// GetGuildID retrieves the guild identifier from the context.
func GetGuildID(ctx context.Context) string {
	if id, ok := ctx.Value(GuildIDKey).(string); ok {
		return id
	}
	return ""
}

// WithInteractionID adds an interaction identifier to the context.
func WithInteractionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, InteractionIDKey, id)
}

// GetInteractionID retrieves the interaction identifier from the context.
func GetInteractionID(ctx context.Context) string {
	if id, ok := ctx.Value(InteractionIDKey).(string); ok {
		return id
	}
	return ""
}

// extractContextFields collects the log fields carried by ctx, including the
// active trace and span IDs when tracing is on.
func extractContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var fields []slog.Attr

	if id := GetCycleID(ctx); id != "" {
		fields = append(fields, slog.String(string(CycleIDKey), id))
	}
	if id := GetChannelID(ctx); id != "" {
		fields = append(fields, slog.String(string(ChannelIDKey), id))
	}
	if id := GetGuildID(ctx); id != "" {
		fields = append(fields, slog.String(string(GuildIDKey), id))
	}
	if id := GetInteractionID(ctx); id != "" {
		fields = append(fields, slog.String(string(InteractionIDKey), id))
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	return fields
}

// contextHandler adds context fields to every record and redacts secrets.
type contextHandler struct {
	next     slog.Handler
	redactor *Redactor
}

func newContextHandler(next slog.Handler, redactor *Redactor) *contextHandler {
	return &contextHandler{next: next, redactor: redactor}
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, h.redactor.RedactString(r.Message), r.PC)
	for _, a := range extractContextFields(ctx) {
		out.AddAttrs(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactor.RedactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redactor.RedactAttr(a)
	}
	return &contextHandler{next: h.next.WithAttrs(redacted), redactor: h.redactor}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name), redactor: h.redactor}
}
