package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"chatflow-gateway/internal/config"
)

func Setup(cfg config.Config) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg)}

	var handler slog.Handler
	if cfg.IsProduction() {
		handler = NewFieldsHandler(slog.NewJSONHandler(os.Stdout, opts))
	} else {
		handler = NewFieldsHandler(slog.NewTextHandler(os.Stdout, opts))
	}
	slog.SetDefault(slog.New(handler))
}

func parseLevel(cfg config.Config) slog.Level {
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		return slog.LevelInfo
	}
	if cfg.IsDevelopment() {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// FieldsHandler adds the LogFields stored in the record's context.
type FieldsHandler struct {
	slog.Handler
}

func NewFieldsHandler(h slog.Handler) *FieldsHandler {
	return &FieldsHandler{Handler: h}
}

func (h *FieldsHandler) Handle(ctx context.Context, r slog.Record) error {
	fields := GetLogFields(ctx)
	if fields.BotID != "" {
		r.AddAttrs(slog.String("bot_id", fields.BotID))
	}
	if fields.ConversationID != "" {
		r.AddAttrs(slog.String("conversation_id", fields.ConversationID))
	}
	if fields.Platform != "" {
		r.AddAttrs(slog.String("platform", fields.Platform))
	}
	if fields.Component != "" {
		r.AddAttrs(slog.String("component", fields.Component))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *FieldsHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &FieldsHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *FieldsHandler) WithGroup(name string) slog.Handler {
	return &FieldsHandler{Handler: h.Handler.WithGroup(name)}
}
