package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are added to every record logged with a context carrying them.
type LogFields struct {
	BotID          string
	ConversationID string
	Platform       string
	Component      string
}

// WithLogFields merges fields into ctx; non-empty values win.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := GetLogFields(ctx)
	if fields.BotID != "" {
		merged.BotID = fields.BotID
	}
	if fields.ConversationID != "" {
		merged.ConversationID = fields.ConversationID
	}
	if fields.Platform != "" {
		merged.Platform = fields.Platform
	}
	if fields.Component != "" {
		merged.Component = fields.Component
	}
	return context.WithValue(ctx, logFieldsKey, merged)
}

func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// Truncate shortens s to maxLen bytes, appending "..." if cut.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
