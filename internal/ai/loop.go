package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const DefaultMaxIterations = 5

// ErrIterationLimit is returned when the model keeps requesting tools
// after the last allowed call.
var ErrIterationLimit = errors.New("ai: tool call iteration limit reached")

var priceKeywords = []string{
	"price", "prices", "cost", "how much",
	"precio", "precios", "cuanto", "cuánto", "costo", "valor", "tarifa",
	"preço", "quanto custa",
}

// MentionsPrice reports whether text asks about prices or costs.
func MentionsPrice(text string) bool {
	text = strings.ToLower(text)
	for _, kw := range priceKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// ToolExecutor runs one tool call.
type ToolExecutor func(ctx context.Context, call ToolCall) (string, error)

// Loop drives a bounded tool-calling conversation.
type Loop struct {
	MaxIterations int
}

// Run calls the model until it answers without tool calls. userText is the
// current user message, used for the price heuristic. When tools is empty
// the model is called once without tools.
func (l Loop) Run(ctx context.Context, model Model, msgs []Message, tools []Tool, userText string, exec ToolExecutor) (string, error) {
	maxIter := l.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	force := ""
	if len(tools) > 0 && hasTool(tools, ToolGetServices) && MentionsPrice(userText) {
		force = ToolGetServices
	}

	msgs = append([]Message(nil), msgs...)
	for i := 0; i < maxIter; i++ {
		req := Request{Messages: msgs, Tools: tools}
		if i == 0 {
			req.ForceTool = force
		}

		resp, err := model.ChatWithTools(ctx, req)
		if err != nil {
			return "", fmt.Errorf("model call %d: %w", i+1, err)
		}
		if len(resp.ToolCalls) == 0 || len(tools) == 0 {
			return strings.TrimSpace(resp.Content), nil
		}

		msgs = append(msgs, Message{Role: RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			result, err := exec(ctx, call)
			if err != nil {
				slog.WarnContext(ctx, "tool call failed", "tool", call.Name, "error", err)
				result = "Error: " + err.Error()
			}
			msgs = append(msgs, Message{Role: RoleTool, Content: result, ToolCallID: call.ID})
		}
	}
	return "", ErrIterationLimit
}

func hasTool(tools []Tool, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}
