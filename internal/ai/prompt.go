package ai

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"chatflow-gateway/internal/domain"
)

const (
	defaultSystemPrompt = "You are a helpful assistant for a small business. Answer briefly and in the customer's language."
	knowledgeBudget     = 6000
)

// PromptInput is everything the system prompt is built from.
type PromptInput struct {
	BasePrompt string
	Knowledge  []domain.KnowledgeEntry
	Now        time.Time
	Location   *time.Location
	Facts      map[string]string
	WithTools  bool
}

// BuildSystemPrompt assembles the system message of an AI turn.
func BuildSystemPrompt(in PromptInput) string {
	var b strings.Builder

	base := strings.TrimSpace(in.BasePrompt)
	if base == "" {
		base = defaultSystemPrompt
	}
	b.WriteString(base)

	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	now := in.Now.In(loc)
	fmt.Fprintf(&b, "\n\nCurrent date and time: %s (%s, %s).", now.Format("2006-01-02 15:04"), now.Weekday(), loc.String())

	if len(in.Knowledge) > 0 {
		b.WriteString("\n\nKnowledge base:")
		used := 0
		for _, e := range in.Knowledge {
			entry := fmt.Sprintf("\n- [%s] %s: %s", e.Category, e.Title, strings.TrimSpace(e.Content))
			if used+len(entry) > knowledgeBudget {
				break
			}
			used += len(entry)
			b.WriteString(entry)
		}
	}

	if len(in.Facts) > 0 {
		keys := make([]string, 0, len(in.Facts))
		for k := range in.Facts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n\nKnown facts about this contact:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", k, in.Facts[k])
		}
	}

	if in.WithTools {
		b.WriteString("\n\nNever invent prices, services or availability: use the tools. Confirm the slot with the customer before booking.")
	}
	return b.String()
}

// HistoryMessages converts stored history into chat messages, dropping a
// trailing inbound copy of current.
func HistoryMessages(history []domain.HistoryMessage, current string) []Message {
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Direction == domain.DirectionIn && last.Content == current {
			history = history[:n-1]
		}
	}
	msgs := make([]Message, 0, len(history))
	for _, h := range history {
		role := RoleUser
		if h.Direction == domain.DirectionOut {
			role = RoleAssistant
		}
		msgs = append(msgs, Message{Role: role, Content: h.Content})
	}
	return msgs
}
