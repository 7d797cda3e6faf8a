package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chatflow-gateway/internal/domain"
)

var ErrNoModel = errors.New("ai: no model configured")

// Turn is one request for an assistant answer.
type Turn struct {
	BotID  string
	LeadID uint
	Text   string
	// Prompt replaces the bot's system prompt when set.
	Prompt string
	// Custom routes the turn to a caller supplied endpoint without tools.
	Custom *Config
}

// Responder builds the conversation context and runs the tool loop.
type Responder struct {
	Bots      domain.Bots
	Leads     domain.Leads
	Knowledge domain.Knowledge
	Toolbox   *Toolbox

	Model    Model
	NewModel ModelFactory
	Loop     Loop

	HistoryWindow time.Duration
	HistoryLimit  int
	Now           func() time.Time
}

func (r *Responder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Respond returns the assistant answer for t. An empty answer with a nil
// error means the model chose not to reply.
func (r *Responder) Respond(ctx context.Context, t Turn) (string, error) {
	model, tools, err := r.pick(t)
	if err != nil {
		return "", err
	}

	bot := &domain.Bot{ID: t.BotID}
	if r.Bots != nil {
		if b, err := r.Bots.GetBot(ctx, t.BotID); err == nil {
			bot = b
		} else {
			slog.WarnContext(ctx, "bot profile unavailable", "error", err)
		}
	}

	var knowledge []domain.KnowledgeEntry
	if r.Knowledge != nil {
		if knowledge, err = r.Knowledge.ListEntries(ctx, t.BotID); err != nil {
			slog.WarnContext(ctx, "knowledge base unavailable", "error", err)
		}
	}

	var facts map[string]string
	var history []domain.HistoryMessage
	now := r.now()
	if r.Leads != nil && t.LeadID != 0 {
		if facts, err = r.Leads.Variables(ctx, t.LeadID); err != nil {
			slog.WarnContext(ctx, "lead variables unavailable", "error", err)
		}
		window := r.HistoryWindow
		if window <= 0 {
			window = 24 * time.Hour
		}
		limit := r.HistoryLimit
		if limit <= 0 {
			limit = 50
		}
		if history, err = r.Leads.RecentHistory(ctx, t.LeadID, now.Add(-window), limit); err != nil {
			slog.WarnContext(ctx, "history unavailable", "error", err)
		}
	}

	base := bot.SystemPrompt
	if t.Prompt != "" {
		base = t.Prompt
	}
	loc := bot.Location()
	system := BuildSystemPrompt(PromptInput{
		BasePrompt: base,
		Knowledge:  knowledge,
		Now:        now,
		Location:   loc,
		Facts:      facts,
		WithTools:  len(tools) > 0,
	})

	msgs := []Message{{Role: RoleSystem, Content: system}}
	msgs = append(msgs, HistoryMessages(history, t.Text)...)
	msgs = append(msgs, Message{Role: RoleUser, Content: t.Text})

	scope := Scope{BotID: t.BotID, LeadID: t.LeadID, Location: loc, Now: now}
	exec := func(ctx context.Context, call ToolCall) (string, error) {
		if r.Toolbox == nil {
			return "", fmt.Errorf("tools unavailable")
		}
		return r.Toolbox.Execute(ctx, scope, call)
	}
	return r.Loop.Run(ctx, model, msgs, tools, t.Text, exec)
}

func (r *Responder) pick(t Turn) (Model, []Tool, error) {
	if t.Custom != nil {
		factory := r.NewModel
		if factory == nil {
			factory = NewOpenAI
		}
		m, err := factory(*t.Custom)
		if err != nil {
			return nil, nil, fmt.Errorf("custom model: %w", err)
		}
		return m, nil, nil
	}
	if r.Model == nil {
		return nil, nil, ErrNoModel
	}
	var tools []Tool
	if r.Toolbox != nil {
		tools = Tools()
	}
	return r.Model, tools, nil
}
