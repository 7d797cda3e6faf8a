package automation

import (
	"context"
	"fmt"
	"log/slog"

	"chatflow-gateway/internal/domain"
	"chatflow-gateway/internal/logger"
	"chatflow-gateway/internal/transport"
)

// MessageObserver is told about every accepted inbound message.
type MessageObserver interface {
	NotifyMessage(botID string, msg transport.InboundMessage)
}

// Engine dispatches inbound messages of every bot to its compiled rules.
type Engine struct {
	Rules    *RuleCache
	Leads    domain.Leads
	Bots     domain.Bots
	Logs     domain.AutomationLog
	Executor *Executor
	Pending  *PendingInputs
	Observer MessageObserver
}

func NewEngine(rules *RuleCache, leads domain.Leads, bots domain.Bots, logs domain.AutomationLog, executor *Executor) *Engine {
	pending := executor.Pending
	if pending == nil {
		pending = NewPendingInputs()
		executor.Pending = pending
	}
	return &Engine{
		Rules:    rules,
		Leads:    leads,
		Bots:     bots,
		Logs:     logs,
		Executor: executor,
		Pending:  pending,
	}
}

// HandleInbound processes one inbound message of botID. Messages of one
// bot must be handled one at a time, in arrival order.
func (e *Engine) HandleInbound(ctx context.Context, botID string, sender transport.Sender, msg transport.InboundMessage) error {
	if msg.FromMe || msg.IsGroup || msg.IsBroadcast {
		return nil
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		BotID:          botID,
		ConversationID: msg.ConversationID,
		Platform:       string(msg.Platform),
		Component:      "automation.engine",
	})

	leadID, err := e.Leads.UpsertLead(ctx, botID, msg.ConversationID, msg.SenderName, string(msg.Platform))
	if err != nil {
		return fmt.Errorf("upsert lead: %w", err)
	}
	if err := e.Leads.AppendMessage(ctx, leadID, msg.Text, domain.DirectionIn); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if e.Observer != nil {
		e.Observer.NotifyMessage(botID, msg)
	}

	vars, err := e.Leads.Variables(ctx, leadID)
	if err != nil {
		slog.WarnContext(ctx, "load lead variables failed", "error", err)
	}
	if vars == nil {
		vars = make(map[string]string)
	}
	turn := &Turn{
		BotID:          botID,
		LeadID:         leadID,
		ConversationID: msg.ConversationID,
		SenderName:     msg.SenderName,
		Platform:       string(msg.Platform),
		Text:           msg.Text,
		Sender:         sender,
		Vars:           vars,
	}

	rules := e.Rules.Get(botID)
	if pending, ok := e.Pending.Get(botID, msg.ConversationID); ok {
		e.capture(ctx, turn, pending, rules)
		return nil
	}

	matched := Match(msg.Text, turn.Platform, rules)
	if len(matched) == 0 {
		e.fallback(ctx, turn)
		return nil
	}
	slog.DebugContext(ctx, "rules matched", "count", len(matched))
	e.run(ctx, turn, matched)
	return nil
}

// capture consumes a pending input with the current message.
func (e *Engine) capture(ctx context.Context, turn *Turn, pending PendingInput, rules []CompiledRule) {
	value := turn.Text
	if !ValidateInput(pending.Validation, value) {
		pending.Failures++
		if pending.Failures >= MaxInputAttempts {
			e.Pending.Clear(turn.BotID, turn.ConversationID)
			e.reply(ctx, turn, tooManyAttemptsResponse)
			return
		}
		e.Pending.Set(turn.BotID, turn.ConversationID, pending)
		msg := pending.ErrorMessage
		if msg == "" {
			msg = defaultInputError
		}
		e.reply(ctx, turn, turn.ReplaceVariables(msg, nil))
		return
	}

	e.Pending.Clear(turn.BotID, turn.ConversationID)
	e.Executor.storeVariable(ctx, turn, pending.Variable, value)
	slog.DebugContext(ctx, "input captured", "variable", pending.Variable, "node_id", pending.NodeID)

	e.run(ctx, turn, MatchResumed(value, turn.Platform, pending.NodeID, rules))
}

// run executes rules sequentially. A failing rule is logged and does not
// stop the others.
func (e *Engine) run(ctx context.Context, turn *Turn, rules []CompiledRule) {
	for _, r := range rules {
		if !turn.guardsPass(r) {
			continue
		}
		err := e.Executor.Execute(ctx, turn, r)
		if err != nil {
			slog.ErrorContext(ctx, "rule execution failed", "rule_id", r.ID, "action", r.Action.Kind, "error", err)
		}
		e.logAutomation(ctx, turn, r.ID, string(r.Action.Kind), err)
		if ctx.Err() != nil {
			return
		}
	}
}

func (e *Engine) fallback(ctx context.Context, turn *Turn) {
	if e.Bots != nil {
		bot, err := e.Bots.GetBot(ctx, turn.BotID)
		if err == nil && !bot.AIEnabled {
			return
		}
	}
	err := e.Executor.Fallback(ctx, turn)
	if err != nil {
		slog.WarnContext(ctx, "ai fallback failed", "error", err)
	}
	e.logAutomation(ctx, turn, "", "fallback", err)
}

func (e *Engine) reply(ctx context.Context, turn *Turn, text string) {
	if err := e.Executor.deliverText(ctx, turn, 0, text); err != nil {
		slog.WarnContext(ctx, "reply failed", "error", err)
	}
}

func (e *Engine) logAutomation(ctx context.Context, turn *Turn, ruleID, action string, err error) {
	if e.Logs == nil {
		return
	}
	ev := domain.AutomationEvent{
		BotID:          turn.BotID,
		RuleID:         ruleID,
		ConversationID: turn.ConversationID,
		Action:         action,
		Success:        err == nil,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if lerr := e.Logs.LogAutomation(ctx, ev); lerr != nil {
		slog.WarnContext(ctx, "write automation log failed", "error", lerr)
	}
}

// Forget drops the cached rules and pending inputs of botID.
func (e *Engine) Forget(botID string) {
	e.Rules.Delete(botID)
	e.Pending.ClearBot(botID)
}
