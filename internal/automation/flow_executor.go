package automation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chatflow-gateway/internal/ai"
	"chatflow-gateway/internal/domain"
	"chatflow-gateway/internal/transport"
)

const (
	maxResponseVariable = 4 << 10
	slotOptionsVariable = "slot_options"
	defaultSlotDays     = 7
)

// Turn is the state of one inbound message being processed.
type Turn struct {
	BotID          string
	LeadID         uint
	ConversationID string
	SenderName     string
	Platform       string
	Text           string
	Sender         transport.Sender
	Vars           map[string]string

	outcomes map[string]Outcome
}

// Outcome returns the recorded result of the HTTP action nodeID.
func (t *Turn) Outcome(nodeID string) (Outcome, bool) {
	o, ok := t.outcomes[nodeID]
	return o, ok
}

func (t *Turn) setOutcome(nodeID string, o Outcome) {
	if t.outcomes == nil {
		t.outcomes = make(map[string]Outcome)
	}
	t.outcomes[nodeID] = o
}

func (t *Turn) setVar(key, value string) {
	if t.Vars == nil {
		t.Vars = make(map[string]string)
	}
	t.Vars[key] = value
}

// guardsPass reports whether every branch guard of r saw its outcome in t.
func (t *Turn) guardsPass(r CompiledRule) bool {
	for _, g := range r.Guards {
		if o, ok := t.Outcome(g.NodeID); !ok || o != g.Outcome {
			return false
		}
	}
	return true
}

// Responder answers AI turns.
type Responder interface {
	Respond(ctx context.Context, t ai.Turn) (string, error)
}

// Executor performs the action of a compiled rule.
type Executor struct {
	Responder  Responder
	Leads      domain.Leads
	Bots       domain.Bots
	Scheduling domain.Scheduling
	Pending    *PendingInputs
	HTTPClient *http.Client

	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	// Jitter returns a value in [0, 1) used for the typing delay.
	Jitter func() float64
	Now    func() time.Time
}

func NewExecutor(responder Responder, leads domain.Leads, bots domain.Bots, scheduling domain.Scheduling, pending *PendingInputs, httpTimeout time.Duration) *Executor {
	if httpTimeout <= 0 {
		httpTimeout = 15 * time.Second
	}
	return &Executor{
		Responder:  responder,
		Leads:      leads,
		Bots:       bots,
		Scheduling: scheduling,
		Pending:    pending,
		HTTPClient: &http.Client{Timeout: httpTimeout},
	}
}

// Execute runs the action of rule for turn.
func (e *Executor) Execute(ctx context.Context, turn *Turn, rule CompiledRule) error {
	a := rule.Action
	switch a.Kind {
	case ActionReply:
		text := turn.ReplaceVariables(a.Text, nil)
		if a.MediaURL != "" {
			return e.deliver(ctx, turn, rule.DelaySeconds, text, func() error {
				return turn.Sender.SendMedia(ctx, turn.ConversationID, transport.MediaImage, turn.ReplaceVariables(a.MediaURL, nil), text)
			})
		}
		return e.deliverText(ctx, turn, rule.DelaySeconds, text)

	case ActionMedia:
		kind, err := transport.ParseMediaKind(a.MediaKind)
		if err != nil {
			return err
		}
		if a.MediaURL == "" {
			return fmt.Errorf("media node %s has no url", a.NodeID)
		}
		caption := turn.ReplaceVariables(a.Caption, nil)
		return e.deliver(ctx, turn, rule.DelaySeconds, caption, func() error {
			return turn.Sender.SendMedia(ctx, turn.ConversationID, kind, turn.ReplaceVariables(a.MediaURL, nil), caption)
		})

	case ActionButtons:
		text := turn.ReplaceVariables(a.Text, nil)
		return e.deliver(ctx, turn, rule.DelaySeconds, transport.RenderMenu(text, a.Options), func() error {
			return turn.Sender.SendMenu(ctx, turn.ConversationID, text, a.Options)
		})

	case ActionAI, ActionAIApi:
		return e.runAI(ctx, turn, rule)

	case ActionInput:
		if a.Variable == "" {
			return fmt.Errorf("input node %s has no variable", a.NodeID)
		}
		e.Pending.Set(turn.BotID, turn.ConversationID, PendingInput{
			NodeID:       a.NodeID,
			Variable:     a.Variable,
			Validation:   a.Validation,
			ErrorMessage: a.ErrorMessage,
		})
		if a.Text == "" {
			return nil
		}
		return e.deliverText(ctx, turn, rule.DelaySeconds, turn.ReplaceVariables(a.Text, nil))

	case ActionHTTP:
		return e.runHTTP(ctx, turn, rule)

	case ActionShowSlots:
		return e.showSlots(ctx, turn, rule)

	case ActionBookAppointment:
		return e.book(ctx, turn, rule)

	default:
		return fmt.Errorf("unknown action %q", a.Kind)
	}
}

// Fallback answers a turn no rule matched, using the bot's own AI settings.
func (e *Executor) Fallback(ctx context.Context, turn *Turn) error {
	if e.Responder == nil {
		return nil
	}
	answer, err := e.Responder.Respond(ctx, ai.Turn{BotID: turn.BotID, LeadID: turn.LeadID, Text: turn.Text})
	if err != nil {
		return err
	}
	if answer == "" {
		return nil
	}
	return e.deliverText(ctx, turn, 0, answer)
}

func (e *Executor) runAI(ctx context.Context, turn *Turn, rule CompiledRule) error {
	if e.Responder == nil {
		return ai.ErrNoModel
	}
	a := rule.Action
	req := ai.Turn{
		BotID:  turn.BotID,
		LeadID: turn.LeadID,
		Text:   turn.Text,
		Prompt: turn.ReplaceVariables(a.Prompt, nil),
	}
	if a.Kind == ActionAIApi {
		req.Custom = &ai.Config{APIKey: a.APIKey, BaseURL: a.BaseURL, Model: a.Model}
	}
	answer, err := e.Responder.Respond(ctx, req)
	if err != nil {
		return err
	}
	if answer == "" {
		return nil
	}
	return e.deliverText(ctx, turn, rule.DelaySeconds, answer)
}

func (e *Executor) runHTTP(ctx context.Context, turn *Turn, rule CompiledRule) error {
	a := rule.Action
	target := turn.ReplaceURLVariables(a.URL)
	var body io.Reader
	if a.Body != "" {
		body = strings.NewReader(turn.ReplaceVariables(a.Body, nil))
	}

	req, err := http.NewRequestWithContext(ctx, a.Method, target, body)
	if err != nil {
		turn.setOutcome(a.NodeID, OutcomeError)
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range a.Headers {
		req.Header.Set(k, turn.ReplaceVariables(v, nil))
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := e.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		turn.setOutcome(a.NodeID, OutcomeError)
		return fmt.Errorf("http %s %s: %w", a.Method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseVariable))
	outcome := OutcomeError
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		outcome = OutcomeSuccess
	}
	turn.setOutcome(a.NodeID, outcome)
	slog.DebugContext(ctx, "http action finished", "node_id", a.NodeID, "status", resp.StatusCode, "outcome", outcome)

	if a.ResponseVariable != "" {
		e.storeVariable(ctx, turn, a.ResponseVariable, string(data))
	}
	return nil
}

func (e *Executor) showSlots(ctx context.Context, turn *Turn, rule CompiledRule) error {
	if e.Scheduling == nil {
		return errors.New("scheduling unavailable")
	}
	a := rule.Action
	days := a.Days
	if days <= 0 {
		days = defaultSlotDays
	}
	loc := e.location(ctx, turn.BotID)
	slots, err := e.Scheduling.ListAvailableSlots(ctx, turn.BotID, a.ServiceID, e.now().In(loc), days)
	if err != nil {
		return fmt.Errorf("list slots: %w", err)
	}
	if len(slots) == 0 {
		return e.deliverText(ctx, turn, rule.DelaySeconds, "There are no available slots right now.")
	}

	options := make([]string, len(slots))
	starts := make([]string, len(slots))
	for i, s := range slots {
		options[i] = s.Start.In(loc).Format("Mon 02 Jan 15:04")
		starts[i] = s.Start.Format(time.RFC3339)
	}
	e.storeVariable(ctx, turn, slotOptionsVariable, strings.Join(starts, ","))

	text := turn.ReplaceVariables(a.Text, nil)
	if text == "" {
		text = "Available slots:"
	}
	return e.deliver(ctx, turn, rule.DelaySeconds, transport.RenderMenu(text, options), func() error {
		return turn.Sender.SendMenu(ctx, turn.ConversationID, text, options)
	})
}

func (e *Executor) book(ctx context.Context, turn *Turn, rule CompiledRule) error {
	if e.Scheduling == nil {
		return errors.New("scheduling unavailable")
	}
	a := rule.Action
	loc := e.location(ctx, turn.BotID)
	choice := turn.Vars[a.SlotVariable]
	start, err := resolveSlot(choice, turn.Vars[slotOptionsVariable], loc)
	if err != nil {
		return err
	}

	booking, err := e.Scheduling.CreateBooking(ctx, domain.BookingRequest{
		BotID:     turn.BotID,
		LeadID:    turn.LeadID,
		ServiceID: a.ServiceID,
		Start:     start,
		Name:      turn.SenderName,
	})
	if err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	when := booking.Start.In(loc).Format("Mon 02 Jan 15:04")
	e.storeVariable(ctx, turn, "booking_start", when)

	text := turn.ReplaceVariables(a.Text, nil)
	if text == "" {
		text = "Your appointment is booked for " + when + "."
	}
	return e.deliverText(ctx, turn, rule.DelaySeconds, text)
}

// resolveSlot maps a captured choice to a slot start: either the 1-based
// number of an offered slot or an explicit time.
func resolveSlot(choice, offered string, loc *time.Location) (time.Time, error) {
	choice = strings.TrimSpace(choice)
	if choice == "" {
		return time.Time{}, errors.New("no slot selected")
	}
	if n, err := strconv.Atoi(choice); err == nil && offered != "" {
		starts := strings.Split(offered, ",")
		if n < 1 || n > len(starts) {
			return time.Time{}, fmt.Errorf("slot %d out of range", n)
		}
		return time.Parse(time.RFC3339, starts[n-1])
	}
	return ai.ParseSlotTime(choice, loc)
}

func (e *Executor) storeVariable(ctx context.Context, turn *Turn, key, value string) {
	turn.setVar(key, value)
	if e.Leads == nil || turn.LeadID == 0 {
		return
	}
	if err := e.Leads.SetVariable(ctx, turn.LeadID, key, value); err != nil {
		slog.WarnContext(ctx, "store variable failed", "variable", key, "error", err)
	}
}

func (e *Executor) deliverText(ctx context.Context, turn *Turn, delay float64, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return e.deliver(ctx, turn, delay, text, func() error {
		return turn.Sender.SendText(ctx, turn.ConversationID, text)
	})
}

// deliver waits according to the delay policy, sends, and logs the outbound
// message. A configured delay is waited silently; otherwise a random 1-2s
// pause is bracketed by typing presence.
func (e *Executor) deliver(ctx context.Context, turn *Turn, delay float64, logged string, send func() error) error {
	if delay > 0 {
		if err := e.sleep(ctx, time.Duration(delay*float64(time.Second))); err != nil {
			return err
		}
	} else {
		e.presence(ctx, turn, true)
		err := e.sleep(ctx, time.Second+time.Duration(e.jitter()*float64(time.Second)))
		e.presence(ctx, turn, false)
		if err != nil {
			return err
		}
	}

	if err := send(); err != nil {
		return err
	}
	if e.Leads != nil && turn.LeadID != 0 && logged != "" {
		if err := e.Leads.AppendMessage(ctx, turn.LeadID, logged, domain.DirectionOut); err != nil {
			slog.WarnContext(ctx, "append outbound message failed", "error", err)
		}
	}
	return nil
}

func (e *Executor) presence(ctx context.Context, turn *Turn, typing bool) {
	if err := turn.Sender.SetPresence(ctx, turn.ConversationID, typing); err != nil {
		slog.DebugContext(ctx, "presence update failed", "error", err)
	}
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) jitter() float64 {
	if e.Jitter != nil {
		return e.Jitter()
	}
	return rand.Float64()
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Executor) location(ctx context.Context, botID string) *time.Location {
	if e.Bots == nil {
		return time.UTC
	}
	bot, err := e.Bots.GetBot(ctx, botID)
	if err != nil {
		return time.UTC
	}
	return bot.Location()
}
