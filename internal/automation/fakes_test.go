package automation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatflow-gateway/internal/ai"
	"chatflow-gateway/internal/domain"
	"chatflow-gateway/internal/transport"
)

type sent struct {
	Kind    string
	To      string
	Text    string
	Options []string
	URL     string
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []sent
	presence []bool
	failText string
}

func (f *fakeSender) SendText(_ context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failText != "" && text == f.failText {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, sent{Kind: "text", To: to, Text: text})
	return nil
}

func (f *fakeSender) SendMedia(_ context.Context, to string, kind transport.MediaKind, url, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{Kind: string(kind), To: to, Text: caption, URL: url})
	return nil
}

func (f *fakeSender) SendMenu(_ context.Context, to, text string, options []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{Kind: "menu", To: to, Text: text, Options: options})
	return nil
}

func (f *fakeSender) SetPresence(_ context.Context, _ string, typing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence = append(f.presence, typing)
	return nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		out = append(out, s.Text)
	}
	return out
}

type storedMessage struct {
	LeadID    uint
	Content   string
	Direction domain.Direction
}

type memLeads struct {
	mu       sync.Mutex
	leads    map[string]uint
	messages []storedMessage
	vars     map[uint]map[string]string
	details  map[uint]domain.LeadDetails
}

func newMemLeads() *memLeads {
	return &memLeads{
		leads:   map[string]uint{},
		vars:    map[uint]map[string]string{},
		details: map[uint]domain.LeadDetails{},
	}
}

func (m *memLeads) UpsertLead(_ context.Context, botID, conversationID, _, _ string) (uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := botID + "/" + conversationID
	if id, ok := m.leads[key]; ok {
		return id, nil
	}
	id := uint(len(m.leads) + 1)
	m.leads[key] = id
	return id, nil
}

func (m *memLeads) AppendMessage(_ context.Context, leadID uint, content string, dir domain.Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, storedMessage{LeadID: leadID, Content: content, Direction: dir})
	return nil
}

func (m *memLeads) RecentHistory(_ context.Context, leadID uint, _ time.Time, limit int) ([]domain.HistoryMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.HistoryMessage
	for _, msg := range m.messages {
		if msg.LeadID == leadID {
			out = append(out, domain.HistoryMessage{Direction: msg.Direction, Content: msg.Content})
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memLeads) Variables(_ context.Context, leadID uint) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for k, v := range m.vars[leadID] {
		out[k] = v
	}
	return out, nil
}

func (m *memLeads) SetVariable(_ context.Context, leadID uint, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vars[leadID] == nil {
		m.vars[leadID] = map[string]string{}
	}
	m.vars[leadID][key] = value
	return nil
}

func (m *memLeads) SaveLeadDetails(_ context.Context, leadID uint, d domain.LeadDetails) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details[leadID] = d
	return nil
}

type fakeBots struct {
	bots map[string]*domain.Bot
}

func (f *fakeBots) GetBot(_ context.Context, botID string) (*domain.Bot, error) {
	if b, ok := f.bots[botID]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("bot %s: %w", botID, domain.ErrNotFound)
}

type fakeResponder struct {
	answer string
	err    error
	turns  []ai.Turn
}

func (f *fakeResponder) Respond(_ context.Context, t ai.Turn) (string, error) {
	f.turns = append(f.turns, t)
	return f.answer, f.err
}

type memLog struct {
	mu     sync.Mutex
	events []domain.AutomationEvent
}

func (m *memLog) LogAutomation(_ context.Context, ev domain.AutomationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

type fakeScheduling struct {
	slots    []domain.Slot
	bookings []domain.BookingRequest
}

func (f *fakeScheduling) ListAvailableSlots(context.Context, string, uint, time.Time, int) ([]domain.Slot, error) {
	return f.slots, nil
}

func (f *fakeScheduling) CreateBooking(_ context.Context, req domain.BookingRequest) (*domain.Booking, error) {
	f.bookings = append(f.bookings, req)
	return &domain.Booking{ID: 1, ServiceID: req.ServiceID, Start: req.Start, End: req.Start.Add(30 * time.Minute), Status: "confirmed"}, nil
}

func (f *fakeScheduling) GetSchedule(context.Context, string) ([]domain.ScheduleEntry, error) {
	return nil, nil
}
