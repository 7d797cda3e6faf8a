// Package domain holds the records and collaborator contracts shared by
// the runtime packages. Implementations live in internal/database.
package domain

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Direction of a logged message.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Bot is the per-bot default configuration used outside rule execution.
type Bot struct {
	ID            string
	Name          string
	Platform      string
	SystemPrompt  string
	Timezone      string
	AIEnabled     bool
	TelegramToken string
}

// Location returns the bot's time zone, UTC when unset or invalid.
func (b Bot) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type HistoryMessage struct {
	Direction Direction
	Content   string
	CreatedAt time.Time
}

type KnowledgeEntry struct {
	Category string
	Title    string
	Content  string
}

type Service struct {
	ID              uint    `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	Price           float64 `json:"price"`
	Currency        string  `json:"currency,omitempty"`
	DurationMinutes int     `json:"durationMinutes"`
}

type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type BookingRequest struct {
	BotID     string
	LeadID    uint
	ServiceID uint
	Start     time.Time
	Name      string
	Notes     string
}

type Booking struct {
	ID        uint      `json:"id"`
	ServiceID uint      `json:"serviceId"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Status    string    `json:"status"`
}

type ScheduleEntry struct {
	Weekday time.Weekday `json:"weekday"`
	Open    string       `json:"open"`
	Close   string       `json:"close"`
}

// LeadDetails are contact facts saved by the assistant.
type LeadDetails struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// AutomationEvent records the execution of one rule.
type AutomationEvent struct {
	BotID          string
	RuleID         string
	ConversationID string
	Action         string
	Success        bool
	Error          string
}

type Bots interface {
	GetBot(ctx context.Context, botID string) (*Bot, error)
}

type Leads interface {
	UpsertLead(ctx context.Context, botID, conversationID, name, platform string) (uint, error)
	AppendMessage(ctx context.Context, leadID uint, content string, dir Direction) error
	RecentHistory(ctx context.Context, leadID uint, since time.Time, limit int) ([]HistoryMessage, error)
	Variables(ctx context.Context, leadID uint) (map[string]string, error)
	SetVariable(ctx context.Context, leadID uint, key, value string) error
	SaveLeadDetails(ctx context.Context, leadID uint, details LeadDetails) error
}

type Knowledge interface {
	ListEntries(ctx context.Context, botID string) ([]KnowledgeEntry, error)
}

type Catalog interface {
	ListServices(ctx context.Context, botID string) ([]Service, error)
}

type Scheduling interface {
	ListAvailableSlots(ctx context.Context, botID string, serviceID uint, from time.Time, days int) ([]Slot, error)
	CreateBooking(ctx context.Context, req BookingRequest) (*Booking, error)
	GetSchedule(ctx context.Context, botID string) ([]ScheduleEntry, error)
}

type AutomationLog interface {
	LogAutomation(ctx context.Context, ev AutomationEvent) error
}
