package models

import (
	"time"
)

// Bot is one tenant of the gateway with its own transport connection
type Bot struct {
	ID            string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name          string     `gorm:"type:varchar(255);not null" json:"name"`
	Platform      string     `gorm:"type:varchar(20);not null;default:'whatsapp'" json:"platform"`
	SystemPrompt  string     `gorm:"type:text" json:"system_prompt"`
	Timezone      string     `gorm:"type:varchar(64)" json:"timezone"`
	AIEnabled     bool       `gorm:"default:true" json:"ai_enabled"`
	TelegramToken string     `gorm:"type:varchar(255)" json:"-"`
	Status        string     `gorm:"type:varchar(20);default:'disconnected'" json:"status"`
	DeviceID      string     `gorm:"type:varchar(255)" json:"device_id"`
	ConnectedAt   *time.Time `json:"connected_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Bot) TableName() string {
	return "bots"
}

// Flow is the published graph of a bot
type Flow struct {
	ID          string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	BotID       string     `gorm:"uniqueIndex;type:varchar(64)" json:"bot_id"`
	Name        string     `gorm:"type:varchar(255)" json:"name"`
	Status      string     `gorm:"type:varchar(50)" json:"status"`
	Nodes       []FlowNode `gorm:"foreignKey:FlowID;constraint:OnDelete:CASCADE;" json:"nodes"`
	Edges       []FlowEdge `gorm:"foreignKey:FlowID;constraint:OnDelete:CASCADE;" json:"edges"`
	PublishedAt *time.Time `json:"published_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Flow) TableName() string {
	return "flows"
}

type FlowNode struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	FlowID    string    `gorm:"index;type:varchar(64)" json:"flow_id"`
	NodeID    string    `gorm:"type:varchar(255)" json:"node_id"` // editor node id
	Type      string    `gorm:"type:varchar(50)" json:"type"`
	PositionX float64   `json:"position_x"`
	PositionY float64   `json:"position_y"`
	Data      string    `gorm:"type:text" json:"data"` // node data JSON
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (FlowNode) TableName() string {
	return "flow_nodes"
}

type FlowEdge struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	FlowID       string `gorm:"index;type:varchar(64)" json:"flow_id"`
	EdgeID       string `gorm:"type:varchar(255)" json:"edge_id"`
	Source       string `gorm:"type:varchar(255)" json:"source"`
	Target       string `gorm:"type:varchar(255)" json:"target"`
	SourceHandle string `gorm:"type:varchar(255)" json:"source_handle"`
}

func (FlowEdge) TableName() string {
	return "flow_edges"
}

// Lead is a conversation of a bot, unique per (bot, conversation id)
type Lead struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	BotID          string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_lead_conversation" json:"bot_id"`
	ConversationID string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_lead_conversation" json:"conversation_id"`
	Name           string    `gorm:"type:varchar(255)" json:"name"`
	Email          string    `gorm:"type:varchar(255)" json:"email"`
	Phone          string    `gorm:"type:varchar(50)" json:"phone"`
	Notes          string    `gorm:"type:text" json:"notes"`
	Platform       string    `gorm:"type:varchar(20)" json:"platform"`
	LastActivityAt time.Time `gorm:"index" json:"last_activity_at"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Lead) TableName() string {
	return "leads"
}

// Message is the append-only conversation log
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	LeadID    uint      `gorm:"index;not null" json:"lead_id"`
	Content   string    `gorm:"type:text" json:"content"`
	Direction string    `gorm:"type:varchar(3);not null" json:"direction"` // in | out
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// LeadVariable is a value captured from the conversation
type LeadVariable struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	LeadID    uint      `gorm:"not null;uniqueIndex:idx_lead_variable" json:"lead_id"`
	Key       string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_lead_variable" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (LeadVariable) TableName() string {
	return "lead_variables"
}

type KnowledgeEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	BotID     string    `gorm:"index;type:varchar(64)" json:"bot_id"`
	Category  string    `gorm:"type:varchar(100)" json:"category"`
	Title     string    `gorm:"type:varchar(255)" json:"title"`
	Content   string    `gorm:"type:text" json:"content"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (KnowledgeEntry) TableName() string {
	return "knowledge_entries"
}

// Service is a bookable catalog item
type Service struct {
	ID              uint    `gorm:"primaryKey" json:"id"`
	BotID           string  `gorm:"index;type:varchar(64)" json:"bot_id"`
	Name            string  `gorm:"type:varchar(255);not null" json:"name"`
	Description     string  `gorm:"type:text" json:"description"`
	Price           float64 `json:"price"`
	Currency        string  `gorm:"type:varchar(10)" json:"currency"`
	DurationMinutes int     `gorm:"default:30" json:"duration_minutes"`
	Active          bool    `gorm:"default:true" json:"active"`
}

func (Service) TableName() string {
	return "services"
}

// ScheduleEntry is the opening window of one weekday, times as HH:MM
type ScheduleEntry struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	BotID   string `gorm:"index;type:varchar(64)" json:"bot_id"`
	Weekday int    `json:"weekday"`
	Open    string `gorm:"type:varchar(5)" json:"open"`
	Close   string `gorm:"type:varchar(5)" json:"close"`
}

func (ScheduleEntry) TableName() string {
	return "schedule_entries"
}

type Booking struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	BotID     string    `gorm:"index;type:varchar(64)" json:"bot_id"`
	LeadID    uint      `gorm:"index" json:"lead_id"`
	ServiceID uint      `json:"service_id"`
	StartAt   time.Time `gorm:"index" json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Notes     string    `gorm:"type:text" json:"notes"`
	Status    string    `gorm:"type:varchar(20);default:'confirmed'" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Booking) TableName() string {
	return "bookings"
}

// AutomationLog represents a log entry for automation execution
type AutomationLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	BotID          string    `gorm:"index;type:varchar(64)" json:"bot_id"`
	RuleID         string    `gorm:"type:varchar(64)" json:"rule_id"`
	ConversationID string    `gorm:"type:varchar(255)" json:"conversation_id"`
	ActionTaken    string    `gorm:"type:varchar(50)" json:"action_taken"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `gorm:"type:text" json:"error_message"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (AutomationLog) TableName() string {
	return "automation_logs"
}

// SystemSetting is a key/value override of the environment configuration
type SystemSetting struct {
	Key       string    `gorm:"primaryKey;type:varchar(100)" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}

// All lists every model in migration order.
func All() []any {
	return []any{
		&Bot{},
		&Flow{},
		&FlowNode{},
		&FlowEdge{},
		&Lead{},
		&Message{},
		&LeadVariable{},
		&KnowledgeEntry{},
		&Service{},
		&ScheduleEntry{},
		&Booking{},
		&AutomationLog{},
		&SystemSetting{},
	}
}
