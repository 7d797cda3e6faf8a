package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chatflow-gateway/internal/domain"
	"chatflow-gateway/internal/models"
	"chatflow-gateway/internal/session"
	"chatflow-gateway/internal/transport"
)

// Store is the gorm-backed implementation of the runtime collaborators.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var (
	_ domain.Bots          = (*Store)(nil)
	_ domain.Leads         = (*Store)(nil)
	_ domain.Knowledge     = (*Store)(nil)
	_ domain.Catalog       = (*Store)(nil)
	_ domain.Scheduling    = (*Store)(nil)
	_ domain.AutomationLog = (*Store)(nil)
	_ session.StatusStore  = (*Store)(nil)
)

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) DB() *gorm.DB { return s.db }

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func notFound(err error, what string) error {
	if isNotFound(err) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

type NewBot struct {
	Name          string `json:"name" binding:"required"`
	Platform      string `json:"platform"`
	SystemPrompt  string `json:"system_prompt"`
	Timezone      string `json:"timezone"`
	AIEnabled     *bool  `json:"ai_enabled"`
	TelegramToken string `json:"telegram_token"`
}

func (s *Store) CreateBot(ctx context.Context, req NewBot) (*models.Bot, error) {
	platform := transport.Platform(strings.ToLower(req.Platform))
	if platform == "" {
		platform = transport.PlatformWhatsApp
	}
	if platform != transport.PlatformWhatsApp && platform != transport.PlatformTelegram {
		return nil, fmt.Errorf("unsupported platform %q", req.Platform)
	}
	if platform == transport.PlatformTelegram && req.TelegramToken == "" {
		return nil, fmt.Errorf("telegram bots need a token")
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q", req.Timezone)
		}
	}

	aiEnabled := req.AIEnabled == nil || *req.AIEnabled
	bot := models.Bot{
		ID:            uuid.NewString(),
		Name:          req.Name,
		Platform:      string(platform),
		SystemPrompt:  req.SystemPrompt,
		Timezone:      req.Timezone,
		AIEnabled:     aiEnabled,
		TelegramToken: req.TelegramToken,
		Status:        string(session.StatusDisconnected),
	}
	// Create writes the column default for a false AIEnabled and reads it
	// back into bot, so the requested value is kept in aiEnabled.
	if err := s.db.WithContext(ctx).Create(&bot).Error; err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	if !aiEnabled {
		if err := s.db.WithContext(ctx).Model(&bot).Update("ai_enabled", false).Error; err != nil {
			return nil, fmt.Errorf("create bot: %w", err)
		}
		bot.AIEnabled = false
	}
	return &bot, nil
}

func (s *Store) FindBot(ctx context.Context, botID string) (*models.Bot, error) {
	var bot models.Bot
	if err := s.db.WithContext(ctx).First(&bot, "id = ?", botID).Error; err != nil {
		return nil, notFound(err, "bot "+botID)
	}
	return &bot, nil
}

func (s *Store) ListBots(ctx context.Context) ([]models.Bot, error) {
	var bots []models.Bot
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&bots).Error; err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	return bots, nil
}

func (s *Store) GetBot(ctx context.Context, botID string) (*domain.Bot, error) {
	bot, err := s.FindBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	return &domain.Bot{
		ID:            bot.ID,
		Name:          bot.Name,
		Platform:      bot.Platform,
		SystemPrompt:  bot.SystemPrompt,
		Timezone:      bot.Timezone,
		AIEnabled:     bot.AIEnabled,
		TelegramToken: bot.TelegramToken,
	}, nil
}

// SessionOptions returns the connect parameters stored for a bot.
func SessionOptions(bot models.Bot) session.Options {
	return session.Options{
		Platform: transport.Platform(bot.Platform),
		Token:    bot.TelegramToken,
	}
}

// SaveStatus records the latest session status on the bot row.
func (s *Store) SaveStatus(ctx context.Context, snap session.Snapshot) error {
	updates := map[string]any{
		"status":    string(snap.Status),
		"device_id": snap.DeviceID,
	}
	if snap.Status == session.StatusConnected {
		at := snap.UpdatedAt
		if at.IsZero() {
			at = s.now()
		}
		updates["connected_at"] = at
	}
	err := s.db.WithContext(ctx).Model(&models.Bot{}).Where("id = ?", snap.BotID).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("save status of %s: %w", snap.BotID, err)
	}
	return nil
}

func (s *Store) LogAutomation(ctx context.Context, ev domain.AutomationEvent) error {
	entry := models.AutomationLog{
		BotID:          ev.BotID,
		RuleID:         ev.RuleID,
		ConversationID: ev.ConversationID,
		ActionTaken:    ev.Action,
		Success:        ev.Success,
		ErrorMessage:   ev.Error,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("log automation: %w", err)
	}
	return nil
}

// ListAutomationLogs returns the newest entries first; an empty botID
// lists every bot.
func (s *Store) ListAutomationLogs(ctx context.Context, botID string, limit int) ([]models.AutomationLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit)
	if botID != "" {
		q = q.Where("bot_id = ?", botID)
	}
	var logs []models.AutomationLog
	if err := q.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list automation logs: %w", err)
	}
	return logs, nil
}

func (s *Store) ListSettings(ctx context.Context) ([]models.SystemSetting, error) {
	var settings []models.SystemSetting
	if err := s.db.WithContext(ctx).Order("key ASC").Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return settings, nil
}

// SaveSetting upserts one override. It takes effect on the next start.
func (s *Store) SaveSetting(ctx context.Context, key, value string) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&models.SystemSetting{Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}
