package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chatflow-gateway/internal/domain"
	"chatflow-gateway/internal/models"
)

// UpsertLead returns the lead of (botID, conversationID), creating it on
// first contact. The display name is refreshed when a new one is known.
func (s *Store) UpsertLead(ctx context.Context, botID, conversationID, name, platform string) (uint, error) {
	now := s.now().UTC()
	lead := models.Lead{
		BotID:          botID,
		ConversationID: conversationID,
		Name:           name,
		Platform:       platform,
		LastActivityAt: now,
	}
	updates := []string{"last_activity_at"}
	if name != "" {
		updates = append(updates, "name")
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bot_id"}, {Name: "conversation_id"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(&lead).Error
	if err != nil {
		return 0, fmt.Errorf("upsert lead: %w", err)
	}

	// The id reported for an upsert that updated is driver dependent.
	var existing models.Lead
	err = s.db.WithContext(ctx).Select("id").
		Where("bot_id = ? AND conversation_id = ?", botID, conversationID).
		First(&existing).Error
	if err != nil {
		return 0, notFound(err, "lead")
	}
	return existing.ID, nil
}

func (s *Store) AppendMessage(ctx context.Context, leadID uint, content string, dir domain.Direction) error {
	msg := models.Message{
		LeadID:    leadID,
		Content:   content,
		Direction: string(dir),
		CreatedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// RecentHistory returns up to limit messages newer than since, oldest first.
func (s *Store) RecentHistory(ctx context.Context, leadID uint, since time.Time, limit int) ([]domain.HistoryMessage, error) {
	var rows []models.Message
	err := s.db.WithContext(ctx).
		Where("lead_id = ? AND created_at >= ?", leadID, since.UTC()).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}

	out := make([]domain.HistoryMessage, len(rows))
	for i, m := range rows {
		out[len(rows)-1-i] = domain.HistoryMessage{
			Direction: domain.Direction(m.Direction),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
	}
	return out, nil
}

func (s *Store) Variables(ctx context.Context, leadID uint) (map[string]string, error) {
	var rows []models.LeadVariable
	if err := s.db.WithContext(ctx).Where("lead_id = ?", leadID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("lead variables: %w", err)
	}
	vars := make(map[string]string, len(rows))
	for _, v := range rows {
		vars[v.Key] = v.Value
	}
	return vars, nil
}

func (s *Store) SetVariable(ctx context.Context, leadID uint, key, value string) error {
	v := models.LeadVariable{LeadID: leadID, Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "lead_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&v).Error
	if err != nil {
		return fmt.Errorf("set variable %s: %w", key, err)
	}
	return nil
}

// SaveLeadDetails stores the non-empty fields on the lead and mirrors them
// as variables so flows can reference them.
func (s *Store) SaveLeadDetails(ctx context.Context, leadID uint, d domain.LeadDetails) error {
	fields := map[string]string{
		"name":  d.Name,
		"email": d.Email,
		"phone": d.Phone,
		"notes": d.Notes,
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{}
		for k, v := range fields {
			if v != "" {
				updates[k] = v
			}
		}
		if len(updates) == 0 {
			return nil
		}
		res := tx.Model(&models.Lead{}).Where("id = ?", leadID).Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("save lead details: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("lead %d: %w", leadID, ErrNotFound)
		}
		for k, v := range updates {
			row := models.LeadVariable{LeadID: leadID, Key: k, Value: v.(string)}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "lead_id"}, {Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("save lead variable %s: %w", k, err)
			}
		}
		return nil
	})
}

func (s *Store) ListLeads(ctx context.Context, botID string, limit int) ([]models.Lead, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var leads []models.Lead
	err := s.db.WithContext(ctx).Where("bot_id = ?", botID).
		Order("last_activity_at DESC").Limit(limit).Find(&leads).Error
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	return leads, nil
}

func (s *Store) FindLead(ctx context.Context, botID string, leadID uint) (*models.Lead, error) {
	var lead models.Lead
	if err := s.db.WithContext(ctx).First(&lead, "id = ? AND bot_id = ?", leadID, botID).Error; err != nil {
		return nil, notFound(err, "lead")
	}
	return &lead, nil
}

// ListMessages returns the conversation of a lead oldest first.
func (s *Store) ListMessages(ctx context.Context, botID string, leadID uint) ([]models.Message, error) {
	if _, err := s.FindLead(ctx, botID, leadID); err != nil {
		return nil, err
	}
	var msgs []models.Message
	if err := s.db.WithContext(ctx).Where("lead_id = ?", leadID).Order("created_at ASC, id ASC").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}
