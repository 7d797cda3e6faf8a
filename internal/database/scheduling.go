package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"chatflow-gateway/internal/domain"
	"chatflow-gateway/internal/models"
)

const defaultServiceMinutes = 30

var ErrSlotTaken = errors.New("slot is not available")

func (s *Store) ListEntries(ctx context.Context, botID string) ([]domain.KnowledgeEntry, error) {
	var rows []models.KnowledgeEntry
	err := s.db.WithContext(ctx).Where("bot_id = ?", botID).Order("category ASC, id ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list knowledge: %w", err)
	}
	out := make([]domain.KnowledgeEntry, len(rows))
	for i, r := range rows {
		out[i] = domain.KnowledgeEntry{Category: r.Category, Title: r.Title, Content: r.Content}
	}
	return out, nil
}

func (s *Store) ListServices(ctx context.Context, botID string) ([]domain.Service, error) {
	var rows []models.Service
	err := s.db.WithContext(ctx).Where("bot_id = ? AND active = ?", botID, true).Order("name ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	out := make([]domain.Service, len(rows))
	for i, r := range rows {
		out[i] = toService(r)
	}
	return out, nil
}

func toService(r models.Service) domain.Service {
	return domain.Service{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		Price:           r.Price,
		Currency:        r.Currency,
		DurationMinutes: r.DurationMinutes,
	}
}

func (s *Store) GetSchedule(ctx context.Context, botID string) ([]domain.ScheduleEntry, error) {
	var rows []models.ScheduleEntry
	err := s.db.WithContext(ctx).Where("bot_id = ?", botID).Order("weekday ASC, open ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	out := make([]domain.ScheduleEntry, len(rows))
	for i, r := range rows {
		out[i] = domain.ScheduleEntry{Weekday: time.Weekday(r.Weekday), Open: r.Open, Close: r.Close}
	}
	return out, nil
}

func (s *Store) service(ctx context.Context, db *gorm.DB, botID string, serviceID uint) (models.Service, error) {
	var svc models.Service
	if serviceID == 0 {
		err := db.WithContext(ctx).Where("bot_id = ? AND active = ?", botID, true).Order("id ASC").First(&svc).Error
		if err != nil {
			return svc, notFound(err, "service")
		}
		return svc, nil
	}
	err := db.WithContext(ctx).First(&svc, "id = ? AND bot_id = ?", serviceID, botID).Error
	if err != nil {
		return svc, notFound(err, fmt.Sprintf("service %d", serviceID))
	}
	return svc, nil
}

// ListAvailableSlots walks the weekly opening windows for days days from
// from, in the bot's time zone, and returns the free service-length slots
// that start after from. serviceID 0 uses the bot's first service.
func (s *Store) ListAvailableSlots(ctx context.Context, botID string, serviceID uint, from time.Time, days int) ([]domain.Slot, error) {
	bot, err := s.GetBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	svc, err := s.service(ctx, s.db, botID, serviceID)
	if err != nil {
		return nil, err
	}
	schedule, err := s.GetSchedule(ctx, botID)
	if err != nil {
		return nil, err
	}
	length := time.Duration(svc.DurationMinutes) * time.Minute
	if length <= 0 {
		length = defaultServiceMinutes * time.Minute
	}

	loc := bot.Location()
	from = from.In(loc)
	until := from.AddDate(0, 0, days)
	var booked []models.Booking
	err = s.db.WithContext(ctx).
		Where("bot_id = ? AND status <> ? AND start_at < ? AND end_at > ?", botID, "cancelled", until.UTC(), from.UTC()).
		Find(&booked).Error
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	var slots []domain.Slot
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	for i := 0; i < days; i++ {
		date := day.AddDate(0, 0, i)
		for _, window := range schedule {
			if window.Weekday != date.Weekday() {
				continue
			}
			open, err1 := clockOn(date, window.Open)
			closing, err2 := clockOn(date, window.Close)
			if err1 != nil || err2 != nil {
				continue
			}
			for start := open; !start.Add(length).After(closing); start = start.Add(length) {
				end := start.Add(length)
				if !start.After(from) || overlaps(booked, start, end) {
					continue
				}
				slots = append(slots, domain.Slot{Start: start, End: end})
			}
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots, nil
}

// CreateBooking books req.Start for the service length, failing with
// ErrSlotTaken when it overlaps a live booking.
func (s *Store) CreateBooking(ctx context.Context, req domain.BookingRequest) (*domain.Booking, error) {
	var booking models.Booking
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		svc, err := s.service(ctx, tx, req.BotID, req.ServiceID)
		if err != nil {
			return err
		}
		length := time.Duration(svc.DurationMinutes) * time.Minute
		if length <= 0 {
			length = defaultServiceMinutes * time.Minute
		}
		start := req.Start.UTC()
		end := start.Add(length)

		var clashes int64
		err = tx.Model(&models.Booking{}).
			Where("bot_id = ? AND status <> ? AND start_at < ? AND end_at > ?", req.BotID, "cancelled", end, start).
			Count(&clashes).Error
		if err != nil {
			return fmt.Errorf("check bookings: %w", err)
		}
		if clashes > 0 {
			return ErrSlotTaken
		}

		booking = models.Booking{
			BotID:     req.BotID,
			LeadID:    req.LeadID,
			ServiceID: svc.ID,
			StartAt:   start,
			EndAt:     end,
			Name:      req.Name,
			Notes:     req.Notes,
			Status:    "confirmed",
		}
		if err := tx.Create(&booking).Error; err != nil {
			return fmt.Errorf("create booking: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &domain.Booking{
		ID:        booking.ID,
		ServiceID: booking.ServiceID,
		Start:     booking.StartAt,
		End:       booking.EndAt,
		Status:    booking.Status,
	}, nil
}

func clockOn(date time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location()), nil
}

func overlaps(bookings []models.Booking, start, end time.Time) bool {
	for _, b := range bookings {
		if b.StartAt.Before(end) && b.EndAt.After(start) {
			return true
		}
	}
	return false
}
