// Package database persists bots, flows, leads and the scheduling catalog
// with gorm, and implements the collaborator contracts of the runtime.
package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"chatflow-gateway/internal/config"
	"chatflow-gateway/internal/domain"
	"chatflow-gateway/internal/models"
)

var ErrNotFound = domain.ErrNotFound

// Open connects to the configured database and migrates the schema.
func Open(cfg config.DBConfig, verbose bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite", "":
		dialector = sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	level := logger.Warn
	if verbose {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	slog.Info("database connected", "driver", cfg.Driver)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// SyncConfig lets system_settings rows override the AI configuration.
// Keys missing from the table are seeded from the environment.
func SyncConfig(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	settings := []struct {
		Key   string
		Value *string
	}{
		{"OPENAI_API_KEY", &cfg.AI.APIKey},
		{"OPENAI_BASE_URL", &cfg.AI.BaseURL},
		{"OPENAI_MODEL", &cfg.AI.Model},
	}

	for _, s := range settings {
		var setting models.SystemSetting
		err := db.WithContext(ctx).Where("key = ?", s.Key).First(&setting).Error
		switch {
		case err == nil:
			if setting.Value != "" {
				*s.Value = setting.Value
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			if *s.Value == "" {
				continue
			}
			if err := db.WithContext(ctx).Create(&models.SystemSetting{Key: s.Key, Value: *s.Value}).Error; err != nil {
				return fmt.Errorf("seed setting %s: %w", s.Key, err)
			}
		default:
			return fmt.Errorf("load setting %s: %w", s.Key, err)
		}
	}
	slog.InfoContext(ctx, "system settings synchronized")
	return nil
}
