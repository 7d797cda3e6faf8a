package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	Env      string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL"`

	DB DBConfig

	WhatsApp WhatsAppConfig
	Telegram TelegramConfig
	Session  SessionConfig
	AI       AIConfig

	HTTPActionTimeout time.Duration `env:"HTTP_ACTION_TIMEOUT" envDefault:"15s"`
}

type DBConfig struct {
	Driver   string `env:"DB_DRIVER" envDefault:"sqlite"`
	Path     string `env:"DB_PATH" envDefault:"./gateway.db"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME" envDefault:"chatflow"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
}

// DSN returns the postgres connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode)
}

type WhatsAppConfig struct {
	AuthDir string `env:"WA_AUTH_DIR" envDefault:"./wa-auth"`
	PrintQR bool   `env:"PRINT_QR" envDefault:"false"`
}

type TelegramConfig struct {
	APIServer string `env:"TELEGRAM_API_SERVER"`
}

type SessionConfig struct {
	ReconnectDelay time.Duration `env:"RECONNECT_DELAY" envDefault:"3s"`
	SendRate       float64       `env:"SEND_RATE" envDefault:"2"`
	SendBurst      int           `env:"SEND_BURST" envDefault:"5"`
}

type AIConfig struct {
	APIKey        string        `env:"OPENAI_API_KEY"`
	BaseURL       string        `env:"OPENAI_BASE_URL"`
	Model         string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	HistoryWindow time.Duration `env:"AI_HISTORY_WINDOW" envDefault:"24h"`
	HistoryLimit  int           `env:"AI_HISTORY_LIMIT" envDefault:"50"`
	MaxIterations int           `env:"AI_MAX_ITERATIONS" envDefault:"5"`
}

func (c Config) IsDevelopment() bool { return c.Env == "development" }

func (c Config) IsProduction() bool { return c.Env == "production" }

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DB.Driver != "sqlite" && cfg.DB.Driver != "postgres" {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DB.Driver)
	}
	return &cfg, nil
}
