package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// Store backends selectable with STORE_BACKEND
const (
	BackendSheets     = "sheets"
	BackendClickHouse = "clickhouse"
	BackendMock       = "mock"
)

// ClickHouse holds the ClickHouse connection settings
type ClickHouse struct {
	Host     string `env:"CLICKHOUSE_HOST" env-default:"localhost"`
	Port     int    `env:"CLICKHOUSE_PORT" env-default:"9000" validate:"gt=0,lt=65536"`
	Database string `env:"CLICKHOUSE_DATABASE" env-default:"default"`
	User     string `env:"CLICKHOUSE_USER" env-default:"default"`
	Password string `env:"CLICKHOUSE_PASSWORD"`
	UseTLS   bool   `env:"CLICKHOUSE_USE_TLS" env-default:"false"`
}

// Config holds the application configuration
type Config struct {
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN" validate:"required"`

	// Notification target for saved records; only the mock backend may run without one
	ChannelID int64 `env:"CHANNEL_ID" validate:"required_unless=StoreBackend mock"`

	// Bot mode configuration
	WebhookMode bool   `env:"WEBHOOK_MODE" env-default:"false"`
	WebhookURL  string `env:"WEBHOOK_URL" validate:"required_if=WebhookMode true,omitempty,url"`
	Port        string `env:"PORT" env-default:"8080"`

	StoreBackend string `env:"STORE_BACKEND" env-default:"sheets" validate:"oneof=sheets clickhouse mock"`

	// Google Sheets
	SpreadsheetID    string `env:"SPREADSHEET_ID" validate:"required_if=StoreBackend sheets"`
	GoogleCredsJSON  string `env:"GOOGLE_CREDS_JSON" validate:"required_if=StoreBackend sheets"`
	DataSheet        string `env:"DATA_SHEET" env-default:"Data"`
	CredentialsSheet string `env:"CREDENTIALS_SHEET" env-default:"Credentials"`
	ODPSheet         string `env:"ODP_SHEET" env-default:"ODP"`

	ClickHouse ClickHouse

	// Supabase Storage; photos go to an in-memory store when unset in mock mode
	SupabaseURL    string `env:"SUPABASE_URL" validate:"required_unless=StoreBackend mock,omitempty,url"`
	SupabaseKey    string `env:"SUPABASE_KEY" validate:"required_unless=StoreBackend mock"`
	SupabaseBucket string `env:"SUPABASE_BUCKET" env-default:"photo"`

	SessionTimeout     time.Duration `env:"SESSION_TIMEOUT" env-default:"15m" validate:"gt=0"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT" env-default:"20s" validate:"gt=0"`
	LinkResolveTimeout time.Duration `env:"LINK_RESOLVE_TIMEOUT" env-default:"10s" validate:"gt=0"`
	NearestCount       int           `env:"ODP_NEAREST_COUNT" env-default:"5" validate:"gt=0"`
	RecordLimit        int           `env:"RECORD_LIMIT" env-default:"10" validate:"gt=0"`
	Timezone           string        `env:"TIMEZONE" env-default:"Asia/Jakarta"`

	LogLevel string `env:"LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
	LogFile  string `env:"LOG_FILE" env-default:"bot.log"`

	location *time.Location
}

// Location is the loaded TIMEZONE
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

var validate = validator.New()

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.location = loc
	return &cfg, nil
}

// LoadClickHouse reads only the ClickHouse settings
func LoadClickHouse() (*ClickHouse, error) {
	var cfg ClickHouse
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
