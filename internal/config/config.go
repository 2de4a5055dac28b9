// Package config provides environment-based configuration management.
// Every setting comes from an environment variable with a default.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Store drivers
const (
	StoreMariaDB = "mariadb"
	StoreMemory  = "memory"
)

// DBConfig holds database connection parameters
type DBConfig struct {
	Driver   string // mariadb or memory
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// RedisConfig holds Redis connection parameters. An empty Addr keeps dedup
// and conversation locks in process.
type RedisConfig struct {
	Addr     string // Format: host:port
	Password string
	DB       int
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Port           int
	Version        string
	LogLevel       string
	LogFormat      string
	Workers        int           // concurrent webhook payloads
	ProcessTimeout time.Duration // one payload's processing budget
	LockTTL        time.Duration // distributed conversation lock lease
	APIKey         string        // bearer key of the operator API
	EventsSecret   string        // ?secret_key= of /ws/events
	Timezone       string        // hotel timezone for dates
	MaxGuests      int
	HistorySize    int
	LanguagePacks  string // optional YAML override of the embedded packs
}

// TelegramConfig holds Telegram Bot API settings
type TelegramConfig struct {
	BotToken    string
	SecretToken string
	APIBase     string
}

// TwilioConfig holds the WhatsApp (Twilio) settings
type TwilioConfig struct {
	AccountSID    string
	AuthToken     string
	From          string // whatsapp:+1...
	APIBase       string
	PublicBaseURL string // external URL Twilio signs webhooks against
}

// InstagramConfig holds Graph API webhook and send settings
type InstagramConfig struct {
	AccessToken string
	AppSecret   string // For HMAC SHA256 signature validation
	VerifyToken string // For webhook verification handshake
	GraphBase   string
}

// OpenAIConfig holds the automated responder settings
type OpenAIConfig struct {
	APIKey           string
	BaseURL          string
	Model            string
	SystemPromptPath string
	Temperature      float64
	MaxTokens        int
}

// CalendarConfig holds the availability source. Without a calendar id the
// static blocked-date list is used.
type CalendarConfig struct {
	ID           string
	ClientID     string
	ClientSecret string
	RefreshToken string
	BaseURL      string
	TokenURL     string
	CacheTTL     time.Duration
	BlockedDates []string // YYYY-MM-DD, static oracle only
}

// SlackConfig holds operator notification settings
type SlackConfig struct {
	WebhookURL   string
	DashboardURL string
}

// RatesConfig holds nightly prices per guest
type RatesConfig struct {
	Standard int
	Deluxe   int
	Suite    int
}

// WatchdogConfig holds the audit-log purge settings
type WatchdogConfig struct {
	Schedule      string
	DiskPath      string
	DiskThreshold float64
	Retention     time.Duration
	BatchSize     int
}

// Config aggregates all configuration sections
type Config struct {
	DB        DBConfig
	Redis     RedisConfig
	App       AppConfig
	Telegram  TelegramConfig
	Twilio    TwilioConfig
	Instagram InstagramConfig
	OpenAI    OpenAIConfig
	Calendar  CalendarConfig
	Slack     SlackConfig
	Rates     RatesConfig
	Watchdog  WatchdogConfig
}

// LoadConfig reads configuration from environment variables and validates it
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	// Database Configuration
	cfg.DB.Driver = strings.ToLower(getEnv("STORE_DRIVER", StoreMariaDB))
	cfg.DB.Host = getEnv("DB_HOST", "concierge_db")
	cfg.DB.Port = getEnvAsInt("DB_PORT", 3306)
	cfg.DB.User = getEnv("DB_USER", "root")
	cfg.DB.Password = getEnv("DB_PASS", "")
	cfg.DB.Database = getEnv("DB_NAME", "hotel_concierge")

	// Redis Configuration
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", 0)

	// Application Configuration
	cfg.App.Port = getEnvAsInt("APP_PORT", 8080)
	cfg.App.Version = getEnv("APP_VERSION", "dev")
	cfg.App.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.App.LogFormat = getEnv("LOG_FORMAT", "json")
	cfg.App.Workers = getEnvAsInt("WORKERS", 16)
	cfg.App.ProcessTimeout = getEnvAsDuration("PROCESS_TIMEOUT", 2*time.Minute)
	cfg.App.LockTTL = getEnvAsDuration("LOCK_TTL", 2*time.Minute)
	cfg.App.APIKey = getEnv("OPERATOR_API_KEY", "")
	cfg.App.EventsSecret = getEnv("EVENTS_SECRET_KEY", "")
	cfg.App.Timezone = getEnv("HOTEL_TIMEZONE", "UTC")
	cfg.App.MaxGuests = getEnvAsInt("MAX_GUESTS", 10)
	cfg.App.HistorySize = getEnvAsInt("HISTORY_SIZE", 10)
	cfg.App.LanguagePacks = getEnv("LANGUAGE_PACKS", "")

	// Channels
	cfg.Telegram.BotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	cfg.Telegram.SecretToken = getEnv("TELEGRAM_SECRET_TOKEN", "")
	cfg.Telegram.APIBase = getEnv("TELEGRAM_API_BASE", "https://api.telegram.org")

	cfg.Twilio.AccountSID = getEnv("TWILIO_ACCOUNT_SID", "")
	cfg.Twilio.AuthToken = getEnv("TWILIO_AUTH_TOKEN", "")
	cfg.Twilio.From = getEnv("TWILIO_WHATSAPP_FROM", "")
	cfg.Twilio.APIBase = getEnv("TWILIO_API_BASE", "https://api.twilio.com")
	cfg.Twilio.PublicBaseURL = getEnv("PUBLIC_BASE_URL", "")

	cfg.Instagram.AccessToken = getEnv("IG_ACCESS_TOKEN", "")
	cfg.Instagram.AppSecret = getEnv("IG_APP_SECRET", "")
	cfg.Instagram.VerifyToken = getEnv("IG_VERIFY_TOKEN", "")
	cfg.Instagram.GraphBase = getEnv("IG_GRAPH_BASE", "https://graph.facebook.com")

	// Automated responder
	cfg.OpenAI.APIKey = getEnv("OPENAI_API_KEY", "")
	cfg.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1")
	cfg.OpenAI.Model = getEnv("OPENAI_MODEL", "gpt-4o-mini")
	cfg.OpenAI.SystemPromptPath = getEnv("OPENAI_SYSTEM_PROMPT", "")
	cfg.OpenAI.Temperature = getEnvAsFloat("OPENAI_TEMPERATURE", 0.4)
	cfg.OpenAI.MaxTokens = getEnvAsInt("OPENAI_MAX_TOKENS", 300)

	// Availability
	cfg.Calendar.ID = getEnv("GOOGLE_CALENDAR_ID", "")
	cfg.Calendar.ClientID = getEnv("GOOGLE_CLIENT_ID", "")
	cfg.Calendar.ClientSecret = getEnv("GOOGLE_CLIENT_SECRET", "")
	cfg.Calendar.RefreshToken = getEnv("GOOGLE_REFRESH_TOKEN", "")
	cfg.Calendar.BaseURL = getEnv("GOOGLE_CALENDAR_BASE", "https://www.googleapis.com/calendar/v3")
	cfg.Calendar.TokenURL = getEnv("GOOGLE_TOKEN_URL", "")
	cfg.Calendar.CacheTTL = getEnvAsDuration("AVAILABILITY_CACHE_TTL", time.Minute)
	cfg.Calendar.BlockedDates = getEnvAsList("BLOCKED_DATES")

	// Operator notifications
	cfg.Slack.WebhookURL = getEnv("SLACK_WEBHOOK_URL", "")
	cfg.Slack.DashboardURL = getEnv("DASHBOARD_URL", "")

	// Rates
	cfg.Rates.Standard = getEnvAsInt("RATE_STANDARD", 150)
	cfg.Rates.Deluxe = getEnvAsInt("RATE_DELUXE", 250)
	cfg.Rates.Suite = getEnvAsInt("RATE_SUITE", 400)

	// Watchdog
	cfg.Watchdog.Schedule = getEnv("WATCHDOG_SCHEDULE", "@every 10m")
	cfg.Watchdog.DiskPath = getEnv("WATCHDOG_DISK_PATH", "/")
	cfg.Watchdog.DiskThreshold = getEnvAsFloat("WATCHDOG_DISK_THRESHOLD", 70)
	cfg.Watchdog.Retention = time.Duration(getEnvAsInt("WEBHOOK_RETENTION_DAYS", 7)) * 24 * time.Hour
	cfg.Watchdog.BatchSize = getEnvAsInt("WATCHDOG_BATCH_SIZE", 1000)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects inconsistent settings
func (c *Config) Validate() error {
	var errs []error

	switch c.DB.Driver {
	case StoreMariaDB:
		if c.DB.Password == "" {
			errs = append(errs, errors.New("DB_PASS environment variable is required"))
		}
		// Dedup and conversation locks must be shared by every replica
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required with the mariadb store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMariaDB, StoreMemory, c.DB.Driver))
	}

	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT out of range: %d", c.App.Port))
	}
	if c.App.Workers < 1 {
		errs = append(errs, errors.New("WORKERS must be at least 1"))
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("HOTEL_TIMEZONE: %w", err))
	}

	// A channel is either fully configured or not at all
	if c.Twilio.AccountSID != "" && (c.Twilio.AuthToken == "" || c.Twilio.From == "") {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN and TWILIO_WHATSAPP_FROM are required with TWILIO_ACCOUNT_SID"))
	}
	if c.Instagram.AccessToken != "" && c.Instagram.VerifyToken == "" {
		errs = append(errs, errors.New("IG_VERIFY_TOKEN is required with IG_ACCESS_TOKEN"))
	}
	if c.Calendar.ID != "" && c.Calendar.RefreshToken == "" {
		errs = append(errs, errors.New("GOOGLE_REFRESH_TOKEN is required with GOOGLE_CALENDAR_ID"))
	}

	if c.Rates.Standard <= 0 || c.Rates.Deluxe <= 0 || c.Rates.Suite <= 0 {
		errs = append(errs, errors.New("room rates must be positive"))
	}
	if c.Watchdog.DiskThreshold <= 0 || c.Watchdog.DiskThreshold >= 100 {
		errs = append(errs, fmt.Errorf("WATCHDOG_DISK_THRESHOLD must be between 0 and 100, got %v", c.Watchdog.DiskThreshold))
	}

	return errors.Join(errs...)
}

// GetDSN returns the MariaDB connection string. Timestamps are read as UTC
// time.Time values.
func (c *DBConfig) GetDSN() string {
	dsn := mysql.NewConfig()
	dsn.User = c.User
	dsn.Passwd = c.Password
	dsn.Net = "tcp"
	dsn.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	dsn.DBName = c.Database
	dsn.ParseTime = true
	dsn.Loc = time.UTC
	return dsn.FormatDSN()
}

// getEnv reads environment variable with fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads environment variable as integer with fallback default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s", "2m")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
