package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"clinicbook/internal/models"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Booking    BookingConfig    `yaml:"booking"`
	Reminders  ReminderConfig   `yaml:"reminders"`
	Messaging  MessagingConfig  `yaml:"messaging"`
	API        APIConfig        `yaml:"api"`
	Tenants    []models.Tenant  `yaml:"tenants"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig is optional; without an address scope locks stay in process.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type BookingConfig struct {
	CountryCode  string        `yaml:"country_code"`
	StoreTimeout time.Duration `yaml:"store_timeout"`
	LockTimeout  time.Duration `yaml:"lock_timeout"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
}

type ReminderConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	MaxAttempts   int           `yaml:"max_attempts"`
	SendTimeout   time.Duration `yaml:"send_timeout"`
	Workers       int           `yaml:"workers"`
	BatchSize     int           `yaml:"batch_size"`
}

const (
	MessagingWebhook = "webhook"
	MessagingLog     = "log"
)

type MessagingConfig struct {
	Driver     string        `yaml:"driver"`
	WebhookURL string        `yaml:"webhook_url"`
	AuthToken  string        `yaml:"auth_token"`
	Timeout    time.Duration `yaml:"timeout"`
	RPS        float64       `yaml:"rps"`
	Burst      int           `yaml:"burst"`
	MaxRetries int           `yaml:"max_retries"`
}

// APIConfig controls the HTTP booking API.
type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

// APIClientKey is one caller of the API. An empty Tenants list grants access
// to every tenant.
type APIClientKey struct {
	Key     string   `yaml:"key"`
	Name    string   `yaml:"name"`
	Tenants []string `yaml:"tenants"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func Load(configPath string) (*Config, error) {
	// load .env when present
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// expand environment variables before parsing
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate checks the configuration and prepares tenants for use.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	switch c.Messaging.Driver {
	case MessagingLog:
	case MessagingWebhook:
		if c.Messaging.WebhookURL == "" {
			return errors.New("messaging.webhook_url is required for the webhook driver")
		}
	default:
		return fmt.Errorf("unknown messaging driver %q", c.Messaging.Driver)
	}

	if c.API.Enabled && c.API.Auth.Enabled {
		if len(c.API.Auth.APIKeys) == 0 {
			return errors.New("api.auth.api_keys is required when api auth is enabled")
		}
		for _, k := range c.API.Auth.APIKeys {
			if strings.TrimSpace(k.Key) == "" {
				return fmt.Errorf("api key '%s' is empty", k.Name)
			}
		}
	}

	if c.Backup.Enabled && c.Backup.StoragePath == "" {
		return errors.New("backup.storage_path is required when backups are enabled")
	}

	return ValidateTenants(c.Tenants)
}

// ValidateTenants checks ids and time zones and parses business hours.
func ValidateTenants(tenants []models.Tenant) error {
	if len(tenants) == 0 {
		return errors.New("at least one tenant is required")
	}
	ids := make(map[string]bool)
	for i := range tenants {
		t := &tenants[i]
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("tenant '%s' has an empty id", t.Name)
		}
		if ids[t.ID] {
			return fmt.Errorf("duplicate tenant id found: %s", t.ID)
		}
		ids[t.ID] = true
		for _, s := range t.Services {
			if s.Duration < 0 || s.Duration > models.MaxBookingDuration {
				return fmt.Errorf("tenant %s: service '%s' has invalid duration %d", t.ID, s.Name, s.Duration)
			}
		}
		if err := t.Prepare(); err != nil {
			return fmt.Errorf("tenant %s: invalid timezone %q: %w", t.ID, t.TimeZone, err)
		}
	}
	return nil
}

// Tenant returns the configured tenant with the given id.
func (c *Config) Tenant(id string) (*models.Tenant, bool) {
	for i := range c.Tenants {
		if c.Tenants[i].ID == id {
			return &c.Tenants[i], true
		}
	}
	return nil, false
}

func (c *Config) applyDefaults() {
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Enabled && c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "X-API-Key"
	}
	if c.Backup.Interval <= 0 {
		c.Backup.Interval = 24 * time.Hour
	}

	if c.Booking.CountryCode == "" {
		c.Booking.CountryCode = models.DefaultCountryCode
	}
	if c.Booking.StoreTimeout <= 0 {
		c.Booking.StoreTimeout = models.DefaultStoreTimeout
	}
	if c.Booking.LockTimeout <= 0 {
		c.Booking.LockTimeout = models.DefaultStoreTimeout
	}
	if c.Booking.LockTTL <= 0 {
		c.Booking.LockTTL = models.DefaultLockTTL
	}

	if c.Reminders.PollInterval <= 0 {
		c.Reminders.PollInterval = models.DefaultReminderPollInterval
	}
	if c.Reminders.RetryInterval <= 0 {
		c.Reminders.RetryInterval = models.DefaultReminderRetryInterval
	}
	if c.Reminders.MaxAttempts <= 0 {
		c.Reminders.MaxAttempts = models.DefaultMaxReminderAttempts
	}
	if c.Reminders.SendTimeout <= 0 {
		c.Reminders.SendTimeout = models.DefaultSendTimeout
	}
	if c.Reminders.Workers <= 0 {
		c.Reminders.Workers = 4
	}
	if c.Reminders.BatchSize <= 0 {
		c.Reminders.BatchSize = 100
	}

	if c.Messaging.Driver == "" {
		c.Messaging.Driver = MessagingLog
	}
	if c.Messaging.Timeout <= 0 {
		c.Messaging.Timeout = models.DefaultSendTimeout
	}
	if c.Messaging.RPS <= 0 {
		c.Messaging.RPS = 5
	}
	if c.Messaging.Burst <= 0 {
		c.Messaging.Burst = 1
	}
	if c.Messaging.MaxRetries < 0 {
		c.Messaging.MaxRetries = 0
	}
}
