package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Storage      StorageConfig      `yaml:"storage"`
	Log          LogConfig          `yaml:"log"`
	SMTP         SMTPConfig         `yaml:"smtp"`
	Notification NotificationConfig `yaml:"notification"`
	Trial        TrialConfig        `yaml:"trial"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
}

// ServerConfig contains admin HTTP server settings
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"SERVER_HOST"`
	Port            int           `yaml:"port" envconfig:"SERVER_PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SERVER_SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string `yaml:"host" envconfig:"DB_HOST"`
	Port         int    `yaml:"port" envconfig:"DB_PORT"`
	User         string `yaml:"user" envconfig:"DB_USER"`
	Password     string `yaml:"password" envconfig:"DB_PASSWORD"`
	Database     string `yaml:"database" envconfig:"DB_NAME"`
	SSLMode      string `yaml:"ssl_mode" envconfig:"DB_SSL_MODE"`
	MaxOpenConns int    `yaml:"max_open_conns" envconfig:"DB_MAX_OPEN_CONNS"`
	TxMaxRetries int    `yaml:"tx_max_retries" envconfig:"DB_TX_MAX_RETRIES"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Type         string `yaml:"type" envconfig:"STORAGE_TYPE"` // "postgres" or "memory"
	EnsureSchema bool   `yaml:"ensure_schema" envconfig:"STORAGE_ENSURE_SCHEMA"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`   // "debug", "info", "warn", "error"
	Format string `yaml:"format" envconfig:"LOG_FORMAT"` // "json" or "text"
}

// SMTPConfig contains SMTP transport settings
type SMTPConfig struct {
	Host     string `yaml:"host" envconfig:"SMTP_HOST"`
	Port     int    `yaml:"port" envconfig:"SMTP_PORT"`
	User     string `yaml:"user" envconfig:"SMTP_USER"`
	Password string `yaml:"password" envconfig:"SMTP_PASSWORD"`
}

// NotificationConfig contains the durable dispatch queue and transport settings
type NotificationConfig struct {
	Transport   string         `yaml:"transport" envconfig:"NOTIFICATION_TRANSPORT"` // "smtp", "sendgrid", "kafka" or "log"
	From        string         `yaml:"from" envconfig:"NOTIFICATION_FROM"`
	FromName    string         `yaml:"from_name" envconfig:"NOTIFICATION_FROM_NAME"`
	AdminEmail  string         `yaml:"admin_email" envconfig:"ADMIN_EMAIL"`
	MaxAttempts int            `yaml:"max_attempts" envconfig:"NOTIFICATION_MAX_ATTEMPTS"`
	BaseBackoff time.Duration  `yaml:"base_backoff" envconfig:"NOTIFICATION_BASE_BACKOFF"`
	MaxBackoff  time.Duration  `yaml:"max_backoff" envconfig:"NOTIFICATION_MAX_BACKOFF"`
	BatchSize   int            `yaml:"batch_size" envconfig:"NOTIFICATION_BATCH_SIZE"`
	ClaimLease  time.Duration  `yaml:"claim_lease" envconfig:"NOTIFICATION_CLAIM_LEASE"`
	SendGrid    SendGridConfig `yaml:"sendgrid"`
	Kafka       KafkaConfig    `yaml:"kafka"`
}

// SendGridConfig contains SendGrid API settings
type SendGridConfig struct {
	APIKey string `yaml:"api_key" envconfig:"SENDGRID_API_KEY"`
}

// KafkaConfig contains settings for publishing notification events
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" envconfig:"KAFKA_BROKERS"`
	Topic    string   `yaml:"topic" envconfig:"KAFKA_TOPIC"`
	ClientID string   `yaml:"client_id" envconfig:"KAFKA_CLIENT_ID"`
}

// TrialConfig contains trial booking defaults
type TrialConfig struct {
	DefaultDays int `yaml:"default_days" envconfig:"TRIAL_DEFAULT_DAYS"`
}

// SchedulerConfig contains cron schedule and run-guard settings
type SchedulerConfig struct {
	TrialScan            string        `yaml:"trial_scan" envconfig:"SCHEDULER_TRIAL_SCAN"`
	ContractActivation   string        `yaml:"contract_activation" envconfig:"SCHEDULER_CONTRACT_ACTIVATION"`
	NotificationDelivery string        `yaml:"notification_delivery" envconfig:"SCHEDULER_NOTIFICATION_DELIVERY"`
	StaleLockAfter       time.Duration `yaml:"stale_lock_after" envconfig:"SCHEDULER_STALE_LOCK_AFTER"`
	OverlapAlertAfter    int           `yaml:"overlap_alert_after" envconfig:"SCHEDULER_OVERLAP_ALERT_AFTER"`
	Workers              int           `yaml:"workers" envconfig:"SCHEDULER_WORKERS"`
}

// Load reads configuration from a YAML file, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(configPath string) (*Config, error) {
	var cfg Config

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate fills defaults and checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	c.Storage.Type = strings.ToLower(c.Storage.Type)
	if c.Storage.Type == "" {
		c.Storage.Type = "postgres"
	}
	switch c.Storage.Type {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage type: %s", c.Storage.Type)
	}
	if c.Database.TxMaxRetries == 0 {
		c.Database.TxMaxRetries = 3
	}

	if err := c.validateNotification(); err != nil {
		return err
	}

	if c.Trial.DefaultDays == 0 {
		c.Trial.DefaultDays = 30
	}
	if c.Trial.DefaultDays < 0 {
		return fmt.Errorf("trial default days must not be negative")
	}

	// Scheduler defaults
	if c.Scheduler.TrialScan == "" {
		c.Scheduler.TrialScan = "0 0 6 * * *" // 6 AM UTC
	}
	if c.Scheduler.ContractActivation == "" {
		c.Scheduler.ContractActivation = "0 30 5 * * *" // 5:30 AM UTC
	}
	if c.Scheduler.NotificationDelivery == "" {
		c.Scheduler.NotificationDelivery = "0 * * * * *" // every minute
	}
	if c.Scheduler.StaleLockAfter == 0 {
		c.Scheduler.StaleLockAfter = 6 * time.Hour
	}
	if c.Scheduler.OverlapAlertAfter == 0 {
		c.Scheduler.OverlapAlertAfter = 3
	}
	if c.Scheduler.Workers == 0 {
		c.Scheduler.Workers = 4
	}

	return nil
}

func (c *Config) validateNotification() error {
	n := &c.Notification
	n.Transport = strings.ToLower(n.Transport)
	if n.Transport == "" {
		n.Transport = "log"
	}
	switch n.Transport {
	case "smtp":
		if c.SMTP.Host == "" {
			return fmt.Errorf("SMTP host is required")
		}
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			return fmt.Errorf("invalid SMTP port: %d", c.SMTP.Port)
		}
		if n.From == "" {
			return fmt.Errorf("notification sender address is required")
		}
	case "sendgrid":
		if n.SendGrid.APIKey == "" {
			return fmt.Errorf("SendGrid API key is required")
		}
		if n.From == "" {
			return fmt.Errorf("notification sender address is required")
		}
	case "kafka":
		if len(n.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required")
		}
		if n.Kafka.Topic == "" {
			n.Kafka.Topic = "notifications.v1"
		}
	case "log":
	default:
		return fmt.Errorf("unknown notification transport: %s", n.Transport)
	}

	if n.FromName == "" {
		n.FromName = "Regalmarkt"
	}
	if n.MaxAttempts == 0 {
		n.MaxAttempts = 5
	}
	if n.BaseBackoff == 0 {
		n.BaseBackoff = 30 * time.Second
	}
	if n.MaxBackoff == 0 {
		n.MaxBackoff = time.Hour
	}
	if n.BatchSize == 0 {
		n.BatchSize = 50
	}
	if n.ClaimLease == 0 {
		n.ClaimLease = 10 * time.Minute
	}
	return nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the admin HTTP server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
