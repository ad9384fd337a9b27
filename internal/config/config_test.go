package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfmarket-backend/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
database:
  host: localhost
  user: shelf
  database: shelfmarket
`))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "log", cfg.Notification.Transport)
	assert.Equal(t, 30*time.Second, cfg.Notification.BaseBackoff)
	assert.Equal(t, time.Hour, cfg.Notification.MaxBackoff)
	assert.Equal(t, 30, cfg.Trial.DefaultDays)
	assert.Equal(t, "0 0 6 * * *", cfg.Scheduler.TrialScan)
	assert.Equal(t, 6*time.Hour, cfg.Scheduler.StaleLockAfter)
	assert.Equal(t, 3, cfg.Scheduler.OverlapAlertAfter)
	assert.Equal(t, "postgres://shelf:@localhost:5432/shelfmarket?sslmode=disable", cfg.GetDatabaseConnectionString())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "memory")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("NOTIFICATION_TRANSPORT", "kafka")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("SCHEDULER_STALE_LOCK_AFTER", "90m")

	cfg, err := config.Load(writeConfig(t, `
server:
  port: 8081
scheduler:
  workers: 8
`))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Notification.Kafka.Brokers)
	assert.Equal(t, "notifications.v1", cfg.Notification.Kafka.Topic)
	assert.Equal(t, 90*time.Minute, cfg.Scheduler.StaleLockAfter)
	assert.Equal(t, 8, cfg.Scheduler.Workers)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
	}{
		{"postgres without host", config.Config{}},
		{"unknown storage", config.Config{Storage: config.StorageConfig{Type: "redis"}}},
		{"bad port", config.Config{Storage: config.StorageConfig{Type: "memory"}, Server: config.ServerConfig{Port: 70000}}},
		{"smtp without host", config.Config{
			Storage:      config.StorageConfig{Type: "memory"},
			Notification: config.NotificationConfig{Transport: "smtp", From: "shop@example.com"},
		}},
		{"sendgrid without key", config.Config{
			Storage:      config.StorageConfig{Type: "memory"},
			Notification: config.NotificationConfig{Transport: "sendgrid", From: "shop@example.com"},
		}},
		{"unknown transport", config.Config{
			Storage:      config.StorageConfig{Type: "memory"},
			Notification: config.NotificationConfig{Transport: "pigeon"},
		}},
		{"negative trial days", config.Config{
			Storage: config.StorageConfig{Type: "memory"},
			Trial:   config.TrialConfig{DefaultDays: -1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_DevConfig(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "config", "config.dev.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Notification.ClaimLease)
	assert.Equal(t, "127.0.0.1:8080", cfg.GetServerAddress())
}
