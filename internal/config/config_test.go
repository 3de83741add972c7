package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WORKFLOW_RETRIES", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("CLASSIFIER_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Workflow.Retries)
	assert.Equal(t, time.Second, cfg.Workflow.InitialBackoff())
	assert.Equal(t, 30*time.Second, cfg.Workflow.MaxBackoff())
	assert.Equal(t, "@every 1m", cfg.Workflow.SweepSchedule)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Classifier.APIKey)
	assert.Equal(t, 30*time.Second, cfg.Classifier.Timeout())
	assert.Equal(t, time.Hour, cfg.Auth.AccessTokenTTL())
	assert.Equal(t, 30*time.Second, cfg.Workflow.RunLease())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WORKFLOW_RETRIES", "5")
	t.Setenv("WORKFLOW_RUN_RETENTION_HOURS", "24")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("POSTGRES_RUN_MIGRATIONS", "false")
	t.Setenv("SMTP_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Workflow.Retries)
	assert.Equal(t, 24*time.Hour, cfg.Workflow.RunRetention())
	assert.Equal(t, "0.0.0.0:9090", cfg.App.Addr())
	assert.False(t, cfg.Postgres.RunMigrations)
	assert.Equal(t, 587, cfg.Notification.SMTPPort)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"redis db", "REDIS_DB", "primary"},
		{"negative retries", "WORKFLOW_RETRIES", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
