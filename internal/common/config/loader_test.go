package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
camunda:
  broker_address: localhost:26500
database:
  postgres:
    host: localhost
    database: receipts
    user: receipts
  redis:
    address: localhost:6379
donations:
  base_url: https://donations.example.test
zk:
  sidecar_url: http://localhost:7070
workers:
  receipt-request-response:
    enabled: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.App.HTTPAddress)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)
	assert.Equal(t, "subscription-receipt-continuation", cfg.Camunda.ContinuationProcessID)
	assert.Equal(t, 7*24*time.Hour, GetDuration(cfg.Receipts.Lifespan))
	assert.Equal(t, cfg.Receipts.Lifespan, cfg.Receipts.StateTTL)
	assert.Equal(t, "receipt-request-attempts", cfg.Receipts.AuditIndex)

	worker := GetWorkerConfig(cfg, "receipt-request-response")
	assert.True(t, worker.Enabled)
	assert.Equal(t, 5, worker.MaxJobsActive)
	assert.Equal(t, 30000, worker.Timeout)
	assert.Equal(t, 3, worker.MaxRetries)
}

func TestLoadFromFile_ExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("TEST_DONATIONS_URL", "https://env.example.test")

	body := minimalConfig + `
logging:
  level: debug
`
	body = strings.Replace(body, "https://donations.example.test", "${TEST_DONATIONS_URL}", 1)

	cfg, err := LoadFromFile(writeConfig(t, body))
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.test", cfg.Donations.BaseURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		replace string
		with    string
		wantErr string
	}{
		{"missing broker", "broker_address: localhost:26500", "broker_address: \"\"", "camunda.broker_address"},
		{"missing donations", "base_url: https://donations.example.test", "base_url: \"\"", "donations.base_url"},
		{"missing sidecar", "sidecar_url: http://localhost:7070", "sidecar_url: \"\"", "zk.sidecar_url"},
		{"missing redis", "address: localhost:6379", "address: \"\"", "database.redis.address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, strings.Replace(minimalConfig, tt.replace, tt.with, 1)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFile_SNSRequiresTopic(t *testing.T) {
	body := minimalConfig + `
notifications:
  sns:
    enabled: true
`
	_, err := LoadFromFile(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic_arn")
}

func TestIsWorkerEnabled_DefaultsToTrue(t *testing.T) {
	cfg := &Config{Workers: map[string]WorkerConfig{"off": {Enabled: false}}}
	assert.False(t, IsWorkerEnabled(cfg, "off"))
	assert.True(t, IsWorkerEnabled(cfg, "unknown"))
}
