package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Youssef-Hatem/policylens/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.True(t, cfg.Server.EnableAPI)
	assert.True(t, cfg.Server.EnableWorker)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Degradation.TTL)
	assert.Equal(t, domain.ProviderOpenAI, cfg.Providers.Primary)
	assert.Equal(t, 5*time.Minute, cfg.Providers.BlacklistDuration)
	assert.InDelta(t, 95, cfg.Pipeline.RegenerationThreshold, 1e-9)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 3, cfg.ForceAnalyze.Limit)
}

func TestLoadDerivesHourlyQuota(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
quota:
  daily_tokens: 240000
  daily_requests: 480
`))
	require.NoError(t, err)

	assert.Equal(t, int64(10_000), cfg.Quota.HourlyTokens)
	assert.Equal(t, int64(20), cfg.Quota.HourlyRequests)
}

func TestLoadExplicitHourlyQuotaWins(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
quota:
  daily_tokens: 240000
  daily_requests: 480
  hourly_tokens: 50000
  hourly_requests: 99
`))
	require.NoError(t, err)

	assert.Equal(t, int64(50_000), cfg.Quota.HourlyTokens)
	assert.Equal(t, int64(99), cfg.Quota.HourlyRequests)
}

func TestLoadValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "invalid port",
			body: "server:\n  port: -1\n",
		},
		{
			name: "nothing enabled",
			body: "server:\n  enable_api: false\n  enable_worker: false\n",
		},
		{
			name: "unknown primary provider",
			body: "providers:\n  primary: acme\n",
		},
		{
			name: "inverted uncertainty band",
			body: "pipeline:\n  uncertainty_low: 0.8\n  uncertainty_high: 0.2\n",
		},
		{
			name: "hard limit below soft limit",
			body: "worker:\n  soft_time_limit: 600s\n  hard_time_limit: 540s\n",
		},
		{
			name: "zero force window",
			body: "force_analyze:\n  window: 0s\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}
