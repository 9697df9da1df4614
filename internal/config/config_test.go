package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"

database:
  url: "postgres://localhost/leadtrack?sslmode=disable"

tracking:
  base_url: "https://t.example.com"
  default_destination: "https://www.example.com"
  fallback_url: "https://www.example.com/oops"
  allowed_hosts: ["example.com", "partner.io"]
  pixel_mode: "no_content"
  response_deadline_ms: 100

engagement:
  dedupe_window_seconds: 60
  score_ceiling: 10
  recompute_mode: "sqs"
  sqs:
    queue_url: "https://sqs.us-west-2.amazonaws.com/123/recompute"

reconcile:
  enabled: true
  interval_minutes: 30
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "postgres://localhost/leadtrack?sslmode=disable", cfg.Database.URL)

	assert.Equal(t, "https://t.example.com", cfg.Tracking.BaseURL)
	assert.Equal(t, []string{"example.com", "partner.io"}, cfg.Tracking.AllowedHosts)
	assert.Equal(t, "no_content", cfg.Tracking.PixelMode)
	assert.Equal(t, 100*time.Millisecond, cfg.Tracking.ResponseDeadline())

	assert.Equal(t, time.Minute, cfg.Engagement.DedupeWindow())
	assert.Equal(t, 10, cfg.Engagement.ScoreCeiling)
	assert.Equal(t, "sqs", cfg.Engagement.RecomputeMode)

	assert.True(t, cfg.Reconcile.Enabled)
	assert.Equal(t, 30*time.Minute, cfg.Reconcile.Interval())

	require.NoError(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	configPath := writeConfig(t, `
tracking:
  default_destination: "https://www.example.com"
  allowed_hosts: ["example.com"]
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Type)
	assert.Equal(t, "https://www.example.com", cfg.Tracking.FallbackURL)
	assert.Equal(t, []string{"https", "http"}, cfg.Tracking.AllowedSchemes)
	assert.Equal(t, "gif", cfg.Tracking.PixelMode)
	assert.Equal(t, 150*time.Millisecond, cfg.Tracking.ResponseDeadline())
	assert.Equal(t, 2*time.Second, cfg.Tracking.AppendTimeout())
	assert.Equal(t, 5*time.Minute, cfg.Engagement.DedupeWindow())
	assert.Equal(t, 100, cfg.Engagement.ScoreCeiling)
	assert.Equal(t, "local", cfg.Engagement.RecomputeMode)
	assert.Equal(t, 24*time.Hour, cfg.Reconcile.Interval())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redact())
}

func TestLoadFromEnv(t *testing.T) {
	configPath := writeConfig(t, `
store:
  type: "memory"
tracking:
  default_destination: "https://www.example.com"
  allowed_hosts: ["example.com"]
`)

	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REDIS_ADDR", "localhost:6380")
	t.Setenv("TRACKING_BASE_URL", "https://track.example.com")
	t.Setenv("TRACKING_ALLOWED_HOSTS", "example.com, shop.example.org ,")
	t.Setenv("SQS_RECOMPUTE_QUEUE_URL", "https://sqs/queue")
	t.Setenv("PORT", "9191")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, "localhost:6380", cfg.Redis.Addr)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "https://track.example.com", cfg.Tracking.BaseURL)
	assert.Equal(t, []string{"example.com", "shop.example.org"}, cfg.Tracking.AllowedHosts)
	assert.Equal(t, "https://sqs/queue", cfg.Engagement.SQS.QueueURL)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{
			Store: StoreConfig{Type: "memory"},
			Tracking: TrackingConfig{
				DefaultDestination: "https://www.example.com",
				AllowedHosts:       []string{"example.com"},
			},
		}
		applyDefaults(cfg)
		return cfg
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("postgres without url", func(t *testing.T) {
		cfg := base()
		cfg.Store.Type = "postgres"
		assert.Error(t, cfg.Validate())
	})

	t.Run("sqs without queue url", func(t *testing.T) {
		cfg := base()
		cfg.Engagement.RecomputeMode = "sqs"
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown recompute mode", func(t *testing.T) {
		cfg := base()
		cfg.Engagement.RecomputeMode = "carrier-pigeon"
		assert.Error(t, cfg.Validate())
	})

	t.Run("no allowed hosts", func(t *testing.T) {
		cfg := base()
		cfg.Tracking.AllowedHosts = nil
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing fallback", func(t *testing.T) {
		cfg := base()
		cfg.Tracking.FallbackURL = ""
		assert.Error(t, cfg.Validate())
	})
}
