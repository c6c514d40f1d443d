package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/fluentbot/internal/config"
)

const validYAML = `
debug: true
server:
  port: 9090
database:
  host: db.internal
  user: fluentbot
  password: secret
  dbname: fluentbot
redis:
  address: redis.internal:6379
scraper:
  base_url: http://scraper:3000
indexer:
  base_url: http://indexer:3000
ingest:
  url_delay: 2s
  pool_size: 8
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadParsesYAMLAndFillsDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Address)
	assert.Equal(t, 2*time.Second, cfg.Ingest.URLDelay)
	assert.Equal(t, 8, cfg.Ingest.PoolSize)

	// Everything the file omits comes from defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 10*time.Second, cfg.Ingest.ProbeTimeout)
	assert.Equal(t, time.Hour, cfg.Ingest.ListJobTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Ingest.JobTimeout)
	assert.Equal(t, 3, cfg.Ingest.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Scraper.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, 50, cfg.Outbox.BatchSize)
	assert.Equal(t, "@every 1m", cfg.Scheduler.Sweep)
	assert.Equal(t, 2*time.Hour, cfg.Scheduler.StuckIndexingAge)
	assert.NotEmpty(t, cfg.Ingest.UserAgent)
}

func TestLoadEnvOverridesWin(t *testing.T) {
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("DB_HOST", "env-db")
	t.Setenv("SCRAPER_URL", "http://env-scraper:3000")
	t.Setenv("INGEST_URL_DELAY", "250ms")
	t.Setenv("SCHEDULER_ENABLED", "true")

	cfg, err := config.Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "env-db", cfg.Database.Host)
	assert.Equal(t, "http://env-scraper:3000", cfg.Scraper.BaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Ingest.URLDelay)
	assert.True(t, cfg.Scheduler.Enabled)
}

func TestLoadMissingFileUsesEnvAndDefaults(t *testing.T) {
	t.Setenv("DB_HOST", "env-db")
	t.Setenv("DB_USER", "fluentbot")
	t.Setenv("DB_NAME", "fluentbot")
	t.Setenv("SCRAPER_URL", "http://scraper:3000")
	t.Setenv("INDEXER_URL", "http://indexer:3000")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	require.NoError(t, err)
	assert.Equal(t, 8070, cfg.Server.Port)
	assert.Equal(t, "env-db", cfg.Database.Host)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := config.Load(writeConfig(t, "server: [not a map"))
	require.Error(t, err)
}

func TestLoadFailsValidationWithoutDatabase(t *testing.T) {
	_, err := config.Load(writeConfig(t, `
scraper:
  base_url: http://scraper:3000
indexer:
  base_url: http://indexer:3000
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.host")
}

func TestValidate(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{
			Server:   config.ServerConfig{Port: 8070},
			Database: config.DatabaseConfig{Host: "db", User: "u", DBName: "d"},
			Scraper:  config.ServiceConfig{BaseURL: "http://scraper"},
			Indexer:  config.ServiceConfig{BaseURL: "http://indexer"},
			Ingest:   config.IngestConfig{URLDelay: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"valid", func(*config.Config) {}, ""},
		{"missing port", func(c *config.Config) { c.Server.Port = 0 }, "server.port"},
		{"missing db user", func(c *config.Config) { c.Database.User = "" }, "database.user"},
		{"missing indexer", func(c *config.Config) { c.Indexer.BaseURL = "" }, "indexer.base_url"},
		{"zero url delay", func(c *config.Config) { c.Ingest.URLDelay = 0 }, "url_delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
