// Package config loads service configuration from a YAML file with
// environment variable overrides. A .env file is honored when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultServerPort      = 8070
	defaultServerTimeout   = 30 * time.Second
	defaultDatabasePort    = 5432
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
	defaultRedisAddress    = "localhost:6379"

	defaultProbeTimeout   = 10 * time.Second
	defaultClientTimeout  = 30 * time.Second
	defaultURLDelay       = 5 * time.Second
	defaultListJobTimeout = time.Hour
	defaultJobTimeout     = 2 * time.Minute
	defaultMaxAttempts    = 3
	defaultWorkerPool     = 4

	defaultOutboxPollInterval = 5 * time.Second
	defaultOutboxBatchSize    = 50
	defaultRefreshSweep       = "@every 1m"
	defaultStuckIndexingAge   = 2 * time.Hour
	defaultUserAgent          = "Mozilla/5.0 (compatible; FluentBot/1.0; +http://example.com)"
)

// Config is the root configuration for the service.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Scraper   ServiceConfig   `yaml:"scraper"`
	Indexer   ServiceConfig   `yaml:"indexer"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Storage   StorageConfig   `yaml:"storage"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds Redis connection settings for the job queue.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// ServiceConfig points at a remote HTTP collaborator.
type ServiceConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	// ProbeTimeout bounds the URL validator's HEAD request.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	// URLDelay is the throttling interval between URLs in a list run.
	URLDelay time.Duration `yaml:"url_delay"`
	// ListJobTimeout bounds a whole URL-list run, delays included.
	ListJobTimeout time.Duration `yaml:"list_job_timeout"`
	// JobTimeout bounds every other job type.
	JobTimeout time.Duration `yaml:"job_timeout"`
	// MaxAttempts is how many times a job is delivered before it is
	// dead-lettered.
	MaxAttempts int    `yaml:"max_attempts"`
	PoolSize    int    `yaml:"pool_size"`
	UserAgent   string `yaml:"user_agent"`
}

// StorageConfig locates the blob store for uploaded URL lists.
type StorageConfig struct {
	Dir string `yaml:"dir"`
}

// OutboxConfig tunes the remote-cleanup outbox dispatcher.
type OutboxConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
}

// SchedulerConfig tunes the refresh sweep.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
	// Sweep is a cron spec for how often due sources are re-queued.
	Sweep string `yaml:"sweep"`
	// StuckIndexingAge is how long a source may sit in indexing before the
	// sweep re-queues it.
	StuckIndexingAge time.Duration `yaml:"stuck_indexing_age"`
}

// Load reads the YAML file at path, applies defaults, then environment
// overrides. Env always wins.
func Load(path string) (*Config, error) {
	// .env files are optional; missing files are not an error.
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err == nil {
		if unmarshalErr := yaml.Unmarshal(data, cfg); unmarshalErr != nil {
			return nil, fmt.Errorf("parse config: %w", unmarshalErr)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg.setDefaults()
	cfg.applyEnv()

	if validateErr := cfg.Validate(); validateErr != nil {
		return nil, fmt.Errorf("invalid config: %w", validateErr)
	}
	return cfg, nil
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be positive")
	}
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}
	if c.Database.DBName == "" {
		return errors.New("database.dbname is required")
	}
	if c.Scraper.BaseURL == "" {
		return errors.New("scraper.base_url is required")
	}
	if c.Indexer.BaseURL == "" {
		return errors.New("indexer.base_url is required")
	}
	if c.Ingest.URLDelay <= 0 {
		return errors.New("ingest.url_delay must be positive")
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultServerPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = defaultServerTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = defaultServerTimeout
	}
	if c.Database.Port == 0 {
		c.Database.Port = defaultDatabasePort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = defaultMaxOpenConns
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = defaultMaxIdleConns
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = defaultConnMaxLifetime
	}
	if c.Redis.Address == "" {
		c.Redis.Address = defaultRedisAddress
	}
	if c.Scraper.Timeout == 0 {
		c.Scraper.Timeout = defaultClientTimeout
	}
	if c.Indexer.Timeout == 0 {
		c.Indexer.Timeout = defaultClientTimeout
	}
	if c.Ingest.ProbeTimeout == 0 {
		c.Ingest.ProbeTimeout = defaultProbeTimeout
	}
	if c.Ingest.URLDelay == 0 {
		c.Ingest.URLDelay = defaultURLDelay
	}
	if c.Ingest.ListJobTimeout == 0 {
		c.Ingest.ListJobTimeout = defaultListJobTimeout
	}
	if c.Ingest.JobTimeout == 0 {
		c.Ingest.JobTimeout = defaultJobTimeout
	}
	if c.Ingest.MaxAttempts == 0 {
		c.Ingest.MaxAttempts = defaultMaxAttempts
	}
	if c.Ingest.PoolSize == 0 {
		c.Ingest.PoolSize = defaultWorkerPool
	}
	if c.Ingest.UserAgent == "" {
		c.Ingest.UserAgent = defaultUserAgent
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "data/blobs"
	}
	if c.Outbox.PollInterval == 0 {
		c.Outbox.PollInterval = defaultOutboxPollInterval
	}
	if c.Outbox.BatchSize == 0 {
		c.Outbox.BatchSize = defaultOutboxBatchSize
	}
	if c.Scheduler.Sweep == "" {
		c.Scheduler.Sweep = defaultRefreshSweep
	}
	if c.Scheduler.StuckIndexingAge == 0 {
		c.Scheduler.StuckIndexingAge = defaultStuckIndexingAge
	}
}

func (c *Config) applyEnv() {
	setString(&c.Server.Host, "SERVER_HOST")
	setInt(&c.Server.Port, "SERVER_PORT")
	setBool(&c.Debug, "APP_DEBUG")

	setString(&c.Database.Host, "DB_HOST")
	setInt(&c.Database.Port, "DB_PORT")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.DBName, "DB_NAME")
	setString(&c.Database.SSLMode, "DB_SSLMODE")

	setString(&c.Redis.Address, "REDIS_ADDRESS")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")

	setString(&c.Scraper.BaseURL, "SCRAPER_URL")
	setString(&c.Indexer.BaseURL, "INDEXER_URL")
	setString(&c.Storage.Dir, "STORAGE_DIR")
	setDuration(&c.Ingest.URLDelay, "INGEST_URL_DELAY")
	setBool(&c.Scheduler.Enabled, "SCHEDULER_ENABLED")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1" || v == "yes"
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
