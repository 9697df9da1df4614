package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Store      StoreConfig      `yaml:"store"`
	Redis      RedisConfig      `yaml:"redis"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Engagement EngagementConfig `yaml:"engagement"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	API        APIConfig        `yaml:"api"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                int    `yaml:"port" validate:"min=1,max=65535"`
	Host                string `yaml:"host"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// ReadTimeout returns the server read timeout as a duration
func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the server write timeout as a duration
func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// DatabaseConfig holds the Postgres connection pool settings
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the pool connection lifetime as a duration
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// StoreConfig selects the event store backend
type StoreConfig struct {
	Type string `yaml:"type" validate:"oneof=postgres memory"` // "postgres" or "memory"
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis address is configured
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// TrackingConfig holds token issuing and beacon ingestion settings
type TrackingConfig struct {
	BaseURL            string        `yaml:"base_url" validate:"required,url"`
	DefaultDestination string        `yaml:"default_destination" validate:"omitempty,url"`
	FallbackURL        string        `yaml:"fallback_url" validate:"required,url"`
	AllowedHosts       []string      `yaml:"allowed_hosts"`
	AllowedSchemes     []string      `yaml:"allowed_schemes"`
	PixelMode          string        `yaml:"pixel_mode" validate:"oneof=gif no_content"` // "gif" or "no_content"
	ResponseDeadlineMS int           `yaml:"response_deadline_ms" validate:"min=1"`
	AppendTimeoutMS    int           `yaml:"append_timeout_ms" validate:"min=1"`
	Retry              RetryConfig   `yaml:"retry"`
	Breaker            BreakerConfig `yaml:"breaker"`
}

// ResponseDeadline returns the hard beacon response deadline
func (c TrackingConfig) ResponseDeadline() time.Duration {
	return time.Duration(c.ResponseDeadlineMS) * time.Millisecond
}

// AppendTimeout returns the per-append store timeout
func (c TrackingConfig) AppendTimeout() time.Duration {
	return time.Duration(c.AppendTimeoutMS) * time.Millisecond
}

// RetryConfig controls background re-append of events the store rejected
type RetryConfig struct {
	QueueSize         int `yaml:"queue_size" validate:"min=1"`
	Workers           int `yaml:"workers" validate:"min=1"`
	InitialIntervalMS int `yaml:"initial_interval_ms"`
	MaxIntervalMS     int `yaml:"max_interval_ms"`
	MaxElapsedSeconds int `yaml:"max_elapsed_seconds"`
}

// InitialInterval returns the first backoff interval
func (c RetryConfig) InitialInterval() time.Duration {
	return time.Duration(c.InitialIntervalMS) * time.Millisecond
}

// MaxInterval returns the backoff interval ceiling
func (c RetryConfig) MaxInterval() time.Duration {
	return time.Duration(c.MaxIntervalMS) * time.Millisecond
}

// MaxElapsed returns how long a single event may be retried before it is dropped
func (c RetryConfig) MaxElapsed() time.Duration {
	return time.Duration(c.MaxElapsedSeconds) * time.Second
}

// BreakerConfig controls the circuit breaker around event appends
type BreakerConfig struct {
	MaxRequests         uint32 `yaml:"max_requests"`
	IntervalSeconds     int    `yaml:"interval_seconds"`
	TimeoutSeconds      int    `yaml:"timeout_seconds"`
	ConsecutiveFailures uint32 `yaml:"consecutive_failures" validate:"min=1"`
}

// Interval returns the closed-state counter reset interval
func (c BreakerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Timeout returns how long the breaker stays open
func (c BreakerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EngagementConfig holds scoring and recompute settings
type EngagementConfig struct {
	DedupeWindowSeconds int       `yaml:"dedupe_window_seconds" validate:"min=0"`
	ScoreCeiling        int       `yaml:"score_ceiling"`
	RecomputeMode       string    `yaml:"recompute_mode" validate:"oneof=inline local sqs"` // "inline", "local" or "sqs"
	QueueSize           int       `yaml:"queue_size" validate:"min=1"`
	SQS                 SQSConfig `yaml:"sqs"`
}

// DedupeWindow returns the clustering window for repeated beacon hits
func (c EngagementConfig) DedupeWindow() time.Duration {
	return time.Duration(c.DedupeWindowSeconds) * time.Second
}

// SQSConfig holds the recompute queue settings
type SQSConfig struct {
	QueueURL          string `yaml:"queue_url"`
	Region            string `yaml:"region"`
	WaitTimeSeconds   int32  `yaml:"wait_time_seconds"`
	MaxMessages       int32  `yaml:"max_messages"`
	VisibilityTimeout int32  `yaml:"visibility_timeout"`
	PublishTimeoutMS  int    `yaml:"publish_timeout_ms"`
}

// PublishTimeout returns the SendMessage timeout
func (c SQSConfig) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMS) * time.Millisecond
}

// ReconcileConfig holds the nightly rebuild job settings
type ReconcileConfig struct {
	Enabled         bool   `yaml:"enabled"`
	IntervalMinutes int    `yaml:"interval_minutes"`
	PageSize        int    `yaml:"page_size"`
	LockKey         string `yaml:"lock_key"`
	LockTTLMinutes  int    `yaml:"lock_ttl_minutes"`
}

// Interval returns the time between reconciliation runs
func (c ReconcileConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// LockTTL returns the distributed lock lease
func (c ReconcileConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// APIConfig holds dashboard/sender API settings
type APIConfig struct {
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
	CORSOrigins        []string `yaml:"cors_origins"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level     string `yaml:"level" validate:"oneof=debug info warn error"`
	Format    string `yaml:"format" validate:"oneof=json console"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on. Defaults to true.
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 5
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 10
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = "postgres"
	}
	// Tracking defaults
	if cfg.Tracking.BaseURL == "" {
		cfg.Tracking.BaseURL = "http://localhost:8080"
	}
	if cfg.Tracking.FallbackURL == "" {
		cfg.Tracking.FallbackURL = cfg.Tracking.DefaultDestination
	}
	if len(cfg.Tracking.AllowedSchemes) == 0 {
		cfg.Tracking.AllowedSchemes = []string{"https", "http"}
	}
	if cfg.Tracking.PixelMode == "" {
		cfg.Tracking.PixelMode = "gif"
	}
	if cfg.Tracking.ResponseDeadlineMS == 0 {
		cfg.Tracking.ResponseDeadlineMS = 150
	}
	if cfg.Tracking.AppendTimeoutMS == 0 {
		cfg.Tracking.AppendTimeoutMS = 2000
	}
	if cfg.Tracking.Retry.QueueSize == 0 {
		cfg.Tracking.Retry.QueueSize = 1024
	}
	if cfg.Tracking.Retry.Workers == 0 {
		cfg.Tracking.Retry.Workers = 2
	}
	if cfg.Tracking.Retry.InitialIntervalMS == 0 {
		cfg.Tracking.Retry.InitialIntervalMS = 200
	}
	if cfg.Tracking.Retry.MaxIntervalMS == 0 {
		cfg.Tracking.Retry.MaxIntervalMS = 10000
	}
	if cfg.Tracking.Retry.MaxElapsedSeconds == 0 {
		cfg.Tracking.Retry.MaxElapsedSeconds = 300
	}
	if cfg.Tracking.Breaker.MaxRequests == 0 {
		cfg.Tracking.Breaker.MaxRequests = 1
	}
	if cfg.Tracking.Breaker.IntervalSeconds == 0 {
		cfg.Tracking.Breaker.IntervalSeconds = 60
	}
	if cfg.Tracking.Breaker.TimeoutSeconds == 0 {
		cfg.Tracking.Breaker.TimeoutSeconds = 10
	}
	if cfg.Tracking.Breaker.ConsecutiveFailures == 0 {
		cfg.Tracking.Breaker.ConsecutiveFailures = 5
	}
	// Engagement defaults
	if cfg.Engagement.DedupeWindowSeconds == 0 {
		cfg.Engagement.DedupeWindowSeconds = 300
	}
	if cfg.Engagement.ScoreCeiling == 0 {
		cfg.Engagement.ScoreCeiling = 100
	}
	if cfg.Engagement.RecomputeMode == "" {
		cfg.Engagement.RecomputeMode = "local"
	}
	if cfg.Engagement.QueueSize == 0 {
		cfg.Engagement.QueueSize = 4096
	}
	if cfg.Engagement.SQS.Region == "" {
		cfg.Engagement.SQS.Region = "us-west-2"
	}
	if cfg.Engagement.SQS.WaitTimeSeconds == 0 {
		cfg.Engagement.SQS.WaitTimeSeconds = 20
	}
	if cfg.Engagement.SQS.MaxMessages == 0 {
		cfg.Engagement.SQS.MaxMessages = 10
	}
	if cfg.Engagement.SQS.VisibilityTimeout == 0 {
		cfg.Engagement.SQS.VisibilityTimeout = 60
	}
	if cfg.Engagement.SQS.PublishTimeoutMS == 0 {
		cfg.Engagement.SQS.PublishTimeoutMS = 5000
	}
	// Reconcile defaults
	if cfg.Reconcile.IntervalMinutes == 0 {
		cfg.Reconcile.IntervalMinutes = 24 * 60
	}
	if cfg.Reconcile.PageSize == 0 {
		cfg.Reconcile.PageSize = 500
	}
	if cfg.Reconcile.LockKey == "" {
		cfg.Reconcile.LockKey = "leadtrack:reconcile"
	}
	if cfg.Reconcile.LockTTLMinutes == 0 {
		cfg.Reconcile.LockTTLMinutes = 30
	}
	if cfg.API.RateLimitPerMinute == 0 {
		cfg.API.RateLimitPerMinute = 600
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("TRACKING_ALLOWED_HOSTS"); v != "" {
		cfg.Tracking.AllowedHosts = splitList(v)
	}
	if v := os.Getenv("SQS_RECOMPUTE_QUEUE_URL"); v != "" {
		cfg.Engagement.SQS.QueueURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	return cfg, nil
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Store.Type == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("invalid config: database.url is required when store.type is postgres")
	}
	if c.Engagement.RecomputeMode == "sqs" && c.Engagement.SQS.QueueURL == "" {
		return fmt.Errorf("invalid config: engagement.sqs.queue_url is required when recompute_mode is sqs")
	}
	if len(c.Tracking.AllowedHosts) == 0 {
		return fmt.Errorf("invalid config: tracking.allowed_hosts must list at least one host")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
