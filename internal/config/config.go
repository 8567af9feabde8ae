package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the whole application configuration, populated from
// environment variables.
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	SMTP      SMTPConfig
	Pipeline  PipelineConfig
	Retry     RetryConfig
	RateLimit RateLimitConfig
	Breaker   BreakerConfig
	Cache     CacheConfig
	Digest    DigestConfig
	Jobs      JobConfig
}

type AppConfig struct {
	Name        string
	Environment string // development, staging, production
	Port        string
	Version     string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

type RedisConfig struct {
	Host     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	AccessTokenExpiry int // minutes
}

type SMTPConfig struct {
	Host        string
	Port        string
	From        string
	Timeout     time.Duration // per transport call
	SendsPerSec int           // outbound pacing toward the relay
}

// PipelineConfig tunes the delivery worker pool and queue.
type PipelineConfig struct {
	Workers       int
	QueueCapacity int
	AcceptTimeout time.Duration // enqueue blocks at most this long
	RenderTimeout time.Duration
	DrainTimeout  time.Duration
}

// RetryConfig shapes the exponential backoff between attempts.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Jitter      float64 // randomization factor, 0.2 = ±20%
}

// RateLimitConfig holds fixed-window limits per operation class.
type RateLimitConfig struct {
	Window         time.Duration
	ReadLimit      int
	WriteLimit     int
	AdminLimit     int
	PublicLimit    int
	ViolationLimit int           // consecutive denies before a block
	ViolationTTL   time.Duration // window for counting violations
	BlockTTL       time.Duration
	CheckTimeout   time.Duration
}

// BreakerConfig tunes the outbound-mail circuit breaker.
type BreakerConfig struct {
	WindowSize       int           // calls tracked in the sliding window
	WindowDuration   time.Duration // age bound for window entries
	MinCalls         int           // below this the breaker never opens
	FailureRate      float64
	SlowRate         float64
	SlowThreshold    time.Duration
	Cooldown         time.Duration
	HalfOpenProbes   int
	ProbeSuccessRate float64
}

// CacheConfig bounds the template and rendered-output caches.
type CacheConfig struct {
	TemplateEntries  int
	TemplateTTL      time.Duration
	RenderedEntries  int
	RenderedTTL      time.Duration
	RenderedMaxBytes int // bodies above this are never cached
	UserInfoEntries  int
	UserInfoTTL      time.Duration
}

// DigestConfig sets the digest sweep schedule. Cron expressions are
// evaluated per user in the user's local timezone.
type DigestConfig struct {
	DailyCron   string // local time of the daily digest
	WeeklyCron  string // local time of the weekly digest
	PerUserTime time.Duration
	TopPerType  int
}

type JobConfig struct {
	RetryDeadLetterLimit int
	CleanupRetentionDays int
	DeadLetterExpiryDays int
}

// Load reads the configuration from environment variables. A local
// .env file is honored in development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "Notification Service"),
			Environment: getEnv("APP_ENV", "development"),
			Port:        getEnv("APP_PORT", "8080"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "notifications"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 25),
			MinConns: getEnvInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			AccessTokenExpiry: getEnvInt("JWT_ACCESS_EXPIRY", 15),
		},
		SMTP: SMTPConfig{
			Host:        getEnv("SMTP_HOST", "localhost"),
			Port:        getEnv("SMTP_PORT", "1025"),
			From:        getEnv("SMTP_FROM", "noreply@notifications.dev"),
			Timeout:     getEnvDuration("SMTP_TIMEOUT", 5*time.Second),
			SendsPerSec: getEnvInt("SMTP_SENDS_PER_SEC", 200),
		},
		Pipeline: PipelineConfig{
			Workers:       getEnvInt("PIPELINE_WORKERS", 32),
			QueueCapacity: getEnvInt("PIPELINE_QUEUE_CAPACITY", 10000),
			AcceptTimeout: getEnvDuration("PIPELINE_ACCEPT_TIMEOUT", 50*time.Millisecond),
			RenderTimeout: getEnvDuration("PIPELINE_RENDER_TIMEOUT", 200*time.Millisecond),
			DrainTimeout:  getEnvDuration("PIPELINE_DRAIN_TIMEOUT", 30*time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   getEnvDuration("RETRY_BASE_DELAY", 1*time.Second),
			Multiplier:  getEnvFloat("RETRY_MULTIPLIER", 2.0),
			MaxDelay:    getEnvDuration("RETRY_MAX_DELAY", 10*time.Second),
			Jitter:      getEnvFloat("RETRY_JITTER", 0.2),
		},
		RateLimit: RateLimitConfig{
			Window:         getEnvDuration("RATELIMIT_WINDOW", 60*time.Second),
			ReadLimit:      getEnvInt("RATELIMIT_READ", 100),
			WriteLimit:     getEnvInt("RATELIMIT_WRITE", 50),
			AdminLimit:     getEnvInt("RATELIMIT_ADMIN", 20),
			PublicLimit:    getEnvInt("RATELIMIT_PUBLIC", 20),
			ViolationLimit: getEnvInt("RATELIMIT_VIOLATIONS", 3),
			ViolationTTL:   getEnvDuration("RATELIMIT_VIOLATION_TTL", 5*time.Minute),
			BlockTTL:       getEnvDuration("RATELIMIT_BLOCK_TTL", 5*time.Minute),
			CheckTimeout:   getEnvDuration("RATELIMIT_CHECK_TIMEOUT", 20*time.Millisecond),
		},
		Breaker: BreakerConfig{
			WindowSize:       getEnvInt("BREAKER_WINDOW_SIZE", 100),
			WindowDuration:   getEnvDuration("BREAKER_WINDOW_DURATION", 60*time.Second),
			MinCalls:         getEnvInt("BREAKER_MIN_CALLS", 20),
			FailureRate:      getEnvFloat("BREAKER_FAILURE_RATE", 0.5),
			SlowRate:         getEnvFloat("BREAKER_SLOW_RATE", 0.8),
			SlowThreshold:    getEnvDuration("BREAKER_SLOW_THRESHOLD", 2*time.Second),
			Cooldown:         getEnvDuration("BREAKER_COOLDOWN", 60*time.Second),
			HalfOpenProbes:   getEnvInt("BREAKER_HALFOPEN_PROBES", 10),
			ProbeSuccessRate: getEnvFloat("BREAKER_PROBE_SUCCESS_RATE", 0.5),
		},
		Cache: CacheConfig{
			TemplateEntries:  getEnvInt("CACHE_TEMPLATE_ENTRIES", 1000),
			TemplateTTL:      getEnvDuration("CACHE_TEMPLATE_TTL", 24*time.Hour),
			RenderedEntries:  getEnvInt("CACHE_RENDERED_ENTRIES", 5000),
			RenderedTTL:      getEnvDuration("CACHE_RENDERED_TTL", 1*time.Hour),
			RenderedMaxBytes: getEnvInt("CACHE_RENDERED_MAX_BYTES", 100*1024),
			UserInfoEntries:  getEnvInt("CACHE_USERINFO_ENTRIES", 10000),
			UserInfoTTL:      getEnvDuration("CACHE_USERINFO_TTL", 5*time.Minute),
		},
		Digest: DigestConfig{
			DailyCron:   getEnv("DIGEST_DAILY_CRON", "0 8 * * *"),
			WeeklyCron:  getEnv("DIGEST_WEEKLY_CRON", "0 9 * * 1"),
			PerUserTime: getEnvDuration("DIGEST_PER_USER_TIMEOUT", 30*time.Second),
			TopPerType:  getEnvInt("DIGEST_TOP_PER_TYPE", 5),
		},
		Jobs: JobConfig{
			RetryDeadLetterLimit: getEnvInt("JOB_RETRY_DLQ_LIMIT", 100),
			CleanupRetentionDays: getEnvInt("JOB_CLEANUP_RETENTION_DAYS", 30),
			DeadLetterExpiryDays: getEnvInt("JOB_DLQ_EXPIRY_DAYS", 14),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for production safety.
func (c *Config) Validate() error {
	if c.App.Environment == "production" {
		if c.JWT.Secret == "your-secret-key-change-in-production" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD must be set in production")
		}
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("PIPELINE_WORKERS must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
