// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	// DBBusyTimeout bounds how long a writer waits for SQLite's write lock.
	DBBusyTimeout time.Duration

	Tutor     TutorConfig
	Provider  ProviderConfig
	Lock      LockConfig
	Analytics AnalyticsConfig
	RateLimit RateLimitConfig

	MaxRequestBodySize int64
}

// TutorConfig controls turn processing.
type TutorConfig struct {
	ContextWindow     int
	ReminderThreshold int
}

// ProviderConfig holds text-generation backend settings.
type ProviderConfig struct {
	Timeout       time.Duration
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	GeminiAPIKey  string
	GeminiModel   string
	GeneratorAddr string
}

// LockConfig selects the per-session turn lock driver.
type LockConfig struct {
	Driver        string // "memory" or "redis"
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// AnalyticsConfig controls the background analytics refresher.
type AnalyticsConfig struct {
	Enabled   bool
	QueueSize int
	// SessionRetention enables the stale session sweeper when > 0.
	SessionRetention time.Duration
	SweepInterval    time.Duration
}

// RateLimitConfig bounds chat requests per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		FrontendURL:   getEnv("FRONTEND_URL", ""),
		DBPath:        getEnv("DB_PATH", "./data/tutorhub.db"),
		DBBusyTimeout: getEnvDuration("DB_BUSY_TIMEOUT", 5*time.Second),
		Tutor: TutorConfig{
			ContextWindow:     getEnvInt("CONTEXT_WINDOW", 10),
			ReminderThreshold: getEnvInt("REMINDER_THRESHOLD", 20),
		},
		Provider: ProviderConfig{
			Timeout:       getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second),
			OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
			OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
			GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			GeneratorAddr: getEnv("GENERATOR_ADDR", ""),
		},
		Lock: LockConfig{
			Driver:        getEnv("LOCK_DRIVER", "memory"),
			TTL:           getEnvDuration("LOCK_TTL", 2*time.Minute),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
		},
		Analytics: AnalyticsConfig{
			Enabled:   getEnvBool("ANALYTICS_ENABLED", true),
			QueueSize: getEnvInt("ANALYTICS_QUEUE_SIZE", 256),

			SessionRetention: getEnvDuration("SESSION_RETENTION", 0),
			SweepInterval:    getEnvDuration("SWEEP_INTERVAL", time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Tutor.ContextWindow <= 0 {
		return fmt.Errorf("CONTEXT_WINDOW must be > 0")
	}
	if c.Tutor.ReminderThreshold < 0 {
		return fmt.Errorf("REMINDER_THRESHOLD must be >= 0")
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be > 0")
	}
	if c.DBBusyTimeout <= 0 {
		return fmt.Errorf("DB_BUSY_TIMEOUT must be > 0")
	}
	switch c.Lock.Driver {
	case "memory":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR cannot be empty when LOCK_DRIVER=redis")
		}
		if c.Lock.TTL <= c.Provider.Timeout {
			return fmt.Errorf("LOCK_TTL must exceed PROVIDER_TIMEOUT")
		}
	default:
		return fmt.Errorf("LOCK_DRIVER must be memory or redis, got %q", c.Lock.Driver)
	}
	if c.Analytics.QueueSize <= 0 {
		return fmt.Errorf("ANALYTICS_QUEUE_SIZE must be > 0")
	}
	if c.Analytics.SessionRetention > 0 && c.Analytics.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0 when SESSION_RETENTION is set")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
