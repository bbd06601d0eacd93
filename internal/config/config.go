// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"
	LogFile   string // optional rotated log file

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Models and scoring
	KeystrokeModelPath string // YAML model descriptor
	MouseModelPath     string
	ProfilePath        string // scoring profile YAML, hot reloaded

	// Dependency calls
	ModelTimeout  time.Duration
	StoreTimeout  time.Duration
	RetryAttempts int

	// Session history
	HistoryTTL time.Duration

	// Tracing
	OTLPEndpoint string // empty disables export

	// HTTP surface
	RateLimitRPM int
	CORSOrigins  []string
}

const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultRateLimit     = 600
	DefaultRetryAttempts = 3
	DefaultModelTimeout  = 2 * time.Second
	DefaultStoreTimeout  = 3 * time.Second
	DefaultHistoryTTL    = 4 * time.Hour
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		LogFile:            os.Getenv("LOG_FILE"),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		KeystrokeModelPath: os.Getenv("KEYSTROKE_MODEL_PATH"),
		MouseModelPath:     os.Getenv("MOUSE_MODEL_PATH"),
		ProfilePath:        os.Getenv("PROFILE_PATH"),
		ModelTimeout:       getEnvDuration("MODEL_TIMEOUT", DefaultModelTimeout),
		StoreTimeout:       getEnvDuration("STORE_TIMEOUT", DefaultStoreTimeout),
		RetryAttempts:      int(getEnvInt64("RETRY_ATTEMPTS", DefaultRetryAttempts)),
		HistoryTTL:         getEnvDuration("HISTORY_TTL", DefaultHistoryTTL),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		CORSOrigins:        splitList(os.Getenv("CORS_ORIGINS")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1")
	}
	if c.ModelTimeout <= 0 || c.StoreTimeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT and STORE_TIMEOUT must be positive")
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must not be negative")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	if c.IsProduction() && (c.KeystrokeModelPath == "" || c.MouseModelPath == "") {
		return fmt.Errorf("KEYSTROKE_MODEL_PATH and MOUSE_MODEL_PATH are required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
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
