// Package config provides configuration management for the visitor tracker
// application. It handles loading configuration from environment variables
// with sensible defaults and validates the configuration to ensure the
// application starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Database Configuration:
//   - DATABASE_TYPE: Database type - "memory", "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./visitor_tracker.db)
//   - POSTGRES_HOST: PostgreSQL host (required if using PostgreSQL)
//   - POSTGRES_PORT: PostgreSQL port (default: 5432)
//   - POSTGRES_DB: PostgreSQL database name (required if using PostgreSQL)
//   - POSTGRES_USER: PostgreSQL username (required if using PostgreSQL)
//   - POSTGRES_PASSWORD: PostgreSQL password
//   - POSTGRES_SSL_MODE: PostgreSQL SSL mode (default: disable)
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Caching:
//   - CACHE_TTL: Visitor cache entry lifetime (default: 1h)
//
// Rate Limiting:
//   - RATE_LIMIT_ENABLED: Enable rate limiting (default: true)
//   - RATE_LIMIT_WINDOW: Rate limit time window (default: 60s)
//
// Activity Flushing:
//   - FLUSH_INTERVAL: Activity queue flush cadence (default: 30s)
//   - FLUSH_BATCH_SIZE: Maximum activities per store write (default: 100)
//
// Data Retention:
//   - RETENTION_DAYS: Days to keep non-consented visitors (default: 30)
//   - RETENTION_SCHEDULE: Cron expression for the retention sweep (default: "0 3 * * *")
//
// Enrichment:
//   - ENRICHMENT_PROVIDERS: JSON array of provider definitions, e.g.
//     [{"name":"clearbit","base_url":"https://api.example.com","api_key":"...","priority":1,"timeout":"5s"}]
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

// ProviderConfig describes one enrichment provider endpoint.
type ProviderConfig struct {
	Name     string `json:"name"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
	Priority int    `json:"priority"`
	Timeout  string `json:"timeout"`
}

// Config holds all configuration values for the visitor tracker application.
// All string fields correspond to environment variables that can be set to
// override the default values.
//
// The configuration is loaded using the Load() function and should be
// validated using the Validate() method before use.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)

	// Database configuration
	DatabaseType     string // Database type: "memory", "sqlite" or "postgres"
	DatabasePath     string // Path to SQLite database file
	PostgresHost     string // PostgreSQL host address
	PostgresPort     string // PostgreSQL port number
	PostgresDB       string // PostgreSQL database name
	PostgresUser     string // PostgreSQL username
	PostgresPassword string // PostgreSQL password
	PostgresSSLMode  string // PostgreSQL SSL mode (disable, require, etc.)

	// Redis configuration for caching and coordination
	RedisAddress  string // Redis server address (host:port)
	RedisPassword string // Redis authentication password
	RedisDB       string // Redis database number (0-15)
	RedisPoolSize string // Redis connection pool size

	// Caching configuration
	CacheTTL string // Visitor cache entry lifetime (e.g., "1h")

	// Rate limiting configuration
	RateLimitEnabled bool   // Whether rate limiting is enabled
	RateLimitWindow  string // Rate limiting time window (e.g., "60s", "1m")

	// Activity flush configuration
	FlushInterval  string // How often queued activities are written (e.g., "30s")
	FlushBatchSize string // Maximum activities per store write

	// Data retention configuration
	RetentionDays     string // Days before non-consented visitors expire
	RetentionSchedule string // Cron expression for the retention sweep

	// Enrichment provider configuration (JSON array)
	EnrichmentProviders string
}

// Load creates a new Config instance with values loaded from environment
// variables. If an environment variable is not set, the corresponding default
// value is used.
//
// This function does not validate the configuration - call Validate() on the
// returned Config to ensure all required values are properly set and valid.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Database configuration
		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./visitor_tracker.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "visitor_tracker"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		// Redis configuration
		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		// Caching configuration
		CacheTTL: getEnv("CACHE_TTL", "1h"),

		// Rate limiting configuration
		RateLimitEnabled: getBoolEnv("RATE_LIMIT_ENABLED", true),
		RateLimitWindow:  getEnv("RATE_LIMIT_WINDOW", "60s"),

		// Activity flush configuration
		FlushInterval:  getEnv("FLUSH_INTERVAL", "30s"),
		FlushBatchSize: getEnv("FLUSH_BATCH_SIZE", "100"),

		// Data retention configuration
		RetentionDays:     getEnv("RETENTION_DAYS", "30"),
		RetentionSchedule: getEnv("RETENTION_SCHEDULE", "0 3 * * *"),

		// Enrichment configuration
		EnrichmentProviders: getEnv("ENRICHMENT_PROVIDERS", "[]"),
	}
}

// Providers parses the ENRICHMENT_PROVIDERS JSON into provider definitions.
func (c *Config) Providers() ([]ProviderConfig, error) {
	var providers []ProviderConfig
	if err := json.Unmarshal([]byte(c.EnrichmentProviders), &providers); err != nil {
		return nil, fmt.Errorf("ENRICHMENT_PROVIDERS must be a JSON array: %w", err)
	}
	return providers, nil
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns a default value.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate performs comprehensive validation on the configuration to ensure
// all required fields are present and all values are valid.
//
// The application should call this method after loading configuration and
// before starting to ensure safe operation.
func (c *Config) Validate() error {
	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	// Validate database type
	switch c.DatabaseType {
	case "memory", "sqlite", "postgres", "postgresql":
		// Valid database types
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'memory', 'sqlite' or 'postgres'")
	}

	// Validate PostgreSQL config if using PostgreSQL
	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	// Validate Redis config
	if c.RedisAddress == "" {
		return fmt.Errorf("REDIS_ADDRESS is required")
	}
	if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
		return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
	}
	if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
		return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
	}

	// Validate cache TTL
	if ttl, err := time.ParseDuration(c.CacheTTL); err != nil || ttl <= 0 {
		return fmt.Errorf("CACHE_TTL must be a positive duration (e.g., '1h')")
	}

	// Validate rate limit config
	if c.RateLimitEnabled {
		if _, err := time.ParseDuration(c.RateLimitWindow); err != nil {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be a valid duration (e.g., '60s', '1m')")
		}
	}

	// Validate flush config
	if interval, err := time.ParseDuration(c.FlushInterval); err != nil || interval <= 0 {
		return fmt.Errorf("FLUSH_INTERVAL must be a positive duration (e.g., '30s')")
	}
	if size, err := strconv.Atoi(c.FlushBatchSize); err != nil || size < 1 {
		return fmt.Errorf("FLUSH_BATCH_SIZE must be a positive number")
	}

	// Validate retention config
	if days, err := strconv.Atoi(c.RetentionDays); err != nil || days < 1 {
		return fmt.Errorf("RETENTION_DAYS must be a positive number")
	}
	if _, err := cron.ParseStandard(c.RetentionSchedule); err != nil {
		return fmt.Errorf("RETENTION_SCHEDULE must be a valid cron expression: %w", err)
	}

	// Validate enrichment providers
	providers, err := c.Providers()
	if err != nil {
		return err
	}
	for _, p := range providers {
		if p.Name == "" || p.BaseURL == "" {
			return fmt.Errorf("each enrichment provider needs a name and base_url")
		}
		if p.Timeout != "" {
			if _, err := time.ParseDuration(p.Timeout); err != nil {
				return fmt.Errorf("enrichment provider %q has an invalid timeout: %w", p.Name, err)
			}
		}
	}

	return nil
}
