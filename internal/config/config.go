// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Database settings
	DatabaseURL string

	// NATS settings (optional; absence disables stream resumption)
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// LLM settings
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	DefaultChatModel string

	// Turn settings
	TurnTimeout time.Duration

	// Entitlements (daily turn caps by user type)
	GuestDailyMessages   int
	RegularDailyMessages int

	// Transport rate limiting (burst guard; distinct from the daily entitlement)
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Model pricing catalog (best-effort enrichment)
	CatalogURL string
	CatalogTTL time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/chatplatform"),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		DefaultChatModel: getEnv("DEFAULT_CHAT_MODEL", "gpt-4o"),

		// Turn
		TurnTimeout: getDurationEnv("TURN_TIMEOUT", 60*time.Second),

		// Entitlements
		GuestDailyMessages:   getIntEnv("GUEST_DAILY_MESSAGES", 20),
		RegularDailyMessages: getIntEnv("REGULAR_DAILY_MESSAGES", 100),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Pricing catalog
		CatalogURL: getEnv("MODEL_CATALOG_URL", "https://models.dev/api.json"),
		CatalogTTL: getDurationEnv("MODEL_CATALOG_TTL", 24*time.Hour),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
