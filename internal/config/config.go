package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port string
	Mode string

	// Database configuration
	DatabaseURL string

	// Redis configuration
	RedisURL string

	// Google Play configuration
	ServiceAccountJSON string

	// Pub/Sub push authentication
	PubSubAudience       string
	PubSubServiceAccount string

	// Brevo email configuration (operator alerts)
	BrevoAPIKey    string
	BrevoFromEmail string
	AlertEmail     string

	// Acknowledgment scheduler
	AckDeadlineMinutes int
	AckMaxAttempts     int

	// Signal processing
	SignalQueueSize      int
	SignalWorkers        int
	LedgerRetentionHours int
}

var AppConfig *Config

func InitConfig() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	AppConfig = &Config{
		Port:                 getEnv("PORT", "8080"),
		Mode:                 getEnv("GIN_MODE", "debug"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		RedisURL:             getEnv("REDIS_URL", "redis://localhost:6379/0"),
		ServiceAccountJSON:   getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		PubSubAudience:       getEnv("PUBSUB_AUDIENCE", ""),
		PubSubServiceAccount: getEnv("PUBSUB_SERVICE_ACCOUNT", ""),
		BrevoAPIKey:          getEnv("BREVO_API_KEY", ""),
		BrevoFromEmail:       getEnv("BREVO_FROM_EMAIL", ""),
		AlertEmail:           getEnv("ALERT_EMAIL", ""),
		AckDeadlineMinutes:   getEnvInt("ACK_DEADLINE_MINUTES", 4320), // 3 days
		AckMaxAttempts:       getEnvInt("ACK_MAX_ATTEMPTS", 5),
		SignalQueueSize:      getEnvInt("SIGNAL_QUEUE_SIZE", 256),
		SignalWorkers:        getEnvInt("SIGNAL_WORKERS", 8),
		LedgerRetentionHours: getEnvInt("LEDGER_RETENTION_HOURS", 72),
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
