package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	LogLevel string

	// PublicBaseURL is the externally reachable origin of this service. Webhook
	// callbacks and the storefront script point back at it.
	PublicBaseURL string

	DBDriver   string
	DBPath     string
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	DBSSLMode  string

	WhatsAppAPIURL string
	WhatsAppAPIKey string

	LightfunnelsAPIURL string
	ShopifyAPIVersion  string

	GoogleClientID     string
	GoogleClientSecret string

	OpenAIAPIKey string
	OpenAIModel  string

	QueueConcurrency  int
	QueuePollInterval time.Duration
	QueueMaxAttempts  int
	QueueBaseBackoff  time.Duration

	ReplyLookback time.Duration
	OTPExpiry     time.Duration
	OTPCodeLength int
	HTTPTimeout   time.Duration
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: Error loading .env file")
	}

	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		DBDriver:   getEnv("DB_DRIVER", "sqlite"),
		DBPath:     getEnv("DB_PATH", "./automations.db"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "automations"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		WhatsAppAPIURL: strings.TrimRight(getEnv("WHATSAPP_API_URL", "http://localhost:8081"), "/"),
		WhatsAppAPIKey: getEnv("WHATSAPP_API_KEY", ""),

		LightfunnelsAPIURL: getEnv("LIGHTFUNNELS_API_URL", "https://services.lightfunnels.com/api/v2"),
		ShopifyAPIVersion:  getEnv("SHOPIFY_API_VERSION", "2024-10"),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),

		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		QueueConcurrency:  getEnvInt("QUEUE_CONCURRENCY", 5),
		QueuePollInterval: getEnvDuration("QUEUE_POLL_INTERVAL", 5*time.Second),
		QueueMaxAttempts:  getEnvInt("QUEUE_MAX_ATTEMPTS", 5),
		QueueBaseBackoff:  getEnvDuration("QUEUE_BASE_BACKOFF", 30*time.Second),

		ReplyLookback: getEnvDuration("REPLY_LOOKBACK", 48*time.Hour),
		OTPExpiry:     getEnvDuration("OTP_EXPIRY", 10*time.Minute),
		OTPCodeLength: getEnvInt("OTP_CODE_LENGTH", 6),
		HTTPTimeout:   getEnvDuration("HTTP_TIMEOUT", 15*time.Second),
	}
}

// WebhookBaseURL is the prefix external platforms call back into.
func (c *Config) WebhookBaseURL() string {
	return c.PublicBaseURL + "/webhooks"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Printf("Warning: invalid integer for %s=%q, using %d", key, value, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		log.Printf("Warning: invalid duration for %s=%q, using %s", key, value, fallback)
		return fallback
	}
	return d
}
