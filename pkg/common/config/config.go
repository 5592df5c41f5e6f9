package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerHost     string
	RelayPort      string
	ReconcilerPort string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers     []string
	KafkaGroupID     string
	ScrapeEventTopic string
	BatchEventTopic  string

	// Automation platform (outbound)
	AutomationWebhookURL  string
	AutomationSecret      string
	AutomationTimeout     time.Duration
	OutreachTemplatesPath string

	// Inbound relay hooks
	WebhookSecret string

	// Auth
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	JWTTTL      time.Duration

	// OIDC (optional operator SSO)
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string

	// Reconciliation
	StaleScanInterval time.Duration
	StaleThreshold    time.Duration
	ProgressCacheTTL  time.Duration

	// Rate limiting
	RateLimitRPS   int
	RateLimitBurst int
}

func Load() *Config {
	return &Config{
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		RelayPort:      getEnv("RELAY_PORT", "8080"),
		ReconcilerPort: getEnv("RECONCILER_PORT", "8081"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "leadpilot"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "leadpilot123"),
		PostgresDB:       getEnv("POSTGRES_DB", "leadpilot"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:     getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "leadpilot-platform"),
		ScrapeEventTopic: getEnv("SCRAPE_EVENT_TOPIC", "scrape.events"),
		BatchEventTopic:  getEnv("BATCH_EVENT_TOPIC", "batch.events"),

		AutomationWebhookURL:  getEnv("AUTOMATION_WEBHOOK_URL", ""),
		AutomationSecret:      getEnv("AUTOMATION_SECRET", ""),
		AutomationTimeout:     getDuration("AUTOMATION_TIMEOUT", 15*time.Second),
		OutreachTemplatesPath: getEnv("OUTREACH_TEMPLATES_PATH", ""),

		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),

		JWTSecret:   getEnv("JWT_SECRET", "change-me-before-production"),
		JWTIssuer:   getEnv("JWT_ISSUER", "leadpilot"),
		JWTAudience: getEnv("JWT_AUDIENCE", "leadpilot-console"),
		JWTTTL:      getDuration("JWT_TTL", 12*time.Hour),

		OIDCIssuer:       getEnv("OIDC_ISSUER", ""),
		OIDCClientID:     getEnv("OIDC_CLIENT_ID", ""),
		OIDCClientSecret: getEnv("OIDC_CLIENT_SECRET", ""),
		OIDCRedirectURL:  getEnv("OIDC_REDIRECT_URL", ""),

		StaleScanInterval: getDuration("STALE_SCAN_INTERVAL", time.Minute),
		StaleThreshold:    getDuration("STALE_THRESHOLD", 30*time.Minute),
		ProgressCacheTTL:  getDuration("PROGRESS_CACHE_TTL", 5*time.Minute),

		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 100),
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
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
