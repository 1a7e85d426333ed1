package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port               string
	MetricsPort        string
	Env                string
	LogLevel           string
	DatabaseURL        string
	ClinicID           string
	ClinicName         string
	ClinicTimezone     string
	StaffJWTSecret     string
	CORSAllowedOrigins []string
	TrustedProxies     []string
	APIRateLimit       float64
	APIRateBurst       int

	UseMemoryQueue     bool
	WorkerCount        int
	BillingQueueURL    string
	BillingWebhookURL  string
	BillingSecret      string
	BillingHTTPTimeout time.Duration
	BillingAlertEmail  string

	TurnstileSecret      string
	TurnstileVerifyURL   string
	TurnstileMaxRequests int
	TurnstileWindow      time.Duration
	TurnstileLimitsTable string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	ReportsBucket string
	ReportURLTTL  time.Duration

	// Email: SendGrid when an API key is set, SES when SES_FROM_EMAIL is set.
	SendGridAPIKey    string
	SendGridFromEmail string
	SESFromEmail      string
	EmailFromName     string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		MetricsPort:        getEnv("METRICS_PORT", "9090"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		ClinicID:           getEnv("CLINIC_ID", "default"),
		ClinicName:         getEnv("CLINIC_NAME", "Lumen"),
		ClinicTimezone:     getEnv("CLINIC_TIMEZONE", "UTC"),
		StaffJWTSecret:     getEnv("STAFF_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		TrustedProxies:     getEnvAsList("TRUSTED_PROXIES"),
		APIRateLimit:       getEnvAsFloat("API_RATE_LIMIT", 20),
		APIRateBurst:       getEnvAsInt("API_RATE_BURST", 40),

		UseMemoryQueue:     getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:        getEnvAsInt("WORKER_COUNT", 2),
		BillingQueueURL:    getEnv("BILLING_QUEUE_URL", ""),
		BillingWebhookURL:  getEnv("BILLING_WEBHOOK_URL", ""),
		BillingSecret:      getEnv("BILLING_WEBHOOK_SECRET", ""),
		BillingHTTPTimeout: getEnvAsDuration("BILLING_HTTP_TIMEOUT", 15*time.Second),
		BillingAlertEmail:  getEnv("BILLING_ALERT_EMAIL", ""),

		TurnstileSecret:      getEnv("TURNSTILE_SECRET", ""),
		TurnstileVerifyURL:   getEnv("TURNSTILE_VERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify"),
		TurnstileMaxRequests: getEnvAsInt("TURNSTILE_MAX_REQUESTS", 5),
		TurnstileWindow:      getEnvAsDuration("TURNSTILE_WINDOW", time.Minute),
		TurnstileLimitsTable: getEnv("TURNSTILE_LIMITS_TABLE", "turnstile_rate_limits"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		ReportsBucket: getEnv("REPORTS_BUCKET", ""),
		ReportURLTTL:  getEnvAsDuration("REPORT_URL_TTL", 15*time.Minute),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		EmailFromName:     getEnv("EMAIL_FROM_NAME", "Lumen"),
	}
}

// LoadDotEnv reads a local .env file outside production. A missing file is not an error.
func LoadDotEnv(files ...string) bool {
	if strings.EqualFold(os.Getenv("ENV"), "production") {
		return false
	}
	return godotenv.Load(files...) == nil
}

// BillingWebhookConfigured reports whether the invoicing workflow can be called.
func (c *Config) BillingWebhookConfigured() bool {
	return c != nil && strings.TrimSpace(c.BillingWebhookURL) != "" && strings.TrimSpace(c.BillingSecret) != ""
}

// Location resolves ClinicTimezone, falling back to UTC when it is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil || c.ClinicTimezone == "" {
		return time.UTC
	}
	return loc
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
