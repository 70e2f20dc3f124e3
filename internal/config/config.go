package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	ClinicName  string
	ClinicTZ    string
	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int

	// UseMemoryStore swaps every Postgres store for its in-process variant.
	UseMemoryStore bool

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	OTPStore      string

	JWTSecret     string
	GuestTokenTTL time.Duration
	OTPTTL        time.Duration

	ReminderInterval  time.Duration
	ReminderLookahead time.Duration
	ReminderWindow    time.Duration
	OTPSweepInterval  time.Duration
	LockTimeout       time.Duration

	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	NotifyQueueURL    string
	NotifyWorkers     int
	NotifyBuffer      int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	ArchiveBucket       string

	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		ClinicName:  getEnv("CLINIC_NAME", "Polyclinic"),
		ClinicTZ:    getEnv("CLINIC_TZ", "UTC"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBMaxConns:  getEnvAsInt("DB_MAX_CONNS", 10),
		DBMinConns:  getEnvAsInt("DB_MIN_CONNS", 1),

		UseMemoryStore: getEnvAsBool("USE_MEMORY_STORE", false),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		OTPStore:      strings.ToLower(strings.TrimSpace(getEnv("OTP_STORE", "postgres"))),

		JWTSecret:     getEnv("JWT_SECRET", ""),
		GuestTokenTTL: getEnvAsDuration("GUEST_TOKEN_TTL", 30*time.Minute),
		OTPTTL:        getEnvAsDuration("OTP_TTL", 10*time.Minute),

		ReminderInterval:  getEnvAsDuration("REMINDER_INTERVAL", time.Minute),
		ReminderLookahead: getEnvAsDuration("REMINDER_LOOKAHEAD", time.Hour),
		ReminderWindow:    getEnvAsDuration("REMINDER_WINDOW", 120*time.Second),
		OTPSweepInterval:  getEnvAsDuration("OTP_SWEEP_INTERVAL", 5*time.Minute),
		LockTimeout:       getEnvAsDuration("BOOKING_LOCK_TIMEOUT", 5*time.Second),

		// Email delivery
		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Polyclinic"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		NotifyQueueURL:    getEnv("NOTIFY_QUEUE_URL", ""),
		NotifyWorkers:     getEnvAsInt("NOTIFY_WORKERS", 2),
		NotifyBuffer:      getEnvAsInt("NOTIFY_BUFFER", 256),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ArchiveBucket:       getEnv("ARCHIVE_BUCKET", ""),

		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
	}
}

// Location resolves ClinicTZ, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ClinicTZ)
	if err != nil {
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

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
