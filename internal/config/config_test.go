package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "OTP_TTL", "EMAIL_PROVIDER", "REMINDER_WINDOW", "CORS_ALLOWED_ORIGINS", "USE_MEMORY_STORE"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.OTPTTL != 10*time.Minute {
		t.Fatalf("expected default otp ttl, got %s", cfg.OTPTTL)
	}
	if cfg.ReminderWindow != 120*time.Second {
		t.Fatalf("expected default reminder window, got %s", cfg.ReminderWindow)
	}
	if cfg.EmailProvider != "stub" {
		t.Fatalf("expected stub email provider, got %s", cfg.EmailProvider)
	}
	if cfg.UseMemoryStore {
		t.Fatalf("expected memory store disabled by default")
	}
	if cfg.CORSAllowedOrigins != nil {
		t.Fatalf("expected no cors origins, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("DB_MAX_CONNS", "25")
	t.Setenv("EMAIL_PROVIDER", " SES ")
	t.Setenv("OTP_TTL", "5m")
	t.Setenv("REMINDER_LOOKAHEAD", "2h")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("USE_MEMORY_STORE", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.test, ,https://b.test")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected env override, got %s", cfg.Env)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.DBMaxConns != 25 {
		t.Fatalf("expected max conns override, got %d", cfg.DBMaxConns)
	}
	if cfg.EmailProvider != "ses" {
		t.Fatalf("expected normalized provider, got %q", cfg.EmailProvider)
	}
	if cfg.OTPTTL != 5*time.Minute {
		t.Fatalf("expected otp ttl override, got %s", cfg.OTPTTL)
	}
	if cfg.ReminderLookahead != 2*time.Hour {
		t.Fatalf("expected lookahead override, got %s", cfg.ReminderLookahead)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Fatalf("expected rps override, got %v", cfg.RateLimitRPS)
	}
	if !cfg.UseMemoryStore {
		t.Fatalf("expected memory store enabled")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.test" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("DB_MAX_CONNS", "lots")
	t.Setenv("OTP_TTL", "soon")
	t.Setenv("REDIS_TLS", "maybe")
	cfg := Load()
	if cfg.DBMaxConns != 10 {
		t.Fatalf("expected default max conns, got %d", cfg.DBMaxConns)
	}
	if cfg.OTPTTL != 10*time.Minute {
		t.Fatalf("expected default otp ttl, got %s", cfg.OTPTTL)
	}
	if cfg.RedisTLS {
		t.Fatalf("expected redis tls false")
	}
}

func TestLocation(t *testing.T) {
	cfg := &Config{ClinicTZ: "Europe/Berlin"}
	if cfg.Location().String() != "Europe/Berlin" {
		t.Fatalf("expected Europe/Berlin, got %s", cfg.Location())
	}
	cfg.ClinicTZ = "Mars/Olympus"
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC fallback")
	}
}
