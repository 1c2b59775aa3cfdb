package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment          string
	HTTPPort             string
	DatabaseURL          string
	PayloadKey           string
	StorageKey           string
	InviteLinkSecret     string
	InviteBaseURL        string
	CredentialTTL        time.Duration
	OTPTTL               time.Duration
	SMTPHost             string
	SMTPPort             int
	SMTPUsername         string
	SMTPPassword         string
	MailFrom             string
	ServiceName          string
	RateLimitRPM         int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	payloadKey := strings.TrimSpace(os.Getenv("PAYLOAD_KEY"))
	if payloadKey == "" {
		return Config{}, fmt.Errorf("PAYLOAD_KEY is required")
	}
	storageKey := strings.TrimSpace(os.Getenv("STORAGE_KEY"))
	if storageKey == "" {
		return Config{}, fmt.Errorf("STORAGE_KEY is required")
	}
	linkSecret := strings.TrimSpace(os.Getenv("INVITE_LINK_SECRET"))
	if linkSecret == "" {
		return Config{}, fmt.Errorf("INVITE_LINK_SECRET is required")
	}

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		PayloadKey:           payloadKey,
		StorageKey:           storageKey,
		InviteLinkSecret:     linkSecret,
		InviteBaseURL:        getEnv("INVITE_BASE_URL", "http://localhost:8080"),
		CredentialTTL:        getDuration("CREDENTIAL_TTL", time.Hour),
		OTPTTL:               getDuration("OTP_TTL", time.Hour),
		SMTPHost:             getEnv("SMTP_HOST", "127.0.0.1"),
		SMTPPort:             getInt("SMTP_PORT", 587),
		SMTPUsername:         os.Getenv("SMTP_USERNAME"),
		SMTPPassword:         os.Getenv("SMTP_PASSWORD"),
		MailFrom:             getEnv("MAIL_FROM", "no-reply@localhost"),
		ServiceName:          getEnv("SERVICE_NAME", "smallbiznis-onboarding"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	if len(payloadKey) != 16 {
		return Config{}, fmt.Errorf("PAYLOAD_KEY must be exactly 16 bytes")
	}
	switch len(storageKey) {
	case 16, 24, 32:
	default:
		return Config{}, fmt.Errorf("STORAGE_KEY must be 16, 24 or 32 bytes")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
