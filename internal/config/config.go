package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"subscription-api/internal/apperr"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port string
	Mode string

	// Database configuration
	DatabaseURL string

	// Redis configuration, optional
	RedisURL string

	// Client authentication
	JWTSecret string

	Apple AppleConfig

	// App backend webhook
	WebhookCallbackURL string
	WebhookSecret      string

	// Brevo email configuration
	BrevoAPIKey    string
	BrevoFromEmail string
	BrevoFromName  string
	ServiceName    string
}

// AppleConfig holds the App Store Server API credential and verification policy.
type AppleConfig struct {
	PrivateKey string
	KeyID      string
	IssuerID   string
	BundleID   string

	VerifyNotifications bool
	VerifyAPIPayloads   bool
	CacheTokens         bool
	RootCertFile        string
	HTTPTimeout         time.Duration
}

// Load reads configuration from the environment, after loading .env if present.
func Load() (*Config, error) {
	// A missing .env file is fine
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Mode:        getEnv("GIN_MODE", "debug"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		Apple: AppleConfig{
			PrivateKey:          normalizePEM(getEnv("APPLE_PRIVATE_KEY", "")),
			KeyID:               getEnv("APPLE_KEY_ID", ""),
			IssuerID:            getEnv("APPLE_ISSUER_ID", ""),
			BundleID:            getEnv("APPLE_BUNDLE_ID", ""),
			VerifyNotifications: getEnvBool("APPLE_VERIFY_NOTIFICATIONS", true),
			VerifyAPIPayloads:   getEnvBool("APPLE_VERIFY_API_PAYLOADS", false),
			CacheTokens:         getEnvBool("APPLE_TOKEN_CACHE", true),
			RootCertFile:        getEnv("APPLE_ROOT_CERT_FILE", ""),
			HTTPTimeout:         time.Duration(getEnvInt("APPLE_HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		WebhookCallbackURL: getEnv("WEBHOOK_CALLBACK_URL", ""),
		WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),
		BrevoAPIKey:        getEnv("BREVO_API_KEY", ""),
		BrevoFromEmail:     getEnv("BREVO_FROM_EMAIL", ""),
		BrevoFromName:      getEnv("BREVO_FROM_NAME", "OmniNews"),
		ServiceName:        getEnv("SERVICE_NAME", "OmniNews"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first missing required setting.
func (c *Config) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"APPLE_PRIVATE_KEY", c.Apple.PrivateKey},
		{"APPLE_KEY_ID", c.Apple.KeyID},
		{"APPLE_ISSUER_ID", c.Apple.IssuerID},
		{"APPLE_BUNDLE_ID", c.Apple.BundleID},
		{"JWT_SECRET", c.JWTSecret},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return apperr.New(apperr.Config, "%s is not set", r.key)
		}
	}
	if c.Apple.HTTPTimeout <= 0 {
		return apperr.New(apperr.Config, "APPLE_HTTP_TIMEOUT_SECONDS must be positive")
	}
	return nil
}

// normalizePEM turns literal "\n" sequences, common in single-line env values, into newlines.
func normalizePEM(value string) string {
	return strings.ReplaceAll(value, `\n`, "\n")
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
