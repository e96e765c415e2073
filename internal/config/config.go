// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment. The
// provider credentials come from the merchant portal: the private key
// authorises outbound API calls, the callback public key authenticates
// inbound webhooks.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string `validate:"required"`
	RedisURL    string `validate:"required"`

	ShopID            int64  `validate:"gt=0"`
	PrivateKey        string `validate:"required"`
	CallbackPublicKey string `validate:"required"`
	ProviderBaseURL   string `validate:"url"`
	CheckoutScriptURL string `validate:"url"`
	Currency          string `validate:"len=3"`

	ProviderTimeout time.Duration
	SessionTTL      time.Duration
	LockTTL         time.Duration

	RateLimitWindow time.Duration
	RateLimitMax    int

	FormLogoURL     string
	FormCompanyName string
	FormButtonLabel string
	FormDescription string

	CORSAllowedOrigins []string

	LogFormat string
	LogLevel  string

	TracingEndpoint string
	TracingRatio    float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:      valueOrDefault(k.String("APP_ENV"), "development"),
		Port:        valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL: k.String("DATABASE_URL"),
		RedisURL:    k.String("REDIS_URL"),

		ShopID:            k.Int64("SHOP_ID"),
		PrivateKey:        k.String("PROVIDER_PRIVATE_KEY"),
		CallbackPublicKey: k.String("CALLBACK_PUBLIC_KEY"),
		ProviderBaseURL:   valueOrDefault(k.String("PROVIDER_BASE_URL"), "https://api.rbk.money/v1"),
		CheckoutScriptURL: valueOrDefault(k.String("CHECKOUT_SCRIPT_URL"), "https://checkout.rbk.money/checkout.js"),
		Currency:          strings.ToUpper(valueOrDefault(k.String("CURRENCY"), "RUB")),

		ProviderTimeout: parseDuration(k.String("PROVIDER_TIMEOUT"), "30s"),
		SessionTTL:      parseDuration(k.String("SESSION_TTL"), "24h"),
		LockTTL:         parseDuration(k.String("LOCK_TTL"), "10s"),

		RateLimitWindow: parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:    intOrDefault(k.Int("RATE_LIMIT_MAX"), 30),

		FormLogoURL:     k.String("FORM_LOGO_URL"),
		FormCompanyName: k.String("FORM_COMPANY_NAME"),
		FormButtonLabel: k.String("FORM_BUTTON_LABEL"),
		FormDescription: k.String("FORM_DESCRIPTION"),

		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		LogFormat: valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:  valueOrDefault(k.String("LOG_LEVEL"), "info"),

		TracingEndpoint: k.String("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TracingRatio:    floatOrDefault(k.Float64("OTEL_TRACES_SAMPLER_RATIO"), 1),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func intOrDefault(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func floatOrDefault(value, fallback float64) float64 {
	if value > 0 {
		return value
	}
	return fallback
}

// LoadForTests allows tests to override environment variables without touching
// the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
