package config

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	StoreProvider string `env:"STORE_PROVIDER" envDefault:"file" validate:"oneof=file postgres"`
	DataDir       string `env:"DATA_DIR" envDefault:"./data" validate:"required_if=StoreProvider file"`
	DatabaseURL   string `env:"DATABASE_URL" validate:"required_if=StoreProvider postgres"`

	GatewayProvider    string `env:"GATEWAY_PROVIDER" envDefault:"hoodpay" validate:"oneof=hoodpay stripe"`
	HoodpayBaseURL     string `env:"HOODPAY_BASE_URL" envDefault:"https://api.hoodpay.io/v1" validate:"required,url"`
	PaymentMethodsFile string `env:"PAYMENT_METHODS_FILE"`
	StripeSecretKey    string `env:"STRIPE_SECRET_KEY" validate:"required_if=GatewayProvider stripe"`
	StripeSuccessURL   string `env:"STRIPE_SUCCESS_URL" validate:"omitempty,url"`
	StripeCancelURL    string `env:"STRIPE_CANCEL_URL" validate:"omitempty,url"`
	StripeCurrency     string `env:"STRIPE_CURRENCY" envDefault:"usd" validate:"len=3"`

	SellpassShopID        string `env:"SELLPASS_SHOP_ID,required" validate:"required"`
	SellpassProductID     string `env:"SELLPASS_PRODUCT_ID,required" validate:"required"`
	SellpassAPIKey        string `env:"SELLPASS_API_KEY,required" validate:"required"`
	SellpassBaseURL       string `env:"SELLPASS_BASE_URL" envDefault:"https://dev.sellpass.io/self" validate:"required,url"`
	SellpassPublicBaseURL string `env:"SELLPASS_PUBLIC_BASE_URL" envDefault:"https://api.sellpass.io" validate:"required,url"`

	PollInterval         time.Duration `env:"POLL_INTERVAL" envDefault:"60s" validate:"min=1s"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"5m" validate:"min=1s"`
	CatalogCacheTTL      time.Duration `env:"CATALOG_CACHE_TTL" envDefault:"5m"`
	InvoicePrefix        string        `env:"INVOICE_PREFIX" envDefault:"BuffPal" validate:"required,alphanum"`

	CacheProvider         string `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	SessionStoreProvider  string `env:"SESSION_STORE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis,required_if=SessionStoreProvider redis"`

	SessionEncryptionKey string `env:"SESSION_ENCRYPTION_KEY,required" validate:"required"`
	AdminAPIToken        string `env:"ADMIN_API_TOKEN,required" validate:"required,min=16"`

	ResendAPIKey   string `env:"RESEND_API_KEY"`
	AlertEmailFrom string `env:"ALERT_EMAIL_FROM" validate:"omitempty,email"`
	AlertEmailTo   string `env:"ALERT_EMAIL_TO" validate:"omitempty,email"`

	SentryDSN         string `env:"SENTRY_DSN" validate:"omitempty,url"`
	SentryEnvironment string `env:"SENTRY_ENVIRONMENT" envDefault:"development"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	LogFile   string     `env:"LOG_FILE"`
	Port      string     `env:"PORT" envDefault:"8080"`
}

var configValidator = validator.New()

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// EmailProvider returns the alert mail provider name implied by the config.
func (c *Config) EmailProvider() string {
	if strings.TrimSpace(c.ResendAPIKey) == "" {
		return "none"
	}
	return "resend"
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	if !validEncryptionKey(c.SessionEncryptionKey) {
		return fmt.Errorf("SESSION_ENCRYPTION_KEY must be 32 bytes or base64 of 32 bytes")
	}

	if c.GatewayProvider == "stripe" && (strings.TrimSpace(c.StripeSuccessURL) == "" || strings.TrimSpace(c.StripeCancelURL) == "") {
		return fmt.Errorf("STRIPE_SUCCESS_URL and STRIPE_CANCEL_URL are required for the stripe gateway")
	}

	hasResendKey := strings.TrimSpace(c.ResendAPIKey) != ""
	hasAlertRecipient := strings.TrimSpace(c.AlertEmailTo) != ""
	if hasResendKey != hasAlertRecipient {
		return fmt.Errorf("RESEND_API_KEY and ALERT_EMAIL_TO must be set together")
	}
	if hasResendKey && strings.TrimSpace(c.AlertEmailFrom) == "" {
		return fmt.Errorf("ALERT_EMAIL_FROM is required when alert email is enabled")
	}

	for name, raw := range map[string]string{
		"HOODPAY_BASE_URL":         c.HoodpayBaseURL,
		"SELLPASS_BASE_URL":        c.SellpassBaseURL,
		"SELLPASS_PUBLIC_BASE_URL": c.SellpassPublicBaseURL,
	} {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Hostname() == "" {
			return fmt.Errorf("%s must be a valid absolute URL", name)
		}
		if !isLocalHost(parsed.Hostname()) && !strings.EqualFold(parsed.Scheme, "https") {
			return fmt.Errorf("%s must use https outside local development", name)
		}
	}

	return nil
}

func validEncryptionKey(key string) bool {
	if len(key) == 32 {
		return true
	}
	decoded, err := base64.StdEncoding.DecodeString(key)
	return err == nil && len(decoded) == 32
}

func isLocalHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
