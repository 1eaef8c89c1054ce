package config

import (
	"encoding/base64"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestValidateSessionEncryptionKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{
			name:    "raw 32-byte key",
			key:     strings.Repeat("k", 32),
			wantErr: false,
		},
		{
			name:    "base64 32-byte key",
			key:     base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 32))),
			wantErr: false,
		},
		{
			name:    "invalid short key",
			key:     "short",
			wantErr: true,
		},
		{
			name:    "base64 of wrong length",
			key:     base64.StdEncoding.EncodeToString([]byte("sixteen-bytes-ok")),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			cfg.SessionEncryptionKey = tt.key

			err := cfg.validate()
			if tt.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestValidateStoreProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.StoreProvider = "sqlite" },
			wantErr: "oneof",
		},
		{
			name: "postgres without database url",
			mutate: func(c *Config) {
				c.StoreProvider = "postgres"
				c.DatabaseURL = ""
			},
			wantErr: "required_if",
		},
		{
			name: "file without data dir",
			mutate: func(c *Config) {
				c.DataDir = ""
			},
			wantErr: "required_if",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.validate()
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateStripeGatewayRequiresRedirectURLs(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.GatewayProvider = "stripe"
	cfg.StripeSecretKey = "sk_test_123"

	err := cfg.validate()
	if err == nil || !strings.Contains(err.Error(), "STRIPE_SUCCESS_URL") {
		t.Fatalf("expected redirect url error, got %v", err)
	}

	cfg.StripeSuccessURL = "https://shop.example.com/paid"
	cfg.StripeCancelURL = "https://shop.example.com/cancelled"
	if err := cfg.validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStripeGatewayRequiresSecretKey(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.GatewayProvider = "stripe"
	cfg.StripeSuccessURL = "https://shop.example.com/paid"
	cfg.StripeCancelURL = "https://shop.example.com/cancelled"

	err := cfg.validate()
	if err == nil || !strings.Contains(err.Error(), "StripeSecretKey") {
		t.Fatalf("expected StripeSecretKey error, got %v", err)
	}
}

func TestValidateRedisConnectionForSessionStore(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.SessionStoreProvider = "redis"
	cfg.RedisConnectionString = ""

	err := cfg.validate()
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "RedisConnectionString") || !strings.Contains(err.Error(), "required_if") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateAlertEmailSettingsMustBePaired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		apiKey  string
		to      string
		from    string
		wantErr bool
	}{
		{name: "disabled", wantErr: false},
		{name: "fully configured", apiKey: "re_123", to: "ops@example.com", from: "alerts@example.com", wantErr: false},
		{name: "key without recipient", apiKey: "re_123", from: "alerts@example.com", wantErr: true},
		{name: "recipient without key", to: "ops@example.com", wantErr: true},
		{name: "missing sender", apiKey: "re_123", to: "ops@example.com", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			cfg.ResendAPIKey = tt.apiKey
			cfg.AlertEmailTo = tt.to
			cfg.AlertEmailFrom = tt.from

			err := cfg.validate()
			if tt.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestValidateBackendURLsRequireHTTPSOutsideLocalhost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{name: "https", baseURL: "https://api.hoodpay.io/v1", wantErr: false},
		{name: "local http", baseURL: "http://localhost:9000", wantErr: false},
		{name: "remote http", baseURL: "http://api.hoodpay.io/v1", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			cfg.HoodpayBaseURL = tt.baseURL

			err := cfg.validate()
			if tt.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestValidatePollIntervalMinimum(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.PollInterval = 10 * time.Millisecond

	if err := cfg.validate(); err == nil || !strings.Contains(err.Error(), "PollInterval") {
		t.Fatalf("expected PollInterval error, got %v", err)
	}
}

func TestEmailProvider(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if got := cfg.EmailProvider(); got != "none" {
		t.Fatalf("expected none, got %q", got)
	}
	cfg.ResendAPIKey = "re_123"
	if got := cfg.EmailProvider(); got != "resend" {
		t.Fatalf("expected resend, got %q", got)
	}
}

func validConfig() *Config {
	return &Config{
		StoreProvider:         "file",
		DataDir:               "./data",
		GatewayProvider:       "hoodpay",
		HoodpayBaseURL:        "https://api.hoodpay.io/v1",
		StripeCurrency:        "usd",
		SellpassShopID:        "12345",
		SellpassProductID:     "67890",
		SellpassAPIKey:        "sp-key",
		SellpassBaseURL:       "https://dev.sellpass.io/self",
		SellpassPublicBaseURL: "https://api.sellpass.io",
		PollInterval:          time.Minute,
		SessionSweepInterval:  5 * time.Minute,
		CatalogCacheTTL:       5 * time.Minute,
		InvoicePrefix:         "BuffPal",
		CacheProvider:         "memory",
		SessionStoreProvider:  "memory",
		RedisConnectionString: "redis://localhost:6379/0",
		SessionEncryptionKey:  strings.Repeat("k", 32),
		AdminAPIToken:         strings.Repeat("t", 32),
		LogLevel:              slog.LevelInfo,
		LogFormat:             "text",
		Port:                  "8080",
	}
}
