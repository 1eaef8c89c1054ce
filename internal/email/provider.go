// Package email sends operator alerts.
package email

import (
	"context"
	"fmt"
)

type Provider interface {
	SendEmail(ctx context.Context, email *Email) error
}

type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type Config struct {
	Provider string
	APIKey   string
	From     string
}

// NewProvider returns a Resend provider, or a no-op provider when no provider
// is configured.
func NewProvider(config Config) (Provider, error) {
	switch config.Provider {
	case "", "none":
		return NoopProvider{}, nil
	case "resend":
		if config.APIKey == "" || config.From == "" {
			return nil, fmt.Errorf("resend requires an API key and a from address")
		}
		return NewResendProvider(config.APIKey, config.From), nil
	default:
		return nil, fmt.Errorf("unsupported email provider: %s", config.Provider)
	}
}

// NoopProvider drops every email.
type NoopProvider struct{}

func (NoopProvider) SendEmail(context.Context, *Email) error {
	return nil
}
