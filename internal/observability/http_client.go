package observability

import (
	"net/http"
	"time"

	sentryhttpclient "github.com/getsentry/sentry-go/httpclient"
)

// Outbound hosts that receive sentry-trace and baggage headers.
var tracePropagationTargets = []string{
	"api.hoodpay.io",
	"api.sellpass.io",
	"dev.sellpass.io",
	"api.stripe.com",
}

// NewHTTPClient returns a client whose requests are recorded as Sentry spans.
func NewHTTPClient(timeout time.Duration) *http.Client {
	client := &http.Client{
		Transport: sentryhttpclient.NewSentryRoundTripper(
			http.DefaultTransport,
			sentryhttpclient.WithTracePropagationTargets(tracePropagationTargets),
		),
	}
	if timeout > 0 {
		client.Timeout = timeout
	}
	return client
}
