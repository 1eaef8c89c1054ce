// Package hoodpay is a client for the Hoodpay hosted payment page API.
package hoodpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gitshopapp/preorder/internal/models"
	"github.com/gitshopapp/preorder/internal/observability"
)

const DefaultBaseURL = "https://api.hoodpay.io/v1"

const maxResponseBytes = 1 << 20

var ErrUnsupportedMethod = errors.New("unsupported payment method")

type Client struct {
	baseURL    string
	httpClient *http.Client
	methods    *MethodTable
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func NewClient(baseURL string, methods *MethodTable, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if methods == nil {
		methods = DefaultMethods()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: observability.NewHTTPClient(15 * time.Second),
		methods:    methods,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type hostedPage struct {
	Status string `json:"status"`
}

type selectedMethod struct {
	ChargeCryptoAmount  decimal.Decimal `json:"chargeCryptoAmount"`
	ChargeCryptoName    string          `json:"chargeCryptoName"`
	ChargeCryptoAddress string          `json:"chargeCryptoAddress"`
}

// CheckStatus reports the gateway status of a hosted payment page. Any
// transport or non-200 failure is a *models.TransientGatewayError.
func (c *Client) CheckStatus(ctx context.Context, paymentID string) (models.GatewayStatus, error) {
	if ctx == nil {
		return "", fmt.Errorf("context is required")
	}

	var page envelope[hostedPage]
	if err := c.do(ctx, http.MethodGet, c.pageURL(paymentID), nil, paymentID, &page); err != nil {
		return "", err
	}
	return parseStatus(page.Data.Status), nil
}

// SelectMethod picks the crypto currency for a hosted page and returns where
// and how much to pay.
func (c *Client) SelectMethod(ctx context.Context, paymentID, method string) (*models.PaymentInstructions, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}

	resolved, ok := c.methods.Resolve(method)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}

	body := map[string]any{"onRamp_Crypto": nil}
	if resolved.Mode == ModeXPub {
		body["xPub_Crypto"] = resolved.Name
	} else {
		body["direct_Crypto"] = resolved.Name
	}

	var selected envelope[selectedMethod]
	if err := c.do(ctx, http.MethodPost, c.pageURL(paymentID)+"/select-payment-method", body, paymentID, &selected); err != nil {
		return nil, err
	}
	if selected.Data.ChargeCryptoAddress == "" {
		return nil, fmt.Errorf("hoodpay returned no payment address for %s", paymentID)
	}

	currency := selected.Data.ChargeCryptoName
	if currency == "" {
		currency = resolved.Name
	}
	return &models.PaymentInstructions{
		Method:   resolved.Name,
		Amount:   selected.Data.ChargeCryptoAmount,
		Currency: currency,
		Address:  selected.Data.ChargeCryptoAddress,
	}, nil
}

// SupportsMethod reports whether method, or one of its aliases, is in the
// client's method table.
func (c *Client) SupportsMethod(method string) bool {
	_, ok := c.methods.Resolve(method)
	return ok
}

func (c *Client) pageURL(paymentID string) string {
	return c.baseURL + "/public/payments/hosted-page/" + url.PathEscape(paymentID)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, paymentID string, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode hoodpay request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build hoodpay request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &models.TransientGatewayError{GatewayID: paymentID, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &models.TransientGatewayError{GatewayID: paymentID, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &models.TransientGatewayError{
			GatewayID:  paymentID,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(payload))),
		}
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return &models.TransientGatewayError{GatewayID: paymentID, StatusCode: resp.StatusCode, Err: fmt.Errorf("invalid response body: %w", err)}
	}
	return nil
}

func parseStatus(status string) models.GatewayStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "COMPLETED":
		return models.GatewayCompleted
	case "EXPIRED":
		return models.GatewayExpired
	case "CANCELLED", "CANCELED":
		return models.GatewayCancelled
	default:
		return models.GatewayPending
	}
}
