// Package sellpass is a client for the Sellpass shop and customer APIs.
package sellpass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gitshopapp/preorder/internal/observability"
)

const (
	DefaultBaseURL       = "https://dev.sellpass.io/self"
	DefaultPublicBaseURL = "https://api.sellpass.io"
)

// Sellpass gateway code for Hoodpay top-ups.
const hoodpayGateway = 10

const maxResponseBytes = 1 << 20

type Config struct {
	ShopID        string
	ProductID     string
	APIKey        string
	BaseURL       string
	PublicBaseURL string
}

// Client talks to the shop API with the shop's API key and to the customer
// dashboard API with a customer's bearer token.
type Client struct {
	shopID     string
	productID  string
	apiKey     string
	shopURL    string
	publicURL  string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	publicURL := strings.TrimRight(cfg.PublicBaseURL, "/")
	if publicURL == "" {
		publicURL = DefaultPublicBaseURL
	}

	c := &Client{
		shopID:     cfg.ShopID,
		productID:  cfg.ProductID,
		apiKey:     cfg.APIKey,
		shopURL:    baseURL + "/" + url.PathEscape(cfg.ShopID),
		publicURL:  publicURL + "/" + url.PathEscape(cfg.ShopID),
		httpClient: observability.NewHTTPClient(20 * time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LookupCustomer finds the shop customer registered under email.
func (c *Client) LookupCustomer(ctx context.Context, email string) (*Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	var resp envelope[[]customerEntry]
	endpoint := c.shopURL + "/customers?email=" + url.QueryEscape(email)
	if err := c.do(ctx, "lookup customer", http.MethodGet, endpoint, c.apiKey, nil, &resp); err != nil {
		return nil, err
	}
	for _, entry := range resp.Data {
		if strings.EqualFold(entry.Customer.Email, email) {
			customer := entry.toCustomer()
			return &customer, nil
		}
	}
	return nil, ErrCustomerNotFound
}

func (c *Client) DeductBalance(ctx context.Context, customerID string, amount decimal.Decimal) error {
	return c.adjustBalance(ctx, "remove", customerID, amount)
}

func (c *Client) AddBalance(ctx context.Context, customerID string, amount decimal.Decimal) error {
	return c.adjustBalance(ctx, "add", customerID, amount)
}

func (c *Client) adjustBalance(ctx context.Context, direction, customerID string, amount decimal.Decimal) error {
	if customerID == "" {
		return fmt.Errorf("customer id is required")
	}
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}

	body := map[string]any{"amount": json.Number(amount.String())}
	endpoint := c.shopURL + "/customers/" + url.PathEscape(customerID) + "/balance/" + direction
	return c.do(ctx, direction+" balance", http.MethodPost, endpoint, c.apiKey, body, nil)
}

// ListVariants returns the variants of the configured product.
func (c *Client) ListVariants(ctx context.Context) ([]Variant, error) {
	var resp envelope[productPayload]
	endpoint := c.shopURL + "/v2/products/" + url.PathEscape(c.productID)
	if err := c.do(ctx, "list variants", http.MethodGet, endpoint, c.apiKey, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.toVariants(), nil
}

// CreateTopup opens a balance top-up invoice on behalf of the customer and
// returns the Sellpass invoice id.
func (c *Client) CreateTopup(ctx context.Context, customerToken string, amount decimal.Decimal) (string, error) {
	if customerToken == "" {
		return "", fmt.Errorf("customer token is required")
	}
	if !amount.IsPositive() {
		return "", fmt.Errorf("amount must be positive")
	}

	body := map[string]any{
		"amount":  amount.StringFixed(2),
		"gateway": hoodpayGateway,
		"tsId":    nil,
	}
	var resp envelope[flexID]
	endpoint := c.publicURL + "/customers/dashboard/balance/topup"
	if err := c.do(ctx, "create topup", http.MethodPost, endpoint, customerToken, body, &resp); err != nil {
		return "", err
	}
	if resp.Data == "" {
		return "", fmt.Errorf("sellpass returned no invoice id for top-up")
	}
	return string(resp.Data), nil
}

// GetInvoiceGateway reads the hosted payment reference of a Sellpass invoice.
func (c *Client) GetInvoiceGateway(ctx context.Context, invoiceID string) (*GatewayRef, error) {
	var resp envelope[invoicePayload]
	endpoint := c.shopURL + "/invoices/" + url.PathEscape(invoiceID)
	if err := c.do(ctx, "get invoice", http.MethodGet, endpoint, c.apiKey, nil, &resp); err != nil {
		return nil, err
	}
	info := resp.Data.ForHoodpayInfo
	if info.ExternalPaymentID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoGateway, invoiceID)
	}
	return &GatewayRef{PaymentID: string(info.ExternalPaymentID), URL: info.ExternalURL}, nil
}

// RequestOTP asks Sellpass to email a one-time login code to the customer.
func (c *Client) RequestOTP(ctx context.Context, email, recaptcha string) error {
	body := map[string]any{
		"email":        email,
		"recaptcha":    recaptcha,
		"referralCode": nil,
	}
	return c.do(ctx, "request otp", http.MethodPost, c.publicURL+"/customers/auth/otp/request/", "", body, nil)
}

// VerifyOTP exchanges a one-time code for a customer bearer token.
func (c *Client) VerifyOTP(ctx context.Context, email, otp, recaptcha string) (string, error) {
	body := map[string]any{
		"email":        email,
		"otp":          otp,
		"recaptcha":    recaptcha,
		"referralCode": nil,
		"tsId":         nil,
	}
	var resp envelope[string]
	if err := c.do(ctx, "verify otp", http.MethodPost, c.publicURL+"/customers/auth/otp/login/", "", body, &resp); err != nil {
		return "", err
	}
	if resp.Data == "" {
		return "", fmt.Errorf("sellpass returned no token")
	}
	return resp.Data, nil
}

func (c *Client) do(ctx context.Context, op, method, endpoint, bearer string, body, out any) error {
	if ctx == nil {
		return fmt.Errorf("context is required")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sellpass %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read sellpass %s response: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(payload)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode sellpass %s response: %w", op, err)
	}
	return nil
}

func errorMessage(payload []byte) string {
	var resp envelope[json.RawMessage]
	if err := json.Unmarshal(payload, &resp); err == nil && len(resp.Errors) > 0 {
		return resp.Errors[0]
	}
	return strings.TrimSpace(string(payload))
}
