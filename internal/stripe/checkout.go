// Package stripe adapts Stripe Checkout to the payment gateway interface.
package stripe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/gitshopapp/preorder/internal/models"
)

// MethodCard is the payment method label for Stripe Checkout invoices.
const MethodCard = "card"

const defaultCurrency = "usd"

// Stripe rejects checkout sessions that expire sooner than 30 minutes.
const minSessionLifetime = 30 * time.Minute

type Gateway struct {
	client          *stripeapi.Client
	successURL      string
	cancelURL       string
	currency        string
	sessionLifetime time.Duration
}

type Option func(*Gateway)

func WithCurrency(currency string) Option {
	return func(g *Gateway) {
		if currency = strings.ToLower(strings.TrimSpace(currency)); currency != "" {
			g.currency = currency
		}
	}
}

func WithSessionLifetime(d time.Duration) Option {
	return func(g *Gateway) {
		if d >= minSessionLifetime {
			g.sessionLifetime = d
		}
	}
}

func NewGateway(secretKey, successURL, cancelURL string, opts ...Option) *Gateway {
	g := &Gateway{
		client:          stripeapi.NewClient(secretKey),
		successURL:      successURL,
		cancelURL:       cancelURL,
		currency:        defaultCurrency,
		sessionLifetime: time.Hour,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckoutParams describe a one-off card payment for an invoice.
type CheckoutParams struct {
	InvoiceID     string
	Description   string
	Total         decimal.Decimal
	CustomerEmail string
}

// CreateCheckout opens a checkout session and returns its id and hosted URL.
func (g *Gateway) CreateCheckout(ctx context.Context, params CheckoutParams) (string, string, error) {
	if ctx == nil {
		return "", "", fmt.Errorf("context is required")
	}
	if !params.Total.IsPositive() {
		return "", "", fmt.Errorf("checkout total must be positive")
	}

	sessionParams := &stripeapi.CheckoutSessionCreateParams{
		PaymentMethodTypes: stripeapi.StringSlice([]string{MethodCard}),
		Mode:               stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		SuccessURL:         stripeapi.String(g.successURL),
		CancelURL:          stripeapi.String(g.cancelURL),
		ClientReferenceID:  stripeapi.String(params.InvoiceID),
		ExpiresAt:          stripeapi.Int64(time.Now().Add(g.sessionLifetime).Unix()),
		LineItems: []*stripeapi.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripeapi.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripeapi.String(g.currency),
					ProductData: &stripeapi.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripeapi.String(params.Description),
					},
					UnitAmount: stripeapi.Int64(toMinorUnits(params.Total)),
				},
				Quantity: stripeapi.Int64(1),
			},
		},
		Metadata: map[string]string{
			"invoice_id": params.InvoiceID,
		},
	}
	if params.CustomerEmail != "" {
		sessionParams.CustomerEmail = stripeapi.String(params.CustomerEmail)
	}

	sess, err := g.client.V1CheckoutSessions.Create(ctx, sessionParams)
	if err != nil {
		return "", "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return sess.ID, sess.URL, nil
}

func (g *Gateway) CheckStatus(ctx context.Context, sessionID string) (models.GatewayStatus, error) {
	sess, err := g.retrieve(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return sessionStatus(sess.Status), nil
}

// SelectMethod returns the hosted checkout URL as the payment address. Card
// is the only method a checkout session offers.
func (g *Gateway) SelectMethod(ctx context.Context, sessionID, method string) (*models.PaymentInstructions, error) {
	if method != "" && !strings.EqualFold(method, MethodCard) {
		return nil, fmt.Errorf("unsupported payment method %q", method)
	}
	sess, err := g.retrieve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &models.PaymentInstructions{
		Method:   MethodCard,
		Amount:   fromMinorUnits(sess.AmountTotal),
		Currency: strings.ToUpper(string(sess.Currency)),
		Address:  sess.URL,
	}, nil
}

func (g *Gateway) retrieve(ctx context.Context, sessionID string) (*stripeapi.CheckoutSession, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	sess, err := g.client.V1CheckoutSessions.Retrieve(ctx, sessionID, nil)
	if err != nil {
		return nil, &models.TransientGatewayError{GatewayID: sessionID, StatusCode: stripeStatusCode(err), Err: err}
	}
	return sess, nil
}

func sessionStatus(status stripeapi.CheckoutSessionStatus) models.GatewayStatus {
	switch status {
	case stripeapi.CheckoutSessionStatusComplete:
		return models.GatewayCompleted
	case stripeapi.CheckoutSessionStatusExpired:
		return models.GatewayExpired
	default:
		return models.GatewayPending
	}
}

func stripeStatusCode(err error) int {
	if stripeErr, ok := err.(*stripeapi.Error); ok {
		return stripeErr.HTTPStatusCode
	}
	return 0
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func fromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
