package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/shopspring/decimal"

	"github.com/gitshopapp/preorder/internal/cache"
	"github.com/gitshopapp/preorder/internal/logging"
	"github.com/gitshopapp/preorder/internal/models"
	"github.com/gitshopapp/preorder/internal/observability"
	"github.com/gitshopapp/preorder/internal/sellpass"
	"github.com/gitshopapp/preorder/internal/session"
	"github.com/gitshopapp/preorder/internal/stripe"
)

type CheckoutConfig struct {
	ProductID      string
	InvoicePrefix  string
	CatalogTTL     time.Duration
	CustomerTTL    time.Duration
	IdempotencyTTL time.Duration
}

type CheckoutDeps struct {
	Sessions  SessionResolver
	Backend   CommerceBackend
	Gateway   PaymentGateway
	Invoices  InvoiceStore
	Orders    OrderStore
	Fulfiller *Fulfiller
	Launcher  pollerLauncher
	Cache     cache.Provider
}

// CheckoutService creates gateway invoices and balance orders for logged-in
// users.
type CheckoutService struct {
	deps    CheckoutDeps
	card    CardCheckout
	catalog *cache.Loader[[]sellpass.Variant]
	cfg     CheckoutConfig
	now     func() time.Time
	logger  *slog.Logger
}

func NewCheckoutService(deps CheckoutDeps, cfg CheckoutConfig, logger *slog.Logger) *CheckoutService {
	if cfg.InvoicePrefix == "" {
		cfg.InvoicePrefix = "BuffPal"
	}
	if cfg.CatalogTTL <= 0 {
		cfg.CatalogTTL = 5 * time.Minute
	}
	if cfg.CustomerTTL <= 0 {
		cfg.CustomerTTL = time.Hour
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}

	card, _ := deps.Gateway.(CardCheckout)
	return &CheckoutService{
		deps:    deps,
		card:    card,
		catalog: cache.NewLoader[[]sellpass.Variant](deps.Cache, cfg.CatalogTTL),
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With("component", "checkout"),
	}
}

func (s *CheckoutService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

type CreateInvoiceInput struct {
	UserID        int64
	Username      string
	VariantID     string
	Quantity      int
	PaymentMethod string
}

type CreateInvoiceResult struct {
	Invoice      *models.Invoice             `json:"invoice"`
	Instructions *models.PaymentInstructions `json:"instructions"`
}

// CreateCryptoInvoice opens a gateway payment for the order, persists the
// invoice as AWAITING_PAYMENT and starts polling it.
func (s *CheckoutService) CreateCryptoInvoice(ctx context.Context, input CreateInvoiceInput) (*CreateInvoiceResult, error) {
	span := sentry.StartSpan(
		ctx,
		"service.checkout.create_invoice",
		sentry.WithOpName("service.checkout"),
		sentry.WithDescription("CreateCryptoInvoice"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	recordFailure := func(reason string) {
		span.Status = sentry.SpanStatusInternalError
		meter.Count("checkout.invoice.failed", 1, sentry.WithAttributes(attribute.String("reason", reason)))
	}

	if s.card == nil && strings.TrimSpace(input.PaymentMethod) == "" {
		recordFailure("validation")
		return nil, fmt.Errorf("%w: payment method is required", ErrValidation)
	}
	if checker, ok := s.deps.Gateway.(MethodChecker); ok && s.card == nil && !checker.SupportsMethod(input.PaymentMethod) {
		recordFailure("validation")
		return nil, fmt.Errorf("%w: unsupported payment method %q", ErrValidation, input.PaymentMethod)
	}

	sess, variant, total, err := s.prepare(ctx, input.UserID, input.VariantID, input.Quantity)
	if err != nil {
		recordFailure("prepare")
		return nil, err
	}

	customerID, err := s.customerID(ctx, sess.Email)
	if err != nil {
		recordFailure("customer_lookup")
		return nil, err
	}

	invoiceID, err := models.NewInvoiceID(s.cfg.InvoicePrefix, s.now())
	if err != nil {
		recordFailure("invoice_id")
		return nil, err
	}

	var sellpassID, gatewayID, gatewayURL, method string
	if s.card != nil {
		method = stripe.MethodCard
		gatewayID, gatewayURL, err = s.card.CreateCheckout(ctx, stripe.CheckoutParams{
			InvoiceID:     invoiceID,
			Description:   fmt.Sprintf("%d x %s", input.Quantity, variant.Title),
			Total:         total,
			CustomerEmail: sess.Email,
		})
		if err != nil {
			recordFailure("create_checkout")
			return nil, fmt.Errorf("failed to create card checkout: %w", err)
		}
	} else {
		method = strings.ToUpper(strings.TrimSpace(input.PaymentMethod))
		sellpassID, err = s.deps.Backend.CreateTopup(ctx, sess.Token, total)
		if err != nil {
			recordFailure("create_topup")
			return nil, fmt.Errorf("failed to create top-up invoice: %w", err)
		}
		ref, err := s.deps.Backend.GetInvoiceGateway(ctx, sellpassID)
		if err != nil {
			recordFailure("gateway_ref")
			return nil, fmt.Errorf("failed to read top-up gateway: %w", err)
		}
		gatewayID, gatewayURL = ref.PaymentID, ref.URL
	}

	instructions, err := s.deps.Gateway.SelectMethod(ctx, gatewayID, method)
	if err != nil {
		recordFailure("select_method")
		return nil, fmt.Errorf("failed to select payment method: %w", err)
	}

	invoice := &models.Invoice{
		InvoiceID:     invoiceID,
		Email:         sess.Email,
		CustomerID:    customerID,
		SellpassID:    sellpassID,
		HoodpayID:     gatewayID,
		HoodpayURL:    gatewayURL,
		VariantID:     variant.ID,
		VariantTitle:  variant.Title,
		Amount:        input.Quantity,
		TotalPrice:    total,
		UserID:        input.UserID,
		Username:      input.Username,
		PaymentMethod: instructions.Method,
		Status:        models.InvoiceAwaitingPayment,
		CreatedAt:     s.now(),
	}
	if err := s.deps.Invoices.Create(ctx, invoice); err != nil {
		recordFailure("persist")
		return nil, fmt.Errorf("failed to save invoice: %w", err)
	}

	if !s.deps.Launcher.Launch(invoice.InvoiceID, invoice.HoodpayID) {
		logger.Warn("poller not started; invoice will be picked up by recovery", "invoice_id", invoice.InvoiceID)
	}

	span.Status = sentry.SpanStatusOK
	meter.Count("checkout.invoice.created", 1, sentry.WithAttributes(attribute.String("method", invoice.PaymentMethod)))
	logger.Info("invoice created",
		"invoice_id", invoice.InvoiceID,
		"user_id", invoice.UserID,
		"variant_id", invoice.VariantID,
		"total", invoice.TotalPrice.String(),
		"method", invoice.PaymentMethod,
	)

	return &CreateInvoiceResult{Invoice: invoice, Instructions: instructions}, nil
}

type BalanceOrderInput struct {
	UserID         int64
	Username       string
	VariantID      string
	Quantity       int
	IdempotencyKey string
}

// PayWithBalance charges the customer's stored balance and queues the order
// immediately. A repeated request with the same idempotency key returns the
// original order.
func (s *CheckoutService) PayWithBalance(ctx context.Context, input BalanceOrderInput) (*models.Order, error) {
	logger := s.loggerFromContext(ctx)

	sess, variant, total, err := s.prepare(ctx, input.UserID, input.VariantID, input.Quantity)
	if err != nil {
		return nil, err
	}

	customer, err := s.deps.Backend.LookupCustomer(ctx, sess.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up customer: %w", err)
	}
	if err := s.deps.Cache.Set(ctx, cache.CustomerKey(sess.Email), customer.ID, s.cfg.CustomerTTL); err != nil {
		logger.Warn("failed to cache customer id", "error", err)
	}

	if customer.Balance().LessThan(total) {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, customer.Balance().String(), total.String())
	}

	invoiceID, err := models.NewInvoiceID(s.cfg.InvoicePrefix, s.now())
	if err != nil {
		return nil, err
	}

	var idemKey string
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
		idemKey = cache.IdempotencyKey(input.UserID, key)
		reserved, err := s.deps.Cache.SetNX(ctx, idemKey, invoiceID, s.cfg.IdempotencyTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to reserve idempotency key: %w", err)
		}
		if !reserved {
			return s.replay(ctx, idemKey)
		}
	}

	order, err := s.deps.Fulfiller.FulfillBalance(context.WithoutCancel(ctx), BalanceCharge{
		CustomerID: customer.ID,
		Amount:     total,
		Order: &models.Order{
			InvoiceID:     invoiceID,
			UserID:        input.UserID,
			Username:      input.Username,
			VariantID:     variant.ID,
			VariantTitle:  variant.Title,
			Quantity:      input.Quantity,
			PaymentMethod: models.PaymentMethodBalance,
			CreatedAt:     s.now(),
		},
	})
	if err != nil {
		if idemKey != "" && deductionRejected(err) {
			if delErr := s.deps.Cache.Delete(ctx, idemKey); delErr != nil {
				logger.Warn("failed to release idempotency key", "error", delErr)
			}
		}
		return nil, err
	}
	return order, nil
}

func (s *CheckoutService) replay(ctx context.Context, idemKey string) (*models.Order, error) {
	invoiceID, err := s.deps.Cache.Get(ctx, idemKey)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrRequestInProgress
		}
		return nil, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	order, err := s.deps.Orders.GetByInvoiceID(ctx, invoiceID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrRequestInProgress
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

// deductionRejected reports whether the backend refused the deduction with a
// client error, so nothing was charged and the request may be retried.
func deductionRejected(err error) bool {
	var balanceErr *models.FulfillmentBalanceError
	if !errors.As(err, &balanceErr) {
		return false
	}
	var apiErr *sellpass.APIError
	return errors.As(balanceErr.Err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

// Variants returns the product's variants from the catalog cache.
func (s *CheckoutService) Variants(ctx context.Context) ([]sellpass.Variant, error) {
	variants, err := s.catalog.Get(ctx, cache.CatalogKey(s.cfg.ProductID), s.deps.Backend.ListVariants)
	if err != nil {
		return nil, fmt.Errorf("failed to load variants: %w", err)
	}
	return variants, nil
}

func (s *CheckoutService) RefreshVariants(ctx context.Context) error {
	return s.catalog.Invalidate(ctx, cache.CatalogKey(s.cfg.ProductID))
}

// Balance returns the logged-in user's spendable balance.
func (s *CheckoutService) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	sess, err := s.deps.Sessions.Lookup(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	customer, err := s.deps.Backend.LookupCustomer(ctx, sess.Email)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to look up customer: %w", err)
	}
	return customer.Balance(), nil
}

func (s *CheckoutService) Invoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	return s.deps.Invoices.Get(ctx, invoiceID)
}

func (s *CheckoutService) prepare(ctx context.Context, userID int64, variantID string, quantity int) (*session.Session, sellpass.Variant, decimal.Decimal, error) {
	if variantID == "" {
		return nil, sellpass.Variant{}, decimal.Zero, fmt.Errorf("%w: variant id is required", ErrValidation)
	}
	if quantity <= 0 {
		return nil, sellpass.Variant{}, decimal.Zero, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}

	sess, err := s.deps.Sessions.Lookup(ctx, userID)
	if err != nil {
		return nil, sellpass.Variant{}, decimal.Zero, err
	}

	variant, err := s.variant(ctx, variantID)
	if err != nil {
		return nil, sellpass.Variant{}, decimal.Zero, err
	}
	if !variant.AllowsQuantity(quantity) {
		return nil, sellpass.Variant{}, decimal.Zero, fmt.Errorf("%w: quantity %d is outside %d..%d for %s",
			ErrValidation, quantity, variant.MinAmount, variant.MaxAmount, variant.Title)
	}

	total := variant.Price.Mul(decimal.NewFromInt(int64(quantity)))
	if !total.IsPositive() {
		return nil, sellpass.Variant{}, decimal.Zero, fmt.Errorf("%w: variant %s has no price", ErrValidation, variant.ID)
	}
	return sess, variant, total, nil
}

func (s *CheckoutService) variant(ctx context.Context, variantID string) (sellpass.Variant, error) {
	variants, err := s.Variants(ctx)
	if err != nil {
		return sellpass.Variant{}, err
	}
	for _, v := range variants {
		if v.ID == variantID {
			return v, nil
		}
	}
	return sellpass.Variant{}, fmt.Errorf("%w: %w %s", ErrValidation, sellpass.ErrVariantNotFound, variantID)
}

func (s *CheckoutService) customerID(ctx context.Context, email string) (string, error) {
	key := cache.CustomerKey(email)
	if id, err := s.deps.Cache.Get(ctx, key); err == nil && id != "" {
		return id, nil
	}

	customer, err := s.deps.Backend.LookupCustomer(ctx, email)
	if err != nil {
		return "", fmt.Errorf("failed to look up customer: %w", err)
	}
	if err := s.deps.Cache.Set(ctx, key, customer.ID, s.cfg.CustomerTTL); err != nil {
		s.loggerFromContext(ctx).Warn("failed to cache customer id", "error", err)
	}
	return customer.ID, nil
}
