package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/shopspring/decimal"

	"github.com/gitshopapp/preorder/internal/logging"
	"github.com/gitshopapp/preorder/internal/models"
	"github.com/gitshopapp/preorder/internal/observability"
)

// Fulfiller turns a paid invoice into exactly one order: deduct the customer's
// balance, then append the order. The delivery queue is read from the order
// store, so appending is enqueueing.
type Fulfiller struct {
	invoices InvoiceStore
	orders   OrderStore
	backend  BalanceDeducter
	alerter  Alerter
	logger   *slog.Logger

	locks invoiceLocks

	mu        sync.Mutex
	attempted map[string]struct{}
}

func NewFulfiller(invoices InvoiceStore, orders OrderStore, backend BalanceDeducter, alerter Alerter, logger *slog.Logger) *Fulfiller {
	return &Fulfiller{
		invoices:  invoices,
		orders:    orders,
		backend:   backend,
		alerter:   alerter,
		logger:    logger.With("component", "fulfillment"),
		attempted: make(map[string]struct{}),
	}
}

func (f *Fulfiller) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, f.logger)
}

// Fulfill completes a gateway invoice already marked COMPLETED. If an order
// already exists for it, that order is returned and nothing is deducted.
func (f *Fulfiller) Fulfill(ctx context.Context, invoiceID string) (*models.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.fulfillment.fulfill",
		sentry.WithOpName("service.fulfillment"),
		sentry.WithDescription("Fulfill"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()
	span.SetData("invoice.id", invoiceID)

	unlock := f.locks.lock(invoiceID)
	defer unlock()

	invoice, err := f.invoices.Get(ctx, invoiceID)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return nil, fmt.Errorf("failed to load invoice %s: %w", invoiceID, err)
	}
	if invoice.Status != models.InvoiceCompleted {
		span.Status = sentry.SpanStatusFailedPrecondition
		return nil, fmt.Errorf("%w: %s is %s", ErrInvoiceNotCompleted, invoiceID, invoice.Status)
	}

	order, err := f.deductAndAppend(ctx, charge{
		invoiceID:  invoice.InvoiceID,
		customerID: invoice.CustomerID,
		userID:     invoice.UserID,
		amount:     invoice.TotalPrice,
		// Card checkouts are captured by the gateway itself; only backend
		// top-ups land on the customer's balance.
		deduct: invoice.SellpassID != "",
		paid:   true,
	}, models.NewOrderFromInvoice(invoice))
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return nil, err
	}
	span.Status = sentry.SpanStatusOK
	return order, nil
}

// BalanceCharge is an order paid from the customer's existing balance.
type BalanceCharge struct {
	CustomerID string
	Amount     decimal.Decimal
	Order      *models.Order
}

// FulfillBalance deducts and appends under the same guard as Fulfill, keyed by
// the order's synthetic invoice id.
func (f *Fulfiller) FulfillBalance(ctx context.Context, c BalanceCharge) (*models.Order, error) {
	if c.Order == nil || c.Order.InvoiceID == "" {
		return nil, fmt.Errorf("%w: balance order needs an invoice id", ErrValidation)
	}

	unlock := f.locks.lock(c.Order.InvoiceID)
	defer unlock()

	return f.deductAndAppend(ctx, charge{
		invoiceID:  c.Order.InvoiceID,
		customerID: c.CustomerID,
		userID:     c.Order.UserID,
		amount:     c.Amount,
		deduct:     true,
	}, c.Order)
}

type charge struct {
	invoiceID  string
	customerID string
	userID     int64
	amount     decimal.Decimal
	deduct     bool
	// paid is set when money already reached us through the gateway, so a
	// failed deduction must be reconciled by an operator.
	paid bool
}

// deductAndAppend must be called with the invoice lock held.
func (f *Fulfiller) deductAndAppend(ctx context.Context, c charge, order *models.Order) (*models.Order, error) {
	logger := f.loggerFromContext(ctx).With("invoice_id", c.invoiceID)

	existing, err := f.orders.GetByInvoiceID(ctx, c.invoiceID)
	if err == nil {
		logger.Info("invoice already fulfilled")
		observability.CountFulfillment(ctx, "already_fulfilled")
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing order: %w", err)
	}

	if !f.markAttempted(c.invoiceID) {
		logger.Warn("fulfillment already attempted in this process; skipping")
		observability.CountFulfillment(ctx, "already_attempted")
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAttempted, c.invoiceID)
	}

	if c.deduct {
		if err := f.backend.DeductBalance(ctx, c.customerID, c.amount); err != nil {
			balanceErr := &models.FulfillmentBalanceError{
				InvoiceID:  c.invoiceID,
				CustomerID: c.customerID,
				Amount:     c.amount,
				Err:        err,
			}
			observability.CountFulfillment(ctx, "deduct_failed")
			if c.paid {
				f.alerter.Reconciliation(ctx, ReconciliationAlert{
					InvoiceID:  c.invoiceID,
					CustomerID: c.customerID,
					UserID:     c.userID,
					Amount:     c.amount,
					Err:        balanceErr,
				})
			} else {
				logger.Warn("balance deduction failed", "error", err, "customer_id", c.customerID)
			}
			return nil, balanceErr
		}
	}

	if err := f.orders.Append(ctx, order); err != nil {
		observability.CountFulfillment(ctx, "append_failed")
		f.alerter.Reconciliation(ctx, ReconciliationAlert{
			InvoiceID:  c.invoiceID,
			CustomerID: c.customerID,
			UserID:     c.userID,
			Amount:     c.amount,
			Err:        fmt.Errorf("balance deducted but order not recorded: %w", err),
		})
		return nil, err
	}

	observability.CountFulfillment(ctx, "fulfilled")
	logger.Info("order queued", "user_id", order.UserID, "variant_id", order.VariantID, "quantity", order.Quantity)
	return order, nil
}

func (f *Fulfiller) markAttempted(invoiceID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.attempted[invoiceID]; ok {
		return false
	}
	f.attempted[invoiceID] = struct{}{}
	return true
}

// invoiceLocks is a set of mutexes keyed by invoice id. Entries are dropped
// once no goroutine holds or waits on them.
type invoiceLocks struct {
	mu    sync.Mutex
	locks map[string]*invoiceLock
}

type invoiceLock struct {
	mu   sync.Mutex
	refs int
}

func (l *invoiceLocks) lock(invoiceID string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*invoiceLock)
	}
	entry, ok := l.locks[invoiceID]
	if !ok {
		entry = &invoiceLock{}
		l.locks[invoiceID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, invoiceID)
		}
		l.mu.Unlock()
	}
}
