package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gitshopapp/preorder/internal/logging"
	"github.com/gitshopapp/preorder/internal/models"
	"github.com/gitshopapp/preorder/internal/observability"
)

const DefaultPollInterval = 60 * time.Second

type invoiceFulfiller interface {
	Fulfill(ctx context.Context, invoiceID string) (*models.Order, error)
}

// Poller watches one invoice at the payment gateway until it reaches a
// terminal status.
type Poller struct {
	invoices  InvoiceStore
	gateway   PaymentGateway
	fulfiller invoiceFulfiller
	alerter   Alerter
	interval  time.Duration
	logger    *slog.Logger
}

func NewPoller(invoices InvoiceStore, gateway PaymentGateway, fulfiller invoiceFulfiller, alerter Alerter, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		invoices:  invoices,
		gateway:   gateway,
		fulfiller: fulfiller,
		alerter:   alerter,
		interval:  interval,
		logger:    logger.With("component", "poller"),
	}
}

// Run polls immediately and then once per interval. Gateway errors are
// retried forever; it returns once the invoice is settled, polling cannot
// continue, or ctx is done.
func (p *Poller) Run(ctx context.Context, invoiceID, gatewayID string) {
	ctx, logger := logging.With(ctx, p.logger, "invoice_id", invoiceID, "gateway_id", gatewayID)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("poller stopped", "reason", ctx.Err())
			return
		case <-timer.C:
		}

		if p.poll(ctx, logger, invoiceID, gatewayID) {
			return
		}
		timer.Reset(p.interval)
	}
}

// poll runs one gateway check and reports whether polling is finished.
func (p *Poller) poll(ctx context.Context, logger *slog.Logger, invoiceID, gatewayID string) bool {
	status, err := p.gateway.CheckStatus(ctx, gatewayID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		reason := "error"
		var transient *models.TransientGatewayError
		if errors.As(err, &transient) {
			reason = "transient"
		}
		observability.CountGatewayFailure(ctx, reason)
		logger.Warn("gateway status check failed; will retry", "error", err, "retry_in", p.interval)
		return false
	}

	next, terminal := status.InvoiceStatus()
	if !terminal {
		logger.Debug("payment still pending", "gateway_status", status)
		return false
	}

	if err := p.invoices.SetStatus(ctx, invoiceID, next); err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidStatusTransition):
			logger.Warn("invoice already settled with a different status", "gateway_status", status, "error", err)
		case errors.Is(err, models.ErrNotFound):
			logger.Error("invoice disappeared from the store", "error", err)
		default:
			p.alerter.StorageFailure(ctx, invoiceID, err)
		}
		return true
	}

	observability.CountInvoiceTransition(ctx, string(next))
	logger.Info("invoice settled", "status", next)

	if next != models.InvoiceCompleted {
		return true
	}

	// Deduct and append must not be split by shutdown.
	if _, err := p.fulfiller.Fulfill(context.WithoutCancel(ctx), invoiceID); err != nil {
		var balanceErr *models.FulfillmentBalanceError
		switch {
		case errors.As(err, &balanceErr):
			// Already alerted by the fulfiller.
		case errors.Is(err, ErrAlreadyAttempted):
			logger.Info("fulfillment skipped", "error", err)
		default:
			logger.Error("fulfillment failed", "error", err)
		}
	}
	return true
}
