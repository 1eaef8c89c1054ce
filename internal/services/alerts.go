package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/gitshopapp/preorder/internal/email"
	"github.com/gitshopapp/preorder/internal/logging"
)

// OperatorAlerter surfaces failures that need a human: an error log, a Sentry
// event and, when configured, an email.
type OperatorAlerter struct {
	provider email.Provider
	renderer *email.Renderer
	to       string
	logger   *slog.Logger
	now      func() time.Time
}

func NewOperatorAlerter(provider email.Provider, renderer *email.Renderer, to string, logger *slog.Logger) *OperatorAlerter {
	if provider == nil {
		provider = email.NoopProvider{}
	}
	return &OperatorAlerter{
		provider: provider,
		renderer: renderer,
		to:       to,
		logger:   logger.With("component", "alerts"),
		now:      time.Now,
	}
}

func (a *OperatorAlerter) Reconciliation(ctx context.Context, alert ReconciliationAlert) {
	logger := logging.FromContext(ctx, a.logger)
	logger.Error("payment needs manual reconciliation",
		"invoice_id", alert.InvoiceID,
		"customer_id", alert.CustomerID,
		"user_id", alert.UserID,
		"amount", alert.Amount.String(),
		"error", alert.Err,
	)

	a.capture(ctx, "reconciliation", alert.InvoiceID, alert.Err)
	a.send(ctx, &email.AlertInfo{
		Kind:       email.AlertReconciliation,
		InvoiceID:  alert.InvoiceID,
		CustomerID: alert.CustomerID,
		UserID:     alert.UserID,
		Amount:     alert.Amount.String(),
		Error:      errorText(alert.Err),
		OccurredAt: a.now(),
	})
}

func (a *OperatorAlerter) StorageFailure(ctx context.Context, invoiceID string, err error) {
	logging.FromContext(ctx, a.logger).Error("invoice status could not be persisted", "invoice_id", invoiceID, "error", err)

	a.capture(ctx, "storage", invoiceID, err)
	a.send(ctx, &email.AlertInfo{
		Kind:       email.AlertStorage,
		InvoiceID:  invoiceID,
		Error:      errorText(err),
		OccurredAt: a.now(),
	})
}

func (a *OperatorAlerter) capture(ctx context.Context, kind, invoiceID string, err error) {
	if err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("alert", kind)
		scope.SetTag("invoice_id", invoiceID)
		scope.SetLevel(sentry.LevelError)
		hub.CaptureException(err)
	})
}

func (a *OperatorAlerter) send(ctx context.Context, info *email.AlertInfo) {
	if a.to == "" || a.renderer == nil {
		return
	}
	logger := logging.FromContext(ctx, a.logger)

	msg, err := a.renderer.RenderAlert(a.to, info)
	if err != nil {
		logger.Error("failed to render operator alert", "error", err, "invoice_id", info.InvoiceID)
		return
	}
	if err := a.provider.SendEmail(ctx, msg); err != nil {
		logger.Error("failed to send operator alert", "error", err, "invoice_id", info.InvoiceID)
	}
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
