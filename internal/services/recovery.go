package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gitshopapp/preorder/internal/logging"
	"github.com/gitshopapp/preorder/internal/models"
)

type pollerLauncher interface {
	Launch(invoiceID, gatewayID string) bool
}

// RecoveryManager resumes polling for invoices left open by a previous run
// and reports paid invoices that never produced an order.
type RecoveryManager struct {
	invoices InvoiceStore
	orders   OrderStore
	launcher pollerLauncher
	logger   *slog.Logger
}

func NewRecoveryManager(invoices InvoiceStore, orders OrderStore, launcher pollerLauncher, logger *slog.Logger) *RecoveryManager {
	return &RecoveryManager{
		invoices: invoices,
		orders:   orders,
		launcher: launcher,
		logger:   logger.With("component", "recovery"),
	}
}

// Recover launches one poller per AWAITING_PAYMENT invoice and returns how
// many were started. Invoices that already have a poller are skipped.
func (r *RecoveryManager) Recover(ctx context.Context) (int, error) {
	logger := logging.FromContext(ctx, r.logger)

	pending, err := r.invoices.ListByStatus(ctx, models.InvoiceAwaitingPayment)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending invoices: %w", err)
	}

	launched := 0
	for _, invoice := range pending {
		if invoice.HoodpayID == "" {
			logger.Warn("pending invoice has no gateway id; skipping", "invoice_id", invoice.InvoiceID)
			continue
		}
		if r.launcher.Launch(invoice.InvoiceID, invoice.HoodpayID) {
			launched++
		}
	}

	logger.Info("invoice recovery finished", "pending", len(pending), "launched", launched)
	return launched, nil
}

// Unreconciled lists COMPLETED invoices with no order. These are the
// invoices whose fulfillment failed or was interrupted.
func (r *RecoveryManager) Unreconciled(ctx context.Context) ([]*models.Invoice, error) {
	completed, err := r.invoices.ListByStatus(ctx, models.InvoiceCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed invoices: %w", err)
	}

	missing := make([]*models.Invoice, 0)
	for _, invoice := range completed {
		_, err := r.orders.GetByInvoiceID(ctx, invoice.InvoiceID)
		switch {
		case err == nil:
		case errors.Is(err, models.ErrNotFound):
			missing = append(missing, invoice)
		default:
			return nil, fmt.Errorf("failed to check order for %s: %w", invoice.InvoiceID, err)
		}
	}
	return missing, nil
}
