package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gitshopapp/preorder/internal/models"
)

type recordingLauncher struct {
	mu       sync.Mutex
	launched map[string]string
}

func (l *recordingLauncher) Launch(invoiceID, gatewayID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launched == nil {
		l.launched = make(map[string]string)
	}
	if _, ok := l.launched[invoiceID]; ok {
		return false
	}
	l.launched[invoiceID] = gatewayID
	return true
}

func TestRecover_LaunchesOnePollerPerPendingInvoice(t *testing.T) {
	t.Parallel()

	invoices, orders := newFileStores(t, t.TempDir())
	ctx := context.Background()

	const pending = 5
	for i := 0; i < pending; i++ {
		if err := invoices.Create(ctx, testInvoice(fmt.Sprintf("INV-P%d", i), 1, 5, time.Now())); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}
	for i, status := range []models.InvoiceStatus{models.InvoiceCompleted, models.InvoiceExpired, models.InvoiceCancelled} {
		id := fmt.Sprintf("INV-T%d", i)
		if err := invoices.Create(ctx, testInvoice(id, 1, 5, time.Now())); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if err := invoices.SetStatus(ctx, id, status); err != nil {
			t.Fatalf("SetStatus returned error: %v", err)
		}
	}

	launcher := &recordingLauncher{}
	r := NewRecoveryManager(invoices, orders, launcher, testLogger())

	launched, err := r.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover returned error: %v", err)
	}
	if launched != pending || len(launcher.launched) != pending {
		t.Fatalf("expected %d pollers, got %d (%d recorded)", pending, launched, len(launcher.launched))
	}
	if launcher.launched["INV-P0"] != "hp-INV-P0" {
		t.Fatalf("expected gateway id hp-INV-P0, got %q", launcher.launched["INV-P0"])
	}

	again, err := r.Recover(ctx)
	if err != nil {
		t.Fatalf("second Recover returned error: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected already-running pollers to be skipped, got %d", again)
	}
}

func TestRecover_ResumesAfterRestart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	// First process: the invoice is created and the process dies before the
	// gateway reports anything.
	before := newPollerFixture(t, dir)
	if err := before.invoices.Create(ctx, testInvoice("INV-R", 3, 10, time.Now())); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := before.supervisor.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}

	// Second process over the same data directory.
	after := newPollerFixture(t, dir)
	after.gateway.script("hp-INV-R", gatewayStep{status: models.GatewayPending}, gatewayStep{status: models.GatewayCompleted})
	r := NewRecoveryManager(after.invoices, after.orders, after.supervisor, testLogger())

	launched, err := r.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover returned error: %v", err)
	}
	if launched != 1 {
		t.Fatalf("expected 1 poller, got %d", launched)
	}

	waitFor(t, "resumed poller to settle the invoice", func() bool {
		invoice, err := after.invoices.Get(ctx, "INV-R")
		return err == nil && invoice.Status.Terminal() && !after.supervisor.IsActive("INV-R")
	})

	if _, err := after.orders.GetByInvoiceID(ctx, "INV-R"); err != nil {
		t.Fatalf("expected an order after recovery, got %v", err)
	}
}

func TestUnreconciled_ListsCompletedInvoicesWithoutOrders(t *testing.T) {
	t.Parallel()

	invoices, orders := newFileStores(t, t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"INV-OK", "INV-GAP"} {
		if err := invoices.Create(ctx, testInvoice(id, 1, 5, time.Now())); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if err := invoices.SetStatus(ctx, id, models.InvoiceCompleted); err != nil {
			t.Fatalf("SetStatus returned error: %v", err)
		}
	}
	invoice, err := invoices.Get(ctx, "INV-OK")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if err := orders.Append(ctx, models.NewOrderFromInvoice(invoice)); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}

	r := NewRecoveryManager(invoices, orders, &recordingLauncher{}, testLogger())
	missing, err := r.Unreconciled(ctx)
	if err != nil {
		t.Fatalf("Unreconciled returned error: %v", err)
	}
	if len(missing) != 1 || missing[0].InvoiceID != "INV-GAP" {
		t.Fatalf("expected only INV-GAP, got %+v", missing)
	}
}
