package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gitshopapp/preorder/internal/cache"
	"github.com/gitshopapp/preorder/internal/filestore"
	"github.com/gitshopapp/preorder/internal/models"
	"github.com/gitshopapp/preorder/internal/sellpass"
	"github.com/gitshopapp/preorder/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFileStores(t *testing.T, dir string) (*filestore.InvoiceStore, *filestore.OrderStore) {
	t.Helper()

	invoices, err := filestore.NewInvoiceStore(dir)
	if err != nil {
		t.Fatalf("NewInvoiceStore returned error: %v", err)
	}
	orders, err := filestore.NewOrderStore(dir)
	if err != nil {
		t.Fatalf("NewOrderStore returned error: %v", err)
	}
	return invoices, orders
}

func newMemoryCache(t *testing.T) *cache.MemoryProvider {
	t.Helper()

	p, err := cache.NewMemoryProvider(128)
	if err != nil {
		t.Fatalf("NewMemoryProvider returned error: %v", err)
	}
	return p
}

func testInvoice(id string, userID int64, total int64, createdAt time.Time) *models.Invoice {
	return &models.Invoice{
		InvoiceID:     id,
		Email:         "buyer@example.com",
		CustomerID:    "cust-1",
		SellpassID:    "sp-" + id,
		HoodpayID:     "hp-" + id,
		VariantID:     "v1",
		VariantTitle:  "GOLD PACK",
		Amount:        1,
		TotalPrice:    decimal.NewFromInt(total),
		UserID:        userID,
		Username:      fmt.Sprintf("user%d", userID),
		PaymentMethod: "LITECOIN",
		Status:        models.InvoiceAwaitingPayment,
		CreatedAt:     createdAt,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type gatewayStep struct {
	status models.GatewayStatus
	err    error
}

// scriptedGateway replays a fixed sequence of responses per gateway id and
// repeats the last one once the script runs out.
type scriptedGateway struct {
	mu      sync.Mutex
	scripts map[string][]gatewayStep
	calls   map[string]int
}

func newScriptedGateway() *scriptedGateway {
	return &scriptedGateway{
		scripts: make(map[string][]gatewayStep),
		calls:   make(map[string]int),
	}
}

func (g *scriptedGateway) script(gatewayID string, steps ...gatewayStep) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripts[gatewayID] = steps
}

func (g *scriptedGateway) CheckStatus(_ context.Context, gatewayID string) (models.GatewayStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	steps := g.scripts[gatewayID]
	n := g.calls[gatewayID]
	g.calls[gatewayID] = n + 1
	if len(steps) == 0 {
		return models.GatewayPending, nil
	}
	if n >= len(steps) {
		n = len(steps) - 1
	}
	return steps[n].status, steps[n].err
}

func (g *scriptedGateway) SelectMethod(_ context.Context, gatewayID, method string) (*models.PaymentInstructions, error) {
	return &models.PaymentInstructions{
		Method:   method,
		Amount:   decimal.RequireFromString("0.25"),
		Currency: method,
		Address:  "addr-" + gatewayID,
	}, nil
}

func (g *scriptedGateway) callCount(gatewayID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[gatewayID]
}

type deduction struct {
	customerID string
	amount     decimal.Decimal
}

type fakeBackend struct {
	mu         sync.Mutex
	deductions []deduction
	deductErr  error
	customers  map[string]*sellpass.Customer
	variants   []sellpass.Variant
	listCalls  int
	topups     []decimal.Decimal
	topupToken []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		customers: map[string]*sellpass.Customer{
			"buyer@example.com": {ID: "cust-1", Email: "buyer@example.com", RealBalance: decimal.NewFromInt(20), ManualBalance: decimal.NewFromInt(5)},
		},
		variants: []sellpass.Variant{
			{ID: "v1", Title: "GOLD PACK", Price: decimal.RequireFromString("2.50"), MinAmount: 1, MaxAmount: 10},
			{ID: "v2", Title: "FREE", Price: decimal.Zero},
		},
	}
}

func (b *fakeBackend) DeductBalance(_ context.Context, customerID string, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deductErr != nil {
		return b.deductErr
	}
	b.deductions = append(b.deductions, deduction{customerID: customerID, amount: amount})
	return nil
}

func (b *fakeBackend) LookupCustomer(_ context.Context, email string) (*sellpass.Customer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	customer, ok := b.customers[strings.ToLower(email)]
	if !ok {
		return nil, sellpass.ErrCustomerNotFound
	}
	copied := *customer
	return &copied, nil
}

func (b *fakeBackend) ListVariants(context.Context) ([]sellpass.Variant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	return append([]sellpass.Variant(nil), b.variants...), nil
}

func (b *fakeBackend) CreateTopup(_ context.Context, token string, amount decimal.Decimal) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topups = append(b.topups, amount)
	b.topupToken = append(b.topupToken, token)
	return fmt.Sprintf("sp-%d", len(b.topups)), nil
}

func (b *fakeBackend) GetInvoiceGateway(_ context.Context, invoiceID string) (*sellpass.GatewayRef, error) {
	id := strings.TrimPrefix(invoiceID, "sp-")
	return &sellpass.GatewayRef{PaymentID: "hp-" + id, URL: "https://pay.example/hp-" + id}, nil
}

func (b *fakeBackend) deductionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.deductions)
}

type recordingAlerter struct {
	mu              sync.Mutex
	reconciliations []ReconciliationAlert
	storage         []string
}

func (a *recordingAlerter) Reconciliation(_ context.Context, alert ReconciliationAlert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reconciliations = append(a.reconciliations, alert)
}

func (a *recordingAlerter) StorageFailure(_ context.Context, invoiceID string, _ error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.storage = append(a.storage, invoiceID)
}

func (a *recordingAlerter) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reconciliations), len(a.storage)
}

type fakeSessions map[int64]*session.Session

func (f fakeSessions) Lookup(_ context.Context, userID int64) (*session.Session, error) {
	sess, ok := f[userID]
	if !ok {
		return nil, session.ErrNoSession
	}
	return sess, nil
}

// failingStatusStore fails every SetStatus with a storage error.
type failingStatusStore struct {
	InvoiceStore
}

func (s failingStatusStore) SetStatus(_ context.Context, invoiceID string, _ models.InvoiceStatus) error {
	return &models.StorageError{Op: "set_status", InvoiceID: invoiceID, Err: fmt.Errorf("disk full")}
}

// failingAppendStore fails every Append.
type failingAppendStore struct {
	OrderStore
}

func (s failingAppendStore) Append(_ context.Context, order *models.Order) error {
	return &models.StorageError{Op: "append", InvoiceID: order.InvoiceID, Err: fmt.Errorf("disk full")}
}
