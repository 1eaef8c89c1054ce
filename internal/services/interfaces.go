package services

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/gitshopapp/preorder/internal/models"
	"github.com/gitshopapp/preorder/internal/sellpass"
	"github.com/gitshopapp/preorder/internal/session"
	"github.com/gitshopapp/preorder/internal/stripe"
)

// InvoiceStore is implemented by filestore.InvoiceStore and db.InvoiceStore.
type InvoiceStore interface {
	Create(ctx context.Context, invoice *models.Invoice) error
	Get(ctx context.Context, invoiceID string) (*models.Invoice, error)
	List(ctx context.Context) ([]*models.Invoice, error)
	ListByStatus(ctx context.Context, status models.InvoiceStatus) ([]*models.Invoice, error)
	SetStatus(ctx context.Context, invoiceID string, status models.InvoiceStatus) error
}

// OrderStore is implemented by filestore.OrderStore and db.OrderStore.
type OrderStore interface {
	Append(ctx context.Context, order *models.Order) error
	MarkDelivered(ctx context.Context, invoiceID string) error
	List(ctx context.Context) ([]*models.Order, error)
	GetByInvoiceID(ctx context.Context, invoiceID string) (*models.Order, error)
}

type PaymentGateway interface {
	CheckStatus(ctx context.Context, gatewayID string) (models.GatewayStatus, error)
	SelectMethod(ctx context.Context, gatewayID, method string) (*models.PaymentInstructions, error)
}

// MethodChecker is a gateway with a fixed set of accepted payment methods.
type MethodChecker interface {
	SupportsMethod(method string) bool
}

// CardCheckout is a gateway that creates its own hosted payment, without a
// commerce backend top-up.
type CardCheckout interface {
	PaymentGateway
	CreateCheckout(ctx context.Context, params stripe.CheckoutParams) (string, string, error)
}

type BalanceDeducter interface {
	DeductBalance(ctx context.Context, customerID string, amount decimal.Decimal) error
}

type CommerceBackend interface {
	BalanceDeducter
	LookupCustomer(ctx context.Context, email string) (*sellpass.Customer, error)
	ListVariants(ctx context.Context) ([]sellpass.Variant, error)
	CreateTopup(ctx context.Context, customerToken string, amount decimal.Decimal) (string, error)
	GetInvoiceGateway(ctx context.Context, invoiceID string) (*sellpass.GatewayRef, error)
}

type SessionResolver interface {
	Lookup(ctx context.Context, userID int64) (*session.Session, error)
}

type Alerter interface {
	Reconciliation(ctx context.Context, alert ReconciliationAlert)
	StorageFailure(ctx context.Context, invoiceID string, err error)
}

// ReconciliationAlert describes money that moved without a matching order.
type ReconciliationAlert struct {
	InvoiceID  string
	CustomerID string
	UserID     int64
	Amount     decimal.Decimal
	Err        error
}
