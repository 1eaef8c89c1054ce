package models

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceAwaitingPayment InvoiceStatus = "AWAITING_PAYMENT"
	InvoiceCompleted       InvoiceStatus = "COMPLETED"
	InvoiceExpired         InvoiceStatus = "EXPIRED"
	InvoiceCancelled       InvoiceStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s InvoiceStatus) Terminal() bool {
	switch s {
	case InvoiceCompleted, InvoiceExpired, InvoiceCancelled:
		return true
	default:
		return false
	}
}

func (s InvoiceStatus) Valid() bool {
	return s == InvoiceAwaitingPayment || s.Terminal()
}

// CanTransition reports whether an invoice in status s may be moved to next.
// Re-applying the current status is allowed and treated as a no-op by stores.
func (s InvoiceStatus) CanTransition(next InvoiceStatus) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	return s == InvoiceAwaitingPayment && next.Terminal()
}

type Invoice struct {
	InvoiceID     string          `json:"invoice_id"`
	Email         string          `json:"email"`
	CustomerID    string          `json:"customer_id"`
	SellpassID    string          `json:"sellpass_id"`
	HoodpayID     string          `json:"hoodpay_id"`
	HoodpayURL    string          `json:"hoodpay_url,omitempty"`
	VariantID     string          `json:"variant_id"`
	VariantTitle  string          `json:"variant_title"`
	Amount        int             `json:"amount"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	UserID        int64           `json:"user_id"`
	Username      string          `json:"username"`
	PaymentMethod string          `json:"payment_method"`
	Status        InvoiceStatus   `json:"status"`
	CreatedAt     time.Time       `json:"timestamp"`
}

const invoiceSuffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewInvoiceID returns "<prefix>-<YYYYMMDDHHMMSS>-<6 random [A-Z0-9]>".
func NewInvoiceID(prefix string, now time.Time) (string, error) {
	suffix := make([]byte, 6)
	limit := big.NewInt(int64(len(invoiceSuffixAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate invoice id: %w", err)
		}
		suffix[i] = invoiceSuffixAlphabet[n.Int64()]
	}
	return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format("20060102150405"), suffix), nil
}
