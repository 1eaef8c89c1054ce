package models

import "github.com/shopspring/decimal"

// GatewayStatus is the payment processor's view of an invoice.
type GatewayStatus string

const (
	GatewayPending   GatewayStatus = "PENDING"
	GatewayCompleted GatewayStatus = "COMPLETED"
	GatewayExpired   GatewayStatus = "EXPIRED"
	GatewayCancelled GatewayStatus = "CANCELLED"
)

// InvoiceStatus maps a terminal gateway status onto the invoice lifecycle.
// ok is false while the gateway still reports the payment as pending.
func (s GatewayStatus) InvoiceStatus() (InvoiceStatus, bool) {
	switch s {
	case GatewayCompleted:
		return InvoiceCompleted, true
	case GatewayExpired:
		return InvoiceExpired, true
	case GatewayCancelled:
		return InvoiceCancelled, true
	default:
		return "", false
	}
}

// PaymentInstructions tell the customer how to pay a gateway invoice.
type PaymentInstructions struct {
	Method   string          `json:"method"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Address  string          `json:"address"`
}
