package models

import "time"

const PaymentMethodBalance = "balance"

// Order is a paid reservation waiting for (or past) delivery.
type Order struct {
	InvoiceID     string    `json:"invoice_id"`
	UserID        int64     `json:"user_id"`
	Username      string    `json:"username"`
	VariantID     string    `json:"variant_id"`
	VariantTitle  string    `json:"variant_title"`
	Quantity      int       `json:"quantity"`
	PaymentMethod string    `json:"payment_method"`
	CreatedAt     time.Time `json:"timestamp"`
	Delivered     bool      `json:"delivered"`
}

// NewOrderFromInvoice keeps the invoice's creation time so queue rank follows
// when the customer ordered, not when the payment was seen.
func NewOrderFromInvoice(invoice *Invoice) *Order {
	return &Order{
		InvoiceID:     invoice.InvoiceID,
		UserID:        invoice.UserID,
		Username:      invoice.Username,
		VariantID:     invoice.VariantID,
		VariantTitle:  invoice.VariantTitle,
		Quantity:      invoice.Amount,
		PaymentMethod: invoice.PaymentMethod,
		CreatedAt:     invoice.CreatedAt,
	}
}
