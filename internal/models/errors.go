package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrDuplicateInvoice        = errors.New("invoice already exists")
	ErrNotFound                = errors.New("record not found")
	ErrInvalidStatusTransition = errors.New("invalid invoice status transition")
)

// StorageError is a failed durable read or write.
type StorageError struct {
	Op        string
	InvoiceID string
	Err       error
}

func (e *StorageError) Error() string {
	if e.InvoiceID != "" {
		return fmt.Sprintf("storage %s failed for invoice %s: %v", e.Op, e.InvoiceID, e.Err)
	}
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// TransientGatewayError is a network or HTTP failure talking to the payment gateway.
type TransientGatewayError struct {
	GatewayID  string
	StatusCode int
	Err        error
}

func (e *TransientGatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway request for %s failed with status %d: %v", e.GatewayID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway request for %s failed: %v", e.GatewayID, e.Err)
}

func (e *TransientGatewayError) Unwrap() error {
	return e.Err
}

// FulfillmentBalanceError means the gateway confirmed payment but the balance
// deduction failed. The invoice stays COMPLETED with no order.
type FulfillmentBalanceError struct {
	InvoiceID  string
	CustomerID string
	Amount     decimal.Decimal
	Err        error
}

func (e *FulfillmentBalanceError) Error() string {
	return fmt.Sprintf("balance deduction of %s for customer %s failed for invoice %s: %v", e.Amount.String(), e.CustomerID, e.InvoiceID, e.Err)
}

func (e *FulfillmentBalanceError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err carries a *StorageError.
func IsStorageError(err error) bool {
	var storageErr *StorageError
	return errors.As(err, &storageErr)
}
