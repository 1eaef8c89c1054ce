package services

import "errors"

var (
	ErrValidation          = errors.New("invalid request")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvoiceNotCompleted = errors.New("invoice is not completed")
	ErrAlreadyAttempted    = errors.New("fulfillment already attempted for invoice")
	ErrRequestInProgress   = errors.New("request with this idempotency key is still in progress")
)
