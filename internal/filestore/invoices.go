package filestore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gitshopapp/preorder/internal/models"
)

const InvoiceFileName = "invoices.json"

type InvoiceStore struct {
	mu   sync.Mutex
	file recordFile[*models.Invoice]
}

func NewInvoiceStore(dir string) (*InvoiceStore, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	return &InvoiceStore{
		file: recordFile[*models.Invoice]{path: filepath.Join(dir, InvoiceFileName)},
	}, nil
}

func (s *InvoiceStore) Create(ctx context.Context, invoice *models.Invoice) error {
	if invoice == nil || invoice.InvoiceID == "" {
		return fmt.Errorf("invoice id is required")
	}
	if invoice.Status == "" {
		invoice.Status = models.InvoiceAwaitingPayment
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	invoices, err := s.file.load()
	if err != nil {
		return &models.StorageError{Op: "load invoices", InvoiceID: invoice.InvoiceID, Err: err}
	}
	for _, existing := range invoices {
		if existing.InvoiceID == invoice.InvoiceID {
			return fmt.Errorf("%w: %s", models.ErrDuplicateInvoice, invoice.InvoiceID)
		}
	}

	stored := *invoice
	invoices = append(invoices, &stored)
	if err := s.file.save(invoices); err != nil {
		return &models.StorageError{Op: "create invoice", InvoiceID: invoice.InvoiceID, Err: err}
	}
	return nil
}

func (s *InvoiceStore) Get(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoices, err := s.file.load()
	if err != nil {
		return nil, &models.StorageError{Op: "load invoices", InvoiceID: invoiceID, Err: err}
	}
	for _, invoice := range invoices {
		if invoice.InvoiceID == invoiceID {
			return invoice, nil
		}
	}
	return nil, fmt.Errorf("%w: invoice %s", models.ErrNotFound, invoiceID)
}

func (s *InvoiceStore) List(ctx context.Context) ([]*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoices, err := s.file.load()
	if err != nil {
		return nil, &models.StorageError{Op: "load invoices", Err: err}
	}
	return invoices, nil
}

func (s *InvoiceStore) ListByStatus(ctx context.Context, status models.InvoiceStatus) ([]*models.Invoice, error) {
	invoices, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Invoice, 0, len(invoices))
	for _, invoice := range invoices {
		if invoice.Status == status {
			matched = append(matched, invoice)
		}
	}
	return matched, nil
}

func (s *InvoiceStore) SetStatus(ctx context.Context, invoiceID string, status models.InvoiceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoices, err := s.file.load()
	if err != nil {
		return &models.StorageError{Op: "load invoices", InvoiceID: invoiceID, Err: err}
	}

	var target *models.Invoice
	for _, invoice := range invoices {
		if invoice.InvoiceID == invoiceID {
			target = invoice
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: invoice %s", models.ErrNotFound, invoiceID)
	}
	if !target.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidStatusTransition, target.Status, status)
	}
	if target.Status == status {
		return nil
	}

	target.Status = status
	if err := s.file.save(invoices); err != nil {
		return &models.StorageError{Op: "update invoice status", InvoiceID: invoiceID, Err: err}
	}
	return nil
}
