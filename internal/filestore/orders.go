package filestore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gitshopapp/preorder/internal/models"
)

const OrderFileName = "orders.json"

type OrderStore struct {
	mu   sync.Mutex
	file recordFile[*models.Order]
}

func NewOrderStore(dir string) (*OrderStore, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	return &OrderStore{
		file: recordFile[*models.Order]{path: filepath.Join(dir, OrderFileName)},
	}, nil
}

func (s *OrderStore) Append(ctx context.Context, order *models.Order) error {
	if order == nil || order.InvoiceID == "" {
		return fmt.Errorf("order invoice id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	orders, err := s.file.load()
	if err != nil {
		return &models.StorageError{Op: "load orders", InvoiceID: order.InvoiceID, Err: err}
	}

	stored := *order
	orders = append(orders, &stored)
	if err := s.file.save(orders); err != nil {
		return &models.StorageError{Op: "append order", InvoiceID: order.InvoiceID, Err: err}
	}
	return nil
}

// MarkDelivered flips the first undelivered order for invoiceID. It is a no-op
// when there is none.
func (s *OrderStore) MarkDelivered(ctx context.Context, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders, err := s.file.load()
	if err != nil {
		return &models.StorageError{Op: "load orders", InvoiceID: invoiceID, Err: err}
	}

	changed := false
	for _, order := range orders {
		if order.InvoiceID == invoiceID && !order.Delivered {
			order.Delivered = true
			changed = true
			break
		}
	}
	if !changed {
		return nil
	}

	if err := s.file.save(orders); err != nil {
		return &models.StorageError{Op: "mark order delivered", InvoiceID: invoiceID, Err: err}
	}
	return nil
}

func (s *OrderStore) List(ctx context.Context) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders, err := s.file.load()
	if err != nil {
		return nil, &models.StorageError{Op: "load orders", Err: err}
	}
	return orders, nil
}

func (s *OrderStore) GetByInvoiceID(ctx context.Context, invoiceID string) (*models.Order, error) {
	orders, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, order := range orders {
		if order.InvoiceID == invoiceID {
			return order, nil
		}
	}
	return nil, fmt.Errorf("%w: order for invoice %s", models.ErrNotFound, invoiceID)
}
