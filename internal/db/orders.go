package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gitshopapp/preorder/internal/models"
)

const orderColumns = `invoice_id, user_id, username, variant_id, variant_title, quantity,
	payment_method, created_at, delivered`

type OrderStore struct {
	pool *pgxpool.Pool
}

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

func (s *OrderStore) Append(ctx context.Context, order *models.Order) error {
	if order == nil || order.InvoiceID == "" {
		return fmt.Errorf("order invoice id is required")
	}

	query := `
		INSERT INTO orders (invoice_id, user_id, username, variant_id, variant_title, quantity,
			payment_method, created_at, delivered)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.pool.Exec(ctx, query,
		order.InvoiceID, order.UserID, order.Username, order.VariantID, order.VariantTitle, order.Quantity,
		order.PaymentMethod, order.CreatedAt, order.Delivered,
	)
	if err != nil {
		return &models.StorageError{Op: "append order", InvoiceID: order.InvoiceID, Err: err}
	}
	return nil
}

func (s *OrderStore) MarkDelivered(ctx context.Context, invoiceID string) error {
	query := `
		UPDATE orders
		SET delivered = TRUE
		WHERE invoice_id = $1 AND delivered = FALSE
	`
	if _, err := s.pool.Exec(ctx, query, invoiceID); err != nil {
		return &models.StorageError{Op: "mark order delivered", InvoiceID: invoiceID, Err: err}
	}
	return nil
}

func (s *OrderStore) List(ctx context.Context) ([]*models.Order, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY seq`)
	if err != nil {
		return nil, &models.StorageError{Op: "list orders", Err: err}
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, &models.StorageError{Op: "scan order", Err: err}
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "list orders", Err: err}
	}
	return orders, nil
}

func (s *OrderStore) GetByInvoiceID(ctx context.Context, invoiceID string) (*models.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE invoice_id = $1`, invoiceID)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: order for invoice %s", models.ErrNotFound, invoiceID)
	}
	if err != nil {
		return nil, &models.StorageError{Op: "get order", InvoiceID: invoiceID, Err: err}
	}
	return order, nil
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var order models.Order
	err := row.Scan(
		&order.InvoiceID, &order.UserID, &order.Username, &order.VariantID, &order.VariantTitle, &order.Quantity,
		&order.PaymentMethod, &order.CreatedAt, &order.Delivered,
	)
	if err != nil {
		return nil, err
	}
	return &order, nil
}
