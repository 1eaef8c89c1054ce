package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gitshopapp/preorder/internal/models"
)

const uniqueViolation = "23505"

const invoiceColumns = `invoice_id, email, customer_id, sellpass_id, hoodpay_id, hoodpay_url,
	variant_id, variant_title, amount, total_price::text, user_id, username,
	payment_method, status, created_at`

type InvoiceStore struct {
	pool *pgxpool.Pool
}

func NewInvoiceStore(pool *pgxpool.Pool) *InvoiceStore {
	return &InvoiceStore{pool: pool}
}

func (s *InvoiceStore) Create(ctx context.Context, invoice *models.Invoice) error {
	if invoice == nil || invoice.InvoiceID == "" {
		return fmt.Errorf("invoice id is required")
	}
	if invoice.Status == "" {
		invoice.Status = models.InvoiceAwaitingPayment
	}

	query := `
		INSERT INTO invoices (invoice_id, email, customer_id, sellpass_id, hoodpay_id, hoodpay_url,
			variant_id, variant_title, amount, total_price, user_id, username,
			payment_method, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11, $12, $13, $14, $15)
	`
	_, err := s.pool.Exec(ctx, query,
		invoice.InvoiceID, invoice.Email, invoice.CustomerID, invoice.SellpassID, invoice.HoodpayID, invoice.HoodpayURL,
		invoice.VariantID, invoice.VariantTitle, invoice.Amount, invoice.TotalPrice.String(), invoice.UserID, invoice.Username,
		invoice.PaymentMethod, string(invoice.Status), invoice.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", models.ErrDuplicateInvoice, invoice.InvoiceID)
		}
		return &models.StorageError{Op: "create invoice", InvoiceID: invoice.InvoiceID, Err: err}
	}
	return nil
}

func (s *InvoiceStore) Get(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE invoice_id = $1`, invoiceID)
	invoice, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: invoice %s", models.ErrNotFound, invoiceID)
	}
	if err != nil {
		return nil, &models.StorageError{Op: "get invoice", InvoiceID: invoiceID, Err: err}
	}
	return invoice, nil
}

func (s *InvoiceStore) List(ctx context.Context) ([]*models.Invoice, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices ORDER BY created_at, invoice_id`)
	if err != nil {
		return nil, &models.StorageError{Op: "list invoices", Err: err}
	}
	return collectInvoices(rows)
}

func (s *InvoiceStore) ListByStatus(ctx context.Context, status models.InvoiceStatus) ([]*models.Invoice, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE status = $1 ORDER BY created_at, invoice_id`, string(status))
	if err != nil {
		return nil, &models.StorageError{Op: "list invoices by status", Err: err}
	}
	return collectInvoices(rows)
}

// SetStatus only moves invoices out of AWAITING_PAYMENT, so concurrent writers
// from other processes cannot regress a terminal invoice.
func (s *InvoiceStore) SetStatus(ctx context.Context, invoiceID string, status models.InvoiceStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %s", models.ErrInvalidStatusTransition, status)
	}

	query := `
		UPDATE invoices
		SET status = $1
		WHERE invoice_id = $2 AND status = $3
	`
	cmdTag, err := s.pool.Exec(ctx, query, string(status), invoiceID, string(models.InvoiceAwaitingPayment))
	if err != nil {
		return &models.StorageError{Op: "update invoice status", InvoiceID: invoiceID, Err: err}
	}
	if cmdTag.RowsAffected() == 1 {
		return nil
	}

	current, err := s.Get(ctx, invoiceID)
	if err != nil {
		return err
	}
	if current.Status == status {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", models.ErrInvalidStatusTransition, current.Status, status)
}

func collectInvoices(rows pgx.Rows) ([]*models.Invoice, error) {
	defer rows.Close()

	invoices := make([]*models.Invoice, 0)
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, &models.StorageError{Op: "scan invoice", Err: err}
		}
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "list invoices", Err: err}
	}
	return invoices, nil
}

func scanInvoice(row pgx.Row) (*models.Invoice, error) {
	var (
		invoice    models.Invoice
		totalPrice string
		status     string
	)
	err := row.Scan(
		&invoice.InvoiceID, &invoice.Email, &invoice.CustomerID, &invoice.SellpassID, &invoice.HoodpayID, &invoice.HoodpayURL,
		&invoice.VariantID, &invoice.VariantTitle, &invoice.Amount, &totalPrice, &invoice.UserID, &invoice.Username,
		&invoice.PaymentMethod, &status, &invoice.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	invoice.TotalPrice, err = decimal.NewFromString(totalPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid total price %q: %w", totalPrice, err)
	}
	invoice.Status = models.InvoiceStatus(status)
	return &invoice, nil
}
