package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createInvoice = `
INSERT INTO invoices (status, subtotal, buyers_premium_amount, tax_amount, grand_total, currency)
VALUES ('pending', $1, $2, $3, $4, $5)
RETURNING id, status, subtotal, buyers_premium_amount, tax_amount, grand_total, currency, payment_method, created_at, updated_at
`

// CreateInvoiceParams carries the rounded component amounts persisted for a
// new pending invoice.
type CreateInvoiceParams struct {
	Subtotal            pgtype.Numeric
	BuyersPremiumAmount pgtype.Numeric
	TaxAmount           pgtype.Numeric
	GrandTotal          pgtype.Numeric
	Currency            string
}

// CreateInvoice inserts a pending invoice and returns the stored row.
func (q *Queries) CreateInvoice(ctx context.Context, arg CreateInvoiceParams) (Invoice, error) {
	row := q.db.QueryRow(ctx, createInvoice,
		arg.Subtotal, arg.BuyersPremiumAmount, arg.TaxAmount, arg.GrandTotal, arg.Currency)
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Status, &inv.Subtotal, &inv.BuyersPremiumAmount,
		&inv.TaxAmount, &inv.GrandTotal, &inv.Currency, &inv.PaymentMethod,
		&inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}

const getInvoice = `
SELECT id, status, subtotal, buyers_premium_amount, tax_amount, grand_total, currency, payment_method, created_at, updated_at
FROM invoices
WHERE id = $1
`

// GetInvoice loads an invoice by id.
func (q *Queries) GetInvoice(ctx context.Context, id pgtype.UUID) (Invoice, error) {
	row := q.db.QueryRow(ctx, getInvoice, id)
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Status, &inv.Subtotal, &inv.BuyersPremiumAmount,
		&inv.TaxAmount, &inv.GrandTotal, &inv.Currency, &inv.PaymentMethod,
		&inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}

const markInvoicePaid = `
UPDATE invoices
SET status = 'paid', payment_method = $2, updated_at = now()
WHERE id = $1 AND status <> 'paid'
`

// MarkInvoicePaidParams identifies the invoice and the settling method.
type MarkInvoicePaidParams struct {
	ID            pgtype.UUID
	PaymentMethod pgtype.Text
}

// MarkInvoicePaid transitions an invoice to paid. The status precondition
// makes the settlement idempotent: a concurrent reconciler that lost the race
// observes zero affected rows.
func (q *Queries) MarkInvoicePaid(ctx context.Context, arg MarkInvoicePaidParams) (int64, error) {
	tag, err := q.db.Exec(ctx, markInvoicePaid, arg.ID, arg.PaymentMethod)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
