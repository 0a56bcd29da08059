package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createPaymentSession = `
INSERT INTO payment_sessions (session_id, invoice_id, amount, currency, status, provider_payment_status, checkout_url)
VALUES ($1, $2, $3, $4, 'created', $5, $6)
RETURNING id, session_id, invoice_id, amount, currency, status, provider_payment_status, checkout_url, created_at, updated_at
`

// CreatePaymentSessionParams captures a freshly opened provider session.
type CreatePaymentSessionParams struct {
	SessionID             string
	InvoiceID             pgtype.UUID
	Amount                pgtype.Numeric
	Currency              string
	ProviderPaymentStatus pgtype.Text
	CheckoutURL           pgtype.Text
}

// CreatePaymentSession records a new checkout attempt in the created state.
func (q *Queries) CreatePaymentSession(ctx context.Context, arg CreatePaymentSessionParams) (PaymentSession, error) {
	row := q.db.QueryRow(ctx, createPaymentSession,
		arg.SessionID, arg.InvoiceID, arg.Amount, arg.Currency, arg.ProviderPaymentStatus, arg.CheckoutURL)
	return scanPaymentSession(row)
}

const getPaymentSession = `
SELECT id, session_id, invoice_id, amount, currency, status, provider_payment_status, checkout_url, created_at, updated_at
FROM payment_sessions
WHERE session_id = $1
`

// GetPaymentSession loads a session by its provider-assigned identifier.
func (q *Queries) GetPaymentSession(ctx context.Context, sessionID string) (PaymentSession, error) {
	row := q.db.QueryRow(ctx, getPaymentSession, sessionID)
	return scanPaymentSession(row)
}

const updatePaymentSessionStatus = `
UPDATE payment_sessions
SET status = $3, provider_payment_status = $4, updated_at = now()
WHERE session_id = $1 AND status = $2
`

// UpdatePaymentSessionStatusParams describes a conditional status transition.
type UpdatePaymentSessionStatusParams struct {
	SessionID             string
	FromStatus            string
	Status                string
	ProviderPaymentStatus pgtype.Text
}

// UpdatePaymentSessionStatus applies a transition only when the stored status
// still matches the one the caller observed. Zero affected rows means a
// concurrent reconciler already applied a transition.
func (q *Queries) UpdatePaymentSessionStatus(ctx context.Context, arg UpdatePaymentSessionStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updatePaymentSessionStatus,
		arg.SessionID, arg.FromStatus, arg.Status, arg.ProviderPaymentStatus)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const refreshProviderPaymentStatus = `
UPDATE payment_sessions
SET provider_payment_status = $2, updated_at = now()
WHERE session_id = $1 AND provider_payment_status IS DISTINCT FROM $2
`

// RefreshProviderPaymentStatus stores a changed raw provider status without
// moving the local state machine.
func (q *Queries) RefreshProviderPaymentStatus(ctx context.Context, sessionID string, raw pgtype.Text) (int64, error) {
	tag, err := q.db.Exec(ctx, refreshProviderPaymentStatus, sessionID, raw)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanPaymentSession(row interface{ Scan(dest ...any) error }) (PaymentSession, error) {
	var s PaymentSession
	err := row.Scan(&s.ID, &s.SessionID, &s.InvoiceID, &s.Amount, &s.Currency,
		&s.Status, &s.ProviderPaymentStatus, &s.CheckoutURL, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}
