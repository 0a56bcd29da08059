package db

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// Invoice is the internally owned invoice row.
type Invoice struct {
	ID                  pgtype.UUID
	Status              string
	Subtotal            pgtype.Numeric
	BuyersPremiumAmount pgtype.Numeric
	TaxAmount           pgtype.Numeric
	GrandTotal          pgtype.Numeric
	Currency            string
	PaymentMethod       pgtype.Text
	CreatedAt           pgtype.Timestamptz
	UpdatedAt           pgtype.Timestamptz
}

// PaymentSession is the externally keyed checkout session record. Rows are
// never deleted; status history lives in the audit log.
type PaymentSession struct {
	ID                    pgtype.UUID
	SessionID             string
	InvoiceID             pgtype.UUID
	Amount                pgtype.Numeric
	Currency              string
	Status                string
	ProviderPaymentStatus pgtype.Text
	CheckoutURL           pgtype.Text
	CreatedAt             pgtype.Timestamptz
	UpdatedAt             pgtype.Timestamptz
}

// AuditLog is a fire-and-forget audit record.
type AuditLog struct {
	ID         pgtype.UUID
	EventType  string
	EntityType string
	EntityID   string
	Metadata   []byte
	CreatedAt  pgtype.Timestamptz
}

// DomainEvent is a persisted event fanned out to downstream consumers.
type DomainEvent struct {
	ID          pgtype.UUID
	Topic       string
	AggregateID pgtype.UUID
	Payload     []byte
	OccurredAt  pgtype.Timestamptz
}
