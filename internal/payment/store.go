package payment

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lotline/auction-checkout/internal/db"
)

// Store is the persistence surface the reconciliation service depends on.
type Store interface {
	CreateInvoice(ctx context.Context, arg db.CreateInvoiceParams) (db.Invoice, error)
	GetInvoice(ctx context.Context, id pgtype.UUID) (db.Invoice, error)
	MarkInvoicePaid(ctx context.Context, arg db.MarkInvoicePaidParams) (int64, error)
	CreatePaymentSession(ctx context.Context, arg db.CreatePaymentSessionParams) (db.PaymentSession, error)
	GetPaymentSession(ctx context.Context, sessionID string) (db.PaymentSession, error)
	UpdatePaymentSessionStatus(ctx context.Context, arg db.UpdatePaymentSessionStatusParams) (int64, error)
	RefreshProviderPaymentStatus(ctx context.Context, sessionID string, raw pgtype.Text) (int64, error)
	WithTx(tx pgx.Tx) Store
}

// TxBeginner starts database transactions; *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type queriesStore struct {
	*db.Queries
}

// NewStore adapts the query layer to the Store interface.
func NewStore(q *db.Queries) Store {
	return queriesStore{Queries: q}
}

func (s queriesStore) WithTx(tx pgx.Tx) Store {
	return queriesStore{Queries: s.Queries.WithTx(tx)}
}
