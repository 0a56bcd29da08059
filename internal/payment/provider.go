package payment

import (
	"context"
	"net/http"
)

// CreateSessionRequest captures what the provider needs to open a hosted
// checkout session. AmountMinor is the grand total in the currency's minor
// unit (cents).
type CreateSessionRequest struct {
	InvoiceID   string
	AmountMinor int64
	Currency    string
	Description string
	SuccessURL  string
	CancelURL   string
}

// ProviderSession is the provider's view of a checkout session. Status and
// PaymentStatus carry the provider's raw vocabulary; the service maps them
// onto the local state machine.
type ProviderSession struct {
	SessionID     string
	Status        string
	PaymentStatus string
	CheckoutURL   string
	AmountMinor   int64
	Currency      string
	PaymentMethod string
}

// WebhookVerifyResult contains the normalised data extracted from a webhook
// notification after signature verification.
type WebhookVerifyResult struct {
	Valid           bool
	SessionID       string
	Status          string
	PaymentStatus   string
	ProviderPayload []byte
}

// Provider abstracts the operations required from the upstream payment provider.
type Provider interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (ProviderSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (ProviderSession, error)
	VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error)
}
