package events

// Topic constants for domain events emitted by the checkout core.
const (
	TopicSessionCreated   = "checkout.session_created"
	TopicPaymentCompleted = "payment.completed"
	TopicPaymentExpired   = "payment.expired"
	TopicPaymentFailed    = "payment.failed"
	TopicInvoicePaid      = "invoice.paid"
)

// DefaultTopics returns the canonical list of topics downstream consumers may
// subscribe to.
func DefaultTopics() []string {
	return []string{
		TopicSessionCreated,
		TopicPaymentCompleted,
		TopicPaymentExpired,
		TopicPaymentFailed,
		TopicInvoicePaid,
	}
}
