package payment

import "strings"

// SessionStatus is a local session state. The alias keeps statuses assignable
// to the plain string columns the query layer scans into.
type SessionStatus = string

// A session starts in created and moves to exactly one terminal status;
// terminal statuses never transition again.
const (
	StatusCreated   SessionStatus = "created"
	StatusCompleted SessionStatus = "completed"
	StatusExpired   SessionStatus = "expired"
	StatusFailed    SessionStatus = "failed"
)

// IsTerminal reports whether the local status admits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

// mapProviderState maps the provider's raw session state onto the local state
// machine. The second return is false when the provider state does not warrant
// a local transition yet; the raw status is still recorded for observability.
func mapProviderState(status, paymentStatus string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(paymentStatus)) {
	case "paid":
		return StatusCompleted, true
	case "failed":
		return StatusFailed, true
	}
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "expired":
		return StatusExpired, true
	case "failed", "canceled":
		return StatusFailed, true
	}
	return StatusCreated, false
}

// rawProviderStatus condenses the provider's two status fields into the single
// value stored on the session row.
func rawProviderStatus(status, paymentStatus string) string {
	status = strings.ToLower(strings.TrimSpace(status))
	paymentStatus = strings.ToLower(strings.TrimSpace(paymentStatus))
	if paymentStatus != "" {
		return paymentStatus
	}
	return status
}
