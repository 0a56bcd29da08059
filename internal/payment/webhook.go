package payment

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/lotline/auction-checkout/internal/common"
)

// Webhook handles provider callbacks. A verified webhook is treated purely as
// a reconciliation trigger: the service re-fetches the authoritative session
// state instead of trusting the pushed payload.
type Webhook struct {
	Svc       *Service
	Provider  Provider
	Replay    *redis.Client
	ReplayTTL time.Duration
}

// Handle verifies the callback signature and runs a reconciliation pass for
// the referenced session.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil || h.Provider == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	result, err := h.Provider.VerifyWebhook(r, body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", err.Error(), nil)
		return
	}
	if !result.Valid {
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}
	if result.SessionID == "" {
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", "event carries no session id", nil)
		return
	}

	if h.Replay != nil && h.ReplayTTL > 0 {
		key := fmt.Sprintf("wh:stripe:%s", common.Sha256Hex(string(body)))
		ok, err := h.Replay.SetNX(r.Context(), key, "1", h.ReplayTTL).Result()
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
			return
		}
		if !ok {
			common.JSONError(w, http.StatusConflict, "REPLAY", "duplicate webhook", nil)
			return
		}
	}

	if _, err := h.Svc.Reconcile(r.Context(), result.SessionID, "webhook"); err != nil {
		common.RenderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
