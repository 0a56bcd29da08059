package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultStripeBaseURL = "https://api.stripe.com"

// Stripe implements the Provider interface over the Stripe Checkout Session API.
type Stripe struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	HTTPClient    *http.Client

	// Tolerance bounds the age of a webhook timestamp before it is rejected
	// as a replay. Defaults to five minutes.
	Tolerance time.Duration
}

type stripeSessionPayload struct {
	ID                 string      `json:"id"`
	Status             string      `json:"status"`
	PaymentStatus      string      `json:"payment_status"`
	URL                string      `json:"url"`
	AmountTotal        json.Number `json:"amount_total"`
	Currency           string      `json:"currency"`
	PaymentMethodTypes []string    `json:"payment_method_types"`
}

type stripeErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateSession opens a hosted checkout session for the invoice amount.
func (s Stripe) CreateSession(ctx context.Context, req CreateSessionRequest) (ProviderSession, error) {
	if strings.TrimSpace(req.InvoiceID) == "" {
		return ProviderSession{}, errors.New("stripe: invoice id is required")
	}
	if req.AmountMinor <= 0 {
		return ProviderSession{}, errors.New("stripe: amount must be positive")
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", req.InvoiceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.AmountMinor, 10))
	form.Set("line_items[0][price_data][product_data][name]", valueOr(req.Description, "Auction invoice"))
	if req.SuccessURL != "" {
		form.Set("success_url", req.SuccessURL)
	}
	if req.CancelURL != "" {
		form.Set("cancel_url", req.CancelURL)
	}

	payload, err := s.do(ctx, http.MethodPost, "/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return ProviderSession{}, err
	}
	return sessionFromPayload(payload), nil
}

// RetrieveSession fetches the authoritative session state from the provider.
func (s Stripe) RetrieveSession(ctx context.Context, sessionID string) (ProviderSession, error) {
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return ProviderSession{}, errors.New("stripe: session id is required")
	}
	payload, err := s.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(trimmed), nil)
	if err != nil {
		return ProviderSession{}, err
	}
	return sessionFromPayload(payload), nil
}

// VerifyWebhook checks the Stripe-Signature header against the shared secret
// and extracts the embedded checkout session.
func (s Stripe) VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error) {
	header := strings.TrimSpace(r.Header.Get("Stripe-Signature"))
	if header == "" {
		return WebhookVerifyResult{}, errors.New("stripe: missing signature header")
	}
	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return WebhookVerifyResult{}, err
	}

	tolerance := s.Tolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	age := time.Since(time.Unix(timestamp, 0))
	if age > tolerance || age < -tolerance {
		return WebhookVerifyResult{}, errors.New("stripe: webhook timestamp outside tolerance")
	}

	expected := computeStripeSignature(s.WebhookSecret, timestamp, body)
	valid := false
	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			valid = true
			break
		}
	}
	if !valid {
		return WebhookVerifyResult{Valid: false}, nil
	}

	var event struct {
		Type string `json:"type"`
		Data struct {
			Object stripeSessionPayload `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookVerifyResult{}, fmt.Errorf("stripe: decode event: %w", err)
	}

	return WebhookVerifyResult{
		Valid:           true,
		SessionID:       event.Data.Object.ID,
		Status:          event.Data.Object.Status,
		PaymentStatus:   event.Data.Object.PaymentStatus,
		ProviderPayload: body,
	}, nil
}

func (s Stripe) do(ctx context.Context, method, path string, body io.Reader) (stripeSessionPayload, error) {
	var zero stripeSessionPayload
	base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if base == "" {
		base = defaultStripeBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return zero, err
	}
	req.Header.Set("Authorization", "Bearer "+s.SecretKey)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return zero, fmt.Errorf("stripe: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return zero, fmt.Errorf("stripe: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr stripeErrorPayload
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return zero, fmt.Errorf("stripe: %s (%s)", apiErr.Error.Message, apiErr.Error.Type)
		}
		return zero, fmt.Errorf("stripe: unexpected status %d", resp.StatusCode)
	}

	var payload stripeSessionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return zero, fmt.Errorf("stripe: decode response: %w", err)
	}
	return payload, nil
}

func sessionFromPayload(p stripeSessionPayload) ProviderSession {
	amount, _ := p.AmountTotal.Int64()
	// The session object carries the accepted method types as an array; the
	// first entry is recorded as the settling method on the invoice.
	method := ""
	if len(p.PaymentMethodTypes) > 0 {
		method = strings.ToLower(strings.TrimSpace(p.PaymentMethodTypes[0]))
	}
	return ProviderSession{
		SessionID:     p.ID,
		Status:        strings.ToLower(strings.TrimSpace(p.Status)),
		PaymentStatus: strings.ToLower(strings.TrimSpace(p.PaymentStatus)),
		CheckoutURL:   p.URL,
		AmountMinor:   amount,
		Currency:      strings.ToUpper(strings.TrimSpace(p.Currency)),
		PaymentMethod: method,
	}
}

func parseSignatureHeader(header string) (int64, []string, error) {
	var (
		timestamp  int64
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		pair := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(pair) != 2 {
			continue
		}
		switch pair[0] {
		case "t":
			ts, err := strconv.ParseInt(pair[1], 10, 64)
			if err != nil {
				return 0, nil, errors.New("stripe: malformed signature timestamp")
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, pair[1])
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return 0, nil, errors.New("stripe: malformed signature header")
	}
	return timestamp, signatures, nil
}

func computeStripeSignature(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
