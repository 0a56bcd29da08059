package payment

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/lotline/auction-checkout/internal/billing"
	"github.com/lotline/auction-checkout/internal/common"
	"github.com/lotline/auction-checkout/internal/db"
)

// Handler exposes the checkout session and reconciliation endpoints.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type checkoutItem struct {
	LotID     string          `json:"lotId" validate:"required"`
	Title     string          `json:"title"`
	Quantity  int64           `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type createSessionRequest struct {
	Items    []checkoutItem `json:"items" validate:"required,min=1,dive"`
	Currency string         `json:"currency" validate:"omitempty,len=3"`
}

type sessionView struct {
	SessionID             string     `json:"sessionId"`
	InvoiceID             string     `json:"invoiceId"`
	Status                string     `json:"status"`
	ProviderPaymentStatus string     `json:"providerPaymentStatus,omitempty"`
	Amount                string     `json:"amount"`
	Currency              string     `json:"currency"`
	CheckoutURL           string     `json:"checkoutUrl,omitempty"`
	CreatedAt             *time.Time `json:"createdAt,omitempty"`
	UpdatedAt             *time.Time `json:"updatedAt,omitempty"`
}

func viewOf(s db.PaymentSession) sessionView {
	view := sessionView{
		SessionID: s.SessionID,
		InvoiceID: db.UUIDString(s.InvoiceID),
		Status:    s.Status,
		Amount:    db.DecimalFromNumeric(s.Amount).StringFixed(2),
		Currency:  s.Currency,
	}
	if s.ProviderPaymentStatus.Valid {
		view.ProviderPaymentStatus = s.ProviderPaymentStatus.String
	}
	if s.CheckoutURL.Valid {
		view.CheckoutURL = s.CheckoutURL.String
	}
	if s.CreatedAt.Valid {
		t := s.CreatedAt.Time
		view.CreatedAt = &t
	}
	if s.UpdatedAt.Valid {
		t := s.UpdatedAt.Time
		view.UpdatedAt = &t
	}
	return view
}

type invoiceView struct {
	InvoiceID           string     `json:"invoiceId"`
	Status              string     `json:"status"`
	Subtotal            string     `json:"subtotal"`
	BuyersPremiumAmount string     `json:"buyersPremiumAmount"`
	TaxAmount           string     `json:"taxAmount"`
	GrandTotal          string     `json:"grandTotal"`
	Currency            string     `json:"currency"`
	PaymentMethod       string     `json:"paymentMethod,omitempty"`
	CreatedAt           *time.Time `json:"createdAt,omitempty"`
	UpdatedAt           *time.Time `json:"updatedAt,omitempty"`
}

func invoiceViewOf(inv db.Invoice) invoiceView {
	view := invoiceView{
		InvoiceID:           db.UUIDString(inv.ID),
		Status:              inv.Status,
		Subtotal:            db.DecimalFromNumeric(inv.Subtotal).StringFixed(2),
		BuyersPremiumAmount: db.DecimalFromNumeric(inv.BuyersPremiumAmount).StringFixed(2),
		TaxAmount:           db.DecimalFromNumeric(inv.TaxAmount).StringFixed(2),
		GrandTotal:          db.DecimalFromNumeric(inv.GrandTotal).StringFixed(2),
		Currency:            inv.Currency,
	}
	if inv.PaymentMethod.Valid {
		view.PaymentMethod = inv.PaymentMethod.String
	}
	if inv.CreatedAt.Valid {
		t := inv.CreatedAt.Time
		view.CreatedAt = &t
	}
	if inv.UpdatedAt.Valid {
		t := inv.UpdatedAt.Time
		view.UpdatedAt = &t
	}
	return view
}

// CreateSession opens a checkout session for the submitted cart.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
	}

	items := make([]billing.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, billing.LineItem{
			LotID:     it.LotID,
			Title:     it.Title,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	result, err := h.Svc.CreateSession(r.Context(), items, req.Currency)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{
		"session": viewOf(result.Session),
		"totals":  result.Totals.Rounded(),
	})
}

// Reconcile triggers an on-demand reconciliation pass for the session.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "session id is required", nil)
		return
	}
	result, err := h.Svc.Reconcile(r.Context(), sessionID, "poll")
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"session":      viewOf(result.Session),
		"transitioned": result.Transitioned,
		"outcome":      result.Outcome,
	})
}

// GetInvoice returns the stored invoice with its component amounts.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "invoiceID")
	if invoiceID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invoice id is required", nil)
		return
	}
	invoice, err := h.Svc.GetInvoice(r.Context(), invoiceID)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"invoice": invoiceViewOf(invoice)})
}

// GetSession returns the locally stored session state without contacting the
// provider.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "session id is required", nil)
		return
	}
	session, err := h.Svc.GetSession(r.Context(), sessionID)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"session": viewOf(session)})
}
