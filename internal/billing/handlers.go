package billing

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/lotline/auction-checkout/internal/common"
	"github.com/lotline/auction-checkout/internal/obs"
)

// Handler exposes the invoice preview endpoint.
type Handler struct {
	Validate *validator.Validate
	Defaults RateConfig
	Currency string
}

type previewItem struct {
	LotID     string          `json:"lotId" validate:"required"`
	Title     string          `json:"title"`
	Quantity  int64           `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type previewRequest struct {
	Items    []previewItem `json:"items" validate:"required,min=1,dive"`
	Currency string        `json:"currency" validate:"omitempty,len=3"`
	Rates    *RateConfig   `json:"rates"`
}

// Preview computes itemized totals for a cart without persisting anything.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	result := "error"
	defer func() {
		if obs.InvoiceComputeTotal != nil {
			obs.InvoiceComputeTotal.WithLabelValues(result).Inc()
		}
	}()

	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		result = "bad_request"
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			result = "bad_request"
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
	}

	items := make([]LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, LineItem{
			LotID:     it.LotID,
			Title:     it.Title,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	cfg := h.Defaults
	if req.Rates != nil {
		cfg = *req.Rates
	}
	currency := req.Currency
	if currency == "" {
		currency = h.Currency
	}

	totals, err := ComputeInvoiceTotals(items, cfg, currency)
	if err != nil {
		var verrs ValidationErrors
		if errors.As(err, &verrs) {
			result = "invalid"
			common.RenderError(w, verrs.AsAppError())
			return
		}
		common.RenderError(w, err)
		return
	}
	result = "success"
	common.JSON(w, http.StatusOK, map[string]any{
		"totals":    totals.Rounded(),
		"breakdown": totals.Breakdown,
	})
}
