package billing

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// LineItem is a single hammered lot inside a checkout cart. Items are treated
// as immutable once submitted to a calculation request.
type LineItem struct {
	LotID     string          `json:"lotId"`
	Title     string          `json:"title"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// PremiumTier maps a subtotal range [MinAmount, MaxAmount) to a single flat
// buyer's premium rate applied to the whole subtotal. A nil MaxAmount means
// the tier is unbounded above.
type PremiumTier struct {
	MinAmount decimal.Decimal  `json:"minAmount"`
	MaxAmount *decimal.Decimal `json:"maxAmount"`
	Rate      decimal.Decimal  `json:"rate"`
}

// Contains reports whether the subtotal falls inside the tier's range.
func (t PremiumTier) Contains(subtotal decimal.Decimal) bool {
	if subtotal.LessThan(t.MinAmount) {
		return false
	}
	if t.MaxAmount == nil {
		return true
	}
	return subtotal.LessThan(*t.MaxAmount)
}

// RateConfig carries the rates supplied with a calculation request. Tiers, if
// present, must be non-overlapping and ordered by MinAmount ascending; the
// engine validates but never sorts them.
type RateConfig struct {
	BuyersPremiumRate *decimal.Decimal `json:"buyersPremiumRate"`
	TaxRate           decimal.Decimal  `json:"taxRate"`
	PremiumTiers      []PremiumTier    `json:"premiumTiers"`
}

// PremiumResult reports the resolved buyer's premium.
type PremiumResult struct {
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
	AppliedTier *PremiumTier    `json:"appliedTier,omitempty"`
}

// TaxResult reports the tax computation. The taxable base is the
// premium-inclusive price, not the raw subtotal.
type TaxResult struct {
	Rate          decimal.Decimal `json:"rate"`
	TaxableAmount decimal.Decimal `json:"taxableAmount"`
	Amount        decimal.Decimal `json:"amount"`
}

// ItemBreakdown is the per-item trace recorded on computed totals.
type ItemBreakdown struct {
	LotID      string          `json:"lotId"`
	Title      string          `json:"title"`
	Quantity   int64           `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

// InvoiceTotals is a fully itemized invoice total. All amounts are exact
// decimals; GrandTotal == Subtotal + BuyersPremiumAmount + TaxAmount holds at
// full precision until Rounded is applied at the presentation boundary.
type InvoiceTotals struct {
	Subtotal            decimal.Decimal `json:"subtotal"`
	BuyersPremiumAmount decimal.Decimal `json:"buyersPremiumAmount"`
	TaxAmount           decimal.Decimal `json:"taxAmount"`
	GrandTotal          decimal.Decimal `json:"grandTotal"`
	Currency            string          `json:"currency"`
	Premium             PremiumResult   `json:"premium"`
	Tax                 TaxResult       `json:"tax"`
	Breakdown           []ItemBreakdown `json:"breakdown"`
}

// Rounded returns a copy with every monetary amount rounded to two fractional
// digits. Rounding happens only here; intermediate pipeline values stay exact.
func (t InvoiceTotals) Rounded() InvoiceTotals {
	out := t
	out.Subtotal = t.Subtotal.Round(2)
	out.BuyersPremiumAmount = t.BuyersPremiumAmount.Round(2)
	out.TaxAmount = t.TaxAmount.Round(2)
	out.GrandTotal = t.GrandTotal.Round(2)
	out.Premium.Amount = t.Premium.Amount.Round(2)
	out.Tax.TaxableAmount = t.Tax.TaxableAmount.Round(2)
	out.Tax.Amount = t.Tax.Amount.Round(2)
	out.Breakdown = make([]ItemBreakdown, len(t.Breakdown))
	for i, b := range t.Breakdown {
		b.TotalPrice = b.TotalPrice.Round(2)
		out.Breakdown[i] = b
	}
	return out
}

// ParseTiers decodes a JSON tier list, e.g.
// [{"minAmount":"0","maxAmount":"500","rate":"0.10"},{"minAmount":"500","rate":"0.15"}].
func ParseTiers(raw string) ([]PremiumTier, error) {
	if raw == "" {
		return nil, nil
	}
	var tiers []PremiumTier
	if err := json.Unmarshal([]byte(raw), &tiers); err != nil {
		return nil, fmt.Errorf("parse premium tiers: %w", err)
	}
	return tiers, nil
}
