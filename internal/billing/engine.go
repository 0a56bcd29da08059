package billing

import (
	"github.com/shopspring/decimal"

	"github.com/lotline/auction-checkout/internal/common"
)

// Subtotal sums quantity * unit_price across all items using exact decimal
// arithmetic. An empty list yields zero; ComputeInvoiceTotals rejects empty
// carts before reaching this primitive.
func Subtotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(it.Quantity)))
	}
	return total
}

// BuyersPremium resolves the premium for the subtotal. When tiers are
// supplied, the first ascending tier whose [min, max) range contains the
// subtotal wins and its rate applies to the entire subtotal; this is a flat
// bracket selection, not marginal taxation. Without tiers the flat rate
// applies. A tier-coverage gap with no flat rate to fall back on is a
// conflict.
func BuyersPremium(subtotal decimal.Decimal, cfg RateConfig) (PremiumResult, error) {
	for i := range cfg.PremiumTiers {
		tier := cfg.PremiumTiers[i]
		if tier.Contains(subtotal) {
			return PremiumResult{
				Rate:        tier.Rate,
				Amount:      subtotal.Mul(tier.Rate),
				AppliedTier: &tier,
			}, nil
		}
	}
	if cfg.BuyersPremiumRate != nil {
		rate := *cfg.BuyersPremiumRate
		return PremiumResult{Rate: rate, Amount: subtotal.Mul(rate)}, nil
	}
	return PremiumResult{}, common.Conflict("no premium tier covers subtotal and no flat rate configured", nil)
}

// Tax computes tax over the premium-inclusive price. Taxing the premium is a
// deliberate business rule: the buyer's premium is part of the taxable sale.
func Tax(subtotal, premiumAmount, rate decimal.Decimal) TaxResult {
	taxable := subtotal.Add(premiumAmount)
	return TaxResult{
		Rate:          rate,
		TaxableAmount: taxable,
		Amount:        taxable.Mul(rate),
	}
}

// GrandTotal is the exact sum of the three components.
func GrandTotal(subtotal, premiumAmount, taxAmount decimal.Decimal) decimal.Decimal {
	return subtotal.Add(premiumAmount).Add(taxAmount)
}

// ComputeInvoiceTotals runs the canonical pipeline: subtotal, premium off the
// full subtotal, tax off subtotal+premium, then the sum. Inputs are validated
// first and every violation is reported together; the engine never partially
// computes.
func ComputeInvoiceTotals(items []LineItem, cfg RateConfig, currency string) (InvoiceTotals, error) {
	if err := ValidateCalculationInputs(items, cfg); err != nil {
		return InvoiceTotals{}, err
	}

	subtotal := Subtotal(items)
	premium, err := BuyersPremium(subtotal, cfg)
	if err != nil {
		return InvoiceTotals{}, err
	}
	tax := Tax(subtotal, premium.Amount, cfg.TaxRate)
	grand := GrandTotal(subtotal, premium.Amount, tax.Amount)

	breakdown := make([]ItemBreakdown, 0, len(items))
	for _, it := range items {
		breakdown = append(breakdown, ItemBreakdown{
			LotID:      it.LotID,
			Title:      it.Title,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			TotalPrice: it.UnitPrice.Mul(decimal.NewFromInt(it.Quantity)),
		})
	}

	return InvoiceTotals{
		Subtotal:            subtotal,
		BuyersPremiumAmount: premium.Amount,
		TaxAmount:           tax.Amount,
		GrandTotal:          grand,
		Currency:            currency,
		Premium:             premium,
		Tax:                 tax,
		Breakdown:           breakdown,
	}, nil
}
