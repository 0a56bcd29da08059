package billing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lotline/auction-checkout/internal/common"
)

// FieldError pinpoints a single input violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects every violation found in a calculation request so
// callers can render all problems at once.
type ValidationErrors []FieldError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "invalid calculation input"
	}
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return strings.Join(parts, "; ")
}

// AsAppError wraps the collected violations into the canonical error shape.
func (v ValidationErrors) AsAppError() *common.AppError {
	return common.Validation("invalid calculation input", []FieldError(v))
}

var one = decimal.NewFromInt(1)

func rateInRange(rate decimal.Decimal) bool {
	return !rate.IsNegative() && !rate.GreaterThan(one)
}

// ValidateCalculationInputs checks items and rates, collecting every
// violation instead of failing fast. Returns nil when the input is clean.
func ValidateCalculationInputs(items []LineItem, cfg RateConfig) error {
	var errs ValidationErrors

	if len(items) == 0 {
		errs = append(errs, FieldError{Field: "items", Message: "at least one line item is required"})
	}
	for i, it := range items {
		prefix := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(it.LotID) == "" {
			errs = append(errs, FieldError{Field: prefix + ".lotId", Message: "lot id must not be empty"})
		}
		if it.Quantity <= 0 {
			errs = append(errs, FieldError{Field: prefix + ".quantity", Message: "quantity must be positive"})
		}
		if it.UnitPrice.IsNegative() {
			errs = append(errs, FieldError{Field: prefix + ".unitPrice", Message: "unit price must not be negative"})
		}
	}

	if cfg.BuyersPremiumRate != nil && !rateInRange(*cfg.BuyersPremiumRate) {
		errs = append(errs, FieldError{Field: "buyersPremiumRate", Message: "rate must be within [0,1]"})
	}
	if !rateInRange(cfg.TaxRate) {
		errs = append(errs, FieldError{Field: "taxRate", Message: "rate must be within [0,1]"})
	}

	errs = append(errs, validateTiers(cfg.PremiumTiers)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateTiers(tiers []PremiumTier) ValidationErrors {
	var errs ValidationErrors
	for i, tier := range tiers {
		prefix := fmt.Sprintf("premiumTiers[%d]", i)
		if tier.MinAmount.IsNegative() {
			errs = append(errs, FieldError{Field: prefix + ".minAmount", Message: "must not be negative"})
		}
		if tier.MaxAmount != nil && !tier.MaxAmount.GreaterThan(tier.MinAmount) {
			errs = append(errs, FieldError{Field: prefix + ".maxAmount", Message: "must be greater than minAmount"})
		}
		if !rateInRange(tier.Rate) {
			errs = append(errs, FieldError{Field: prefix + ".rate", Message: "rate must be within [0,1]"})
		}
		if i == 0 {
			continue
		}
		prev := tiers[i-1]
		if tier.MinAmount.LessThan(prev.MinAmount) {
			errs = append(errs, FieldError{Field: prefix + ".minAmount", Message: "tiers must be ordered by minAmount ascending"})
			continue
		}
		// An unbounded earlier tier swallows everything after it.
		if prev.MaxAmount == nil {
			errs = append(errs, FieldError{Field: prefix, Message: "previous tier is unbounded; tiers overlap"})
			continue
		}
		if tier.MinAmount.LessThan(*prev.MaxAmount) {
			errs = append(errs, FieldError{Field: prefix + ".minAmount", Message: "tier overlaps previous tier"})
		}
	}
	return errs
}
