package billing

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

func d(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", value, err)
	}
	return v
}

func TestComputeInvoiceTotalsFlatRate(t *testing.T) {
	items := []LineItem{
		{LotID: "lot-1", Title: "Walnut bureau", Quantity: 2, UnitPrice: d(t, "275.50")},
		{LotID: "lot-2", Title: "Silver ladle", Quantity: 1, UnitPrice: d(t, "79.99")},
	}
	premium := d(t, "0.15")
	cfg := RateConfig{BuyersPremiumRate: &premium, TaxRate: d(t, "0.075")}

	totals, err := ComputeInvoiceTotals(items, cfg, "USD")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	if !totals.Subtotal.Equal(d(t, "630.99")) {
		t.Fatalf("subtotal = %s, want 630.99", totals.Subtotal)
	}
	if !totals.BuyersPremiumAmount.Equal(d(t, "94.6485")) {
		t.Fatalf("premium = %s, want 94.6485", totals.BuyersPremiumAmount)
	}
	if !totals.Tax.TaxableAmount.Equal(d(t, "725.6385")) {
		t.Fatalf("taxable = %s, want 725.6385", totals.Tax.TaxableAmount)
	}
	if !totals.TaxAmount.Equal(d(t, "54.4228875")) {
		t.Fatalf("tax = %s, want 54.4228875", totals.TaxAmount)
	}
	if !totals.GrandTotal.Equal(d(t, "780.0613875")) {
		t.Fatalf("grand = %s, want 780.0613875", totals.GrandTotal)
	}

	rounded := totals.Rounded()
	if got := rounded.BuyersPremiumAmount.String(); got != "94.65" {
		t.Fatalf("rounded premium = %s, want 94.65", got)
	}
	if got := rounded.TaxAmount.String(); got != "54.42" {
		t.Fatalf("rounded tax = %s, want 54.42", got)
	}
	if got := rounded.GrandTotal.String(); got != "780.06" {
		t.Fatalf("rounded grand = %s, want 780.06", got)
	}
}

func TestBuyersPremiumTierIsFlatNotMarginal(t *testing.T) {
	max := d(t, "500")
	cfg := RateConfig{
		TaxRate: decimal.Zero,
		PremiumTiers: []PremiumTier{
			{MinAmount: decimal.Zero, MaxAmount: &max, Rate: d(t, "0.20")},
			{MinAmount: d(t, "500"), Rate: d(t, "0.15")},
		},
	}

	premium, err := BuyersPremium(d(t, "1000"), cfg)
	if err != nil {
		t.Fatalf("premium: %v", err)
	}
	// The matched tier's rate applies to the whole subtotal, never bracket by
	// bracket: 1000 * 0.15 = 150, not 500*0.20 + 500*0.15.
	if !premium.Amount.Equal(d(t, "150")) {
		t.Fatalf("premium = %s, want 150", premium.Amount)
	}
	if premium.AppliedTier == nil || !premium.AppliedTier.Rate.Equal(d(t, "0.15")) {
		t.Fatalf("unexpected applied tier: %+v", premium.AppliedTier)
	}
}

func TestBuyersPremiumTierBoundaries(t *testing.T) {
	max := d(t, "500")
	cfg := RateConfig{
		PremiumTiers: []PremiumTier{
			{MinAmount: decimal.Zero, MaxAmount: &max, Rate: d(t, "0.20")},
			{MinAmount: d(t, "500"), Rate: d(t, "0.15")},
		},
	}

	// Upper bounds are exclusive: exactly 500 lands in the second tier.
	atBoundary, err := BuyersPremium(d(t, "500"), cfg)
	if err != nil {
		t.Fatalf("premium: %v", err)
	}
	if !atBoundary.Rate.Equal(d(t, "0.15")) {
		t.Fatalf("rate at boundary = %s, want 0.15", atBoundary.Rate)
	}

	justBelow, err := BuyersPremium(d(t, "499.99"), cfg)
	if err != nil {
		t.Fatalf("premium: %v", err)
	}
	if !justBelow.Rate.Equal(d(t, "0.20")) {
		t.Fatalf("rate below boundary = %s, want 0.20", justBelow.Rate)
	}
}

func TestBuyersPremiumGapWithoutFlatRate(t *testing.T) {
	max := d(t, "100")
	cfg := RateConfig{
		PremiumTiers: []PremiumTier{
			{MinAmount: decimal.Zero, MaxAmount: &max, Rate: d(t, "0.10")},
		},
	}

	if _, err := BuyersPremium(d(t, "150"), cfg); err == nil {
		t.Fatal("expected error for uncovered subtotal without flat fallback")
	}
}

func TestGrandTotalInvariantExact(t *testing.T) {
	cases := []struct {
		qty   int64
		price string
		prem  string
		tax   string
	}{
		{1, "0.01", "0.175", "0.0625"},
		{3, "33.33", "0.12", "0.08"},
		{7, "1234.567", "0.25", "0.10"},
		{2, "999999.99", "0.175", "0.21"},
		{5, "0.10", "0", "0"},
	}
	for _, tc := range cases {
		premium := d(t, tc.prem)
		cfg := RateConfig{BuyersPremiumRate: &premium, TaxRate: d(t, tc.tax)}
		items := []LineItem{{LotID: "lot", Quantity: tc.qty, UnitPrice: d(t, tc.price)}}

		totals, err := ComputeInvoiceTotals(items, cfg, "USD")
		if err != nil {
			t.Fatalf("compute %+v: %v", tc, err)
		}
		sum := totals.Subtotal.Add(totals.BuyersPremiumAmount).Add(totals.TaxAmount)
		if !totals.GrandTotal.Equal(sum) {
			t.Fatalf("grand total %s != component sum %s for %+v", totals.GrandTotal, sum, tc)
		}
	}
}

func TestGrandTotalInvariantRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		itemCount := 1 + rng.Intn(5)
		items := make([]LineItem, 0, itemCount)
		for j := 0; j < itemCount; j++ {
			price := decimal.NewFromInt(int64(rng.Intn(100_000_000))).Shift(-int32(rng.Intn(5)))
			items = append(items, LineItem{
				LotID:     fmt.Sprintf("lot-%d", j),
				Quantity:  int64(1 + rng.Intn(9)),
				UnitPrice: price,
			})
		}
		premium := decimal.NewFromInt(int64(rng.Intn(1000))).Shift(-3)
		tax := decimal.NewFromInt(int64(rng.Intn(1000))).Shift(-3)
		cfg := RateConfig{BuyersPremiumRate: &premium, TaxRate: tax}

		totals, err := ComputeInvoiceTotals(items, cfg, "USD")
		if err != nil {
			t.Fatalf("compute iteration %d: %v", i, err)
		}
		sum := totals.Subtotal.Add(totals.BuyersPremiumAmount).Add(totals.TaxAmount)
		if !totals.GrandTotal.Equal(sum) {
			t.Fatalf("iteration %d: grand total %s != component sum %s", i, totals.GrandTotal, sum)
		}
	}
}

func TestSubtotalAccumulatesExactly(t *testing.T) {
	// 0.1 + 0.2 famously fails in binary floats; it must not here.
	items := []LineItem{
		{LotID: "a", Quantity: 1, UnitPrice: d(t, "0.1")},
		{LotID: "b", Quantity: 1, UnitPrice: d(t, "0.2")},
	}
	if got := Subtotal(items); !got.Equal(d(t, "0.3")) {
		t.Fatalf("subtotal = %s, want 0.3", got)
	}
}
