package pricing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/bundlekit/pkg/catalog"
)

// Multi-bundle discount tiers by distinct bundle count.
var (
	discountTwo      = decimal.NewFromFloat(0.20)
	discountThree    = decimal.NewFromFloat(0.30)
	discountFourPlus = decimal.NewFromFloat(0.40)
)

// DiscountPercent returns the multi-bundle discount fraction for a distinct
// bundle count: 1 bundle 0%, 2 bundles 20%, 3 bundles 30%, 4 or more 40%.
func DiscountPercent(count int) decimal.Decimal {
	switch {
	case count >= 4:
		return discountFourPlus
	case count == 3:
		return discountThree
	case count == 2:
		return discountTwo
	default:
		return decimal.Zero
	}
}

// BundlePrice is the per-bundle line of a price breakdown.
type BundlePrice struct {
	Key           string          `json:"key"`
	Version       int64           `json:"version"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	StandardPrice decimal.Decimal `json:"standard_price"`
	PromoApplied  bool            `json:"promo_applied"`
}

// Breakdown is the result of pricing a bundle combination.
type Breakdown struct {
	Base           decimal.Decimal `json:"base"`         // sum of promo-adjusted unit prices
	DiscountPct    decimal.Decimal `json:"discount_pct"` // fraction, e.g. 0.2 for 20%
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Final          decimal.Decimal `json:"final"`
	Savings        decimal.Decimal `json:"savings"` // vs undiscounted standard prices
	PerBundle      []BundlePrice   `json:"per_bundle"`
}

// Price computes the price breakdown for a set of bundle definitions. It is
// a pure function of its inputs: same definitions, cycle and instant always
// produce the same breakdown.
//
// Per bundle the unit price is the promo override while the promo is active
// at asOf, otherwise the standard price for the cycle. The multi-bundle
// discount applies to the summed, already promo-adjusted base, so
// promotional and multi-bundle discounts stack multiplicatively. Savings
// compare the final price against the undiscounted standard prices.
//
// Duplicate keys collapse to one line; an empty set prices to zero. Disabled
// bundles price normally here - purchase gating is the ledger's concern.
func Price(defs []catalog.BundleDefinition, cycle catalog.BillingCycle, asOf time.Time) Breakdown {
	distinct := make(map[string]catalog.BundleDefinition, len(defs))
	for _, def := range defs {
		distinct[def.Key] = def
	}

	keys := make([]string, 0, len(distinct))
	for key := range distinct {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	breakdown := Breakdown{
		Base:           decimal.Zero,
		DiscountPct:    DiscountPercent(len(keys)),
		DiscountAmount: decimal.Zero,
		Final:          decimal.Zero,
		Savings:        decimal.Zero,
	}

	standardSum := decimal.Zero
	for _, key := range keys {
		def := distinct[key]
		unit := def.UnitPrice(cycle, asOf)
		standard := def.StandardPrice(cycle)

		breakdown.PerBundle = append(breakdown.PerBundle, BundlePrice{
			Key:           def.Key,
			Version:       def.Version,
			UnitPrice:     unit,
			StandardPrice: standard,
			PromoApplied:  def.Promo.ActiveAt(asOf),
		})
		breakdown.Base = breakdown.Base.Add(unit)
		standardSum = standardSum.Add(standard)
	}

	breakdown.DiscountAmount = breakdown.Base.Mul(breakdown.DiscountPct)
	breakdown.Final = breakdown.Base.Sub(breakdown.DiscountAmount)
	breakdown.Savings = standardSum.Sub(breakdown.Final)
	return breakdown
}
