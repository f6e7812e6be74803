package catalog

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Feature is a string key naming a gated capability. The engine knows
// features only by key; their behavior lives in external modules.
type Feature string

// Unlimited indicates no consumption limit for a feature (-1 chosen for
// storage compatibility).
const Unlimited int64 = -1

// BillingCycle represents the billing frequency for a subscription.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// Valid reports whether the cycle is a known billing cycle.
func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleYearly
}

// Promo is a time-boxed promotional price override. While active it replaces
// the standard price for every cycle.
type Promo struct {
	OverridePrice decimal.Decimal
	ExpiresAt     time.Time
}

// ActiveAt reports whether the promo is still running at the given instant.
func (p *Promo) ActiveAt(asOf time.Time) bool {
	return p != nil && asOf.Before(p.ExpiresAt)
}

// BundleDefinition is one immutable version of a bundle. Edits never mutate
// a version in place: each edit appends a new version linked through
// SupersededBy, and exactly one version per key is current.
type BundleDefinition struct {
	Key          string
	Version      int64
	MonthlyPrice decimal.Decimal
	YearlyPrice  decimal.Decimal
	Features     []Feature
	Limits       map[Feature]int64 // -1 represents unlimited
	Promo        *Promo
	Enabled      bool
	SupersededBy int64 // version that replaced this one; 0 while current
	CreatedAt    time.Time
}

// HasFeature reports whether the bundle grants the feature.
func (d BundleDefinition) HasFeature(f Feature) bool {
	return slices.Contains(d.Features, f)
}

// Limit returns the bundle's consumption limit for the feature and whether
// the bundle grants it at all.
func (d BundleDefinition) Limit(f Feature) (int64, bool) {
	if !d.HasFeature(f) {
		return 0, false
	}
	limit, ok := d.Limits[f]
	if !ok {
		return Unlimited, true
	}
	return limit, true
}

// StandardPrice returns the non-promotional price for the cycle.
func (d BundleDefinition) StandardPrice(cycle BillingCycle) decimal.Decimal {
	if cycle == CycleYearly {
		return d.YearlyPrice
	}
	return d.MonthlyPrice
}

// UnitPrice returns the effective price for the cycle at the given instant,
// honoring an active promo override.
func (d BundleDefinition) UnitPrice(cycle BillingCycle, asOf time.Time) decimal.Decimal {
	if d.Promo.ActiveAt(asOf) {
		return d.Promo.OverridePrice
	}
	return d.StandardPrice(cycle)
}

// Clone returns a deep copy so callers can never mutate stored versions.
func (d BundleDefinition) Clone() BundleDefinition {
	c := d
	c.Features = slices.Clone(d.Features)
	if d.Limits != nil {
		c.Limits = make(map[Feature]int64, len(d.Limits))
		for k, v := range d.Limits {
			c.Limits[k] = v
		}
	}
	if d.Promo != nil {
		promo := *d.Promo
		c.Promo = &promo
	}
	return c
}
