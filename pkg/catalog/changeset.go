package catalog

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChangeSet is an explicit tagged change-set naming only the fields an
// operator wants to modify. Nil pointer fields are left unchanged. Using a
// fixed schema instead of an open-ended dictionary keeps edits validatable
// and reviewable.
type ChangeSet struct {
	MonthlyPrice *decimal.Decimal  `json:"monthly_price,omitempty"`
	YearlyPrice  *decimal.Decimal  `json:"yearly_price,omitempty"`
	Features     []Feature         `json:"features,omitempty"` // nil means unchanged
	Limits       map[Feature]int64 `json:"limits,omitempty"`   // nil means unchanged
	Promo        *Promo            `json:"promo,omitempty"`
	ClearPromo   bool              `json:"clear_promo,omitempty"`
	Enabled      *bool             `json:"enabled,omitempty"`
}

// IsZero reports whether the change set names no fields at all.
func (c ChangeSet) IsZero() bool {
	return c.MonthlyPrice == nil && c.YearlyPrice == nil && c.Features == nil &&
		c.Limits == nil && c.Promo == nil && !c.ClearPromo && c.Enabled == nil
}

// Validate rejects malformed change sets synchronously, before anything is
// persisted: negative prices, empty feature keys, invalid limits.
func (c ChangeSet) Validate() error {
	if c.IsZero() {
		return errors.Join(ErrValidation, ErrEmptyChangeSet)
	}
	if c.MonthlyPrice != nil && c.MonthlyPrice.IsNegative() {
		return errors.Join(ErrValidation, ErrNegativePrice)
	}
	if c.YearlyPrice != nil && c.YearlyPrice.IsNegative() {
		return errors.Join(ErrValidation, ErrNegativePrice)
	}
	for _, f := range c.Features {
		if f == "" {
			return errors.Join(ErrValidation, ErrEmptyFeatureKey)
		}
	}
	for f, limit := range c.Limits {
		if f == "" {
			return errors.Join(ErrValidation, ErrEmptyFeatureKey)
		}
		if limit < Unlimited {
			return errors.Join(ErrValidation, ErrInvalidLimit,
				fmt.Errorf("feature %q has limit %d", f, limit))
		}
	}
	if c.Promo != nil {
		if c.Promo.OverridePrice.IsNegative() {
			return errors.Join(ErrValidation, ErrNegativePrice)
		}
		if c.ClearPromo {
			return errors.Join(ErrValidation, errors.New("cannot set and clear promo in the same change"))
		}
	}
	return nil
}

// ApplyTo returns a new definition with the change set applied on top of
// base. Version, SupersededBy and CreatedAt are left for the catalog to
// assign; base itself is never mutated.
func (c ChangeSet) ApplyTo(base BundleDefinition) BundleDefinition {
	next := base.Clone()
	next.Version = 0
	next.SupersededBy = 0
	next.CreatedAt = time.Time{}

	if c.MonthlyPrice != nil {
		next.MonthlyPrice = *c.MonthlyPrice
	}
	if c.YearlyPrice != nil {
		next.YearlyPrice = *c.YearlyPrice
	}
	if c.Features != nil {
		next.Features = slices.Clone(c.Features)
	}
	if c.Limits != nil {
		next.Limits = make(map[Feature]int64, len(c.Limits))
		for k, v := range c.Limits {
			next.Limits[k] = v
		}
	}
	if c.Promo != nil {
		promo := *c.Promo
		next.Promo = &promo
	}
	if c.ClearPromo {
		next.Promo = nil
	}
	if c.Enabled != nil {
		next.Enabled = *c.Enabled
	}
	return next
}

// DecreasedLimits returns features whose limit would shrink when the change
// is applied on top of base. Unlimited-to-limited counts as a decrease.
func (c ChangeSet) DecreasedLimits(base BundleDefinition) map[Feature]int64 {
	if c.Limits == nil {
		return nil
	}
	decreased := make(map[Feature]int64)
	for f, next := range c.Limits {
		current, granted := base.Limit(f)
		if !granted {
			continue
		}
		if next == Unlimited {
			continue
		}
		if current == Unlimited || next < current {
			decreased[f] = next
		}
	}
	return decreased
}

// RemovedFeatures returns features granted by base that the change would
// take away.
func (c ChangeSet) RemovedFeatures(base BundleDefinition) []Feature {
	if c.Features == nil {
		return nil
	}
	var removed []Feature
	for _, f := range base.Features {
		if !slices.Contains(c.Features, f) {
			removed = append(removed, f)
		}
	}
	return removed
}

// ChangeRequest is a proposed catalog edit pinned to the bundle version the
// operator read when proposing. Apply fails with ErrVersionConflict if the
// bundle advanced past BaseVersion in the meantime.
type ChangeRequest struct {
	ID          uuid.UUID
	BundleKey   string
	BaseVersion int64
	Changes     ChangeSet
	CreatedAt   time.Time
}
