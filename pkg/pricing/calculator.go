package pricing

import (
	"context"
	"time"

	"github.com/dmitrymomot/bundlekit/pkg/catalog"
)

// CatalogReader is the slice of the catalog the calculator needs.
type CatalogReader interface {
	GetCurrent(ctx context.Context, key string) (catalog.BundleDefinition, error)
	GetVersion(ctx context.Context, key string, version int64) (catalog.BundleDefinition, error)
}

// Calculator resolves bundle keys against the catalog and prices them with
// the pure Price core.
type Calculator struct {
	source CatalogReader
}

// NewCalculator creates a calculator reading from the given catalog.
// Panics on nil source to fail fast during initialization.
func NewCalculator(source CatalogReader) *Calculator {
	if source == nil {
		panic("pricing: catalog reader is required")
	}
	return &Calculator{source: source}
}

// Price resolves each key to its current catalog version and prices the set.
func (c *Calculator) Price(ctx context.Context, keys []string, cycle catalog.BillingCycle, asOf time.Time) (Breakdown, error) {
	return c.PricePinned(ctx, keys, nil, cycle, asOf)
}

// PricePinned prices the set honoring per-bundle version pins, as used for
// grandfathered subscribers. Keys without a pin resolve to the current
// version; pinned keys resolve to the pinned historical version even when
// the bundle is meanwhile disabled.
func (c *Calculator) PricePinned(ctx context.Context, keys []string, pins map[string]int64, cycle catalog.BillingCycle, asOf time.Time) (Breakdown, error) {
	defs := make([]catalog.BundleDefinition, 0, len(keys))
	for _, key := range keys {
		var (
			def catalog.BundleDefinition
			err error
		)
		if version, pinned := pins[key]; pinned {
			def, err = c.source.GetVersion(ctx, key, version)
		} else {
			def, err = c.source.GetCurrent(ctx, key)
		}
		if err != nil {
			return Breakdown{}, err
		}
		defs = append(defs, def)
	}
	return Price(defs, cycle, asOf), nil
}
