// Package pricing computes price breakdowns for bundle combinations: base
// price from promo-adjusted unit prices, a multi-bundle discount tier keyed
// on the distinct bundle count (0/20/30/40%), and savings against the
// undiscounted standard prices.
//
// The core Price function is pure, which makes the impact analyzer's
// what-if pricing trivially deterministic. Calculator wraps it with catalog
// resolution, including pinned historical versions for grandfathered
// subscribers.
package pricing
