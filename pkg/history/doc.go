// Package history records the append-only billing audit trail for the
// entitlement engine. Every state-changing operation (catalog applies,
// subscription changes, migrations, revenue-period closes) appends one
// immutable Entry; the external notification system polls the store through
// List to contact affected customers.
//
// The package provides an in-memory store for tests and single-process use
// and a PostgreSQL store for production. Entries are never updated or
// deleted, so appends need no locking beyond what the store provides.
//
//	store := history.NewMemoryStore()
//	log := history.NewLogger(store, history.WithDefaultActor("billing-engine"))
//
//	err := log.Log(ctx, history.EventBundlesChanged,
//		history.WithWorkspace(workspaceID),
//		history.WithBundleChange([]string{"creator"}, []string{"creator", "ecommerce"}),
//		history.WithPriceChange(oldPrice, newPrice),
//	)
package history
