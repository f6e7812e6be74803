// Package catalog is the versioned store of bundle definitions: price,
// feature set, per-feature limits, promotional pricing, and the enabled flag.
//
// Versions are append-only. An edit never mutates a definition in place;
// it produces a new version linked to its predecessor through SupersededBy,
// and exactly one version per bundle key is current. Rollback copies an old
// version's fields forward as a brand-new version, so history is never lost.
//
// Edits follow an analyze-before-apply protocol. Propose records an explicit
// tagged ChangeSet pinned to the version the operator read; Apply requires a
// valid, unexpired impact-analysis ID and is optimistic-concurrency
// controlled on the read version. A lost-update race surfaces as
// ErrVersionConflict rather than a silent overwrite, and an outdated
// analysis surfaces as ErrStaleAnalysis, forcing re-analysis.
//
//	store := catalog.NewMemoryStore()
//	svc := catalog.NewService(store, catalog.WithHistory(historyLog))
//
//	cr, err := svc.Propose(ctx, "creator", catalog.ChangeSet{
//		MonthlyPrice: &newPrice,
//	}, "ops@example.com")
//	// ... run the impact analyzer on cr.ID, review the report ...
//	def, err := svc.Apply(ctx, cr.ID, report.ID, "ops@example.com")
package catalog
