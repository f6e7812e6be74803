// Package impact implements the analyze-before-apply protocol protecting
// existing subscribers from catalog changes.
//
// Analyze loads every active subscription containing the edited bundle and
// computes the financial impact (summed price delta), the behavioral impact
// (workspaces whose current usage would break under decreased limits, and
// workspaces with consumption history on removed features), a risk level,
// and a recommended migration plan. The report is persisted; the catalog
// refuses to apply a change without a valid, unexpired report for the same
// bundle and base version, and forces re-analysis when the affected set has
// drifted.
//
// ExecuteMigration runs the plan: grandfathered workspaces are pinned at the
// pre-change version through a grace period, forced workspaces move to the
// new version, and every touched subscription gets a billing-history entry.
// Execution is idempotent and resumable; a partial failure recovers with a
// plain retry, and a replay after completion fails with ErrAlreadyExecuted.
package impact
