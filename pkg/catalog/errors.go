package catalog

import "errors"

var (
	ErrBundleNotFound        = errors.New("bundle not found")
	ErrVersionNotFound       = errors.New("bundle version not found")
	ErrChangeRequestNotFound = errors.New("change request not found")
	ErrBundleAlreadyExists   = errors.New("bundle already exists")

	// ErrVersionConflict signals an optimistic-concurrency conflict: another
	// apply advanced the bundle since the caller's read. Recover by
	// re-reading current state and re-analyzing; never retried internally.
	ErrVersionConflict = errors.New("bundle version conflict")

	// ErrStaleAnalysis signals that the referenced impact analysis is too old
	// or no longer matches the affected-subscription set.
	ErrStaleAnalysis = errors.New("impact analysis is stale")

	ErrAnalysisRequired = errors.New("impact analysis is required to apply a change")

	ErrValidation      = errors.New("invalid bundle change")
	ErrEmptyBundleKey  = errors.New("bundle key cannot be empty")
	ErrEmptyChangeSet  = errors.New("change set names no fields")
	ErrNegativePrice   = errors.New("price cannot be negative")
	ErrEmptyFeatureKey = errors.New("feature key cannot be empty")
	ErrInvalidLimit    = errors.New("limit must be -1 (unlimited) or non-negative")
)
