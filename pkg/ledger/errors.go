package ledger

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrWorkspaceRequired    = errors.New("workspace ID is required")
	ErrInvalidCycle         = errors.New("invalid billing cycle")

	// ErrBundleDisabled rejects subscribing to a disabled bundle without an
	// active grandfather pin.
	ErrBundleDisabled = errors.New("bundle is disabled for new subscriptions")

	// ErrFeatureNotGranted means no subscribed bundle grants the feature.
	ErrFeatureNotGranted = errors.New("feature not granted by subscription")

	// ErrInsufficientQuota is expected and user-facing: the consumption
	// would exceed the effective limit. Never logged as an error.
	ErrInsufficientQuota = errors.New("insufficient quota")

	ErrInvalidAmount = errors.New("consumption amount must be positive")

	// ErrUsageConflict means the atomic compare-and-increment kept losing to
	// concurrent writers and gave up. Safe to retry from the caller.
	ErrUsageConflict = errors.New("usage counter conflict")
)
