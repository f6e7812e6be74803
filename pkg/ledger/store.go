package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/dmitrymomot/bundlekit/pkg/catalog"
)

// SubscriptionStore persists workspace subscriptions. WorkspaceID is the
// primary key; at most one subscription exists per workspace.
type SubscriptionStore interface {
	// Get retrieves a subscription by workspace ID.
	// Returns ErrSubscriptionNotFound if none exists.
	Get(ctx context.Context, workspaceID uuid.UUID) (*WorkspaceSubscription, error)

	// Save creates or updates a subscription.
	Save(ctx context.Context, sub *WorkspaceSubscription) error

	// ListByBundle returns every non-cancelled subscription containing the
	// bundle key. Used by the impact analyzer to compute the affected set.
	ListByBundle(ctx context.Context, bundleKey string) ([]WorkspaceSubscription, error)
}

// UsageStore persists consumption counters keyed by
// (workspace, feature, period). Counters are created lazily, never go
// negative, and old periods are retained for analytics.
type UsageStore interface {
	// Add atomically increments the counter by amount if the result stays
	// within limit (limit < 0 means unlimited bookkeeping; the increment
	// always succeeds). Returns the post-increment consumption. On
	// ErrInsufficientQuota nothing is recorded: the contract is a
	// compare-and-increment relative to concurrent callers, never a separate
	// read-then-write.
	Add(ctx context.Context, workspaceID uuid.UUID, feature catalog.Feature, periodKey string, amount, limit int64) (int64, error)

	// Get returns the current consumption for the counter (0 if absent).
	Get(ctx context.Context, workspaceID uuid.UUID, feature catalog.Feature, periodKey string) (int64, error)
}
