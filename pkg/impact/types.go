package impact

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/bundlekit/pkg/catalog"
)

// Risk classifies the blast radius of a proposed catalog change.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// MigrationActionType names the per-subscription migration step.
type MigrationActionType string

const (
	// ActionNotify marks the workspace for customer notification; the
	// external notification system picks it up from billing history.
	ActionNotify MigrationActionType = "notify"
	// ActionGrandfather pins the workspace at the pre-change version for
	// the plan's grace period.
	ActionGrandfather MigrationActionType = "grandfather"
	// ActionForce moves the workspace onto the new version immediately.
	ActionForce MigrationActionType = "force"
	// ActionRollbackWindow is a plan-level marker: keep the superseded
	// version ready for rollback until the grace period ends.
	ActionRollbackWindow MigrationActionType = "rollback_window"
)

// PlanStatus tracks migration-plan execution.
type PlanStatus string

const (
	PlanPending    PlanStatus = "pending"
	PlanInProgress PlanStatus = "in_progress"
	PlanCompleted  PlanStatus = "completed"
)

// MigrationAction is one ordered step of a migration plan.
type MigrationAction struct {
	Type        MigrationActionType `json:"type"`
	WorkspaceID uuid.UUID           `json:"workspace_id,omitempty"` // zero for plan-level actions
	Done        bool                `json:"done"`
}

// MigrationPlan is the ordered set of actions recommended by an analysis.
// Execution is idempotent and resumable: each action flips Done exactly
// once, so a crash mid-loop recovers with a plain retry.
type MigrationPlan struct {
	Actions     []MigrationAction `json:"actions"`
	GracePeriod time.Duration     `json:"grace_period"`
	Status      PlanStatus        `json:"status"`
	ExecutedAt  *time.Time        `json:"executed_at,omitempty"`
}

// Report is the immutable output of analyzing a proposed catalog change.
// Apply requires a valid, unexpired report ID for the same bundle and base
// version.
type Report struct {
	ID              uuid.UUID         `json:"id"`
	BundleKey       string            `json:"bundle_key"`
	BaseVersion     int64             `json:"base_version"` // version being replaced
	ChangeRequestID uuid.UUID         `json:"change_request_id"`
	Changes         catalog.ChangeSet `json:"changes"`
	AffectedCount   int               `json:"affected_count"`
	RevenueDelta    decimal.Decimal   `json:"revenue_delta"` // sum of new minus current, per affected subscription
	BreakingCount   int               `json:"breaking_count"`
	FeatureLoss     int               `json:"feature_loss_count"`
	Risk            Risk              `json:"risk"`
	Plan            MigrationPlan     `json:"plan"`
	CreatedAt       time.Time         `json:"created_at"`
}

// GrandfatherPin protects one workspace at an older bundle version through
// the grace period of an executed migration plan.
type GrandfatherPin struct {
	WorkspaceID uuid.UUID
	BundleKey   string
	Version     int64
	Until       time.Time
}
