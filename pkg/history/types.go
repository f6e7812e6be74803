package history

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType identifies the kind of billing mutation an entry records.
type EventType string

const (
	EventBundleDefined          EventType = "bundle_defined"
	EventChangeProposed         EventType = "bundle_change_proposed"
	EventChangeApplied          EventType = "bundle_change_applied"
	EventAdminRollback          EventType = "admin_rollback"
	EventBundlesChanged         EventType = "subscription_bundles_changed"
	EventSubscriptionCancelled  EventType = "subscription_cancelled"
	EventPeriodRolledOver       EventType = "usage_period_rolled_over"
	EventMigrationNotice        EventType = "migration_notice"
	EventMigrationGrandfathered EventType = "migration_grandfathered"
	EventMigrationForced        EventType = "migration_forced"
	EventRevenuePeriodClosed    EventType = "revenue_period_closed"
)

// Entry is a single immutable billing-history row. Every state-changing
// operation in the engine appends exactly one entry per affected workspace
// (or one catalog-level entry when no workspace is involved). The external
// notification system polls entries to contact affected customers; this
// engine never sends notifications itself.
type Entry struct {
	ID            uuid.UUID        `json:"id"`
	EventType     EventType        `json:"event_type"`
	WorkspaceID   *uuid.UUID       `json:"workspace_id,omitempty"`
	BundleKey     string           `json:"bundle_key,omitempty"`
	Actor         string           `json:"actor,omitempty"`
	PriceBefore   *decimal.Decimal `json:"price_before,omitempty"`
	PriceAfter    *decimal.Decimal `json:"price_after,omitempty"`
	BundlesBefore []string         `json:"bundles_before,omitempty"`
	BundlesAfter  []string         `json:"bundles_after,omitempty"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Validate checks if the entry has all required fields.
func (e *Entry) Validate() error {
	if e.EventType == "" {
		return fmt.Errorf("%w: event type is required", ErrEntryValidation)
	}
	return nil
}

// EntryOption applies configuration to an Entry during creation.
type EntryOption func(*Entry)

// Filter narrows List queries. Zero-value fields are ignored.
type Filter struct {
	WorkspaceID *uuid.UUID
	BundleKey   string
	EventTypes  []EventType
	Since       time.Time // entries created strictly after this instant
	Limit       int       // 0 means no limit
}
