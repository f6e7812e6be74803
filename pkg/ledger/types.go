package ledger

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/bundlekit/pkg/catalog"
)

// Status represents the state of a workspace subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusCancelled Status = "cancelled" // terminal; the record is retained
)

// WorkspaceSubscription is a workspace's subscription to a set of bundles.
// Each workspace has at most one subscription; an empty bundle set is the
// implicit free tier. Mutated only through the ledger service.
type WorkspaceSubscription struct {
	WorkspaceID        uuid.UUID
	BundleKeys         []string // sorted, distinct
	Cycle              catalog.BillingCycle
	Status             Status
	VersionPins        map[string]int64 // bundle key -> version actually billed
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	PeriodSeq          int64 // bumps on every rollover and (re)subscribe
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CancelledAt        *time.Time
}

// PeriodKey identifies the current usage period. It includes the period
// sequence, so a cancel-and-resubscribe on the same day never resurrects a
// previous period's counters.
func (s *WorkspaceSubscription) PeriodKey() string {
	return fmt.Sprintf("p%04d-%s", s.PeriodSeq, s.CurrentPeriodStart.UTC().Format("2006-01-02"))
}

// IsCancelled reports whether the subscription reached its terminal state.
func (s *WorkspaceSubscription) IsCancelled() bool {
	return s.Status == StatusCancelled
}

// HasBundle reports whether the subscription includes the bundle key.
func (s *WorkspaceSubscription) HasBundle(key string) bool {
	return slices.Contains(s.BundleKeys, key)
}

// Clone returns a deep copy so stores never leak shared state.
func (s *WorkspaceSubscription) Clone() *WorkspaceSubscription {
	c := *s
	c.BundleKeys = slices.Clone(s.BundleKeys)
	if s.VersionPins != nil {
		c.VersionPins = make(map[string]int64, len(s.VersionPins))
		for k, v := range s.VersionPins {
			c.VersionPins[k] = v
		}
	}
	if s.CancelledAt != nil {
		cancelled := *s.CancelledAt
		c.CancelledAt = &cancelled
	}
	return &c
}

// AccessDecision answers "can this workspace use this feature".
type AccessDecision struct {
	Allowed bool `json:"allowed"`
	// UpgradeBundle is the lowest-priced enabled bundle granting the
	// feature; set only when access is denied and such a bundle exists.
	UpgradeBundle string `json:"upgrade_bundle,omitempty"`
}

// ConsumeResult reports the outcome of a successful quota consumption.
type ConsumeResult struct {
	Remaining int64 `json:"remaining"` // -1 when the feature is unlimited
	Unlimited bool  `json:"unlimited"`
}
