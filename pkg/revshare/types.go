package revshare

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Revenue-share fee terms: 15% of gross revenue with a fixed minimum.
var (
	FeeRate    = decimal.NewFromFloat(0.15)
	MinimumFee = decimal.NewFromInt(99)
)

// PeriodKeyFor returns the billing period an event at the given instant
// belongs to. Revenue-share periods are calendar months.
func PeriodKeyFor(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// RevenueEvent is one externally reported revenue item attributed to a
// workspace. EventID makes delivery idempotent: a duplicate is ignored, not
// double-counted.
type RevenueEvent struct {
	EventID     uuid.UUID
	WorkspaceID uuid.UUID
	Source      string
	Amount      decimal.Decimal
	OccurredAt  time.Time
	PeriodKey   string
	RecordedAt  time.Time
}

// RevenueRecord is the immutable result of closing a revenue period.
type RevenueRecord struct {
	WorkspaceID     uuid.UUID                  `json:"workspace_id"`
	PeriodKey       string                     `json:"period_key"`
	RevenueBySource map[string]decimal.Decimal `json:"revenue_by_source"`
	GrossRevenue    decimal.Decimal            `json:"gross_revenue"`
	Fee             decimal.Decimal            `json:"fee"`
	MinimumApplied  bool                       `json:"minimum_applied"`
	InvoiceRef      string                     `json:"invoice_ref"`
	ClosedAt        time.Time                  `json:"closed_at"`
}

// InvoiceRequest is the handoff to the external payment collaborator.
type InvoiceRequest struct {
	InvoiceRef  string          `json:"invoice_ref"`
	WorkspaceID uuid.UUID       `json:"workspace_id"`
	PeriodKey   string          `json:"period_key"`
	Amount      decimal.Decimal `json:"amount"`
}

// Invoicer collects the revenue-share fee. Implementations talk to the
// payment provider; the engine only hands the request over, asynchronously,
// after the revenue record is durably written.
type Invoicer interface {
	IssueInvoice(ctx context.Context, req InvoiceRequest) error
}

// OutboxItem is a pending invoice handoff. The financial record survives
// even if the handoff fails; the dispatcher retries until maxAttempts, then
// dead-letters the item so it stops occupying batch slots.
type OutboxItem struct {
	ID             uuid.UUID
	Invoice        InvoiceRequest
	Attempts       int
	LastError      string
	CreatedAt      time.Time
	DispatchedAt   *time.Time
	DeadLetteredAt *time.Time
}
