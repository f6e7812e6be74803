package revshare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/bundlekit/pkg/history"
)

// Service aggregates externally reported revenue per workspace and closes
// monthly periods into immutable fee records.
type Service interface {
	// RecordRevenueEvent attributes a revenue item to a workspace period.
	// Delivery is idempotent: re-sending an event ID is a no-op.
	RecordRevenueEvent(ctx context.Context, event RevenueEvent) error

	// PeriodRevenue returns the running per-source totals of an open or
	// closed period.
	PeriodRevenue(ctx context.Context, workspaceID uuid.UUID, periodKey string) (map[string]decimal.Decimal, error)

	// ClosePeriod computes the fee over the period's gross revenue, writes
	// the immutable record and enqueues the invoice handoff. Closing an
	// already-closed period returns the existing record with
	// ErrAlreadyClosed.
	ClosePeriod(ctx context.Context, workspaceID uuid.UUID, periodKey string) (RevenueRecord, error)

	// GetRecord loads a closed-period record.
	GetRecord(ctx context.Context, workspaceID uuid.UUID, periodKey string) (RevenueRecord, error)
}

type service struct {
	store   Store
	logger  *slog.Logger
	history history.Logger
	clock   func() time.Time

	closeMu sync.Mutex
	closing map[string]*sync.Mutex
}

// Option configures the revenue service.
type Option func(*service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHistory attaches a billing-history logger.
func WithHistory(h history.Logger) Option {
	return func(s *service) { s.history = h }
}

// WithClock overrides the time source. Used in tests.
func WithClock(clock func() time.Time) Option {
	return func(s *service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService creates a revenue-share service backed by the given store.
// Panics if store is nil.
func NewService(store Store, opts ...Option) Service {
	if store == nil {
		panic("revshare: store is required")
	}
	s := &service{
		store:   store,
		logger:  slog.Default(),
		clock:   time.Now,
		closing: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) RecordRevenueEvent(ctx context.Context, event RevenueEvent) error {
	if event.EventID == uuid.Nil {
		return ErrEventIDRequired
	}
	if event.WorkspaceID == uuid.Nil {
		return ErrWorkspaceRequired
	}
	if strings.TrimSpace(event.Source) == "" {
		return ErrInvalidSource
	}
	if !event.Amount.IsPositive() {
		return ErrInvalidAmount
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.clock().UTC()
	}
	event.PeriodKey = PeriodKeyFor(event.OccurredAt)
	event.RecordedAt = s.clock().UTC()

	// Serialize with ClosePeriod: an event either lands before the record
	// is cut and gets billed, or arrives after and is rejected. Without the
	// lock it could slip between the close's read and its record write.
	mu := s.lockFor(event.WorkspaceID, event.PeriodKey)
	mu.Lock()
	defer mu.Unlock()

	// Reject events for a period that is already closed; the record is
	// immutable and a late event must not silently vanish into it.
	if _, err := s.store.GetRecord(ctx, event.WorkspaceID, event.PeriodKey); err == nil {
		return ErrAlreadyClosed
	} else if !errors.Is(err, ErrRecordNotFound) {
		return err
	}

	if err := s.store.AppendEvent(ctx, event); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			s.logger.DebugContext(ctx, "duplicate revenue event ignored",
				slog.String("event_id", event.EventID.String()),
				slog.String("workspace_id", event.WorkspaceID.String()))
			return nil
		}
		return fmt.Errorf("append revenue event: %w", err)
	}
	return nil
}

func (s *service) PeriodRevenue(ctx context.Context, workspaceID uuid.UUID, periodKey string) (map[string]decimal.Decimal, error) {
	events, err := s.store.ListEvents(ctx, workspaceID, periodKey)
	if err != nil {
		return nil, fmt.Errorf("list revenue events: %w", err)
	}
	totals := make(map[string]decimal.Decimal)
	for _, event := range events {
		totals[event.Source] = totals[event.Source].Add(event.Amount)
	}
	return totals, nil
}

func (s *service) ClosePeriod(ctx context.Context, workspaceID uuid.UUID, periodKey string) (RevenueRecord, error) {
	if workspaceID == uuid.Nil {
		return RevenueRecord{}, ErrWorkspaceRequired
	}

	// Serialize concurrent closes and in-flight recorders of the same
	// workspace period in-process; the store's conditional create covers
	// competing processes.
	mu := s.lockFor(workspaceID, periodKey)
	mu.Lock()
	defer mu.Unlock()

	if existing, err := s.store.GetRecord(ctx, workspaceID, periodKey); err == nil {
		return existing, ErrAlreadyClosed
	} else if !errors.Is(err, ErrRecordNotFound) {
		return RevenueRecord{}, err
	}

	bySource, err := s.PeriodRevenue(ctx, workspaceID, periodKey)
	if err != nil {
		return RevenueRecord{}, err
	}
	gross := decimal.Zero
	for _, amount := range bySource {
		gross = gross.Add(amount)
	}

	fee, minimumApplied := ComputeFee(gross)

	record := RevenueRecord{
		WorkspaceID:     workspaceID,
		PeriodKey:       periodKey,
		RevenueBySource: bySource,
		GrossRevenue:    gross,
		Fee:             fee,
		MinimumApplied:  minimumApplied,
		InvoiceRef:      fmt.Sprintf("rs-%s-%s", periodKey, workspaceID),
		ClosedAt:        s.clock().UTC(),
	}

	if err := s.store.CreateRecord(ctx, record); err != nil {
		if errors.Is(err, ErrAlreadyClosed) {
			if existing, getErr := s.store.GetRecord(ctx, workspaceID, periodKey); getErr == nil {
				return existing, ErrAlreadyClosed
			}
		}
		return RevenueRecord{}, fmt.Errorf("create revenue record: %w", err)
	}

	// The financial record is durable at this point. The invoice handoff
	// goes through the outbox so a provider outage cannot lose or double
	// the fee.
	item := OutboxItem{
		ID: uuid.New(),
		Invoice: InvoiceRequest{
			InvoiceRef:  record.InvoiceRef,
			WorkspaceID: workspaceID,
			PeriodKey:   periodKey,
			// Invoices bill in cents; the record keeps the exact fee.
			Amount: fee.Round(2),
		},
		CreatedAt: s.clock().UTC(),
	}
	if err := s.store.EnqueueInvoice(ctx, item); err != nil {
		s.logger.ErrorContext(ctx, "failed to enqueue invoice handoff",
			slog.String("invoice_ref", record.InvoiceRef),
			slog.String("error", err.Error()))
	}

	if s.history != nil {
		s.history.Log(ctx, history.EventRevenuePeriodClosed,
			history.WithWorkspace(workspaceID),
			history.WithMeta("period_key", periodKey),
			history.WithMeta("gross_revenue", gross.String()),
			history.WithMeta("fee", fee.String()),
			history.WithMeta("minimum_applied", minimumApplied),
			history.WithMeta("invoice_ref", record.InvoiceRef),
		)
	}

	s.logger.InfoContext(ctx, "revenue period closed",
		slog.String("workspace_id", workspaceID.String()),
		slog.String("period_key", periodKey),
		slog.String("gross", gross.String()),
		slog.String("fee", fee.String()),
		slog.Bool("minimum_applied", minimumApplied))

	return record, nil
}

func (s *service) GetRecord(ctx context.Context, workspaceID uuid.UUID, periodKey string) (RevenueRecord, error) {
	return s.store.GetRecord(ctx, workspaceID, periodKey)
}

func (s *service) lockFor(workspaceID uuid.UUID, periodKey string) *sync.Mutex {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	key := periodID(workspaceID, periodKey)
	mu, ok := s.closing[key]
	if !ok {
		mu = &sync.Mutex{}
		s.closing[key] = mu
	}
	return mu
}

// ComputeFee returns the revenue-share fee for the given gross revenue and
// whether the contractual minimum kicked in. The percentage is kept exact;
// rounding to cents happens at the invoice handoff.
func ComputeFee(gross decimal.Decimal) (fee decimal.Decimal, minimumApplied bool) {
	pct := gross.Mul(FeeRate)
	if pct.LessThan(MinimumFee) {
		return MinimumFee, true
	}
	return pct, false
}
