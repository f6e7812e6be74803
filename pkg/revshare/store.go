package revshare

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists revenue events, closed-period records and the invoice
// outbox. Records are immutable once created.
type Store interface {
	// AppendEvent stores a revenue event.
	// Returns ErrDuplicateEvent if the event ID was seen before.
	AppendEvent(ctx context.Context, event RevenueEvent) error

	// ListEvents returns the events of one workspace period, oldest first.
	ListEvents(ctx context.Context, workspaceID uuid.UUID, periodKey string) ([]RevenueEvent, error)

	// GetRecord loads a closed-period record.
	// Returns ErrRecordNotFound when the period is still open.
	GetRecord(ctx context.Context, workspaceID uuid.UUID, periodKey string) (RevenueRecord, error)

	// CreateRecord stores the record for a period exactly once.
	// Returns ErrAlreadyClosed if a record for the period already exists -
	// the conditional create is what makes close-period single-writer
	// across processes.
	CreateRecord(ctx context.Context, record RevenueRecord) error

	// EnqueueInvoice adds a pending invoice handoff to the outbox.
	EnqueueInvoice(ctx context.Context, item OutboxItem) error

	// PendingInvoices returns up to limit undispatched, not dead-lettered
	// outbox items.
	PendingInvoices(ctx context.Context, limit int) ([]OutboxItem, error)

	// MarkInvoiceDispatched records a successful handoff.
	MarkInvoiceDispatched(ctx context.Context, id uuid.UUID) error

	// MarkInvoiceFailed increments the attempt count and stores the error.
	MarkInvoiceFailed(ctx context.Context, id uuid.UUID, errMsg string) error

	// MarkInvoiceDead parks an item that exhausted its retries. Dead items
	// are kept for operator inspection but never returned by
	// PendingInvoices.
	MarkInvoiceDead(ctx context.Context, id uuid.UUID) error
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu       sync.RWMutex
	events   map[uuid.UUID]RevenueEvent
	byPeriod map[string][]uuid.UUID
	records  map[string]RevenueRecord
	outbox   map[uuid.UUID]OutboxItem
}

// NewMemoryStore creates an empty in-memory revenue store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   make(map[uuid.UUID]RevenueEvent),
		byPeriod: make(map[string][]uuid.UUID),
		records:  make(map[string]RevenueRecord),
		outbox:   make(map[uuid.UUID]OutboxItem),
	}
}

func periodID(workspaceID uuid.UUID, periodKey string) string {
	return fmt.Sprintf("%s:%s", workspaceID, periodKey)
}

// AppendEvent stores a revenue event.
func (s *MemoryStore) AppendEvent(ctx context.Context, event RevenueEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.EventID]; exists {
		return ErrDuplicateEvent
	}
	s.events[event.EventID] = event
	key := periodID(event.WorkspaceID, event.PeriodKey)
	s.byPeriod[key] = append(s.byPeriod[key], event.EventID)
	return nil
}

// ListEvents returns the events of one workspace period, oldest first.
func (s *MemoryStore) ListEvents(ctx context.Context, workspaceID uuid.UUID, periodKey string) ([]RevenueEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byPeriod[periodID(workspaceID, periodKey)]
	events := make([]RevenueEvent, 0, len(ids))
	for _, id := range ids {
		events = append(events, s.events[id])
	}
	sort.Slice(events, func(i, j int) bool { return events[i].OccurredAt.Before(events[j].OccurredAt) })
	return events, nil
}

// GetRecord loads a closed-period record.
func (s *MemoryStore) GetRecord(ctx context.Context, workspaceID uuid.UUID, periodKey string) (RevenueRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[periodID(workspaceID, periodKey)]
	if !ok {
		return RevenueRecord{}, ErrRecordNotFound
	}
	return record, nil
}

// CreateRecord stores the record for a period exactly once.
func (s *MemoryStore) CreateRecord(ctx context.Context, record RevenueRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := periodID(record.WorkspaceID, record.PeriodKey)
	if _, exists := s.records[key]; exists {
		return ErrAlreadyClosed
	}
	s.records[key] = record
	return nil
}

// EnqueueInvoice adds a pending invoice handoff to the outbox.
func (s *MemoryStore) EnqueueInvoice(ctx context.Context, item OutboxItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox[item.ID] = item
	return nil
}

// PendingInvoices returns up to limit undispatched, not dead-lettered
// outbox items.
func (s *MemoryStore) PendingInvoices(ctx context.Context, limit int) ([]OutboxItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []OutboxItem
	for _, item := range s.outbox {
		if item.DispatchedAt == nil && item.DeadLetteredAt == nil {
			pending = append(pending, item)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// MarkInvoiceDispatched records a successful handoff.
func (s *MemoryStore) MarkInvoiceDispatched(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.outbox[id]
	if !ok {
		return ErrRecordNotFound
	}
	now := time.Now().UTC()
	item.DispatchedAt = &now
	s.outbox[id] = item
	return nil
}

// MarkInvoiceFailed increments the attempt count and stores the error.
func (s *MemoryStore) MarkInvoiceFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.outbox[id]
	if !ok {
		return ErrRecordNotFound
	}
	item.Attempts++
	item.LastError = errMsg
	s.outbox[id] = item
	return nil
}

// MarkInvoiceDead parks an item that exhausted its retries.
func (s *MemoryStore) MarkInvoiceDead(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.outbox[id]
	if !ok {
		return ErrRecordNotFound
	}
	now := time.Now().UTC()
	item.DeadLetteredAt = &now
	s.outbox[id] = item
	return nil
}
