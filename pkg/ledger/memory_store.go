package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrymomot/bundlekit/pkg/catalog"
)

// MemorySubscriptionStore is an in-memory SubscriptionStore. Useful for
// tests and single-process deployments.
type MemorySubscriptionStore struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*WorkspaceSubscription
}

// NewMemorySubscriptionStore creates an empty in-memory subscription store.
func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{subs: make(map[uuid.UUID]*WorkspaceSubscription)}
}

// Get retrieves a subscription by workspace ID.
func (s *MemorySubscriptionStore) Get(ctx context.Context, workspaceID uuid.UUID) (*WorkspaceSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[workspaceID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return sub.Clone(), nil
}

// Save creates or updates a subscription.
func (s *MemorySubscriptionStore) Save(ctx context.Context, sub *WorkspaceSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.WorkspaceID] = sub.Clone()
	return nil
}

// ListByBundle returns every non-cancelled subscription containing the key.
func (s *MemorySubscriptionStore) ListByBundle(ctx context.Context, bundleKey string) ([]WorkspaceSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []WorkspaceSubscription
	for _, sub := range s.subs {
		if sub.IsCancelled() || !sub.HasBundle(bundleKey) {
			continue
		}
		result = append(result, *sub.Clone())
	}
	return result, nil
}

// MemoryUsageStore is an in-memory UsageStore. The mutex gives the same
// atomicity the production stores get from conditional updates.
type MemoryUsageStore struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemoryUsageStore creates an empty in-memory usage store.
func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{counters: make(map[string]int64)}
}

func usageKey(workspaceID uuid.UUID, feature catalog.Feature, periodKey string) string {
	return fmt.Sprintf("%s:%s:%s", workspaceID, feature, periodKey)
}

// Add atomically increments the counter if the result stays within limit.
func (s *MemoryUsageStore) Add(ctx context.Context, workspaceID uuid.UUID, feature catalog.Feature, periodKey string, amount, limit int64) (int64, error) {
	key := usageKey(workspaceID, feature, periodKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	consumed := s.counters[key]
	if limit >= 0 && consumed+amount > limit {
		return consumed, ErrInsufficientQuota
	}
	consumed += amount
	s.counters[key] = consumed
	return consumed, nil
}

// Get returns the current consumption for the counter.
func (s *MemoryUsageStore) Get(ctx context.Context, workspaceID uuid.UUID, feature catalog.Feature, periodKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[usageKey(workspaceID, feature, periodKey)], nil
}
