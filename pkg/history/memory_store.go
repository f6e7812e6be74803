package history

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// MemoryStore is an in-memory Store implementation. Useful for tests and
// single-process deployments; entries live for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore creates an empty in-memory billing-history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores a single entry.
func (s *MemoryStore) Append(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, cloneEntry(entry))
	return nil
}

// List returns entries matching the filter, oldest first.
func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Entry
	for _, e := range s.entries {
		if !matches(e, filter) {
			continue
		}
		result = append(result, cloneEntry(e))
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func matches(e Entry, f Filter) bool {
	if f.WorkspaceID != nil && (e.WorkspaceID == nil || *e.WorkspaceID != *f.WorkspaceID) {
		return false
	}
	if f.BundleKey != "" && e.BundleKey != f.BundleKey {
		return false
	}
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType) {
		return false
	}
	if !f.Since.IsZero() && !e.CreatedAt.After(f.Since) {
		return false
	}
	return true
}

func cloneEntry(e Entry) Entry {
	c := e
	c.BundlesBefore = slices.Clone(e.BundlesBefore)
	c.BundlesAfter = slices.Clone(e.BundlesAfter)
	if e.Metadata != nil {
		c.Metadata = maps.Clone(e.Metadata)
	}
	return c
}
