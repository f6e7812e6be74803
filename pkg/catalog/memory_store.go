package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation. Useful for tests and
// single-process deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[string][]BundleDefinition // append-only, index = version-1
	current  map[string]int64
	changes  map[uuid.UUID]ChangeRequest
}

// NewMemoryStore creates an empty in-memory catalog store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: make(map[string][]BundleDefinition),
		current:  make(map[string]int64),
		changes:  make(map[uuid.UUID]ChangeRequest),
	}
}

// GetCurrent returns the current version for the key.
func (s *MemoryStore) GetCurrent(ctx context.Context, key string) (BundleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	version, ok := s.current[key]
	if !ok {
		return BundleDefinition{}, ErrBundleNotFound
	}
	return s.versions[key][version-1].Clone(), nil
}

// GetVersion returns a specific historical version.
func (s *MemoryStore) GetVersion(ctx context.Context, key string, version int64) (BundleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.versions[key]
	if !ok {
		return BundleDefinition{}, ErrBundleNotFound
	}
	if version < 1 || version > int64(len(history)) {
		return BundleDefinition{}, ErrVersionNotFound
	}
	return history[version-1].Clone(), nil
}

// ListCurrent returns the current version of every bundle key, sorted by key
// for deterministic iteration.
func (s *MemoryStore) ListCurrent(ctx context.Context) ([]BundleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]BundleDefinition, 0, len(s.current))
	for key, version := range s.current {
		defs = append(defs, s.versions[key][version-1].Clone())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Key < defs[j].Key })
	return defs, nil
}

// AppendVersion stores def as the new current version under optimistic
// concurrency on the caller's read version.
func (s *MemoryStore) AppendVersion(ctx context.Context, def BundleDefinition, expectVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current[def.Key] != expectVersion {
		return ErrVersionConflict
	}

	if expectVersion > 0 {
		s.versions[def.Key][expectVersion-1].SupersededBy = def.Version
	}
	s.versions[def.Key] = append(s.versions[def.Key], def.Clone())
	s.current[def.Key] = def.Version
	return nil
}

// SaveChangeRequest persists a proposed edit.
func (s *MemoryStore) SaveChangeRequest(ctx context.Context, cr ChangeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes[cr.ID] = cr
	return nil
}

// GetChangeRequest loads a proposed edit by ID.
func (s *MemoryStore) GetChangeRequest(ctx context.Context, id uuid.UUID) (ChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cr, ok := s.changes[id]
	if !ok {
		return ChangeRequest{}, ErrChangeRequestNotFound
	}
	return cr, nil
}
