package impact

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Store persists analysis reports and the grandfather pins produced by
// executed migration plans.
type Store interface {
	// SaveReport creates a report or updates its migration-plan progress.
	SaveReport(ctx context.Context, report Report) error

	// GetReport loads a report by ID.
	// Returns ErrReportNotFound for unknown IDs.
	GetReport(ctx context.Context, id uuid.UUID) (Report, error)

	// SavePin records or replaces a workspace's grandfather pin for a bundle.
	SavePin(ctx context.Context, pin GrandfatherPin) error

	// GetPin loads the pin for (workspace, bundle).
	// Returns ErrPinNotFound when none exists.
	GetPin(ctx context.Context, workspaceID uuid.UUID, bundleKey string) (GrandfatherPin, error)
}

type pinKey struct {
	workspaceID uuid.UUID
	bundleKey   string
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[uuid.UUID]Report
	pins    map[pinKey]GrandfatherPin
}

// NewMemoryStore creates an empty in-memory analysis store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports: make(map[uuid.UUID]Report),
		pins:    make(map[pinKey]GrandfatherPin),
	}
}

// SaveReport creates a report or updates its migration-plan progress.
func (s *MemoryStore) SaveReport(ctx context.Context, report Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	report.Plan.Actions = append([]MigrationAction(nil), report.Plan.Actions...)
	s.reports[report.ID] = report
	return nil
}

// GetReport loads a report by ID.
func (s *MemoryStore) GetReport(ctx context.Context, id uuid.UUID) (Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reports[id]
	if !ok {
		return Report{}, ErrReportNotFound
	}
	report.Plan.Actions = append([]MigrationAction(nil), report.Plan.Actions...)
	return report, nil
}

// SavePin records or replaces a workspace's grandfather pin for a bundle.
func (s *MemoryStore) SavePin(ctx context.Context, pin GrandfatherPin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[pinKey{pin.WorkspaceID, pin.BundleKey}] = pin
	return nil
}

// GetPin loads the pin for (workspace, bundle).
func (s *MemoryStore) GetPin(ctx context.Context, workspaceID uuid.UUID, bundleKey string) (GrandfatherPin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pin, ok := s.pins[pinKey{workspaceID, bundleKey}]
	if !ok {
		return GrandfatherPin{}, ErrPinNotFound
	}
	return pin, nil
}
