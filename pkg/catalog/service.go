package catalog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/bundlekit/pkg/history"
)

// AnalysisVerifier gates catalog applies on a recorded impact analysis.
// Implemented by the plan-change impact analyzer; Verify returns
// ErrStaleAnalysis (or a joined cause) when the referenced analysis is too
// old, belongs to another bundle or version, or no longer reflects the
// affected-subscription set.
type AnalysisVerifier interface {
	Verify(ctx context.Context, analysisID uuid.UUID, bundleKey string, baseVersion int64) error
}

// Service is the public interface for the bundle catalog.
type Service interface {
	// GetCurrent returns the current version of a bundle.
	GetCurrent(ctx context.Context, key string) (BundleDefinition, error)

	// GetVersion returns a specific historical version of a bundle.
	GetVersion(ctx context.Context, key string, version int64) (BundleDefinition, error)

	// ListEnabled returns the current version of every enabled bundle.
	ListEnabled(ctx context.Context) ([]BundleDefinition, error)

	// Define creates a brand new bundle key at version 1.
	Define(ctx context.Context, def BundleDefinition, actor string) (BundleDefinition, error)

	// Propose records a change request pinned to the bundle's current version.
	Propose(ctx context.Context, key string, changes ChangeSet, actor string) (ChangeRequest, error)

	// GetChangeRequest loads a previously proposed change request.
	GetChangeRequest(ctx context.Context, id uuid.UUID) (ChangeRequest, error)

	// Apply turns a change request into a new current version. Requires a
	// valid, unexpired impact analysis for the same bundle and base version.
	Apply(ctx context.Context, changeRequestID, analysisID uuid.UUID, actor string) (BundleDefinition, error)

	// Rollback copies an old version's fields forward as a brand new current
	// version. History is never deleted.
	Rollback(ctx context.Context, key string, toVersion int64, actor string) (BundleDefinition, error)

	// SetAnalysisVerifier wires the impact analyzer in after construction.
	// The analyzer itself reads the catalog, so the two are wired in two steps.
	SetAnalysisVerifier(v AnalysisVerifier)
}

type service struct {
	store    Store
	verifier AnalysisVerifier
	history  history.Logger
	log      *slog.Logger
}

// Option configures the catalog service.
type Option func(*service)

// WithHistory attaches a billing-history logger. Every apply and rollback
// records an entry the notification system can poll.
func WithHistory(l history.Logger) Option {
	return func(s *service) { s.history = l }
}

// WithLogger sets the slog logger used for operational logging.
func WithLogger(l *slog.Logger) Option {
	return func(s *service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService creates a catalog service backed by the given store.
// Panics on nil store to fail fast during initialization.
func NewService(store Store, opts ...Option) Service {
	if store == nil {
		panic("catalog: store is required")
	}

	s := &service{
		store: store,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) SetAnalysisVerifier(v AnalysisVerifier) {
	s.verifier = v
}

func (s *service) GetCurrent(ctx context.Context, key string) (BundleDefinition, error) {
	if key == "" {
		return BundleDefinition{}, errors.Join(ErrValidation, ErrEmptyBundleKey)
	}
	return s.store.GetCurrent(ctx, key)
}

func (s *service) GetVersion(ctx context.Context, key string, version int64) (BundleDefinition, error) {
	if key == "" {
		return BundleDefinition{}, errors.Join(ErrValidation, ErrEmptyBundleKey)
	}
	return s.store.GetVersion(ctx, key, version)
}

func (s *service) ListEnabled(ctx context.Context) ([]BundleDefinition, error) {
	defs, err := s.store.ListCurrent(ctx)
	if err != nil {
		return nil, err
	}
	enabled := defs[:0]
	for _, def := range defs {
		if def.Enabled {
			enabled = append(enabled, def)
		}
	}
	return enabled, nil
}

// Define creates a brand new bundle key at version 1.
func (s *service) Define(ctx context.Context, def BundleDefinition, actor string) (BundleDefinition, error) {
	if err := validateDefinition(def); err != nil {
		return BundleDefinition{}, err
	}

	if _, err := s.store.GetCurrent(ctx, def.Key); err == nil {
		return BundleDefinition{}, ErrBundleAlreadyExists
	} else if !errors.Is(err, ErrBundleNotFound) {
		return BundleDefinition{}, err
	}

	def = def.Clone()
	def.Version = 1
	def.SupersededBy = 0
	def.CreatedAt = time.Now().UTC()

	if err := s.store.AppendVersion(ctx, def, 0); err != nil {
		return BundleDefinition{}, err
	}

	s.logHistory(ctx, history.EventBundleDefined,
		history.WithBundle(def.Key),
		history.WithActor(actor),
		history.WithPriceChange(def.MonthlyPrice, def.MonthlyPrice),
	)
	return def, nil
}

// Propose records a change request pinned to the bundle's current version.
func (s *service) Propose(ctx context.Context, key string, changes ChangeSet, actor string) (ChangeRequest, error) {
	if key == "" {
		return ChangeRequest{}, errors.Join(ErrValidation, ErrEmptyBundleKey)
	}
	if err := changes.Validate(); err != nil {
		return ChangeRequest{}, err
	}

	current, err := s.store.GetCurrent(ctx, key)
	if err != nil {
		return ChangeRequest{}, err
	}

	cr := ChangeRequest{
		ID:          uuid.New(),
		BundleKey:   key,
		BaseVersion: current.Version,
		Changes:     changes,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.SaveChangeRequest(ctx, cr); err != nil {
		return ChangeRequest{}, err
	}

	s.logHistory(ctx, history.EventChangeProposed,
		history.WithBundle(key),
		history.WithActor(actor),
		history.WithMeta("change_request_id", cr.ID.String()),
		history.WithMeta("base_version", cr.BaseVersion),
	)
	return cr, nil
}

// GetChangeRequest loads a previously proposed change request.
func (s *service) GetChangeRequest(ctx context.Context, id uuid.UUID) (ChangeRequest, error) {
	return s.store.GetChangeRequest(ctx, id)
}

// Apply turns a change request into a new current version.
func (s *service) Apply(ctx context.Context, changeRequestID, analysisID uuid.UUID, actor string) (BundleDefinition, error) {
	cr, err := s.store.GetChangeRequest(ctx, changeRequestID)
	if err != nil {
		return BundleDefinition{}, err
	}

	current, err := s.store.GetCurrent(ctx, cr.BundleKey)
	if err != nil {
		return BundleDefinition{}, err
	}
	if current.Version != cr.BaseVersion {
		return BundleDefinition{}, ErrVersionConflict
	}

	if s.verifier == nil {
		return BundleDefinition{}, ErrAnalysisRequired
	}
	if err := s.verifier.Verify(ctx, analysisID, cr.BundleKey, cr.BaseVersion); err != nil {
		return BundleDefinition{}, err
	}

	next := cr.Changes.ApplyTo(current)
	next.Version = current.Version + 1
	next.CreatedAt = time.Now().UTC()

	if err := s.store.AppendVersion(ctx, next, current.Version); err != nil {
		return BundleDefinition{}, err
	}

	s.log.InfoContext(ctx, "catalog change applied",
		"bundle_key", next.Key, "version", next.Version, "change_request_id", changeRequestID)

	s.logHistory(ctx, history.EventChangeApplied,
		history.WithBundle(next.Key),
		history.WithActor(actor),
		history.WithPriceChange(current.MonthlyPrice, next.MonthlyPrice),
		history.WithMeta("change_request_id", changeRequestID.String()),
		history.WithMeta("analysis_id", analysisID.String()),
		history.WithMeta("version", next.Version),
	)
	return next, nil
}

// Rollback copies an old version's fields into a brand-new current version.
func (s *service) Rollback(ctx context.Context, key string, toVersion int64, actor string) (BundleDefinition, error) {
	target, err := s.store.GetVersion(ctx, key, toVersion)
	if err != nil {
		return BundleDefinition{}, err
	}

	current, err := s.store.GetCurrent(ctx, key)
	if err != nil {
		return BundleDefinition{}, err
	}

	next := target.Clone()
	next.Version = current.Version + 1
	next.SupersededBy = 0
	next.CreatedAt = time.Now().UTC()

	if err := s.store.AppendVersion(ctx, next, current.Version); err != nil {
		return BundleDefinition{}, err
	}

	s.log.InfoContext(ctx, "catalog rolled back",
		"bundle_key", key, "restored_version", toVersion, "new_version", next.Version)

	s.logHistory(ctx, history.EventAdminRollback,
		history.WithBundle(key),
		history.WithActor(actor),
		history.WithPriceChange(current.MonthlyPrice, next.MonthlyPrice),
		history.WithMeta("restored_version", toVersion),
		history.WithMeta("version", next.Version),
	)
	return next, nil
}

// logHistory appends a billing-history entry when a logger is configured.
// A history failure never fails the already-committed mutation.
func (s *service) logHistory(ctx context.Context, event history.EventType, opts ...history.EntryOption) {
	if s.history == nil {
		return
	}
	if err := s.history.Log(ctx, event, opts...); err != nil {
		s.log.ErrorContext(ctx, "failed to record billing history", "event", string(event), "error", err)
	}
}

func validateDefinition(def BundleDefinition) error {
	if def.Key == "" {
		return errors.Join(ErrValidation, ErrEmptyBundleKey)
	}
	if def.MonthlyPrice.IsNegative() || def.YearlyPrice.IsNegative() {
		return errors.Join(ErrValidation, ErrNegativePrice)
	}
	for _, f := range def.Features {
		if f == "" {
			return errors.Join(ErrValidation, ErrEmptyFeatureKey)
		}
	}
	for f, limit := range def.Limits {
		if f == "" {
			return errors.Join(ErrValidation, ErrEmptyFeatureKey)
		}
		if limit < Unlimited {
			return errors.Join(ErrValidation, ErrInvalidLimit)
		}
	}
	if def.Promo != nil && def.Promo.OverridePrice.IsNegative() {
		return errors.Join(ErrValidation, ErrNegativePrice)
	}
	return nil
}
