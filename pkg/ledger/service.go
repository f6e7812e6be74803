package ledger

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/bundlekit/pkg/catalog"
	"github.com/dmitrymomot/bundlekit/pkg/history"
	"github.com/dmitrymomot/bundlekit/pkg/pricing"
)

// CatalogSource is the slice of the catalog the ledger needs.
type CatalogSource interface {
	GetCurrent(ctx context.Context, key string) (catalog.BundleDefinition, error)
	GetVersion(ctx context.Context, key string, version int64) (catalog.BundleDefinition, error)
	ListEnabled(ctx context.Context) ([]catalog.BundleDefinition, error)
}

// GrandfatherSource answers which catalog version a workspace is protected
// at for a bundle, and whether the protection window is still open.
// Implemented by the impact analyzer's executed migration plans; a nil
// source means no grandfathering.
type GrandfatherSource interface {
	PinnedVersion(ctx context.Context, workspaceID uuid.UUID, bundleKey string, asOf time.Time) (version int64, ok bool, err error)
}

// Service is the public interface of the subscription ledger.
type Service interface {
	// GetSubscription retrieves a workspace's subscription.
	GetSubscription(ctx context.Context, workspaceID uuid.UUID) (*WorkspaceSubscription, error)

	// SetBundles subscribes the workspace to the given bundle combination,
	// creating or replacing its subscription, and returns the resulting
	// price breakdown. Disabled bundles are rejected unless an active
	// migration plan grandfathers an older version for this workspace.
	SetBundles(ctx context.Context, workspaceID uuid.UUID, bundleKeys []string, cycle catalog.BillingCycle) (*WorkspaceSubscription, pricing.Breakdown, error)

	// Cancel moves the subscription to its terminal cancelled state. The
	// record is retained; cancelling an already-cancelled subscription is a
	// no-op.
	Cancel(ctx context.Context, workspaceID uuid.UUID) error

	// CheckAccess resolves whether the workspace may use the feature. When
	// denied, the decision names the cheapest enabled bundle granting it.
	CheckAccess(ctx context.Context, workspaceID uuid.UUID, feature catalog.Feature) (AccessDecision, error)

	// Consume atomically consumes amount units of the feature's quota for
	// the current period. The effective limit is the maximum over subscribed
	// bundles granting the feature; -1 on any contributor makes it
	// unlimited. On ErrInsufficientQuota no partial consumption is recorded.
	Consume(ctx context.Context, workspaceID uuid.UUID, feature catalog.Feature, amount int64) (ConsumeResult, error)

	// RolloverPeriod advances the subscription into the next billing period
	// once the current one has ended. Idempotent; invoked by an external
	// scheduler and safe to run twice. Old counters are retained.
	RolloverPeriod(ctx context.Context, workspaceID uuid.UUID) error
}

type service struct {
	cat          CatalogSource
	calc         *pricing.Calculator
	subs         SubscriptionStore
	usage        UsageStore
	grandfathers GrandfatherSource
	history      history.Logger
	log          *slog.Logger
	now          func() time.Time
}

// Option configures the ledger service.
type Option func(*service)

// WithGrandfathers wires in the source of grandfather pins produced by
// executed migration plans.
func WithGrandfathers(src GrandfatherSource) Option {
	return func(s *service) { s.grandfathers = src }
}

// WithHistory attaches a billing-history logger.
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

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the subscription ledger.
// Panics if required dependencies are nil to fail fast during initialization.
func NewService(cat CatalogSource, calc *pricing.Calculator, subs SubscriptionStore, usage UsageStore, opts ...Option) Service {
	if cat == nil {
		panic("ledger: catalog source is required")
	}
	if calc == nil {
		panic("ledger: pricing calculator is required")
	}
	if subs == nil {
		panic("ledger: subscription store is required")
	}
	if usage == nil {
		panic("ledger: usage store is required")
	}

	s := &service{
		cat:   cat,
		calc:  calc,
		subs:  subs,
		usage: usage,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) GetSubscription(ctx context.Context, workspaceID uuid.UUID) (*WorkspaceSubscription, error) {
	if workspaceID == uuid.Nil {
		return nil, ErrWorkspaceRequired
	}
	return s.subs.Get(ctx, workspaceID)
}

func (s *service) SetBundles(ctx context.Context, workspaceID uuid.UUID, bundleKeys []string, cycle catalog.BillingCycle) (*WorkspaceSubscription, pricing.Breakdown, error) {
	if workspaceID == uuid.Nil {
		return nil, pricing.Breakdown{}, ErrWorkspaceRequired
	}
	if !cycle.Valid() {
		return nil, pricing.Breakdown{}, ErrInvalidCycle
	}

	keys := normalizeKeys(bundleKeys)
	now := s.now()

	// Resolve version pins: a grandfather pin wins over the current version,
	// and a disabled bundle is only purchasable through such a pin.
	pins := make(map[string]int64, len(keys))
	for _, key := range keys {
		def, err := s.cat.GetCurrent(ctx, key)
		if err != nil {
			return nil, pricing.Breakdown{}, err
		}

		if version, ok, err := s.pinnedVersion(ctx, workspaceID, key, now); err != nil {
			return nil, pricing.Breakdown{}, err
		} else if ok {
			pins[key] = version
			continue
		}

		if !def.Enabled {
			return nil, pricing.Breakdown{}, errors.Join(ErrBundleDisabled, errors.New("bundle "+key))
		}
		pins[key] = def.Version
	}

	breakdown, err := s.calc.PricePinned(ctx, keys, pins, cycle, now)
	if err != nil {
		return nil, pricing.Breakdown{}, err
	}

	existing, err := s.subs.Get(ctx, workspaceID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, pricing.Breakdown{}, err
	}

	var (
		bundlesBefore []string
		priceBefore   = decimal.Zero
	)

	sub := &WorkspaceSubscription{
		WorkspaceID: workspaceID,
		BundleKeys:  keys,
		Cycle:       cycle,
		Status:      StatusActive,
		VersionPins: pins,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	switch {
	case existing == nil:
		sub.PeriodSeq = 1
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = addCycle(now, cycle)
	case existing.IsCancelled():
		// Re-subscribing starts a fresh period sequence so no stale counter
		// from the previous life of the subscription is ever reused.
		sub.PeriodSeq = existing.PeriodSeq + 1
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = addCycle(now, cycle)
		sub.CreatedAt = existing.CreatedAt
	default:
		// Mid-period change keeps the running period and its counters.
		sub.PeriodSeq = existing.PeriodSeq
		sub.CurrentPeriodStart = existing.CurrentPeriodStart
		sub.CurrentPeriodEnd = existing.CurrentPeriodEnd
		sub.CreatedAt = existing.CreatedAt

		bundlesBefore = existing.BundleKeys
		if before, err := s.calc.PricePinned(ctx, existing.BundleKeys, existing.VersionPins, existing.Cycle, now); err == nil {
			priceBefore = before.Final
		}
	}

	if err := s.subs.Save(ctx, sub); err != nil {
		return nil, pricing.Breakdown{}, err
	}

	s.logHistory(ctx, history.EventBundlesChanged,
		history.WithWorkspace(workspaceID),
		history.WithBundleChange(bundlesBefore, keys),
		history.WithPriceChange(priceBefore, breakdown.Final),
		history.WithMeta("cycle", string(cycle)),
	)
	return sub, breakdown, nil
}

func (s *service) Cancel(ctx context.Context, workspaceID uuid.UUID) error {
	if workspaceID == uuid.Nil {
		return ErrWorkspaceRequired
	}

	sub, err := s.subs.Get(ctx, workspaceID)
	if err != nil {
		return err
	}
	if sub.IsCancelled() {
		return nil
	}

	now := s.now()
	priceBefore := decimal.Zero
	if before, err := s.calc.PricePinned(ctx, sub.BundleKeys, sub.VersionPins, sub.Cycle, now); err == nil {
		priceBefore = before.Final
	}

	sub.Status = StatusCancelled
	sub.CancelledAt = &now
	sub.UpdatedAt = now
	if err := s.subs.Save(ctx, sub); err != nil {
		return err
	}

	s.logHistory(ctx, history.EventSubscriptionCancelled,
		history.WithWorkspace(workspaceID),
		history.WithBundleChange(sub.BundleKeys, nil),
		history.WithPriceChange(priceBefore, decimal.Zero),
	)
	return nil
}

func (s *service) CheckAccess(ctx context.Context, workspaceID uuid.UUID, feature catalog.Feature) (AccessDecision, error) {
	if workspaceID == uuid.Nil {
		return AccessDecision{}, ErrWorkspaceRequired
	}
	if feature == "" {
		return AccessDecision{}, errors.Join(catalog.ErrValidation, catalog.ErrEmptyFeatureKey)
	}

	sub, defs, err := s.resolveEntitlements(ctx, workspaceID)
	if err != nil {
		return AccessDecision{}, err
	}

	for _, def := range defs {
		if def.HasFeature(feature) {
			return AccessDecision{Allowed: true}, nil
		}
	}

	cycle := catalog.CycleMonthly
	if sub != nil {
		cycle = sub.Cycle
	}
	upgrade, err := s.cheapestUpgrade(ctx, feature, cycle)
	if err != nil {
		return AccessDecision{}, err
	}
	return AccessDecision{Allowed: false, UpgradeBundle: upgrade}, nil
}

func (s *service) Consume(ctx context.Context, workspaceID uuid.UUID, feature catalog.Feature, amount int64) (ConsumeResult, error) {
	if workspaceID == uuid.Nil {
		return ConsumeResult{}, ErrWorkspaceRequired
	}
	if amount <= 0 {
		return ConsumeResult{}, ErrInvalidAmount
	}

	sub, defs, err := s.resolveEntitlements(ctx, workspaceID)
	if err != nil {
		return ConsumeResult{}, err
	}
	if sub == nil || sub.IsCancelled() {
		return ConsumeResult{}, ErrFeatureNotGranted
	}

	// Effective limit is the max over granting bundles; -1 on any
	// contributor makes the feature unlimited.
	limit, granted := effectiveLimit(defs, feature)
	if !granted {
		return ConsumeResult{}, ErrFeatureNotGranted
	}
	if limit == catalog.Unlimited {
		return ConsumeResult{Remaining: catalog.Unlimited, Unlimited: true}, nil
	}

	consumed, err := s.usage.Add(ctx, workspaceID, feature, sub.PeriodKey(), amount, limit)
	if errors.Is(err, ErrInsufficientQuota) {
		// Expected and user-facing, not an operational error.
		s.log.DebugContext(ctx, "quota exceeded",
			"workspace_id", workspaceID, "feature", string(feature), "limit", limit)
		return ConsumeResult{}, err
	}
	if err != nil {
		return ConsumeResult{}, err
	}
	return ConsumeResult{Remaining: limit - consumed}, nil
}

func (s *service) RolloverPeriod(ctx context.Context, workspaceID uuid.UUID) error {
	if workspaceID == uuid.Nil {
		return ErrWorkspaceRequired
	}

	sub, err := s.subs.Get(ctx, workspaceID)
	if err != nil {
		return err
	}
	if sub.IsCancelled() {
		return nil
	}

	now := s.now()
	if now.Before(sub.CurrentPeriodEnd) {
		return nil
	}

	// Catch up every completed period so a missed scheduler run reduces to a
	// plain retry. Old counters stay in the usage store for analytics.
	for !now.Before(sub.CurrentPeriodEnd) {
		sub.CurrentPeriodStart = sub.CurrentPeriodEnd
		sub.CurrentPeriodEnd = addCycle(sub.CurrentPeriodEnd, sub.Cycle)
		sub.PeriodSeq++
	}

	// Re-pin to current versions for the new period unless an active
	// migration plan still grandfathers this workspace.
	for _, key := range sub.BundleKeys {
		if version, ok, err := s.pinnedVersion(ctx, workspaceID, key, now); err != nil {
			return err
		} else if ok {
			sub.VersionPins[key] = version
			continue
		}
		def, err := s.cat.GetCurrent(ctx, key)
		if err != nil {
			return err
		}
		sub.VersionPins[key] = def.Version
	}

	sub.UpdatedAt = now
	if err := s.subs.Save(ctx, sub); err != nil {
		return err
	}

	s.logHistory(ctx, history.EventPeriodRolledOver,
		history.WithWorkspace(workspaceID),
		history.WithMeta("period_key", sub.PeriodKey()),
	)
	return nil
}

// resolveEntitlements loads the subscription and the bundle definitions it
// is entitled to, honoring version pins. A missing or cancelled subscription
// resolves to the implicit free tier (no bundles).
func (s *service) resolveEntitlements(ctx context.Context, workspaceID uuid.UUID) (*WorkspaceSubscription, []catalog.BundleDefinition, error) {
	sub, err := s.subs.Get(ctx, workspaceID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if sub.IsCancelled() {
		return sub, nil, nil
	}

	defs := make([]catalog.BundleDefinition, 0, len(sub.BundleKeys))
	for _, key := range sub.BundleKeys {
		var def catalog.BundleDefinition
		if version, pinned := sub.VersionPins[key]; pinned {
			def, err = s.cat.GetVersion(ctx, key, version)
		} else {
			def, err = s.cat.GetCurrent(ctx, key)
		}
		if err != nil {
			return nil, nil, err
		}
		defs = append(defs, def)
	}
	return sub, defs, nil
}

// cheapestUpgrade scans enabled bundles for the lowest-priced one granting
// the feature. Returns "" when none does.
func (s *service) cheapestUpgrade(ctx context.Context, feature catalog.Feature, cycle catalog.BillingCycle) (string, error) {
	defs, err := s.cat.ListEnabled(ctx)
	if err != nil {
		return "", err
	}

	now := s.now()
	var (
		best      string
		bestPrice decimal.Decimal
	)
	for _, def := range defs {
		if !def.HasFeature(feature) {
			continue
		}
		price := def.UnitPrice(cycle, now)
		if best == "" || price.LessThan(bestPrice) {
			best = def.Key
			bestPrice = price
		}
	}
	return best, nil
}

func (s *service) pinnedVersion(ctx context.Context, workspaceID uuid.UUID, key string, asOf time.Time) (int64, bool, error) {
	if s.grandfathers == nil {
		return 0, false, nil
	}
	return s.grandfathers.PinnedVersion(ctx, workspaceID, key, asOf)
}

func (s *service) logHistory(ctx context.Context, event history.EventType, opts ...history.EntryOption) {
	if s.history == nil {
		return
	}
	if err := s.history.Log(ctx, event, opts...); err != nil {
		s.log.ErrorContext(ctx, "failed to record billing history", "event", string(event), "error", err)
	}
}

// effectiveLimit aggregates limits across overlapping bundle grants at read
// time: union of features, max of limits, -1 dominant.
func effectiveLimit(defs []catalog.BundleDefinition, feature catalog.Feature) (int64, bool) {
	var (
		limit   int64
		granted bool
	)
	for _, def := range defs {
		l, ok := def.Limit(feature)
		if !ok {
			continue
		}
		if l == catalog.Unlimited {
			return catalog.Unlimited, true
		}
		if !granted || l > limit {
			limit = l
		}
		granted = true
	}
	return limit, granted
}

func normalizeKeys(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}

func addCycle(t time.Time, cycle catalog.BillingCycle) time.Time {
	if cycle == catalog.CycleYearly {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}
