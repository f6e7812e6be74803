package impact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/bundlekit/pkg/catalog"
	"github.com/dmitrymomot/bundlekit/pkg/history"
	"github.com/dmitrymomot/bundlekit/pkg/ledger"
	"github.com/dmitrymomot/bundlekit/pkg/pricing"
)

// CatalogSource is the slice of the catalog the analyzer needs.
type CatalogSource interface {
	GetCurrent(ctx context.Context, key string) (catalog.BundleDefinition, error)
	GetVersion(ctx context.Context, key string, version int64) (catalog.BundleDefinition, error)
	GetChangeRequest(ctx context.Context, id uuid.UUID) (catalog.ChangeRequest, error)
}

// Service analyzes proposed catalog changes before they reach production
// and executes the resulting migration plans. It implements
// catalog.AnalysisVerifier (gating applies) and ledger.GrandfatherSource
// (answering pin lookups) so the three components wire into the
// analyze-before-apply protocol without import cycles.
type Service interface {
	// Analyze computes the blast radius of a proposed change: affected
	// subscriptions, financial and behavioral impact, risk level, and a
	// recommended migration plan. Read-only over catalog and ledger;
	// identical inputs with no intervening subscription changes produce
	// identical counts and deltas.
	Analyze(ctx context.Context, bundleKey string, changeRequestID uuid.UUID) (Report, error)

	// GetReport loads a previously computed report.
	GetReport(ctx context.Context, id uuid.UUID) (Report, error)

	// ExecuteMigration runs the report's migration plan: per affected
	// subscription it pins the old version (grandfather), moves it to the
	// new version (force), or records a notice. Idempotent and resumable;
	// returns ErrAlreadyExecuted on replay after completion.
	ExecuteMigration(ctx context.Context, reportID uuid.UUID, actor string) (Report, error)

	// Verify implements catalog.AnalysisVerifier.
	Verify(ctx context.Context, analysisID uuid.UUID, bundleKey string, baseVersion int64) error

	// PinnedVersion implements ledger.GrandfatherSource.
	PinnedVersion(ctx context.Context, workspaceID uuid.UUID, bundleKey string, asOf time.Time) (int64, bool, error)
}

type service struct {
	cfg     Config
	cat     CatalogSource
	subs    ledger.SubscriptionStore
	usage   ledger.UsageStore
	store   Store
	history history.Logger
	log     *slog.Logger
	now     func() time.Time
}

// Option configures the analyzer.
type Option func(*service)

// WithHistory attaches a billing-history logger for migration execution.
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

// NewService creates the plan-change impact analyzer.
// Panics if required dependencies are nil to fail fast during initialization.
func NewService(cfg Config, cat CatalogSource, subs ledger.SubscriptionStore, usage ledger.UsageStore, store Store, opts ...Option) Service {
	if cat == nil {
		panic("impact: catalog source is required")
	}
	if subs == nil {
		panic("impact: subscription store is required")
	}
	if usage == nil {
		panic("impact: usage store is required")
	}
	if store == nil {
		panic("impact: report store is required")
	}

	s := &service{
		cfg:   cfg,
		cat:   cat,
		subs:  subs,
		usage: usage,
		store: store,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Analyze(ctx context.Context, bundleKey string, changeRequestID uuid.UUID) (Report, error) {
	cr, err := s.cat.GetChangeRequest(ctx, changeRequestID)
	if err != nil {
		return Report{}, err
	}
	if cr.BundleKey != bundleKey {
		return Report{}, errors.Join(ErrChangeRequestMismatch,
			fmt.Errorf("request targets %q, analysis asked for %q", cr.BundleKey, bundleKey))
	}

	current, err := s.cat.GetCurrent(ctx, bundleKey)
	if err != nil {
		return Report{}, err
	}

	proposed := cr.Changes.ApplyTo(current)
	proposed.Version = current.Version + 1

	affected, err := s.subs.ListByBundle(ctx, bundleKey)
	if err != nil {
		return Report{}, err
	}
	sort.Slice(affected, func(i, j int) bool {
		return affected[i].WorkspaceID.String() < affected[j].WorkspaceID.String()
	})

	now := s.now()
	decreased := cr.Changes.DecreasedLimits(current)
	removed := cr.Changes.RemovedFeatures(current)

	var (
		revenueDelta  = decimal.Zero
		breakingCount int
		featureLoss   int
	)
	for i := range affected {
		sub := &affected[i]

		currentDefs, err := s.resolveSubscribed(ctx, sub)
		if err != nil {
			return Report{}, err
		}
		newDefs := make([]catalog.BundleDefinition, len(currentDefs))
		copy(newDefs, currentDefs)
		for j := range newDefs {
			if newDefs[j].Key == bundleKey {
				newDefs[j] = proposed
			}
		}

		currentPrice := pricing.Price(currentDefs, sub.Cycle, now)
		newPrice := pricing.Price(newDefs, sub.Cycle, now)
		revenueDelta = revenueDelta.Add(newPrice.Final.Sub(currentPrice.Final))

		if s.isBreaking(ctx, sub, decreased) {
			breakingCount++
		}
		if s.hasFeatureLoss(ctx, sub, removed) {
			featureLoss++
		}
	}

	risk := s.classifyRisk(len(affected), breakingCount, revenueDelta)

	report := Report{
		ID:              uuid.New(),
		BundleKey:       bundleKey,
		BaseVersion:     current.Version,
		ChangeRequestID: changeRequestID,
		Changes:         cr.Changes,
		AffectedCount:   len(affected),
		RevenueDelta:    revenueDelta,
		BreakingCount:   breakingCount,
		FeatureLoss:     featureLoss,
		Risk:            risk,
		Plan:            s.recommendPlan(risk, affected),
		CreatedAt:       now,
	}
	if err := s.store.SaveReport(ctx, report); err != nil {
		return Report{}, err
	}

	s.log.InfoContext(ctx, "change analyzed",
		"bundle_key", bundleKey, "affected", report.AffectedCount,
		"breaking", breakingCount, "risk", string(risk))
	return report, nil
}

func (s *service) GetReport(ctx context.Context, id uuid.UUID) (Report, error) {
	return s.store.GetReport(ctx, id)
}

func (s *service) ExecuteMigration(ctx context.Context, reportID uuid.UUID, actor string) (Report, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return Report{}, err
	}
	if report.Plan.Status == PlanCompleted {
		return Report{}, ErrAlreadyExecuted
	}

	now := s.now()
	report.Plan.Status = PlanInProgress
	if err := s.store.SaveReport(ctx, report); err != nil {
		return Report{}, err
	}

	for i := range report.Plan.Actions {
		action := &report.Plan.Actions[i]
		if action.Done {
			continue
		}

		if err := s.executeAction(ctx, &report, action, actor, now); err != nil {
			return Report{}, err
		}

		// Persist progress after every action so a failure mid-loop leaves
		// already-processed subscriptions migrated and the rest resumable.
		action.Done = true
		if err := s.store.SaveReport(ctx, report); err != nil {
			return Report{}, err
		}
	}

	report.Plan.Status = PlanCompleted
	report.Plan.ExecutedAt = &now
	if err := s.store.SaveReport(ctx, report); err != nil {
		return Report{}, err
	}

	s.log.InfoContext(ctx, "migration plan executed",
		"report_id", reportID, "bundle_key", report.BundleKey, "actions", len(report.Plan.Actions))
	return report, nil
}

func (s *service) executeAction(ctx context.Context, report *Report, action *MigrationAction, actor string, now time.Time) error {
	switch action.Type {
	case ActionRollbackWindow:
		// Plan-level marker; the superseded version is retained by the
		// catalog anyway, so nothing to do beyond recording the window.
		return nil

	case ActionNotify:
		return s.logHistory(ctx, history.EventMigrationNotice,
			history.WithWorkspace(action.WorkspaceID),
			history.WithBundle(report.BundleKey),
			history.WithActor(actor),
			history.WithMeta("report_id", report.ID.String()),
		)

	case ActionGrandfather:
		pin := GrandfatherPin{
			WorkspaceID: action.WorkspaceID,
			BundleKey:   report.BundleKey,
			Version:     report.BaseVersion,
			Until:       now.Add(report.Plan.GracePeriod),
		}
		if err := s.store.SavePin(ctx, pin); err != nil {
			return err
		}
		if err := s.pinSubscription(ctx, action.WorkspaceID, report.BundleKey, report.BaseVersion); err != nil {
			return err
		}
		return s.logHistory(ctx, history.EventMigrationGrandfathered,
			history.WithWorkspace(action.WorkspaceID),
			history.WithBundle(report.BundleKey),
			history.WithActor(actor),
			history.WithMeta("pinned_version", report.BaseVersion),
			history.WithMeta("until", pin.Until),
			history.WithMeta("report_id", report.ID.String()),
		)

	case ActionForce:
		current, err := s.cat.GetCurrent(ctx, report.BundleKey)
		if err != nil {
			return err
		}
		if err := s.pinSubscription(ctx, action.WorkspaceID, report.BundleKey, current.Version); err != nil {
			return err
		}
		return s.logHistory(ctx, history.EventMigrationForced,
			history.WithWorkspace(action.WorkspaceID),
			history.WithBundle(report.BundleKey),
			history.WithActor(actor),
			history.WithMeta("version", current.Version),
			history.WithMeta("report_id", report.ID.String()),
		)

	default:
		return fmt.Errorf("unknown migration action type %q", action.Type)
	}
}

// pinSubscription updates the billed-version pin on the workspace's
// subscription. A subscription that disappeared since analysis is skipped,
// not failed: the migration must stay resumable.
func (s *service) pinSubscription(ctx context.Context, workspaceID uuid.UUID, bundleKey string, version int64) error {
	sub, err := s.subs.Get(ctx, workspaceID)
	if errors.Is(err, ledger.ErrSubscriptionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sub.IsCancelled() || !sub.HasBundle(bundleKey) {
		return nil
	}

	if sub.VersionPins == nil {
		sub.VersionPins = make(map[string]int64)
	}
	sub.VersionPins[bundleKey] = version
	sub.UpdatedAt = s.now()
	return s.subs.Save(ctx, sub)
}

// Verify gates catalog applies: the analysis must reference the same bundle
// and base version, be younger than the validity window, and the affected
// set must not have drifted materially since it was computed.
func (s *service) Verify(ctx context.Context, analysisID uuid.UUID, bundleKey string, baseVersion int64) error {
	report, err := s.store.GetReport(ctx, analysisID)
	if errors.Is(err, ErrReportNotFound) {
		return errors.Join(catalog.ErrStaleAnalysis, err)
	}
	if err != nil {
		return err
	}

	if report.BundleKey != bundleKey || report.BaseVersion != baseVersion {
		return errors.Join(catalog.ErrStaleAnalysis,
			fmt.Errorf("analysis covers %s@%d, apply targets %s@%d",
				report.BundleKey, report.BaseVersion, bundleKey, baseVersion))
	}

	now := s.now()
	if now.Sub(report.CreatedAt) > s.cfg.AnalysisValidity {
		return errors.Join(catalog.ErrStaleAnalysis,
			fmt.Errorf("analysis computed %s ago, validity window is %s",
				now.Sub(report.CreatedAt).Round(time.Second), s.cfg.AnalysisValidity))
	}

	affected, err := s.subs.ListByBundle(ctx, bundleKey)
	if err != nil {
		return err
	}
	if drifted(report.AffectedCount, len(affected), s.cfg.AffectedDrift) {
		return errors.Join(catalog.ErrStaleAnalysis,
			fmt.Errorf("affected subscriptions changed from %d to %d since analysis",
				report.AffectedCount, len(affected)))
	}
	return nil
}

// PinnedVersion implements ledger.GrandfatherSource.
func (s *service) PinnedVersion(ctx context.Context, workspaceID uuid.UUID, bundleKey string, asOf time.Time) (int64, bool, error) {
	pin, err := s.store.GetPin(ctx, workspaceID, bundleKey)
	if errors.Is(err, ErrPinNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if asOf.After(pin.Until) {
		return 0, false, nil
	}
	return pin.Version, true, nil
}

// resolveSubscribed loads the definitions a subscription is actually billed
// against: the pinned version where one exists (grandfathered workspaces pay
// the old price), the current version otherwise.
func (s *service) resolveSubscribed(ctx context.Context, sub *ledger.WorkspaceSubscription) ([]catalog.BundleDefinition, error) {
	defs := make([]catalog.BundleDefinition, 0, len(sub.BundleKeys))
	for _, key := range sub.BundleKeys {
		var (
			def catalog.BundleDefinition
			err error
		)
		if version, ok := sub.VersionPins[key]; ok {
			def, err = s.cat.GetVersion(ctx, key, version)
		} else {
			def, err = s.cat.GetCurrent(ctx, key)
		}
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (s *service) isBreaking(ctx context.Context, sub *ledger.WorkspaceSubscription, decreased map[catalog.Feature]int64) bool {
	for feature, newLimit := range decreased {
		consumed, err := s.usage.Get(ctx, sub.WorkspaceID, feature, sub.PeriodKey())
		if err != nil {
			continue
		}
		if consumed > newLimit {
			return true
		}
	}
	return false
}

func (s *service) hasFeatureLoss(ctx context.Context, sub *ledger.WorkspaceSubscription, removed []catalog.Feature) bool {
	for _, feature := range removed {
		consumed, err := s.usage.Get(ctx, sub.WorkspaceID, feature, sub.PeriodKey())
		if err != nil {
			continue
		}
		if consumed > 0 {
			return true
		}
	}
	return false
}

func (s *service) classifyRisk(affected, breaking int, revenueDelta decimal.Decimal) Risk {
	threshold := decimal.NewFromFloat(s.cfg.RevenueThreshold)
	if revenueDelta.Abs().GreaterThan(threshold) {
		return RiskHigh
	}
	if affected == 0 || breaking == 0 {
		return RiskLow
	}
	ratio := float64(breaking) / float64(affected)
	if ratio > 0.10 {
		return RiskHigh
	}
	return RiskMedium
}

// recommendPlan maps risk to the migration recommendation: high risk
// grandfathers every affected workspace through the full grace period and
// keeps a rollback window open; medium notifies and grandfathers through a
// shorter window; low risk notifies only and the change applies immediately.
func (s *service) recommendPlan(risk Risk, affected []ledger.WorkspaceSubscription) MigrationPlan {
	plan := MigrationPlan{Status: PlanPending}

	switch risk {
	case RiskHigh:
		plan.GracePeriod = s.cfg.HighGracePeriod
		plan.Actions = append(plan.Actions, MigrationAction{Type: ActionRollbackWindow})
		for _, sub := range affected {
			plan.Actions = append(plan.Actions,
				MigrationAction{Type: ActionNotify, WorkspaceID: sub.WorkspaceID},
				MigrationAction{Type: ActionGrandfather, WorkspaceID: sub.WorkspaceID},
			)
		}
	case RiskMedium:
		plan.GracePeriod = s.cfg.MediumGracePeriod
		for _, sub := range affected {
			plan.Actions = append(plan.Actions,
				MigrationAction{Type: ActionNotify, WorkspaceID: sub.WorkspaceID},
				MigrationAction{Type: ActionGrandfather, WorkspaceID: sub.WorkspaceID},
			)
		}
	default:
		for _, sub := range affected {
			plan.Actions = append(plan.Actions,
				MigrationAction{Type: ActionNotify, WorkspaceID: sub.WorkspaceID})
		}
	}
	return plan
}

func (s *service) logHistory(ctx context.Context, event history.EventType, opts ...history.EntryOption) error {
	if s.history == nil {
		return nil
	}
	if err := s.history.Log(ctx, event, opts...); err != nil {
		s.log.ErrorContext(ctx, "failed to record billing history", "event", string(event), "error", err)
	}
	return nil
}

func drifted(recorded, current int, tolerance float64) bool {
	if recorded == current {
		return false
	}
	base := math.Max(float64(recorded), 1)
	return math.Abs(float64(current-recorded))/base > tolerance
}
