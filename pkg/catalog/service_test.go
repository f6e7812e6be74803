package catalog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/bundlekit/pkg/catalog"
)

type approveAll struct{}

func (approveAll) Verify(ctx context.Context, analysisID uuid.UUID, bundleKey string, baseVersion int64) error {
	return nil
}

type rejectAll struct{ err error }

func (r rejectAll) Verify(ctx context.Context, analysisID uuid.UUID, bundleKey string, baseVersion int64) error {
	return r.err
}

func newService(t *testing.T) catalog.Service {
	t.Helper()
	svc := catalog.NewService(catalog.NewMemoryStore())
	svc.SetAnalysisVerifier(approveAll{})
	return svc
}

func definition(key string, monthly float64) catalog.BundleDefinition {
	return catalog.BundleDefinition{
		Key:          key,
		MonthlyPrice: decimal.NewFromFloat(monthly),
		YearlyPrice:  decimal.NewFromFloat(monthly * 10),
		Features:     []catalog.Feature{"exports"},
		Limits:       map[catalog.Feature]int64{"exports": 100},
		Enabled:      true,
	}
}

func TestService_Define(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("creates version one", func(t *testing.T) {
		t.Parallel()
		svc := newService(t)

		def, err := svc.Define(ctx, definition("analytics", 19), "admin")
		require.NoError(t, err)
		assert.Equal(t, int64(1), def.Version)
		assert.Zero(t, def.SupersededBy)
	})

	t.Run("rejects duplicate key", func(t *testing.T) {
		t.Parallel()
		svc := newService(t)

		_, err := svc.Define(ctx, definition("analytics", 19), "admin")
		require.NoError(t, err)

		_, err = svc.Define(ctx, definition("analytics", 29), "admin")
		assert.ErrorIs(t, err, catalog.ErrBundleAlreadyExists)
	})

	t.Run("rejects negative price", func(t *testing.T) {
		t.Parallel()
		svc := newService(t)

		def := definition("analytics", 19)
		def.MonthlyPrice = decimal.NewFromInt(-1)
		_, err := svc.Define(ctx, def, "admin")
		assert.ErrorIs(t, err, catalog.ErrValidation)
		assert.ErrorIs(t, err, catalog.ErrNegativePrice)
	})
}

func TestService_ListEnabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newService(t)

	_, err := svc.Define(ctx, definition("analytics", 19), "admin")
	require.NoError(t, err)

	disabled := definition("legacy", 9)
	disabled.Enabled = false
	_, err = svc.Define(ctx, disabled, "admin")
	require.NoError(t, err)

	defs, err := svc.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "analytics", defs[0].Key)
}

func TestService_ProposeApply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	priceChange := func(v float64) catalog.ChangeSet {
		p := decimal.NewFromFloat(v)
		return catalog.ChangeSet{MonthlyPrice: &p}
	}

	t.Run("apply appends a new current version", func(t *testing.T) {
		t.Parallel()
		svc := newService(t)
		_, err := svc.Define(ctx, definition("analytics", 19), "admin")
		require.NoError(t, err)

		cr, err := svc.Propose(ctx, "analytics", priceChange(29), "admin")
		require.NoError(t, err)
		assert.Equal(t, int64(1), cr.BaseVersion)

		next, err := svc.Apply(ctx, cr.ID, uuid.New(), "admin")
		require.NoError(t, err)
		assert.Equal(t, int64(2), next.Version)
		assert.True(t, next.MonthlyPrice.Equal(decimal.NewFromInt(29)))

		// The old version survives, marked superseded.
		old, err := svc.GetVersion(ctx, "analytics", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), old.SupersededBy)
		assert.True(t, old.MonthlyPrice.Equal(decimal.NewFromInt(19)))
	})

	t.Run("stale base version conflicts", func(t *testing.T) {
		t.Parallel()
		svc := newService(t)
		_, err := svc.Define(ctx, definition("analytics", 19), "admin")
		require.NoError(t, err)

		first, err := svc.Propose(ctx, "analytics", priceChange(29), "admin")
		require.NoError(t, err)
		second, err := svc.Propose(ctx, "analytics", priceChange(39), "admin")
		require.NoError(t, err)

		_, err = svc.Apply(ctx, first.ID, uuid.New(), "admin")
		require.NoError(t, err)

		// The second request was proposed against version 1, which is no
		// longer current. It must never silently overwrite.
		_, err = svc.Apply(ctx, second.ID, uuid.New(), "admin")
		assert.ErrorIs(t, err, catalog.ErrVersionConflict)
	})

	t.Run("apply without verifier is refused", func(t *testing.T) {
		t.Parallel()
		svc := catalog.NewService(catalog.NewMemoryStore())
		_, err := svc.Define(ctx, definition("analytics", 19), "admin")
		require.NoError(t, err)

		cr, err := svc.Propose(ctx, "analytics", priceChange(29), "admin")
		require.NoError(t, err)

		_, err = svc.Apply(ctx, cr.ID, uuid.New(), "admin")
		assert.ErrorIs(t, err, catalog.ErrAnalysisRequired)
	})

	t.Run("verifier failure blocks apply", func(t *testing.T) {
		t.Parallel()
		svc := catalog.NewService(catalog.NewMemoryStore())
		svc.SetAnalysisVerifier(rejectAll{err: catalog.ErrStaleAnalysis})
		_, err := svc.Define(ctx, definition("analytics", 19), "admin")
		require.NoError(t, err)

		cr, err := svc.Propose(ctx, "analytics", priceChange(29), "admin")
		require.NoError(t, err)

		_, err = svc.Apply(ctx, cr.ID, uuid.New(), "admin")
		assert.ErrorIs(t, err, catalog.ErrStaleAnalysis)

		current, err := svc.GetCurrent(ctx, "analytics")
		require.NoError(t, err)
		assert.Equal(t, int64(1), current.Version)
	})

	t.Run("empty change set is invalid", func(t *testing.T) {
		t.Parallel()
		svc := newService(t)
		_, err := svc.Define(ctx, definition("analytics", 19), "admin")
		require.NoError(t, err)

		_, err = svc.Propose(ctx, "analytics", catalog.ChangeSet{}, "admin")
		assert.ErrorIs(t, err, catalog.ErrValidation)
		assert.ErrorIs(t, err, catalog.ErrEmptyChangeSet)
	})
}

func TestService_Rollback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newService(t)

	def := definition("analytics", 19)
	def.Promo = &catalog.Promo{
		OverridePrice: decimal.NewFromInt(9),
		ExpiresAt:     time.Now().Add(time.Hour),
	}
	_, err := svc.Define(ctx, def, "admin")
	require.NoError(t, err)

	newPrice := decimal.NewFromInt(49)
	cr, err := svc.Propose(ctx, "analytics", catalog.ChangeSet{MonthlyPrice: &newPrice, ClearPromo: true}, "admin")
	require.NoError(t, err)
	_, err = svc.Apply(ctx, cr.ID, uuid.New(), "admin")
	require.NoError(t, err)

	rolled, err := svc.Rollback(ctx, "analytics", 1, "admin")
	require.NoError(t, err)

	// Rollback is a copy-forward: same fields as version 1 under a strictly
	// greater version number.
	original, err := svc.GetVersion(ctx, "analytics", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rolled.Version)
	assert.True(t, rolled.MonthlyPrice.Equal(original.MonthlyPrice))
	assert.Equal(t, original.Features, rolled.Features)
	assert.Equal(t, original.Limits, rolled.Limits)
	require.NotNil(t, rolled.Promo)
	assert.True(t, rolled.Promo.OverridePrice.Equal(original.Promo.OverridePrice))

	current, err := svc.GetCurrent(ctx, "analytics")
	require.NoError(t, err)
	assert.Equal(t, int64(3), current.Version)

	// The intermediate version is still readable.
	middle, err := svc.GetVersion(ctx, "analytics", 2)
	require.NoError(t, err)
	assert.True(t, middle.MonthlyPrice.Equal(decimal.NewFromInt(49)))
}

func TestChangeSet_Validate(t *testing.T) {
	t.Parallel()

	t.Run("negative limit rejected", func(t *testing.T) {
		t.Parallel()
		cs := catalog.ChangeSet{Limits: map[catalog.Feature]int64{"exports": -2}}
		err := cs.Validate()
		assert.ErrorIs(t, err, catalog.ErrInvalidLimit)
	})

	t.Run("unlimited sentinel allowed", func(t *testing.T) {
		t.Parallel()
		cs := catalog.ChangeSet{Limits: map[catalog.Feature]int64{"exports": catalog.Unlimited}}
		assert.NoError(t, cs.Validate())
	})

	t.Run("empty feature key rejected", func(t *testing.T) {
		t.Parallel()
		cs := catalog.ChangeSet{Features: []catalog.Feature{""}}
		err := cs.Validate()
		assert.ErrorIs(t, err, catalog.ErrEmptyFeatureKey)
	})
}

func TestMemoryStore_AppendVersionConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := catalog.NewMemoryStore()

	def := definition("analytics", 19)
	def.Version = 1
	require.NoError(t, store.AppendVersion(ctx, def, 0))

	next := def.Clone()
	next.Version = 2
	require.NoError(t, store.AppendVersion(ctx, next, 1))

	// A writer that still believes version 1 is current loses.
	loser := def.Clone()
	loser.Version = 2
	err := store.AppendVersion(ctx, loser, 1)
	assert.ErrorIs(t, err, catalog.ErrVersionConflict)

	current, err := store.GetCurrent(ctx, "analytics")
	require.NoError(t, err)
	assert.Equal(t, int64(2), current.Version)
}

func TestGetCurrent_NotFound(t *testing.T) {
	t.Parallel()
	svc := newService(t)

	_, err := svc.GetCurrent(context.Background(), "ghost")
	assert.True(t, errors.Is(err, catalog.ErrBundleNotFound))
}
