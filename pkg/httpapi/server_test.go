package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/bundlekit/pkg/catalog"
	"github.com/dmitrymomot/bundlekit/pkg/history"
	"github.com/dmitrymomot/bundlekit/pkg/httpapi"
	"github.com/dmitrymomot/bundlekit/pkg/impact"
	"github.com/dmitrymomot/bundlekit/pkg/ledger"
	"github.com/dmitrymomot/bundlekit/pkg/pricing"
	"github.com/dmitrymomot/bundlekit/pkg/revshare"
)

func newTestServer(t *testing.T) (http.Handler, catalog.Service, ledger.Service) {
	t.Helper()
	ctx := context.Background()

	catSvc := catalog.NewService(catalog.NewMemoryStore())
	_, err := catSvc.Define(ctx, catalog.BundleDefinition{
		Key:          "analytics",
		MonthlyPrice: decimal.NewFromInt(19),
		YearlyPrice:  decimal.NewFromInt(190),
		Features:     []catalog.Feature{"exports"},
		Limits:       map[catalog.Feature]int64{"exports": 5},
		Enabled:      true,
	}, "admin")
	require.NoError(t, err)
	_, err = catSvc.Define(ctx, catalog.BundleDefinition{
		Key:          "automation",
		MonthlyPrice: decimal.NewFromInt(24),
		YearlyPrice:  decimal.NewFromInt(240),
		Features:     []catalog.Feature{"workflows"},
		Enabled:      true,
	}, "admin")
	require.NoError(t, err)

	subs := ledger.NewMemorySubscriptionStore()
	usage := ledger.NewMemoryUsageStore()
	calc := pricing.NewCalculator(catSvc)

	impactSvc := impact.NewService(impact.DefaultConfig(), catSvc, subs, usage, impact.NewMemoryStore())
	catSvc.SetAnalysisVerifier(impactSvc)

	ledgerSvc := ledger.NewService(catSvc, calc, subs, usage,
		ledger.WithGrandfathers(impactSvc),
	)
	revenueSvc := revshare.NewService(revshare.NewMemoryStore())

	srv := httpapi.NewServer(catSvc, calc, ledgerSvc, impactSvc, revenueSvc, history.NewMemoryStore())
	return srv.Router(), catSvc, ledgerSvc
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func dataField(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

func TestBundleRoutes(t *testing.T) {
	t.Parallel()

	t.Run("list enabled bundles", func(t *testing.T) {
		t.Parallel()
		handler, _, _ := newTestServer(t)

		rec := doJSON(t, handler, http.MethodGet, "/bundles", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var envelope struct {
			Data []map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
		assert.Len(t, envelope.Data, 2)
	})

	t.Run("get bundle", func(t *testing.T) {
		t.Parallel()
		handler, _, _ := newTestServer(t)

		rec := doJSON(t, handler, http.MethodGet, "/bundles/analytics", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		data := dataField(t, rec)
		assert.Equal(t, "analytics", data["key"])
		assert.Equal(t, float64(1), data["version"])
	})

	t.Run("missing bundle is 404", func(t *testing.T) {
		t.Parallel()
		handler, _, _ := newTestServer(t)

		rec := doJSON(t, handler, http.MethodGet, "/bundles/ghost", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", errorCode(t, rec))
	})

	t.Run("define rejects invalid definition", func(t *testing.T) {
		t.Parallel()
		handler, _, _ := newTestServer(t)

		rec := doJSON(t, handler, http.MethodPost, "/bundles", map[string]any{
			"key":           "broken",
			"monthly_price": -5,
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "validation_error", errorCode(t, rec))
	})

	t.Run("duplicate define conflicts", func(t *testing.T) {
		t.Parallel()
		handler, _, _ := newTestServer(t)

		rec := doJSON(t, handler, http.MethodPost, "/bundles", map[string]any{
			"key":           "analytics",
			"monthly_price": 29,
			"yearly_price":  290,
			"enabled":       true,
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("propose analyze apply flow", func(t *testing.T) {
		t.Parallel()
		handler, _, _ := newTestServer(t)

		rec := doJSON(t, handler, http.MethodPost, "/bundles/analytics/changes", map[string]any{
			"changes": map[string]any{"monthly_price": 29},
			"actor":   "admin",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		changeID := dataField(t, rec)["id"].(string)

		rec = doJSON(t, handler, http.MethodPost, "/bundles/analytics/analyze", map[string]any{
			"change_request_id": changeID,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		analysisID := dataField(t, rec)["id"].(string)

		rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/changes/%s/apply", changeID), map[string]any{
			"analysis_id": analysisID,
			"actor":       "admin",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(2), dataField(t, rec)["version"])
	})

	t.Run("apply without analysis conflicts", func(t *testing.T) {
		t.Parallel()
		handler, _, _ := newTestServer(t)

		rec := doJSON(t, handler, http.MethodPost, "/bundles/analytics/changes", map[string]any{
			"changes": map[string]any{"monthly_price": 29},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		changeID := dataField(t, rec)["id"].(string)

		rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/changes/%s/apply", changeID), map[string]any{
			"analysis_id": uuid.New().String(),
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "state_conflict", errorCode(t, rec))
	})
}

func TestPricingRoute(t *testing.T) {
	t.Parallel()
	handler, _, _ := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/pricing/quote", map[string]any{
		"bundle_keys": []string{"analytics", "automation"},
		"cycle":       "monthly",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	data := dataField(t, rec)
	final, err := decimal.NewFromString(fmt.Sprintf("%v", data["final"]))
	require.NoError(t, err)
	assert.True(t, final.Equal(decimal.RequireFromString("34.4")), "final %s", final)
}

func TestWorkspaceRoutes(t *testing.T) {
	t.Parallel()

	t.Run("subscribe then consume to exhaustion", func(t *testing.T) {
		t.Parallel()
		handler, _, _ := newTestServer(t)
		ws := uuid.New()

		rec := doJSON(t, handler, http.MethodPut, "/workspaces/"+ws.String()+"/subscription", map[string]any{
			"bundle_keys": []string{"analytics"},
			"cycle":       "monthly",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, handler, http.MethodPost, "/workspaces/"+ws.String()+"/consume", map[string]any{
			"feature": "exports",
			"amount":  5,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(0), dataField(t, rec)["remaining"])

		rec = doJSON(t, handler, http.MethodPost, "/workspaces/"+ws.String()+"/consume", map[string]any{
			"feature": "exports",
			"amount":  1,
		})
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "quota_exceeded", errorCode(t, rec))
	})

	t.Run("ungranted feature is forbidden", func(t *testing.T) {
		t.Parallel()
		handler, _, _ := newTestServer(t)
		ws := uuid.New()

		rec := doJSON(t, handler, http.MethodPut, "/workspaces/"+ws.String()+"/subscription", map[string]any{
			"bundle_keys": []string{"analytics"},
			"cycle":       "monthly",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, handler, http.MethodPost, "/workspaces/"+ws.String()+"/consume", map[string]any{
			"feature": "workflows",
			"amount":  1,
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("access check names upgrade bundle", func(t *testing.T) {
		t.Parallel()
		handler, _, _ := newTestServer(t)
		ws := uuid.New()

		rec := doJSON(t, handler, http.MethodGet, "/workspaces/"+ws.String()+"/access/workflows", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		data := dataField(t, rec)
		assert.Equal(t, false, data["allowed"])
		assert.Equal(t, "automation", data["upgrade_bundle"])
	})

	t.Run("invalid workspace id is 400", func(t *testing.T) {
		t.Parallel()
		handler, _, _ := newTestServer(t)

		rec := doJSON(t, handler, http.MethodGet, "/workspaces/not-a-uuid/subscription", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown subscription is 404", func(t *testing.T) {
		t.Parallel()
		handler, _, _ := newTestServer(t)

		rec := doJSON(t, handler, http.MethodGet, "/workspaces/"+uuid.NewString()+"/subscription", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRevenueRoutes(t *testing.T) {
	t.Parallel()
	handler, _, _ := newTestServer(t)
	ws := uuid.New()

	rec := doJSON(t, handler, http.MethodPost, "/revenue/events", map[string]any{
		"event_id":     uuid.NewString(),
		"workspace_id": ws.String(),
		"source":       "marketplace",
		"amount":       1000,
		"occurred_at":  time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/workspaces/"+ws.String()+"/revenue/2026-03/close", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	data := dataField(t, rec)
	fee, err := decimal.NewFromString(fmt.Sprintf("%v", data["fee"]))
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.NewFromInt(150)), "fee %s", fee)

	// Replayed close is idempotent and returns the same record with 200.
	rec = doJSON(t, handler, http.MethodPost, "/workspaces/"+ws.String()+"/revenue/2026-03/close", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/workspaces/"+ws.String()+"/revenue/2026-03/record", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, dataField(t, rec)["minimum_applied"])
}
