package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/bundlekit/pkg/catalog"
	"github.com/dmitrymomot/bundlekit/pkg/ledger"
	"github.com/dmitrymomot/bundlekit/pkg/pricing"
)

type subscriptionDTO struct {
	WorkspaceID        uuid.UUID            `json:"workspace_id"`
	BundleKeys         []string             `json:"bundle_keys"`
	Cycle              catalog.BillingCycle `json:"cycle"`
	Status             ledger.Status        `json:"status"`
	VersionPins        map[string]int64     `json:"version_pins,omitempty"`
	CurrentPeriodStart time.Time            `json:"current_period_start"`
	CurrentPeriodEnd   time.Time            `json:"current_period_end"`
	CancelledAt        *time.Time           `json:"cancelled_at,omitempty"`
}

func toSubscriptionDTO(sub *ledger.WorkspaceSubscription) subscriptionDTO {
	return subscriptionDTO{
		WorkspaceID:        sub.WorkspaceID,
		BundleKeys:         sub.BundleKeys,
		Cycle:              sub.Cycle,
		Status:             sub.Status,
		VersionPins:        sub.VersionPins,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelledAt:        sub.CancelledAt,
	}
}

func workspaceID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "workspaceID"))
	if err != nil {
		return uuid.Nil, errBadRequest
	}
	return id, nil
}

func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := workspaceID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	sub, err := s.ledger.GetSubscription(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSubscriptionDTO(sub))
}

type setBundlesRequest struct {
	BundleKeys []string             `json:"bundle_keys"`
	Cycle      catalog.BillingCycle `json:"cycle"`
}

type setBundlesResponse struct {
	Subscription subscriptionDTO   `json:"subscription"`
	Breakdown    pricing.Breakdown `json:"breakdown"`
}

func (s *Server) setBundles(w http.ResponseWriter, r *http.Request) {
	id, err := workspaceID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req setBundlesRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	sub, breakdown, err := s.ledger.SetBundles(r.Context(), id, req.BundleKeys, req.Cycle)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, setBundlesResponse{
		Subscription: toSubscriptionDTO(sub),
		Breakdown:    breakdown,
	})
}

func (s *Server) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := workspaceID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.ledger.Cancel(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) checkAccess(w http.ResponseWriter, r *http.Request) {
	id, err := workspaceID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	decision, err := s.ledger.CheckAccess(r.Context(), id, catalog.Feature(chi.URLParam(r, "feature")))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, decision)
}

type consumeRequest struct {
	Feature catalog.Feature `json:"feature"`
	Amount  int64           `json:"amount"`
}

func (s *Server) consume(w http.ResponseWriter, r *http.Request) {
	id, err := workspaceID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req consumeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	result, err := s.ledger.Consume(r.Context(), id, req.Feature, req.Amount)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) rolloverPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := workspaceID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.ledger.RolloverPeriod(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	sub, err := s.ledger.GetSubscription(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSubscriptionDTO(sub))
}
