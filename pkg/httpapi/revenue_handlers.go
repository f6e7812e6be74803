package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/bundlekit/pkg/history"
	"github.com/dmitrymomot/bundlekit/pkg/revshare"
)

type revenueEventRequest struct {
	EventID     uuid.UUID       `json:"event_id"`
	WorkspaceID uuid.UUID       `json:"workspace_id"`
	Source      string          `json:"source"`
	Amount      decimal.Decimal `json:"amount"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

func (s *Server) recordRevenueEvent(w http.ResponseWriter, r *http.Request) {
	var req revenueEventRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	err := s.revenue.RecordRevenueEvent(r.Context(), revshare.RevenueEvent{
		EventID:     req.EventID,
		WorkspaceID: req.WorkspaceID,
		Source:      req.Source,
		Amount:      req.Amount,
		OccurredAt:  req.OccurredAt,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (s *Server) periodRevenue(w http.ResponseWriter, r *http.Request) {
	id, err := workspaceID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	totals, err := s.revenue.PeriodRevenue(r.Context(), id, chi.URLParam(r, "period"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, totals)
}

func (s *Server) closePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := workspaceID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	record, err := s.revenue.ClosePeriod(r.Context(), id, chi.URLParam(r, "period"))
	if err != nil {
		// A replayed close returns the existing record; surface it rather
		// than an error so the operation stays idempotent for callers.
		if errors.Is(err, revshare.ErrAlreadyClosed) {
			respondJSON(w, http.StatusOK, record)
			return
		}
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, record)
}

func (s *Server) getRevenueRecord(w http.ResponseWriter, r *http.Request) {
	id, err := workspaceID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	record, err := s.revenue.GetRecord(r.Context(), id, chi.URLParam(r, "period"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, record)
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	filter := history.Filter{
		BundleKey: r.URL.Query().Get("bundle_key"),
	}
	if raw := r.URL.Query().Get("workspace_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, r, errBadRequest)
			return
		}
		filter.WorkspaceID = &id
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, r, errBadRequest)
			return
		}
		filter.Since = since
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, r, errBadRequest)
			return
		}
		filter.Limit = limit
	}

	entries, err := s.history.List(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}
