package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type analyzeRequest struct {
	ChangeRequestID uuid.UUID `json:"change_request_id"`
}

func (s *Server) analyzeChange(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	report, err := s.impact.Analyze(r.Context(), chi.URLParam(r, "key"), req.ChangeRequestID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, report)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, errBadRequest)
		return
	}
	report, err := s.impact.GetReport(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

type executeMigrationRequest struct {
	Actor string `json:"actor"`
}

func (s *Server) executeMigration(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, errBadRequest)
		return
	}
	var req executeMigrationRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	report, err := s.impact.ExecuteMigration(r.Context(), id, req.Actor)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
