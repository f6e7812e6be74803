package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/bundlekit/pkg/catalog"
)

type promoDTO struct {
	OverridePrice decimal.Decimal `json:"override_price"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

type bundleDTO struct {
	Key          string                    `json:"key"`
	Version      int64                     `json:"version"`
	MonthlyPrice decimal.Decimal           `json:"monthly_price"`
	YearlyPrice  decimal.Decimal           `json:"yearly_price"`
	Features     []catalog.Feature         `json:"features"`
	Limits       map[catalog.Feature]int64 `json:"limits,omitempty"`
	Promo        *promoDTO                 `json:"promo,omitempty"`
	Enabled      bool                      `json:"enabled"`
	SupersededBy int64                     `json:"superseded_by,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
}

func toBundleDTO(def catalog.BundleDefinition) bundleDTO {
	dto := bundleDTO{
		Key:          def.Key,
		Version:      def.Version,
		MonthlyPrice: def.MonthlyPrice,
		YearlyPrice:  def.YearlyPrice,
		Features:     def.Features,
		Limits:       def.Limits,
		Enabled:      def.Enabled,
		SupersededBy: def.SupersededBy,
		CreatedAt:    def.CreatedAt,
	}
	if def.Promo != nil {
		dto.Promo = &promoDTO{OverridePrice: def.Promo.OverridePrice, ExpiresAt: def.Promo.ExpiresAt}
	}
	return dto
}

func (s *Server) listBundles(w http.ResponseWriter, r *http.Request) {
	defs, err := s.catalog.ListEnabled(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	dtos := make([]bundleDTO, 0, len(defs))
	for _, def := range defs {
		dtos = append(dtos, toBundleDTO(def))
	}
	respondJSON(w, http.StatusOK, dtos)
}

func (s *Server) getBundle(w http.ResponseWriter, r *http.Request) {
	def, err := s.catalog.GetCurrent(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toBundleDTO(def))
}

func (s *Server) getBundleVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.ParseInt(chi.URLParam(r, "version"), 10, 64)
	if err != nil {
		respondError(w, r, errBadRequest)
		return
	}
	def, err := s.catalog.GetVersion(r.Context(), chi.URLParam(r, "key"), version)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toBundleDTO(def))
}

type defineBundleRequest struct {
	Key          string                    `json:"key"`
	MonthlyPrice decimal.Decimal           `json:"monthly_price"`
	YearlyPrice  decimal.Decimal           `json:"yearly_price"`
	Features     []catalog.Feature         `json:"features"`
	Limits       map[catalog.Feature]int64 `json:"limits"`
	Promo        *promoDTO                 `json:"promo"`
	Enabled      bool                      `json:"enabled"`
	Actor        string                    `json:"actor"`
}

func (s *Server) defineBundle(w http.ResponseWriter, r *http.Request) {
	var req defineBundleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	def := catalog.BundleDefinition{
		Key:          req.Key,
		MonthlyPrice: req.MonthlyPrice,
		YearlyPrice:  req.YearlyPrice,
		Features:     req.Features,
		Limits:       req.Limits,
		Enabled:      req.Enabled,
	}
	if req.Promo != nil {
		def.Promo = &catalog.Promo{OverridePrice: req.Promo.OverridePrice, ExpiresAt: req.Promo.ExpiresAt}
	}
	created, err := s.catalog.Define(r.Context(), def, req.Actor)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toBundleDTO(created))
}

type proposeChangeRequest struct {
	Changes catalog.ChangeSet `json:"changes"`
	Actor   string            `json:"actor"`
}

type changeRequestDTO struct {
	ID          uuid.UUID         `json:"id"`
	BundleKey   string            `json:"bundle_key"`
	BaseVersion int64             `json:"base_version"`
	Changes     catalog.ChangeSet `json:"changes"`
	CreatedAt   time.Time         `json:"created_at"`
}

func toChangeRequestDTO(cr catalog.ChangeRequest) changeRequestDTO {
	return changeRequestDTO{
		ID:          cr.ID,
		BundleKey:   cr.BundleKey,
		BaseVersion: cr.BaseVersion,
		Changes:     cr.Changes,
		CreatedAt:   cr.CreatedAt,
	}
}

func (s *Server) proposeChange(w http.ResponseWriter, r *http.Request) {
	var req proposeChangeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	cr, err := s.catalog.Propose(r.Context(), chi.URLParam(r, "key"), req.Changes, req.Actor)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toChangeRequestDTO(cr))
}

func (s *Server) getChangeRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, errBadRequest)
		return
	}
	cr, err := s.catalog.GetChangeRequest(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toChangeRequestDTO(cr))
}

type applyChangeRequest struct {
	AnalysisID uuid.UUID `json:"analysis_id"`
	Actor      string    `json:"actor"`
}

func (s *Server) applyChange(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, errBadRequest)
		return
	}
	var req applyChangeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	def, err := s.catalog.Apply(r.Context(), id, req.AnalysisID, req.Actor)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toBundleDTO(def))
}

type rollbackRequest struct {
	ToVersion int64  `json:"to_version"`
	Actor     string `json:"actor"`
}

func (s *Server) rollbackBundle(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	def, err := s.catalog.Rollback(r.Context(), chi.URLParam(r, "key"), req.ToVersion, req.Actor)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toBundleDTO(def))
}

type quoteRequest struct {
	BundleKeys []string             `json:"bundle_keys"`
	Cycle      catalog.BillingCycle `json:"cycle"`
}

func (s *Server) quotePrice(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	breakdown, err := s.calculator.Price(r.Context(), req.BundleKeys, req.Cycle, time.Now().UTC())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, breakdown)
}
