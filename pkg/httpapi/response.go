package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/bundlekit/pkg/catalog"
	"github.com/dmitrymomot/bundlekit/pkg/impact"
	"github.com/dmitrymomot/bundlekit/pkg/ledger"
	"github.com/dmitrymomot/bundlekit/pkg/revshare"
)

// envelope is the standard JSON response structure.
type envelope struct {
	Data  any          `json:"data,omitempty"`
	Error *errorDetail `json:"error,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: &errorDetail{
		Code:    code,
		Message: err.Error(),
	}})
}

// classify maps domain sentinel errors onto HTTP statuses. Validation
// failures are 422, state conflicts 409, quota exhaustion 429, access
// denial 403, everything unknown 500.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, catalog.ErrValidation),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidCycle),
		errors.Is(err, ledger.ErrWorkspaceRequired),
		errors.Is(err, revshare.ErrInvalidAmount),
		errors.Is(err, revshare.ErrInvalidSource),
		errors.Is(err, revshare.ErrEventIDRequired),
		errors.Is(err, revshare.ErrWorkspaceRequired):
		return http.StatusUnprocessableEntity, "validation_error"

	case errors.Is(err, catalog.ErrVersionConflict),
		errors.Is(err, catalog.ErrStaleAnalysis),
		errors.Is(err, catalog.ErrAnalysisRequired),
		errors.Is(err, catalog.ErrBundleAlreadyExists),
		errors.Is(err, ledger.ErrBundleDisabled),
		errors.Is(err, ledger.ErrUsageConflict),
		errors.Is(err, impact.ErrAlreadyExecuted),
		errors.Is(err, impact.ErrChangeRequestMismatch),
		errors.Is(err, revshare.ErrAlreadyClosed):
		return http.StatusConflict, "state_conflict"

	case errors.Is(err, ledger.ErrInsufficientQuota):
		return http.StatusTooManyRequests, "quota_exceeded"

	case errors.Is(err, ledger.ErrFeatureNotGranted):
		return http.StatusForbidden, "feature_not_granted"

	case errors.Is(err, catalog.ErrBundleNotFound),
		errors.Is(err, catalog.ErrVersionNotFound),
		errors.Is(err, catalog.ErrChangeRequestNotFound),
		errors.Is(err, ledger.ErrSubscriptionNotFound),
		errors.Is(err, impact.ErrReportNotFound),
		errors.Is(err, revshare.ErrRecordNotFound):
		return http.StatusNotFound, "not_found"

	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	}
	return http.StatusInternalServerError, "internal_error"
}

var errBadRequest = errors.New("bad request")

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}
