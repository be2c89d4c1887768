package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mealpass/token-service/internal/service"
)

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeServiceError maps engine errors onto HTTP statuses. NoActivePackage
// gets a distinct code so the UI can prompt "contact admin" instead of a
// plain not-found.
func writeServiceError(w http.ResponseWriter, err error) {
	var transition *service.InvalidTransitionError
	switch {
	case errors.As(err, &transition):
		writeError(w, http.StatusBadRequest, transition.Error())
	case errors.Is(err, service.ErrNoActivePackage):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": err.Error(),
			"code":  "no_active_package",
		})
	case errors.Is(err, service.ErrMemberNotFound),
		errors.Is(err, service.ErrOrganizationNotFound),
		errors.Is(err, service.ErrTokenNotFound),
		errors.Is(err, service.ErrSelectionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrDateOutOfValidity),
		errors.Is(err, service.ErrSkipDeadlinePassed),
		errors.Is(err, service.ErrQuotaExhausted):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSelectionsNotConfigured),
		errors.Is(err, service.ErrConflictRetryable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}
