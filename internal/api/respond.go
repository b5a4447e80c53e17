package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: msg})
}

// writeAppError maps an error's kind onto an HTTP status. Unclassified
// errors are logged and reported as internal without their text.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apperr.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
		return
	case errors.Is(err, apperr.ErrSessionExpired):
		writeError(w, http.StatusGone, "session_expired", err.Error())
		return
	}

	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case apperr.KindNotFound:
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case apperr.KindConflict:
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case apperr.KindInvalidTransition:
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case apperr.KindProvider:
		writeError(w, http.StatusBadGateway, "provider_error", err.Error())
	case apperr.KindTransient:
		writeError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "please retry shortly")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unhandled error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
