package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Pi-Jeremy/gateman/internal/gateman/service"
	"github.com/Pi-Jeremy/gateman/internal/gateman/store"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// errorStatus maps service errors onto HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidEventID):
		return http.StatusBadRequest, "invalid_event_id"
	case errors.Is(err, service.ErrInvalidTicketCode):
		return http.StatusBadRequest, "invalid_ticket_code"
	case errors.Is(err, service.ErrInvalidStaffID):
		return http.StatusBadRequest, "invalid_staff_id"
	case errors.Is(err, service.ErrInvalidQuantity):
		return http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, service.ErrInvalidEventName),
		errors.Is(err, service.ErrInvalidEventDate),
		errors.Is(err, service.ErrInvalidLimit),
		errors.Is(err, service.ErrInvalidPrice):
		return http.StatusBadRequest, "invalid_event"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrEventNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrTicketLimitExceeded):
		return http.StatusConflict, "ticket_limit_exceeded"
	case errors.Is(err, service.ErrGenerationExhausted):
		return http.StatusConflict, "generation_exhausted"
	case errors.Is(err, service.ErrAlreadyAssigned):
		return http.StatusConflict, "already_assigned"
	case errors.Is(err, service.ErrTransient):
		return http.StatusServiceUnavailable, "transient"
	}
	return http.StatusInternalServerError, "internal_error"
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		msg = "store temporarily unavailable, outcome unknown"
		s.logger.Warn("transient failure", "path", r.URL.Path, "err", err)
	case http.StatusInternalServerError:
		msg = "unexpected server error"
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
	default:
		s.logger.Debug("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeError(w, status, code, msg)
}

