package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"OverlayCompanion/internal/domain"
	"OverlayCompanion/internal/transport"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: message}})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteDomainError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	var rejected *domain.RejectedError
	var status *transport.StatusError
	switch {
	case errors.As(err, &verr):
		WriteJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{Code: "validation_error", Message: "invalid request", Fields: verr.Fields}})
	case errors.Is(err, domain.ErrValidation):
		WriteError(w, http.StatusBadRequest, "validation_error", "invalid request")
	case errors.Is(err, domain.ErrNoSession):
		WriteError(w, http.StatusConflict, "no_session", "Set your user ID first")
	case errors.Is(err, domain.ErrCooldown):
		WriteError(w, http.StatusTooManyRequests, "cooldown", "try again shortly")
	case errors.As(err, &rejected):
		msg := rejected.Message
		if msg == "" {
			msg = "request rejected"
		}
		WriteError(w, http.StatusUnprocessableEntity, "rejected", msg)
	case errors.Is(err, domain.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, domain.ErrUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "unavailable", "service unavailable")
	case errors.As(err, &status):
		WriteError(w, http.StatusBadGateway, "upstream_error", "friends server returned "+http.StatusText(status.Code))
	default:
		WriteError(w, http.StatusBadGateway, "upstream_error", "friends server unreachable")
	}
}
