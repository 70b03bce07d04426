package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"OverlayCompanion/internal/domain"
	"OverlayCompanion/internal/transport"
)

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) apiError {
	t.Helper()
	var env errorEnvelope
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return env.Error
}

func TestWriteDomainError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", domain.NewValidationError(map[string]string{"id": "required"}), http.StatusBadRequest, "validation_error"},
		{"no session", fmt.Errorf("send: %w", domain.ErrNoSession), http.StatusConflict, "no_session"},
		{"cooldown", domain.ErrCooldown, http.StatusTooManyRequests, "cooldown"},
		{"rejected", &domain.RejectedError{Message: "Already friends"}, http.StatusUnprocessableEntity, "rejected"},
		{"not found", domain.ErrNotFound, http.StatusNotFound, "not_found"},
		{"unavailable", domain.ErrUnavailable, http.StatusServiceUnavailable, "unavailable"},
		{"upstream status", fmt.Errorf("get-friends: %w", &transport.StatusError{Code: 500}), http.StatusBadGateway, "upstream_error"},
		{"network", errors.New("dial tcp: refused"), http.StatusBadGateway, "upstream_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			WriteDomainError(rr, tc.err)
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d", rr.Code, tc.status)
			}
			if got := decodeError(t, rr); got.Code != tc.code {
				t.Fatalf("code = %q, want %q", got.Code, tc.code)
			}
		})
	}
}

func TestWriteDomainErrorMessages(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteDomainError(rr, domain.ErrNoSession)
	if got := decodeError(t, rr); got.Message != "Set your user ID first" {
		t.Fatalf("message = %q", got.Message)
	}

	rr = httptest.NewRecorder()
	WriteDomainError(rr, &domain.RejectedError{Message: "Already friends"})
	if got := decodeError(t, rr); got.Message != "Already friends" {
		t.Fatalf("message = %q", got.Message)
	}

	rr = httptest.NewRecorder()
	WriteDomainError(rr, domain.NewValidationError(map[string]string{"name": "too long"}))
	if got := decodeError(t, rr); got.Fields["name"] != "too long" {
		t.Fatalf("fields = %+v", got.Fields)
	}
}
