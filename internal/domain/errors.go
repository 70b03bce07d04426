package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNoSession   = errors.New("no_session")
	ErrNotFound    = errors.New("not_found")
	ErrCooldown    = errors.New("cooldown")
	ErrRejected    = errors.New("rejected")
	ErrUnavailable = errors.New("unavailable")
	ErrValidation  = errors.New("validation")
)

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(fields map[string]string) error {
	return &ValidationError{Fields: fields}
}

// RejectedError carries the backend's own explanation for a failed action.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return "rejected by server"
	}
	return "rejected by server: " + e.Message
}

func (e *RejectedError) Unwrap() error { return ErrRejected }
