// Package apperr holds the error kinds the HTTP layer maps to status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConfig   = errors.New("configuration error")
)

// ValidationError is bad or missing caller input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validation(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConfigError wraps ErrConfig with a message naming what is missing.
func ConfigError(msg string) error {
	return fmt.Errorf("%w: %s", ErrConfig, msg)
}

// UpstreamError is a non-success answer from the generation backend.
type UpstreamError struct {
	Status int
	Detail any
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("upstream error (status %d)", e.Status)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// HTTPStatus classifies err. Unknown errors are internal.
func HTTPStatus(err error) int {
	var ve *ValidationError
	var ue *UpstreamError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ue):
		return http.StatusBadGateway
	case errors.Is(err, ErrConfig):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
