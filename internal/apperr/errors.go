// Package apperr holds the error kinds shared by the ingestion and query
// paths and their mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrScan            = errors.New("scan failed")
	ErrMalicious       = errors.New("malicious pdf detected")
	ErrExternalService = errors.New("external service error")
	ErrNotFound        = errors.New("not found")
)

func Validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

func NotFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

// External wraps a failure of a remote dependency (embedding model, LLM,
// vector index, classifier) so callers can tell it apart from local bugs.
func External(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExternalService, op, err)
}

func Scan(reason string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrScan, reason)
	}
	return fmt.Errorf("%w: %s: %w", ErrScan, reason, err)
}

// HTTPStatus maps an error onto the error code and status written in the
// JSON error envelope.
func HTTPStatus(err error) (string, int) {
	switch {
	case errors.Is(err, ErrMalicious):
		return "MALICIOUS_FILE", http.StatusBadRequest
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR", http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND", http.StatusNotFound
	case errors.Is(err, ErrScan):
		return "SCAN_FAILED", http.StatusUnprocessableEntity
	case errors.Is(err, ErrExternalService):
		return "UPSTREAM_ERROR", http.StatusBadGateway
	default:
		return "INTERNAL_ERROR", http.StatusInternalServerError
	}
}

// Message returns the text shown to API clients. Validation and lookup
// errors lose their kind prefix; internal failures are not echoed back.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrMalicious):
		return "Malicious PDF detected."
	case errors.Is(err, ErrValidation):
		return trimKind(err, ErrValidation)
	case errors.Is(err, ErrNotFound):
		return trimKind(err, ErrNotFound)
	case errors.Is(err, ErrScan), errors.Is(err, ErrExternalService):
		return err.Error()
	default:
		return "An unexpected error occurred."
	}
}

func trimKind(err, kind error) string {
	msg := err.Error()
	if i := strings.Index(msg, kind.Error()+": "); i >= 0 {
		return msg[i+len(kind.Error())+2:]
	}
	return msg
}
