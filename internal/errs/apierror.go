package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FieldError is one entry of a structured validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is the single normalized shape for non-2xx responses: a
// human-readable message plus the original HTTP status. Validation responses
// additionally carry the per-field entries.
type APIError struct {
	Status  int
	Message string
	Fields  []FieldError
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error (HTTP %d)", e.Status)
	}
	return fmt.Sprintf("api error (HTTP %d): %s", e.Status, e.Message)
}

// Is maps HTTP status codes onto sentinel errors so callers can use
// errors.Is without inspecting status codes themselves.
func (e *APIError) Is(target error) bool {
	switch e.Status {
	case http.StatusUnauthorized:
		return errors.Is(target, ErrUnauthorized)
	case http.StatusNotFound:
		return errors.Is(target, ErrNotFound)
	default:
		return false
	}
}

// NewAPIError builds an APIError, flattening field errors into the message
// when the server supplied no top-level one.
func NewAPIError(status int, message string, fields []FieldError) *APIError {
	if message == "" && len(fields) > 0 {
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			if f.Field != "" {
				parts = append(parts, f.Field+": "+f.Message)
			} else {
				parts = append(parts, f.Message)
			}
		}
		message = strings.Join(parts, "; ")
	}
	return &APIError{Status: status, Message: message, Fields: fields}
}
