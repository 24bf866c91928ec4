package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy for the session manager
var (
	// Returned from user-initiated operations (sign-in, sign-up)
	ErrAuthentication = errors.New("authentication failed")
	ErrValidation     = errors.New("validation failed")
	ErrConflict       = errors.New("conflict")

	// Network failure talking to the backend. Never invalidates a session by itself.
	ErrTransport = errors.New("transport error")

	// Session errors
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNoRefreshToken is a session that cannot be renewed; it matches ErrNotAuthenticated.
	ErrNoRefreshToken   = fmt.Errorf("no refresh token: %w", ErrNotAuthenticated)
	ErrRefreshRejected  = errors.New("refresh token rejected")

	// General errors
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrInvalidResponse  = errors.New("invalid response")
)

// APIError is a non-2xx backend response. It unwraps to the taxonomy sentinel
// matching its status code.
type APIError struct {
	StatusCode int
	Detail     string
	kind       error
}

func NewAPIError(statusCode int, detail string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Detail:     detail,
		kind:       kindForStatus(statusCode),
	}
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s (status %d)", e.kind, e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d): %s", e.kind, e.StatusCode, e.Detail)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

func kindForStatus(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthentication
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrValidation
	case http.StatusConflict:
		return ErrConflict
	default:
		return ErrUnexpectedStatus
	}
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
