package registrar

import (
	"errors"
	"fmt"
)

// APIError wraps registrar API failures with a transient/fatal split. The
// clients retry transient errors locally; fatal errors (bad credentials,
// unknown domain, registrar lock) propagate immediately because retrying
// cannot fix them.
type APIError struct {
	Number     string
	Message    string
	Transient  bool
	Underlying error
}

func (e *APIError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("registrar api [%s]: %s: %v", e.Number, e.Message, e.Underlying)
	}
	return fmt.Sprintf("registrar api [%s]: %s", e.Number, e.Message)
}

func (e *APIError) Unwrap() error { return e.Underlying }

// Fatal error numbers from the registrar's error catalogue.
const (
	errNumAuthFailed     = "1010104"
	errNumDomainNotFound = "2019166"
	errNumDomainLocked   = "2030166"
	errNumNotOwner       = "2016166"
)

var fatalErrorNumbers = map[string]bool{
	errNumAuthFailed:     true,
	errNumDomainNotFound: true,
	errNumDomainLocked:   true,
	errNumNotOwner:       true,
}

func newAPIError(number, message string) *APIError {
	return &APIError{
		Number:    number,
		Message:   message,
		Transient: !fatalErrorNumbers[number],
	}
}

// newTransportError wraps a network-level failure, always retryable.
func newTransportError(err error) *APIError {
	return &APIError{Number: "transport", Message: "request failed", Transient: true, Underlying: err}
}

// IsTransient reports whether err is a retryable registrar failure.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient
	}
	return false
}
