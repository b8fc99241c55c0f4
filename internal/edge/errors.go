package edge

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError carries the provider's error response plus a transient flag that
// drives the retry loop. Rate limiting and 5xx responses are retryable; any
// other 4xx means the request itself is wrong.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Transient  bool
	Underlying error
}

func (e *APIError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("edge api %d [%s]: %s: %v", e.StatusCode, e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("edge api %d [%s]: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.Underlying }

func newStatusError(statusCode int, code, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Transient:  statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError,
	}
}

func newTransportError(err error) *APIError {
	return &APIError{Code: "transport", Message: "request failed", Transient: true, Underlying: err}
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient
	}
	return false
}

// IsNotFound reports whether the provider answered 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
