// Package domainerrors carries coded errors from domain logic out to the
// transport layer. Stores return sentinel errors (pkg/platform/sentinel);
// services translate those facts into coded errors here; the HTTP layer maps
// codes onto status codes without inspecting messages.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code names a caller-visible failure class. The string form appears verbatim
// in the JSON error body, so codes are part of the API contract.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeRateLimited  Code = "rate_limited"
	CodeInternal     Code = "internal_error"

	// Migration pipeline failure classes.
	CodeDNSQuery              Code = "dns_query_error"
	CodeVerificationExpired   Code = "verification_expired"
	CodeOwnershipNotVerified  Code = "ownership_not_verified"
	CodeMigrationInProgress   Code = "migration_in_progress"
	CodeRegistrarAPI          Code = "registrar_error"
	CodeEdgeProviderAPI       Code = "edge_provider_error"
	CodeZoneActivationTimeout Code = "zone_activation_timeout"
	CodeRollbackFailed        Code = "rollback_failed"
	CodeInvalidPhase          Code = "invalid_phase"
)

// Error is a coded domain error. Description is safe to show to callers
// except for CodeInternal, where the HTTP layer suppresses it.
type Error struct {
	Code        Code
	Description string
	wrapped     error
}

// New builds a coded error with a caller-facing description.
func New(code Code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// Wrap builds a coded error that preserves the underlying cause for logs and
// errors.Is/As chains.
func Wrap(code Code, description string, err error) *Error {
	return &Error{Code: code, Description: description, wrapped: err}
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error { return e.wrapped }

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is a convenience alias for HasCode, matching call sites that read
// dErrors.Is(err, dErrors.CodeBadRequest).
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf extracts the code from an error, defaulting to CodeInternal for
// uncoded errors so nothing leaks through the transport unmapped.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
