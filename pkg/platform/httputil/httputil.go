// Package httputil holds the JSON response conventions shared by every
// handler: one success shape, one error shape, one code-to-status mapping.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "zonepilot/pkg/domainerrors"
)

// errorBody is the wire shape for failures. error_description is omitted for
// internal errors so store/provider details never leak to callers.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

var statusByCode = map[dErrors.Code]int{
	dErrors.CodeBadRequest:   http.StatusBadRequest,
	dErrors.CodeInvalidInput: http.StatusBadRequest,
	dErrors.CodeUnauthorized: http.StatusUnauthorized,
	dErrors.CodeForbidden:    http.StatusForbidden,
	dErrors.CodeNotFound:     http.StatusNotFound,
	dErrors.CodeConflict:     http.StatusConflict,
	dErrors.CodeRateLimited:  http.StatusTooManyRequests,
	dErrors.CodeInternal:     http.StatusInternalServerError,

	dErrors.CodeDNSQuery:              http.StatusBadGateway,
	dErrors.CodeVerificationExpired:   http.StatusGone,
	dErrors.CodeOwnershipNotVerified:  http.StatusForbidden,
	dErrors.CodeMigrationInProgress:   http.StatusConflict,
	dErrors.CodeRegistrarAPI:          http.StatusBadGateway,
	dErrors.CodeEdgeProviderAPI:       http.StatusBadGateway,
	dErrors.CodeZoneActivationTimeout: http.StatusGatewayTimeout,
	dErrors.CodeRollbackFailed:        http.StatusBadGateway,
	dErrors.CodeInvalidPhase:          http.StatusConflict,
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error onto an HTTP status and JSON body. Uncoded
// errors are treated as internal.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	body := errorBody{Error: string(code)}
	if code != dErrors.CodeInternal {
		var de *dErrors.Error
		if errors.As(err, &de) {
			body.ErrorDescription = de.Description
		}
	}
	WriteJSON(w, status, body)
}
