package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"time"

	dErrors "zonepilot/pkg/domainerrors"
	"zonepilot/pkg/platform/httputil"
	"zonepilot/pkg/platform/middleware"
)

// Middleware throttles mutating requests per caller. Reads pass through; the
// limits protect the registrar and edge provider APIs behind the pipeline,
// and those are only touched by writes.
func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			result, err := svc.Check(r.Context(), callerKey(r))
			if err != nil {
				httputil.WriteError(w, err)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(result.ResetAt).Seconds())+1))
				httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many mutating requests, slow down"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// callerKey prefers the authenticated caller, falling back to the remote IP
// for unauthenticated paths.
func callerKey(r *http.Request) string {
	if callerID := middleware.GetCallerID(r.Context()); callerID != "" {
		return callerID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
