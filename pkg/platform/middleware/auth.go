package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// JWTValidator defines the interface for validating bearer tokens.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims the migration API cares about. CallerID is
// also the rate-limit key for mutating endpoints.
type JWTClaims struct {
	CallerID string
	Role     string
}

type contextKeyCallerID struct{}
type contextKeyCallerRole struct{}

// GetCallerID retrieves the authenticated caller ID from the context.
func GetCallerID(ctx context.Context) string {
	id, ok := ctx.Value(contextKeyCallerID{}).(string)
	if !ok {
		return ""
	}
	return id
}

// GetCallerRole retrieves the caller role from the context.
func GetCallerRole(ctx context.Context) string {
	role, ok := ctx.Value(contextKeyCallerRole{}).(string)
	if !ok {
		return ""
	}
	return role
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller identity in the request context.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing bearer token")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(r.Context(), "unauthorized access - invalid token",
					"error", err,
					"request_id", GetRequestID(r.Context()),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyCallerID{}, claims.CallerID)
			ctx = context.WithValue(ctx, contextKeyCallerRole{}, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
