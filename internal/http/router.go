// Package httpapi assembles the public HTTP surface: middleware chain,
// health and metrics endpoints, and the authenticated pipeline API.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zonepilot/internal/migration"
	"zonepilot/internal/platform/metrics"
	"zonepilot/internal/ratelimit"
	"zonepilot/internal/verification"
	"zonepilot/pkg/platform/httputil"
	"zonepilot/pkg/platform/middleware"
)

const requestTimeout = 30 * time.Second

// Pinger reports backend liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a plain function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Deps carries everything the router wires together.
type Deps struct {
	Verification *verification.Handler
	Migration    *migration.Handler
	JWTValidator middleware.JWTValidator
	RateLimiter  *ratelimit.Service
	Metrics      *metrics.Metrics
	Logger       *slog.Logger

	// DB and Redis are probed by /healthz; either may be nil in tests.
	DB    Pinger
	Redis Pinger
}

// NewRouter builds the full middleware chain and mounts every endpoint.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.Latency(deps.Metrics))

	r.Get("/healthz", healthz(deps))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(api chi.Router) {
		api.Use(middleware.ContentTypeJSON)
		api.Use(middleware.RequireAuth(deps.JWTValidator, deps.Logger))
		if deps.RateLimiter != nil {
			api.Use(ratelimit.Middleware(deps.RateLimiter))
		}
		deps.Verification.Routes(api)
		deps.Migration.Routes(api)
	})

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthz(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{}
		healthy := true
		for name, pinger := range map[string]Pinger{"postgres": deps.DB, "redis": deps.Redis} {
			if pinger == nil {
				continue
			}
			if err := pinger.Ping(ctx); err != nil {
				checks[name] = err.Error()
				healthy = false
			} else {
				checks[name] = "ok"
			}
		}

		status := http.StatusOK
		body := healthResponse{Status: "ok", Checks: checks}
		if !healthy {
			status = http.StatusServiceUnavailable
			body.Status = "degraded"
		}
		httputil.WriteJSON(w, status, body)
	}
}
