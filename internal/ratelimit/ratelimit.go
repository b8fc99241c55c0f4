// Package ratelimit throttles mutating pipeline calls per caller. The window
// slides, so a caller cannot burst twice the limit across a boundary.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"zonepilot/pkg/platform/audit"
)

// Result is the outcome of one rate limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Store counts requests per key over a sliding window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
	Reset(ctx context.Context, key string) error
}

// AuditPublisher is the slice of the audit pipeline this service uses.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event)
}

type Service struct {
	store   Store
	limit   int
	window  time.Duration
	auditor AuditPublisher
	logger  *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(auditor AuditPublisher) Option {
	return func(s *Service) { s.auditor = auditor }
}

func New(store Store, limit int, window time.Duration, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("rate limit store is required")
	}
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limit and window must be positive")
	}
	svc := &Service{
		store:  store,
		limit:  limit,
		window: window,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Check counts one request against the caller's window. A store failure
// allows the request: losing throttling briefly beats taking the API down.
func (s *Service) Check(ctx context.Context, key string) (*Result, error) {
	result, err := s.store.Allow(ctx, key, s.limit, s.window)
	if err != nil {
		s.logger.ErrorContext(ctx, "rate limit store failed, allowing request",
			"key", key, "error", err)
		return &Result{Allowed: true, Limit: s.limit, Remaining: 0}, nil
	}

	if !result.Allowed {
		s.logger.WarnContext(ctx, "rate limit exceeded", "key", key)
		if s.auditor != nil {
			s.auditor.Emit(ctx, audit.Event{
				Action:   string(audit.EventRateLimitExceeded),
				CallerID: key,
			})
		}
	}
	return result, nil
}
