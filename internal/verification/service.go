package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	id "zonepilot/pkg/domain"
	dErrors "zonepilot/pkg/domainerrors"
	"zonepilot/pkg/platform/audit"
	"zonepilot/pkg/platform/sentinel"
	"zonepilot/pkg/secrets"
)

// tokenLength in alphanumeric characters. 26 characters over a 62-symbol
// alphabet is ~154 bits of entropy, comfortably above the 128-bit floor.
const tokenLength = 26

// Store persists challenges. Implementations return sentinel errors.
type Store interface {
	Create(ctx context.Context, challenge *Challenge) error
	// GetActive returns the pending, unexpired challenge for a domain.
	GetActive(ctx context.Context, domain string, now time.Time) (*Challenge, error)
	// GetLatest returns the most recently issued challenge regardless of status.
	GetLatest(ctx context.Context, domain string) (*Challenge, error)
	MarkVerified(ctx context.Context, challengeID id.ChallengeID, at time.Time) error
	MarkExpired(ctx context.Context, challengeID id.ChallengeID) error
}

// AuditPublisher is the slice of the audit pipeline this service uses.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event)
}

// Service issues and checks DNS TXT ownership challenges. Proving control via
// a TXT record only the true zone operator can publish is the control that
// stops a caller who merely knows a domain name from migrating it.
type Service struct {
	store    Store
	resolver TXTResolver
	label    string
	ttl      time.Duration
	logger   *slog.Logger
	auditor  AuditPublisher
	now      func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(auditor AuditPublisher) Option {
	return func(s *Service) { s.auditor = auditor }
}

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store Store, resolver TXTResolver, label string, ttl time.Duration, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("challenge store is required")
	}
	if resolver == nil {
		return nil, errors.New("txt resolver is required")
	}
	if label == "" {
		return nil, errors.New("challenge label is required")
	}

	svc := &Service{
		store:    store,
		resolver: resolver,
		label:    label,
		ttl:      ttl,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Instructions tell the caller what to publish.
type Instructions struct {
	Challenge *Challenge
	TXTHost   string
	TXTValue  string
}

// IssueChallenge returns the active challenge for a domain, creating one only
// when none exists. Idempotent per the single-active-challenge invariant.
func (s *Service) IssueChallenge(ctx context.Context, domain string) (*Instructions, error) {
	now := s.now()

	existing, err := s.store.GetActive(ctx, domain, now)
	switch {
	case err == nil:
		s.emit(ctx, audit.EventChallengeReused, domain, "")
		return s.instructions(existing), nil
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, fmt.Errorf("load active challenge: %w", err)
	}

	token, err := secrets.Token(tokenLength)
	if err != nil {
		return nil, fmt.Errorf("generate challenge token: %w", err)
	}

	challenge := &Challenge{
		ID:        id.NewChallengeID(),
		Domain:    domain,
		Token:     token,
		Status:    StatusPending,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.Create(ctx, challenge); err != nil {
		// Lost a race with a concurrent issue for the same domain; return the
		// winner's challenge.
		if errors.Is(err, sentinel.ErrConflict) {
			winner, getErr := s.store.GetActive(ctx, domain, now)
			if getErr == nil {
				s.emit(ctx, audit.EventChallengeReused, domain, "")
				return s.instructions(winner), nil
			}
		}
		return nil, fmt.Errorf("create challenge: %w", err)
	}

	s.logger.InfoContext(ctx, "challenge issued", "domain", domain, "expires_at", challenge.ExpiresAt)
	s.emit(ctx, audit.EventChallengeIssued, domain, "")
	return s.instructions(challenge), nil
}

// CheckChallenge performs the DNS TXT lookup and updates challenge state.
// A lookup that finds nothing returns StatusPending, never success. Resolver
// failures other than NXDOMAIN surface as dns_query_error.
func (s *Service) CheckChallenge(ctx context.Context, domain string) (Status, error) {
	challenge, err := s.store.GetLatest(ctx, domain)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", dErrors.New(dErrors.CodeNotFound, "no challenge issued for domain")
		}
		return "", fmt.Errorf("load challenge: %w", err)
	}

	if challenge.Status == StatusVerified {
		return StatusVerified, nil
	}

	now := s.now()
	if challenge.ExpiredAt(now) {
		if challenge.Status != StatusExpired {
			if err := s.store.MarkExpired(ctx, challenge.ID); err != nil {
				return "", fmt.Errorf("mark challenge expired: %w", err)
			}
			s.emit(ctx, audit.EventChallengeExpired, domain, "")
		}
		return StatusExpired, dErrors.New(dErrors.CodeVerificationExpired, "challenge expired, reissue and republish the TXT record")
	}

	values, err := s.resolver.LookupTXT(ctx, challenge.TXTHost(s.label))
	if err != nil {
		if errors.Is(err, ErrNXDomain) {
			// Record not published yet: retryable, not a failure.
			return StatusPending, nil
		}
		return "", dErrors.Wrap(dErrors.CodeDNSQuery, "TXT lookup failed", err)
	}

	for _, v := range values {
		if v == challenge.Token {
			if err := s.store.MarkVerified(ctx, challenge.ID, now); err != nil {
				return "", fmt.Errorf("mark challenge verified: %w", err)
			}
			s.logger.InfoContext(ctx, "challenge verified", "domain", domain)
			s.emit(ctx, audit.EventChallengeVerified, domain, "verified")
			return StatusVerified, nil
		}
	}
	return StatusPending, nil
}

// VerifiedWithin reports whether the domain's latest challenge is verified
// and the verification happened at or after the cutoff. The orchestrator uses
// this to defeat verify-once-hijack-later races: Execute demands verification
// no older than the job's Discovery start and within the freshness window.
func (s *Service) VerifiedWithin(ctx context.Context, domain string, cutoff time.Time) (bool, error) {
	challenge, err := s.store.GetLatest(ctx, domain)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load challenge: %w", err)
	}
	if challenge.Status != StatusVerified || challenge.VerifiedAt == nil {
		return false, nil
	}
	return !challenge.VerifiedAt.Before(cutoff), nil
}

func (s *Service) instructions(challenge *Challenge) *Instructions {
	return &Instructions{
		Challenge: challenge,
		TXTHost:   challenge.TXTHost(s.label),
		TXTValue:  challenge.Token,
	}
}

func (s *Service) emit(ctx context.Context, action audit.AuditEvent, domain, outcome string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Emit(ctx, audit.Event{
		Action:  string(action),
		Domain:  domain,
		Outcome: outcome,
	})
}
