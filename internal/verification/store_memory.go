package verification

import (
	"context"
	"sync"
	"time"

	id "zonepilot/pkg/domain"
	"zonepilot/pkg/platform/sentinel"
)

// MemoryStore keeps challenges in memory for tests and local development.
type MemoryStore struct {
	mu sync.RWMutex
	// byDomain holds challenges newest-first per domain.
	byDomain map[string][]*Challenge
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byDomain: make(map[string][]*Challenge)}
}

func (s *MemoryStore) Create(_ context.Context, challenge *Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Mirror the Postgres store: a stale pending row is expired on the way
	// in, never an obstacle to reissuing.
	now := challenge.IssuedAt
	for _, existing := range s.byDomain[challenge.Domain] {
		if existing.Status != StatusPending {
			continue
		}
		if existing.ExpiredAt(now) {
			existing.Status = StatusExpired
			continue
		}
		return sentinel.ErrConflict
	}
	cp := *challenge
	s.byDomain[challenge.Domain] = append([]*Challenge{&cp}, s.byDomain[challenge.Domain]...)
	return nil
}

func (s *MemoryStore) GetActive(_ context.Context, domain string, now time.Time) (*Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.byDomain[domain] {
		if c.Status == StatusPending && !c.ExpiredAt(now) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) GetLatest(_ context.Context, domain string) (*Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	challenges := s.byDomain[domain]
	if len(challenges) == 0 {
		return nil, sentinel.ErrNotFound
	}
	cp := *challenges[0]
	return &cp, nil
}

func (s *MemoryStore) MarkVerified(_ context.Context, challengeID id.ChallengeID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.find(challengeID); c != nil {
		c.Status = StatusVerified
		c.VerifiedAt = &at
		return nil
	}
	return sentinel.ErrNotFound
}

func (s *MemoryStore) MarkExpired(_ context.Context, challengeID id.ChallengeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.find(challengeID); c != nil {
		c.Status = StatusExpired
		return nil
	}
	return sentinel.ErrNotFound
}

// find must be called while holding s.mu.
func (s *MemoryStore) find(challengeID id.ChallengeID) *Challenge {
	for _, challenges := range s.byDomain {
		for _, c := range challenges {
			if c.ID == challengeID {
				return c
			}
		}
	}
	return nil
}
