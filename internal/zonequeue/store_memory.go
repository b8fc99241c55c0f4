package zonequeue

import (
	"context"
	"sync"
	"time"

	id "zonepilot/pkg/domain"
	"zonepilot/pkg/platform/sentinel"
)

// MemoryStore keeps queue entries in memory for tests and local development.
type MemoryStore struct {
	mu sync.RWMutex
	// order preserves enqueue order for FIFO promotion.
	order   []string
	entries map[string]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (s *MemoryStore) Enqueue(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[entry.Domain]; ok {
		if !existing.Status.Terminal() {
			return sentinel.ErrConflict
		}
		// Settled entry: the domain re-enters the line at the back.
		s.removeFromOrder(entry.Domain)
	}
	cp := *entry
	s.entries[entry.Domain] = &cp
	s.order = append(s.order, entry.Domain)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, domain string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[domain]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

func (s *MemoryStore) ListActivating(_ context.Context) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Entry
	for _, domain := range s.order {
		if e := s.entries[domain]; e.Status == StatusActivating {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) CountActivating(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.Status == StatusActivating {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) NextQueued(_ context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, domain := range s.order {
		if e := s.entries[domain]; e.Status == StatusQueued {
			cp := *e
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) MarkActivating(_ context.Context, domain string, zoneID id.ZoneID, nameservers []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[domain]
	if !ok || entry.Status != StatusQueued {
		return sentinel.ErrNotFound
	}
	entry.Status = StatusActivating
	entry.ZoneID = zoneID
	entry.Nameservers = append([]string(nil), nameservers...)
	entry.ActivatingAt = &at
	return nil
}

func (s *MemoryStore) Complete(_ context.Context, domain string, status Status, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[domain]
	if !ok || entry.Status.Terminal() {
		return sentinel.ErrNotFound
	}
	entry.Status = status
	entry.Reason = reason
	entry.CompletedAt = &at
	return nil
}

// removeFromOrder must be called while holding s.mu.
func (s *MemoryStore) removeFromOrder(domain string) {
	for i, d := range s.order {
		if d == domain {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
