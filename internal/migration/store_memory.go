package migration

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	id "zonepilot/pkg/domain"
	"zonepilot/pkg/platform/sentinel"
)

// MemoryStore keeps jobs in memory for tests and local development.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[id.JobID]*Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[id.JobID]*Job)}
}

func (s *MemoryStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return sentinel.ErrConflict
	}
	for _, existing := range s.jobs {
		if existing.Domain == job.Domain && !existing.Status.Terminal() {
			return sentinel.ErrConflict
		}
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, jobID id.JobID) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) GetActiveByDomain(_ context.Context, domain string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		if job.Domain == domain && !job.Status.Terminal() {
			return cloneJob(job), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) Update(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Job
	for _, job := range s.jobs {
		if filter.Domain != "" && job.Domain != filter.Domain {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.BatchID != nil && (job.BatchID == nil || *job.BatchID != *filter.BatchID) {
			continue
		}
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// cloneJob round-trips through JSON for a cheap deep copy; the job carries
// nested slices and pointers that must not leak between callers.
func cloneJob(job *Job) *Job {
	data, err := json.Marshal(job)
	if err != nil {
		cp := *job
		return &cp
	}
	var out Job
	if err := json.Unmarshal(data, &out); err != nil {
		cp := *job
		return &cp
	}
	return &out
}
