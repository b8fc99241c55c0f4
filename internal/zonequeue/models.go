package zonequeue

import (
	"context"
	"time"

	id "zonepilot/pkg/domain"
)

// Status is the queue-side lifecycle of a zone awaiting activation. The edge
// provider only works on a bounded number of pending zones per account, so
// zones beyond that ceiling wait in line before they are even created.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusActivating Status = "activating"
	StatusActive     Status = "active"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the entry has left the queue for good.
func (s Status) Terminal() bool {
	return s == StatusActive || s == StatusFailed
}

// Entry tracks one domain's trip through the activation queue. ZoneID and
// Nameservers stay empty while the entry is queued; the queue fills them when
// it issues the zone creation against the provider.
type Entry struct {
	Domain       string
	JobID        id.JobID
	ZoneID       id.ZoneID
	Nameservers  []string
	Status       Status
	EnqueuedAt   time.Time
	ActivatingAt *time.Time
	CompletedAt  *time.Time
	// Reason explains a failed entry.
	Reason string
}

// Store persists queue entries, keyed by domain. Enqueue replaces a terminal
// entry for the same domain and rejects a live one with sentinel.ErrConflict.
type Store interface {
	Enqueue(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, domain string) (*Entry, error)
	ListActivating(ctx context.Context) ([]*Entry, error)
	CountActivating(ctx context.Context) (int, error)
	// NextQueued returns the oldest queued entry, sentinel.ErrNotFound when
	// the line is empty.
	NextQueued(ctx context.Context) (*Entry, error)
	// MarkActivating records the provider zone assigned to a queued entry.
	MarkActivating(ctx context.Context, domain string, zoneID id.ZoneID, nameservers []string, at time.Time) error
	Complete(ctx context.Context, domain string, status Status, reason string, at time.Time) error
}
