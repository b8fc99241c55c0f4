// Package zonequeue serializes zone creation against the edge provider's
// pending-zone ceiling. Zones enter the queue when a migration reaches its
// cutover; the queue is the only component that calls CreateZone, so at most
// ceiling zones are pending at the provider at once and the rest wait in
// FIFO order with no provider-side footprint at all.
package zonequeue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"zonepilot/internal/edge"
	id "zonepilot/pkg/domain"
	"zonepilot/pkg/platform/audit"
	"zonepilot/pkg/platform/sentinel"
)

const (
	defaultCeiling           = 3
	defaultPollInterval      = 30 * time.Second
	defaultActivationTimeout = 48 * time.Hour

	// sweepConcurrency bounds concurrent status probes per sweep.
	sweepConcurrency = 4
)

// ZoneProvisioner is the slice of the edge client the queue needs: creating
// zones when a slot frees and polling the ones it created.
type ZoneProvisioner interface {
	CreateZone(ctx context.Context, domain string) (*edge.Zone, error)
	GetZone(ctx context.Context, zoneID id.ZoneID) (*edge.Zone, error)
}

// Listener is notified as an entry moves through the queue. The migration
// orchestrator continues its cutover from ZoneIssued and settles jobs from
// the other two.
type Listener interface {
	// ZoneIssued fires right after the queue created the entry's zone. A
	// returned error fails the entry and frees its slot.
	ZoneIssued(ctx context.Context, entry Entry) error
	ZoneActivated(ctx context.Context, entry Entry)
	ZoneFailed(ctx context.Context, entry Entry)
}

// AuditPublisher is the slice of the audit pipeline this service uses.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event)
}

type Queue struct {
	store       Store
	provisioner ZoneProvisioner
	listener    Listener
	auditor     AuditPublisher

	ceiling           int
	pollInterval      time.Duration
	activationTimeout time.Duration

	// admitMu serializes the only queued-to-activating path, so the count of
	// activating entries can never race past the ceiling.
	admitMu sync.Mutex
	kickCh  chan struct{}

	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Queue)

func WithCeiling(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ceiling = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

func WithActivationTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.activationTimeout = d
		}
	}
}

func WithListener(l Listener) Option {
	return func(q *Queue) { q.listener = l }
}

func WithAuditPublisher(auditor AuditPublisher) Option {
	return func(q *Queue) { q.auditor = auditor }
}

func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(store Store, provisioner ZoneProvisioner, opts ...Option) (*Queue, error) {
	if store == nil {
		return nil, errors.New("queue store is required")
	}
	if provisioner == nil {
		return nil, errors.New("zone provisioner is required")
	}
	q := &Queue{
		store:             store,
		provisioner:       provisioner,
		ceiling:           defaultCeiling,
		pollInterval:      defaultPollInterval,
		activationTimeout: defaultActivationTimeout,
		kickCh:            make(chan struct{}, 1),
		logger:            slog.New(slog.DiscardHandler),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Enqueue admits a domain into the activation line. No provider call happens
// here: the zone is created by the run loop once a slot under the ceiling is
// free. Enqueueing a domain with a live entry returns that entry; a settled
// entry is replaced so a re-migrated domain can queue again.
func (q *Queue) Enqueue(ctx context.Context, jobID id.JobID, domain string) (*Entry, error) {
	entry := &Entry{
		Domain:     domain,
		JobID:      jobID,
		Status:     StatusQueued,
		EnqueuedAt: q.now(),
	}

	if err := q.store.Enqueue(ctx, entry); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return q.store.Get(ctx, domain)
		}
		return nil, fmt.Errorf("enqueue zone creation: %w", err)
	}

	q.logger.InfoContext(ctx, "domain enqueued for zone creation",
		"domain", domain, "job_id", jobID)
	q.kick()
	return entry, nil
}

// Get returns the queue entry for a domain.
func (q *Queue) Get(ctx context.Context, domain string) (*Entry, error) {
	return q.store.Get(ctx, domain)
}

// Cancel settles a live entry without listener callbacks. Rollback uses this
// to pull a domain out of the line before its zone creation is issued.
func (q *Queue) Cancel(ctx context.Context, domain string) error {
	entry, err := q.store.Get(ctx, domain)
	if err != nil {
		return err
	}
	if entry.Status.Terminal() {
		return nil
	}
	return q.store.Complete(ctx, domain, StatusFailed, "cancelled", q.now())
}

// Run sweeps on enqueue signals and on the poll interval until ctx is
// cancelled. Returns nil on clean shutdown.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-q.kickCh:
		}
		if err := q.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			q.logger.ErrorContext(ctx, "queue sweep failed", "error", err)
		}
	}
}

// Sweep probes every activating zone once, settles finished or timed-out
// entries, and issues zone creations for queued domains until the ceiling is
// reached again.
func (q *Queue) Sweep(ctx context.Context) error {
	activating, err := q.store.ListActivating(ctx)
	if err != nil {
		return fmt.Errorf("list activating zones: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, entry := range activating {
		g.Go(func() error {
			q.probe(gctx, entry)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return q.promote(ctx)
}

func (q *Queue) probe(ctx context.Context, entry *Entry) {
	now := q.now()

	if entry.ActivatingAt != nil && now.Sub(*entry.ActivatingAt) > q.activationTimeout {
		q.settle(ctx, entry, StatusFailed, "zone activation timed out")
		return
	}

	zone, err := q.provisioner.GetZone(ctx, entry.ZoneID)
	if err != nil {
		// Transient provider trouble: leave the entry for the next sweep.
		q.logger.WarnContext(ctx, "zone status probe failed",
			"zone_id", entry.ZoneID, "error", err)
		return
	}

	switch zone.Status {
	case edge.ZoneActive:
		q.settle(ctx, entry, StatusActive, "")
	case edge.ZoneFailed:
		q.settle(ctx, entry, StatusFailed, "provider reported activation failure")
	}
}

// promote fills freed slots from the front of the queue, issuing one zone
// creation per slot. Admission is mutex-serialized: this is the only place
// an entry turns activating.
func (q *Queue) promote(ctx context.Context) error {
	q.admitMu.Lock()
	defer q.admitMu.Unlock()

	for {
		activating, err := q.store.CountActivating(ctx)
		if err != nil {
			return fmt.Errorf("count activating zones: %w", err)
		}
		if activating >= q.ceiling {
			return nil
		}

		next, err := q.store.NextQueued(ctx)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("next queued zone: %w", err)
		}
		q.issue(ctx, next)
	}
}

// issue creates the provider zone for a queued entry and hands the entry to
// the listener so the owning migration can continue its cutover.
func (q *Queue) issue(ctx context.Context, entry *Entry) {
	zone, err := q.provisioner.CreateZone(ctx, entry.Domain)
	if err != nil {
		q.settle(ctx, entry, StatusFailed, "create zone: "+err.Error())
		return
	}

	now := q.now()
	if err := q.store.MarkActivating(ctx, entry.Domain, zone.ID, zone.Nameservers, now); err != nil {
		// Cancelled while the creation was in flight; the zone is cleaned up
		// by the owning job's rollback.
		q.logger.WarnContext(ctx, "mark zone activating",
			"domain", entry.Domain, "zone_id", zone.ID, "error", err)
		return
	}
	entry.ZoneID = zone.ID
	entry.Nameservers = zone.Nameservers
	entry.Status = StatusActivating
	entry.ActivatingAt = &now

	q.logger.InfoContext(ctx, "zone creation issued",
		"domain", entry.Domain, "zone_id", zone.ID)
	q.emit(ctx, audit.EventZoneIssued, entry, "")

	if q.listener != nil {
		if err := q.listener.ZoneIssued(ctx, *entry); err != nil {
			q.settle(ctx, entry, StatusFailed, err.Error())
		}
	}
}

func (q *Queue) settle(ctx context.Context, entry *Entry, status Status, reason string) {
	if err := q.store.Complete(ctx, entry.Domain, status, reason, q.now()); err != nil {
		q.logger.ErrorContext(ctx, "settle queue entry",
			"domain", entry.Domain, "status", status, "error", err)
		return
	}
	entry.Status = status
	entry.Reason = reason

	switch status {
	case StatusActive:
		q.logger.InfoContext(ctx, "zone activated", "zone_id", entry.ZoneID, "domain", entry.Domain)
		if q.listener != nil {
			q.listener.ZoneActivated(ctx, *entry)
		}
	case StatusFailed:
		q.logger.WarnContext(ctx, "zone activation failed",
			"zone_id", entry.ZoneID, "domain", entry.Domain, "reason", reason)
		q.emit(ctx, audit.EventZoneQueueFailed, entry, reason)
		if q.listener != nil {
			q.listener.ZoneFailed(ctx, *entry)
		}
	}
}

func (q *Queue) emit(ctx context.Context, action audit.AuditEvent, entry *Entry, reason string) {
	if q.auditor == nil {
		return
	}
	q.auditor.Emit(ctx, audit.Event{
		Action: string(action),
		Domain: entry.Domain,
		JobID:  entry.JobID.String(),
		Reason: reason,
	})
}

// kick nudges the run loop without blocking; a pending signal is enough.
func (q *Queue) kick() {
	select {
	case q.kickCh <- struct{}{}:
	default:
	}
}
