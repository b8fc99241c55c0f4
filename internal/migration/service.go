// Package migration orchestrates the five-phase pipeline that moves a
// domain's authoritative DNS from the registrar to the edge provider:
// Discovery, Export, Review, Execute, Verify. Execute is the only phase that
// changes the world; everything before it is read-only, and everything it
// changes is captured in a rollback snapshot first.
package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/im7mortal/kmutex"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"zonepilot/internal/edge"
	"zonepilot/internal/notify"
	"zonepilot/internal/registrar"
	"zonepilot/internal/zonequeue"
	id "zonepilot/pkg/domain"
	dErrors "zonepilot/pkg/domainerrors"
	"zonepilot/pkg/dns"
	"zonepilot/pkg/platform/audit"
	"zonepilot/pkg/platform/middleware"
	"zonepilot/pkg/platform/sentinel"
)

const defaultFreshness = 24 * time.Hour

// RegistrarClient is the slice of the registrar API the orchestrator uses.
type RegistrarClient interface {
	ListDomains(ctx context.Context) ([]registrar.DomainSummary, error)
	ExportDNS(ctx context.Context, domain string) (*dns.RecordSnapshot, error)
	GetNameservers(ctx context.Context, domain string) ([]string, error)
	UpdateNameservers(ctx context.Context, domain string, nameservers []string) error
	DetectEmailService(snapshot *dns.RecordSnapshot) dns.EmailServiceProfile
}

// EdgeClient is the slice of the edge provider API the orchestrator uses.
// Zone creation is deliberately absent: only the activation queue creates
// zones, so the provider's pending ceiling is enforced in one place.
type EdgeClient interface {
	ImportRecords(ctx context.Context, zoneID id.ZoneID, snapshot *dns.RecordSnapshot) (*edge.ImportResult, error)
	DeleteZone(ctx context.Context, zoneID id.ZoneID) error
}

// OwnershipChecker gates migrations on a fresh ownership verification.
type OwnershipChecker interface {
	VerifiedWithin(ctx context.Context, domain string, cutoff time.Time) (bool, error)
}

// ActivationQueue admits domains into the provider's zone-creation line.
type ActivationQueue interface {
	Enqueue(ctx context.Context, jobID id.JobID, domain string) (*zonequeue.Entry, error)
	Get(ctx context.Context, domain string) (*zonequeue.Entry, error)
	Cancel(ctx context.Context, domain string) error
}

// MXHost is one MX answer from a live lookup.
type MXHost struct {
	Host string
	Pref uint16
}

// Prober runs the post-cutover health checks: live DNS answers, the TLS
// certificate the edge serves, and plain HTTPS reachability.
type Prober interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupMX(ctx context.Context, host string) ([]MXHost, error)
	LookupTXT(ctx context.Context, host string) ([]string, error)
	CheckTLS(ctx context.Context, host string) error
	CheckHTTP(ctx context.Context, host string) error
}

// AuditPublisher is the slice of the audit pipeline this service uses.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event)
}

type Service struct {
	store     Store
	registrar RegistrarClient
	edge      EdgeClient
	ownership OwnershipChecker
	queue     ActivationQueue
	prober    Prober
	auditor   AuditPublisher
	notifier  notify.Notifier

	// locks serializes operations per domain so two requests cannot race a
	// job for the same domain through a phase transition.
	locks *kmutex.Kmutex

	freshness time.Duration
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(auditor AuditPublisher) Option {
	return func(s *Service) { s.auditor = auditor }
}

func WithNotifier(notifier notify.Notifier) Option {
	return func(s *Service) { s.notifier = notifier }
}

func WithProber(prober Prober) Option {
	return func(s *Service) { s.prober = prober }
}

// WithFreshness overrides how recent an ownership verification must be for
// a migration to be accepted.
func WithFreshness(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.freshness = d
		}
	}
}

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store Store, registrarClient RegistrarClient, edgeClient EdgeClient,
	ownership OwnershipChecker, queue ActivationQueue, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("job store is required")
	}
	if registrarClient == nil {
		return nil, errors.New("registrar client is required")
	}
	if edgeClient == nil {
		return nil, errors.New("edge client is required")
	}
	if ownership == nil {
		return nil, errors.New("ownership checker is required")
	}
	if queue == nil {
		return nil, errors.New("activation queue is required")
	}

	svc := &Service{
		store:     store,
		registrar: registrarClient,
		edge:      edgeClient,
		ownership: ownership,
		queue:     queue,
		locks:     kmutex.New(),
		freshness: defaultFreshness,
		tracer:    otel.Tracer("zonepilot/migration"),
		logger:    slog.New(slog.DiscardHandler),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateJob opens a migration for a domain. The caller must hold a fresh
// ownership verification before a job exists at all, and at most one
// non-terminal job may exist per domain.
func (s *Service) CreateJob(ctx context.Context, domain string, dryRun bool, batchID *id.BatchID) (*Job, error) {
	domain = dns.NormalizeHost(domain)
	if domain == "" || !strings.Contains(domain, ".") {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "a registrable domain name is required")
	}

	s.locks.Lock(domain)
	defer s.locks.Unlock(domain)

	if err := s.requireOwnership(ctx, domain, s.now().Add(-s.freshness)); err != nil {
		return nil, err
	}

	if _, err := s.store.GetActiveByDomain(ctx, domain); err == nil {
		return nil, dErrors.New(dErrors.CodeMigrationInProgress, "a migration is already in progress for this domain")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, fmt.Errorf("check active job: %w", err)
	}

	now := s.now()
	job := &Job{
		ID:        id.NewJobID(),
		BatchID:   batchID,
		Domain:    domain,
		Phase:     PhaseNone,
		Status:    StatusPending,
		DryRun:    dryRun,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, job); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeMigrationInProgress, "a migration is already in progress for this domain")
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.logger.InfoContext(ctx, "migration job created",
		"job_id", job.ID, "domain", domain, "dry_run", dryRun)
	s.emit(ctx, audit.EventJobCreated, job, "created", "")
	return job, nil
}

// Get returns one job.
func (s *Service) Get(ctx context.Context, jobID id.JobID) (*Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "migration job not found")
		}
		return nil, fmt.Errorf("load job: %w", err)
	}
	return job, nil
}

// List returns jobs matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	return s.store.List(ctx, filter)
}

// Advance moves a job into its next phase and runs that phase's work. Phase
// work failures are recorded on the job's error log and leave the job in its
// current phase so the operator can retry.
func (s *Service) Advance(ctx context.Context, jobID id.JobID) (*Job, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(job.Domain)
	defer s.locks.Unlock(job.Domain)

	// Reload under the lock; another caller may have moved the job.
	if job, err = s.Get(ctx, jobID); err != nil {
		return nil, err
	}

	switch {
	case job.Status == StatusPaused:
		return nil, dErrors.New(dErrors.CodeInvalidPhase, "job is paused, resume it first")
	case job.Status.Terminal():
		return nil, dErrors.New(dErrors.CodeInvalidPhase, "job is already "+string(job.Status))
	}

	next, ok := nextPhase(job.Phase)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidPhase, "job has no further phase")
	}

	ctx, span := s.tracer.Start(ctx, "migration.advance",
		trace.WithAttributes(
			attribute.String("job_id", job.ID.String()),
			attribute.String("domain", job.Domain),
			attribute.String("phase", string(next)),
		))
	defer span.End()

	now := s.now()
	var phaseErr error
	switch next {
	case PhaseDiscovery:
		phaseErr = s.runDiscovery(ctx, job)
	case PhaseExport:
		phaseErr = s.runExport(ctx, job)
	case PhaseReview:
		// Review is the operator checkpoint; the work is presenting what
		// Export captured.
	case PhaseExecute:
		phaseErr = s.runExecute(ctx, job)
	case PhaseVerify:
		phaseErr = s.runVerify(ctx, job)
	}

	if phaseErr != nil {
		// "Not ready yet" is not a failure worth logging on the job.
		if !dErrors.HasCode(phaseErr, dErrors.CodeInvalidPhase) {
			job.recordError(next, phaseErr.Error(), now)
			job.UpdatedAt = now
			if err := s.store.Update(ctx, job); err != nil {
				s.logger.ErrorContext(ctx, "persist job error log", "job_id", job.ID, "error", err)
			}
		}
		return job, phaseErr
	}

	job.Phase = next
	job.Status = StatusRunning
	job.UpdatedAt = now

	if next == PhaseReview && job.DryRun {
		// A dry run ends here: everything is captured, nothing gets changed.
		job.Status = StatusSucceeded
		job.CompletedAt = &now
	}
	if next == PhaseVerify {
		// Parity flags settle the job as verify_failed; a clean report is the
		// only way to succeed.
		if job.VerifyResult != nil && len(job.VerifyResult.Flags) > 0 {
			job.Status = StatusVerifyFailed
		} else {
			job.Status = StatusSucceeded
		}
		job.CompletedAt = &now
	}

	if err := s.store.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("persist phase transition: %w", err)
	}

	s.logger.InfoContext(ctx, "migration phase advanced",
		"job_id", job.ID, "domain", job.Domain, "phase", next, "status", job.Status)
	s.emit(ctx, audit.EventPhaseAdvanced, job, string(next), "")
	s.send(ctx, job, notify.KindPhaseChanged, "entered phase "+string(next))

	if job.Status == StatusSucceeded {
		s.emit(ctx, audit.EventJobSucceeded, job, "succeeded", "")
		s.send(ctx, job, notify.KindMigrationSucceeded, "migration complete")
	}
	return job, nil
}

// Pause holds a running job at its current phase boundary. A job inside
// Execute cannot pause: the cutover either finishes or fails, never hangs
// half-delegated.
func (s *Service) Pause(ctx context.Context, jobID id.JobID) (*Job, error) {
	return s.setStatus(ctx, jobID, StatusRunning, StatusPaused, audit.EventJobPaused,
		func(job *Job) error {
			if job.Phase == PhaseExecute {
				return dErrors.New(dErrors.CodeInvalidPhase, "cutover is in progress, wait for execute to finish")
			}
			return nil
		})
}

// Resume releases a paused job. If the pause outlived the ownership
// verification the owner is told to re-verify before Execute will pass.
func (s *Service) Resume(ctx context.Context, jobID id.JobID) (*Job, error) {
	job, err := s.setStatus(ctx, jobID, StatusPaused, StatusRunning, audit.EventJobResumed, nil)
	if err != nil {
		return nil, err
	}

	if job.Phase == PhaseReview && !job.DryRun {
		fresh, checkErr := s.ownership.VerifiedWithin(ctx, job.Domain, s.ownershipCutoff(job))
		if checkErr == nil && !fresh {
			s.send(ctx, job, notify.KindVerificationNeeded,
				"ownership verification went stale during the pause, re-verify before executing")
		}
	}
	return job, nil
}

func (s *Service) setStatus(ctx context.Context, jobID id.JobID, from, to JobStatus,
	action audit.AuditEvent, guard func(*Job) error) (*Job, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(job.Domain)
	defer s.locks.Unlock(job.Domain)

	if job, err = s.Get(ctx, jobID); err != nil {
		return nil, err
	}
	if job.Status != from {
		return nil, dErrors.New(dErrors.CodeInvalidPhase,
			fmt.Sprintf("job is %s, expected %s", job.Status, from))
	}
	if guard != nil {
		if err := guard(job); err != nil {
			return nil, err
		}
	}

	job.Status = to
	job.UpdatedAt = s.now()
	if err := s.store.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("persist status change: %w", err)
	}
	s.emit(ctx, action, job, string(to), "")
	return job, nil
}

// RollbackJob undoes a migration. Before cutover this cancels the job, pulls
// it out of the activation line and removes any zone already created; after
// cutover it restores the original delegation first, then deletes the edge
// zone.
func (s *Service) RollbackJob(ctx context.Context, jobID id.JobID, reason string) (*Job, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(job.Domain)
	defer s.locks.Unlock(job.Domain)

	if job, err = s.Get(ctx, jobID); err != nil {
		return nil, err
	}
	if job.Status == StatusSucceeded || job.Status == StatusRolledBack {
		return nil, dErrors.New(dErrors.CodeInvalidPhase, "job is already "+string(job.Status))
	}

	ctx, span := s.tracer.Start(ctx, "migration.rollback",
		trace.WithAttributes(
			attribute.String("job_id", job.ID.String()),
			attribute.String("domain", job.Domain),
		))
	defer span.End()

	now := s.now()

	if err := s.queue.Cancel(ctx, job.Domain); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.WarnContext(ctx, "cancel activation entry during rollback",
			"job_id", job.ID, "domain", job.Domain, "error", err)
	}

	if job.Rollback != nil && job.Rollback.CutoverDone {
		// Delegation first: the domain must answer from its old nameservers
		// before anything else is touched.
		if err := s.registrar.UpdateNameservers(ctx, job.Domain, job.Rollback.PreviousNameservers); err != nil {
			job.recordError(job.Phase, "rollback: restore nameservers: "+err.Error(), now)
			job.Status = StatusFailed
			job.UpdatedAt = now
			if uerr := s.store.Update(ctx, job); uerr != nil {
				s.logger.ErrorContext(ctx, "persist failed rollback", "job_id", job.ID, "error", uerr)
			}
			s.emit(ctx, audit.EventRollbackFailed, job, "failed", err.Error())
			return job, dErrors.Wrap(dErrors.CodeRollbackFailed, "could not restore original nameservers", err)
		}
	}

	if job.ZoneID != "" {
		if err := s.edge.DeleteZone(ctx, job.ZoneID); err != nil {
			// Delegation is safe; a leftover zone is an inconvenience, not a
			// failed rollback.
			job.recordError(job.Phase, "rollback: delete zone: "+err.Error(), now)
			s.logger.WarnContext(ctx, "zone deletion failed during rollback",
				"job_id", job.ID, "zone_id", job.ZoneID, "error", err)
		}
	}

	job.Status = StatusRolledBack
	job.UpdatedAt = now
	job.CompletedAt = &now
	if err := s.store.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("persist rollback: %w", err)
	}

	s.logger.InfoContext(ctx, "migration rolled back",
		"job_id", job.ID, "domain", job.Domain, "reason", reason)
	s.emit(ctx, audit.EventJobRolledBack, job, "rolled_back", reason)
	s.send(ctx, job, notify.KindRolledBack, "migration rolled back: "+reason)
	return job, nil
}

// ZoneIssued implements zonequeue.Listener: the queue created the job's zone,
// so the cutover continues here with the import and the delegation switch. An
// error fails the queue entry, which comes back through ZoneFailed.
func (s *Service) ZoneIssued(ctx context.Context, entry zonequeue.Entry) error {
	job, err := s.Get(ctx, entry.JobID)
	if err != nil {
		return fmt.Errorf("zone issued for unknown job %s: %w", entry.JobID, err)
	}

	s.locks.Lock(job.Domain)
	defer s.locks.Unlock(job.Domain)

	if job, err = s.Get(ctx, entry.JobID); err != nil {
		return err
	}
	if job.Status != StatusRunning || job.Phase != PhaseExecute {
		return dErrors.New(dErrors.CodeInvalidPhase, "job is no longer awaiting cutover")
	}
	return s.finishCutover(ctx, job, entry)
}

// ZoneActivated implements zonequeue.Listener: the provider finished
// activating the job's zone, so the job can verify and finish.
func (s *Service) ZoneActivated(ctx context.Context, entry zonequeue.Entry) {
	job, err := s.Get(ctx, entry.JobID)
	if err != nil {
		s.logger.ErrorContext(ctx, "zone activated for unknown job",
			"job_id", entry.JobID, "zone_id", entry.ZoneID, "error", err)
		return
	}
	if job.Status != StatusRunning || job.Phase != PhaseExecute {
		// Paused or already moved; the operator drives it from here.
		return
	}
	if _, err := s.Advance(ctx, job.ID); err != nil {
		s.logger.ErrorContext(ctx, "auto-advance to verify failed",
			"job_id", job.ID, "error", err)
	}
}

// ZoneFailed implements zonequeue.Listener: creation, cutover or activation
// failed, the job fails with the queue's reason.
func (s *Service) ZoneFailed(ctx context.Context, entry zonequeue.Entry) {
	job, err := s.Get(ctx, entry.JobID)
	if err != nil {
		s.logger.ErrorContext(ctx, "zone failed for unknown job",
			"job_id", entry.JobID, "zone_id", entry.ZoneID, "error", err)
		return
	}

	s.locks.Lock(job.Domain)
	defer s.locks.Unlock(job.Domain)

	if job, err = s.Get(ctx, entry.JobID); err != nil || job.Status.Terminal() {
		return
	}

	now := s.now()
	job.recordError(PhaseExecute, entry.Reason, now)
	job.Status = StatusFailed
	job.UpdatedAt = now
	if err := s.store.Update(ctx, job); err != nil {
		s.logger.ErrorContext(ctx, "persist zone failure", "job_id", job.ID, "error", err)
		return
	}
	s.emit(ctx, audit.EventJobFailed, job, "failed", entry.Reason)
	s.send(ctx, job, notify.KindMigrationFailed, "migration failed: "+entry.Reason)
}

func (s *Service) runDiscovery(ctx context.Context, job *Job) error {
	if err := s.requireOwnership(ctx, job.Domain, s.now().Add(-s.freshness)); err != nil {
		return err
	}

	domains, err := s.registrar.ListDomains(ctx)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeRegistrarAPI, "list registrar domains", err)
	}

	var found *registrar.DomainSummary
	for i := range domains {
		if domains[i].Name == job.Domain {
			found = &domains[i]
			break
		}
	}
	if found == nil {
		return dErrors.New(dErrors.CodeNotFound, "domain is not managed by the registrar account")
	}
	if found.Locked {
		return dErrors.New(dErrors.CodeConflict, "domain is locked at the registrar, unlock it before migrating")
	}

	nameservers, err := s.registrar.GetNameservers(ctx, job.Domain)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeRegistrarAPI, "read current nameservers", err)
	}

	now := s.now()
	job.DiscoveryStartedAt = &now
	job.Rollback = &RollbackState{
		PreviousNameservers: nameservers,
		TakenAt:             now,
	}
	return nil
}

func (s *Service) runExport(ctx context.Context, job *Job) error {
	snapshot, err := s.registrar.ExportDNS(ctx, job.Domain)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeRegistrarAPI, "export dns records", err)
	}
	profile := s.registrar.DetectEmailService(snapshot)

	job.Snapshot = snapshot
	job.EmailProfile = &profile

	s.logger.InfoContext(ctx, "dns exported",
		"job_id", job.ID,
		"domain", job.Domain,
		"records", len(snapshot.Records),
		"email_provider", profile.Provider)
	return nil
}

// runExecute admits the domain into the activation queue. Nothing touches the
// provider here: the zone is created when the queue promotes the entry, and
// the cutover continues in ZoneIssued.
func (s *Service) runExecute(ctx context.Context, job *Job) error {
	if job.Snapshot == nil {
		return dErrors.New(dErrors.CodeInvalidPhase, "no exported snapshot to execute from")
	}

	verified, err := s.ownership.VerifiedWithin(ctx, job.Domain, s.ownershipCutoff(job))
	if err != nil {
		return fmt.Errorf("check ownership: %w", err)
	}
	if !verified {
		s.emit(ctx, audit.EventOwnershipRejected, job, "rejected", "no fresh ownership verification")
		s.send(ctx, job, notify.KindVerificationNeeded, "verify domain ownership before executing the cutover")
		return dErrors.New(dErrors.CodeOwnershipNotVerified, "domain ownership is not verified recently enough")
	}

	entry, err := s.queue.Enqueue(ctx, job.ID, job.Domain)
	if err != nil {
		return fmt.Errorf("enqueue zone creation: %w", err)
	}
	if entry.JobID != job.ID {
		return dErrors.New(dErrors.CodeConflict, "domain already has a live activation entry")
	}

	s.logger.InfoContext(ctx, "cutover enqueued",
		"job_id", job.ID, "domain", job.Domain)
	s.emit(ctx, audit.EventZoneEnqueued, job, "enqueued", "")
	return nil
}

// finishCutover runs the provider-side half of Execute once the queue has a
// zone for the job: import the snapshot, then repoint the delegation. Errors
// return to the queue, which settles the entry failed and fans the failure
// back through ZoneFailed; job bookkeeping for the failure happens there.
func (s *Service) finishCutover(ctx context.Context, job *Job, entry zonequeue.Entry) error {
	now := s.now()
	job.ZoneID = entry.ZoneID
	job.EdgeNameservers = entry.Nameservers
	if job.Rollback != nil {
		job.Rollback.ZoneID = entry.ZoneID
	}

	// Keep the zone reference even when the cutover fails, so rollback can
	// delete what the queue created.
	fail := func(ferr error) error {
		job.UpdatedAt = s.now()
		if uerr := s.store.Update(ctx, job); uerr != nil {
			s.logger.ErrorContext(ctx, "persist zone reference", "job_id", job.ID, "error", uerr)
		}
		return ferr
	}

	result, err := s.edge.ImportRecords(ctx, entry.ZoneID, job.Snapshot)
	if err != nil {
		return fail(dErrors.Wrap(dErrors.CodeEdgeProviderAPI, "import records", err))
	}
	if !result.Complete() {
		if failed := s.emailRecordFailures(job, result); len(failed) > 0 {
			return fail(dErrors.New(dErrors.CodeEdgeProviderAPI,
				"email routing records failed to import: "+strings.Join(failed, "; ")))
		}
		// Non-email failures are logged on the job and left for Verify to
		// surface; the cutover proceeds.
		for _, f := range result.Failures {
			job.recordError(PhaseExecute,
				fmt.Sprintf("record not imported: %s (%s)", f.Record.String(), f.Reason), now)
		}
	}

	if len(entry.Nameservers) == 0 {
		return fail(dErrors.New(dErrors.CodeEdgeProviderAPI, "edge zone has no nameservers to delegate to"))
	}
	if err := s.registrar.UpdateNameservers(ctx, job.Domain, entry.Nameservers); err != nil {
		return fail(dErrors.Wrap(dErrors.CodeRegistrarAPI, "cut over nameservers", err))
	}
	job.Rollback.CutoverDone = true
	job.UpdatedAt = s.now()
	if err := s.store.Update(ctx, job); err != nil {
		return fmt.Errorf("persist cutover: %w", err)
	}

	s.logger.InfoContext(ctx, "nameservers cut over",
		"job_id", job.ID, "domain", job.Domain, "zone_id", entry.ZoneID)
	s.emit(ctx, audit.EventNameserversCut, job, "cutover", strings.Join(entry.Nameservers, ","))
	return nil
}

// runVerify checks the migrated domain end to end: delegation at the
// registrar, live DNS parity against the snapshot, email routing parity, and
// the certificate the edge serves. HTTPS reachability is checked too but only
// ever warns. Flags settle the job as verify_failed when Advance commits the
// phase.
func (s *Service) runVerify(ctx context.Context, job *Job) error {
	entry, err := s.queue.Get(ctx, job.Domain)
	if err != nil {
		return fmt.Errorf("load activation entry: %w", err)
	}

	switch entry.Status {
	case zonequeue.StatusFailed:
		return dErrors.New(dErrors.CodeZoneActivationTimeout, "zone activation failed: "+entry.Reason)
	case zonequeue.StatusActive:
	default:
		return dErrors.New(dErrors.CodeInvalidPhase, "zone is not active yet")
	}

	report := &VerifyReport{CheckedAt: s.now()}

	nameservers, err := s.registrar.GetNameservers(ctx, job.Domain)
	if err != nil {
		report.Flags = append(report.Flags, "could not confirm delegation at registrar: "+err.Error())
	} else if !sameHostSet(nameservers, job.EdgeNameservers) {
		report.Flags = append(report.Flags,
			fmt.Sprintf("registrar reports nameservers %v, expected %v", nameservers, job.EdgeNameservers))
	}

	if s.prober != nil {
		report.Flags = append(report.Flags, s.apexParity(ctx, job)...)
		report.Flags = append(report.Flags, s.emailParity(ctx, job)...)
		if err := s.prober.CheckTLS(ctx, job.Domain); err != nil {
			report.Flags = append(report.Flags, "tls certificate check failed: "+err.Error())
		}
		if err := s.prober.CheckHTTP(ctx, job.Domain); err != nil {
			report.Warnings = append(report.Warnings, "https reachability check failed: "+err.Error())
		}
	}

	job.VerifyResult = report
	if len(report.Flags) > 0 {
		s.emit(ctx, audit.EventVerifyFlagged, job, "flagged", strings.Join(report.Flags, "; "))
		s.send(ctx, job, notify.KindVerifyFlagged,
			fmt.Sprintf("%d discrepancies flagged for review", len(report.Flags)))
	}
	return nil
}

// apexParity resolves the apex and flags addresses the snapshot never served.
// Transient disagreement right after cutover is normal; the operator reads
// these with propagation in mind.
func (s *Service) apexParity(ctx context.Context, job *Job) []string {
	if job.Snapshot == nil {
		return nil
	}

	expected := make(map[string]bool)
	for _, r := range job.Snapshot.ByType(dns.TypeA) {
		if r.Name == "@" || r.Name == "" {
			expected[r.Value] = true
		}
	}
	if len(expected) == 0 {
		return nil
	}

	addrs, err := s.prober.LookupHost(ctx, job.Domain)
	if err != nil {
		return []string{"apex lookup failed: " + err.Error()}
	}
	var flags []string
	for _, addr := range addrs {
		if !expected[addr] {
			flags = append(flags, "apex resolves to unexpected address "+addr)
		}
	}
	return flags
}

// emailParity confirms every MX and mail TXT record from the email profile
// still answers after the cutover. A missing one means the import or the new
// zone silently dropped the owner's mail routing.
func (s *Service) emailParity(ctx context.Context, job *Job) []string {
	if job.EmailProfile == nil || len(job.EmailProfile.Records) == 0 {
		return nil
	}

	wantMX := make(map[string]bool)
	wantTXT := make(map[string][]string)
	for _, r := range job.EmailProfile.Records {
		switch r.Type {
		case dns.TypeMX:
			wantMX[dns.NormalizeHost(r.Value)] = true
		case dns.TypeTXT:
			host := job.Domain
			if r.Name != "@" && r.Name != "" {
				host = r.Name + "." + job.Domain
			}
			wantTXT[host] = append(wantTXT[host], r.Value)
		}
	}

	var flags []string
	if len(wantMX) > 0 {
		answers, err := s.prober.LookupMX(ctx, job.Domain)
		if err != nil {
			flags = append(flags, "mx lookup failed: "+err.Error())
		} else {
			got := make(map[string]bool, len(answers))
			for _, mx := range answers {
				got[dns.NormalizeHost(mx.Host)] = true
			}
			for host := range wantMX {
				if !got[host] {
					flags = append(flags, "mx record missing after cutover: "+host)
				}
			}
		}
	}

	for host, values := range wantTXT {
		answers, err := s.prober.LookupTXT(ctx, host)
		if err != nil {
			flags = append(flags, "txt lookup failed for "+host+": "+err.Error())
			continue
		}
		got := make(map[string]bool, len(answers))
		for _, v := range answers {
			got[v] = true
		}
		for _, want := range values {
			if !got[want] {
				flags = append(flags, "mail txt record missing after cutover at "+host)
			}
		}
	}
	return flags
}

// requireOwnership rejects a domain without a verification newer than cutoff.
func (s *Service) requireOwnership(ctx context.Context, domain string, cutoff time.Time) error {
	verified, err := s.ownership.VerifiedWithin(ctx, domain, cutoff)
	if err != nil {
		return fmt.Errorf("check ownership: %w", err)
	}
	if !verified {
		if s.auditor != nil {
			s.auditor.Emit(ctx, audit.Event{
				Action:    string(audit.EventOwnershipRejected),
				Domain:    domain,
				Outcome:   "rejected",
				Reason:    "no fresh ownership verification",
				CallerID:  middleware.GetCallerID(ctx),
				RequestID: middleware.GetRequestID(ctx),
			})
		}
		return dErrors.New(dErrors.CodeOwnershipNotVerified, "verify domain ownership first")
	}
	return nil
}

// emailRecordFailures returns the email-critical records among an import's
// failures. Losing one of these silently breaks the owner's mail.
func (s *Service) emailRecordFailures(job *Job, result *edge.ImportResult) []string {
	if job.EmailProfile == nil || len(job.EmailProfile.Records) == 0 {
		return nil
	}
	critical := make(map[string]bool, len(job.EmailProfile.Records))
	for _, r := range job.EmailProfile.Records {
		critical[recordKey(r)] = true
	}
	var failed []string
	for _, f := range result.Failures {
		if critical[recordKey(f.Record)] {
			failed = append(failed, f.Record.String())
		}
	}
	return failed
}

func recordKey(r dns.Record) string {
	return fmt.Sprintf("%s|%s|%s", r.Type, r.Name, r.Value)
}

// ownershipCutoff is the latest of the freshness window and the job's
// Discovery start: the verification must postdate both.
func (s *Service) ownershipCutoff(job *Job) time.Time {
	cutoff := s.now().Add(-s.freshness)
	if job.DiscoveryStartedAt != nil && job.DiscoveryStartedAt.After(cutoff) {
		cutoff = *job.DiscoveryStartedAt
	}
	return cutoff
}

func sameHostSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := make([]string, len(a))
	bs := make([]string, len(b))
	for i := range a {
		as[i] = dns.NormalizeHost(a[i])
	}
	for i := range b {
		bs[i] = dns.NormalizeHost(b[i])
	}
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func (s *Service) emit(ctx context.Context, action audit.AuditEvent, job *Job, outcome, reason string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Emit(ctx, audit.Event{
		Action:    string(action),
		Domain:    job.Domain,
		JobID:     job.ID.String(),
		Phase:     string(job.Phase),
		Outcome:   outcome,
		Reason:    reason,
		CallerID:  middleware.GetCallerID(ctx),
		RequestID: middleware.GetRequestID(ctx),
	})
}

func (s *Service) send(ctx context.Context, job *Job, kind notify.Kind, message string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, notify.Event{
		Domain:  job.Domain,
		JobID:   job.ID.String(),
		Kind:    kind,
		Message: message,
	})
}
