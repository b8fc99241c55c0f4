package migration

import (
	"context"
	"time"

	id "zonepilot/pkg/domain"
	"zonepilot/pkg/dns"
)

// Phase is the pipeline position of a migration job. Phases only ever move
// forward; rollback changes status, not phase, so the record keeps showing
// how far the job got.
type Phase string

const (
	// PhaseNone is a created job that has not started Discovery.
	PhaseNone      Phase = ""
	PhaseDiscovery Phase = "discovery"
	PhaseExport    Phase = "export"
	PhaseReview    Phase = "review"
	PhaseExecute   Phase = "execute"
	PhaseVerify    Phase = "verify"
)

// nextPhase returns the phase an Advance call moves into.
func nextPhase(p Phase) (Phase, bool) {
	switch p {
	case PhaseNone:
		return PhaseDiscovery, true
	case PhaseDiscovery:
		return PhaseExport, true
	case PhaseExport:
		return PhaseReview, true
	case PhaseReview:
		return PhaseExecute, true
	case PhaseExecute:
		return PhaseVerify, true
	default:
		return "", false
	}
}

// JobStatus is the lifecycle state of a job, orthogonal to its phase.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusPaused    JobStatus = "paused"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
	// StatusVerifyFailed is a completed cutover whose post-migration checks
	// found parity problems. Terminal, but still eligible for rollback.
	StatusVerifyFailed JobStatus = "verify_failed"
	StatusRolledBack   JobStatus = "rolled_back"
)

// Terminal reports whether the job can never change again.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusVerifyFailed || s == StatusRolledBack
}

// ErrorEntry is one failure recorded against a job. Failures accumulate; the
// log is never truncated.
type ErrorEntry struct {
	Phase   Phase     `json:"phase"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// RollbackState captures everything needed to undo a cutover: the nameservers
// the domain pointed at before Execute touched it, and the zone created at the
// edge provider.
type RollbackState struct {
	PreviousNameservers []string  `json:"previous_nameservers"`
	ZoneID              id.ZoneID `json:"zone_id,omitempty"`
	TakenAt             time.Time `json:"taken_at"`
	// CutoverDone marks that UpdateNameservers succeeded, so rollback must
	// repoint the delegation, not just delete the zone.
	CutoverDone bool `json:"cutover_done"`
}

// VerifyReport is the outcome of the Verify phase. Flags are parity problems
// that settle the job as verify_failed; Warnings are best-effort observations
// that never change the outcome.
type VerifyReport struct {
	CheckedAt time.Time `json:"checked_at"`
	Flags     []string  `json:"flags,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// Job is one domain migration moving registrar-hosted DNS onto the edge
// provider. One active job per domain at a time.
type Job struct {
	ID      id.JobID    `json:"id"`
	BatchID *id.BatchID `json:"batch_id,omitempty"`
	Domain  string      `json:"domain"`
	Phase   Phase       `json:"phase"`
	Status  JobStatus   `json:"status"`
	// DryRun jobs run Discovery through Review and then finish without
	// touching the registrar delegation or the edge provider.
	DryRun bool `json:"dry_run"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// DiscoveryStartedAt anchors the ownership-freshness cutoff for Execute.
	DiscoveryStartedAt *time.Time `json:"discovery_started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`

	Snapshot     *dns.RecordSnapshot      `json:"snapshot,omitempty"`
	EmailProfile *dns.EmailServiceProfile `json:"email_profile,omitempty"`

	ZoneID          id.ZoneID      `json:"zone_id,omitempty"`
	EdgeNameservers []string       `json:"edge_nameservers,omitempty"`
	Rollback        *RollbackState `json:"rollback,omitempty"`
	VerifyResult    *VerifyReport  `json:"verify_result,omitempty"`

	Errors []ErrorEntry `json:"errors,omitempty"`
}

// recordError appends to the job's error log.
func (j *Job) recordError(phase Phase, message string, at time.Time) {
	j.Errors = append(j.Errors, ErrorEntry{Phase: phase, Message: message, At: at})
}

// ListFilter narrows a job listing. Zero values match everything.
type ListFilter struct {
	Domain  string
	Status  JobStatus
	BatchID *id.BatchID
	Limit   int
}

// Store persists migration jobs. Create must reject a second active job for
// the same domain with sentinel.ErrConflict.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID id.JobID) (*Job, error)
	// GetActiveByDomain returns the non-terminal job for a domain.
	GetActiveByDomain(ctx context.Context, domain string) (*Job, error)
	Update(ctx context.Context, job *Job) error
	List(ctx context.Context, filter ListFilter) ([]*Job, error)
}
