package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose. Compliance
// events are the tamper-evident trail of who moved which domain where;
// security events feed alerting; operations events are debugging aids.
type EventCategory string

const (
	CategoryCompliance EventCategory = "compliance"
	CategorySecurity   EventCategory = "security"
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	Domain    string
	JobID     string
	Action    string
	Phase     string
	Outcome   string
	Reason    string
	CallerID  string
	RequestID string
}

// AuditEvent names every action the pipeline records.
type AuditEvent string

const (
	// Verification events
	EventChallengeIssued   AuditEvent = "challenge_issued"
	EventChallengeReused   AuditEvent = "challenge_reused"
	EventChallengeVerified AuditEvent = "challenge_verified"
	EventChallengeExpired  AuditEvent = "challenge_expired"

	// Migration lifecycle events
	EventJobCreated      AuditEvent = "migration_job_created"
	EventPhaseAdvanced   AuditEvent = "migration_phase_advanced"
	EventJobPaused       AuditEvent = "migration_job_paused"
	EventJobResumed      AuditEvent = "migration_job_resumed"
	EventJobFailed       AuditEvent = "migration_job_failed"
	EventJobSucceeded    AuditEvent = "migration_job_succeeded"
	EventNameserversCut  AuditEvent = "nameservers_cutover"
	EventJobRolledBack   AuditEvent = "migration_job_rolled_back"
	EventRollbackFailed  AuditEvent = "migration_rollback_failed"
	EventVerifyFlagged   AuditEvent = "migration_verify_flagged"
	EventZoneEnqueued    AuditEvent = "zone_creation_enqueued"
	EventZoneIssued      AuditEvent = "zone_creation_issued"
	EventZoneQueueFailed AuditEvent = "zone_activation_failed"

	// API events
	EventRateLimitExceeded AuditEvent = "rate_limit_exceeded"
	EventOwnershipRejected AuditEvent = "ownership_rejected"
)

// eventCategories maps each audit event to its category. Cutover, rollback
// and verification decisions carry compliance weight: they are the record of
// an irreversible action against a customer's domain.
var eventCategories = map[AuditEvent]EventCategory{
	EventChallengeVerified: CategoryCompliance,
	EventJobCreated:        CategoryCompliance,
	EventNameserversCut:    CategoryCompliance,
	EventJobRolledBack:     CategoryCompliance,
	EventJobSucceeded:      CategoryCompliance,

	EventOwnershipRejected: CategorySecurity,
	EventRateLimitExceeded: CategorySecurity,
	EventRollbackFailed:    CategorySecurity,

	EventChallengeIssued:   CategoryOperations,
	EventChallengeReused:   CategoryOperations,
	EventChallengeExpired:  CategoryOperations,
	EventPhaseAdvanced:     CategoryOperations,
	EventJobPaused:         CategoryOperations,
	EventJobResumed:        CategoryOperations,
	EventJobFailed:         CategoryOperations,
	EventVerifyFlagged:     CategoryOperations,
	EventZoneEnqueued:      CategoryOperations,
	EventZoneIssued:        CategoryOperations,
	EventZoneQueueFailed:   CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store is the append-only persistence sink for audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByDomain(ctx context.Context, domain string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
