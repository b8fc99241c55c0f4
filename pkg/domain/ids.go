package domain

import (
	"github.com/google/uuid"

	dErrors "zonepilot/pkg/domainerrors"
)

// Typed identifiers for the migration pipeline. Distinct types keep a JobID
// from ever being passed where a ChallengeID is expected; the compiler does
// the checking.
type (
	// JobID identifies one MigrationJob.
	JobID uuid.UUID

	// BatchID groups independent jobs submitted together for reporting.
	BatchID uuid.UUID

	// ChallengeID identifies an ownership verification challenge.
	ChallengeID uuid.UUID

	// ZoneID is the edge provider's identifier for a created zone.
	// Provider-assigned, opaque, not a UUID.
	ZoneID string
)

// NewJobID returns a fresh random JobID.
func NewJobID() JobID { return JobID(uuid.New()) }

// NewBatchID returns a fresh random BatchID.
func NewBatchID() BatchID { return BatchID(uuid.New()) }

// NewChallengeID returns a fresh random ChallengeID.
func NewChallengeID() ChallengeID { return ChallengeID(uuid.New()) }

// ParseJobID validates and returns a JobID.
// IDs must be valid, non-empty, non-nil UUIDs.
func ParseJobID(s string) (JobID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return JobID{}, err
	}
	return JobID(u), nil
}

// ParseBatchID validates and returns a BatchID.
func ParseBatchID(s string) (BatchID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return BatchID{}, err
	}
	return BatchID(u), nil
}

// ParseChallengeID validates and returns a ChallengeID.
func ParseChallengeID(s string) (ChallengeID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ChallengeID{}, err
	}
	return ChallengeID(u), nil
}

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return u, nil
}

func (id JobID) String() string       { return uuid.UUID(id).String() }
func (id BatchID) String() string     { return uuid.UUID(id).String() }
func (id ChallengeID) String() string { return uuid.UUID(id).String() }
func (id ZoneID) String() string      { return string(id) }

func (id JobID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id BatchID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ChallengeID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ZoneID) IsNil() bool      { return id == "" }

// Defined types do not inherit uuid.UUID's text marshaling, so each ID
// implements it explicitly; without this the IDs would serialize as byte
// arrays in JSON.

func (id JobID) MarshalText() ([]byte, error)       { return []byte(id.String()), nil }
func (id BatchID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id ChallengeID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *JobID) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*id = JobID(u)
	return nil
}

func (id *BatchID) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*id = BatchID(u)
	return nil
}

func (id *ChallengeID) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*id = ChallengeID(u)
	return nil
}
