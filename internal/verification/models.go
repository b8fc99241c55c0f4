package verification

import (
	"time"

	id "zonepilot/pkg/domain"
)

// Status of an ownership challenge.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusExpired  Status = "expired"
)

// Challenge is a DNS TXT proof-of-control token for one domain.
//
// Invariant: a domain has at most one active (pending, unexpired) challenge;
// issuing against a domain with an active challenge returns the existing one
// so an attacker cannot flood a target domain with tokens.
type Challenge struct {
	ID         id.ChallengeID
	Domain     string
	Token      string
	Status     Status
	IssuedAt   time.Time
	ExpiresAt  time.Time
	VerifiedAt *time.Time
}

// TXTHost is the fully qualified name the owner must publish the token at.
func (c *Challenge) TXTHost(label string) string {
	return label + "." + c.Domain
}

// ExpiredAt reports whether the challenge is past its validity at the given
// instant. Verified challenges never expire retroactively.
func (c *Challenge) ExpiredAt(now time.Time) bool {
	return c.Status != StatusVerified && now.After(c.ExpiresAt)
}
