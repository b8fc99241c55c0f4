package edge

import (
	"encoding/json"
	"errors"
	"time"

	id "zonepilot/pkg/domain"
	"zonepilot/pkg/dns"
)

// Credentials authenticate against the edge provider's API.
type Credentials struct {
	APIToken  string `json:"api_token"`
	AccountID string `json:"account_id"`
}

// ParseCredentials decodes the decrypted credential payload.
func ParseCredentials(data []byte) (Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, err
	}
	if creds.APIToken == "" || creds.AccountID == "" {
		return Credentials{}, errors.New("edge credentials missing api_token or account_id")
	}
	return creds, nil
}

// ZoneStatus is the provider-side lifecycle of a hosted zone. A zone starts
// pending and flips to active only once the provider observes the delegation
// pointing at its nameservers.
type ZoneStatus string

const (
	ZonePending ZoneStatus = "pending"
	ZoneActive  ZoneStatus = "active"
	ZoneFailed  ZoneStatus = "failed"
)

// Zone is a hosted zone on the edge provider.
type Zone struct {
	ID          id.ZoneID  `json:"id"`
	Name        string     `json:"name"`
	Status      ZoneStatus `json:"status"`
	Nameservers []string   `json:"nameservers"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ImportFailure is one record the provider refused during a batch import.
type ImportFailure struct {
	Record dns.Record `json:"record"`
	Reason string     `json:"reason"`
}

// ImportResult summarizes a batch import. A partial import is not an error at
// the transport level; the caller decides whether the failures are tolerable.
type ImportResult struct {
	Total    int             `json:"total"`
	Imported int             `json:"imported"`
	Failures []ImportFailure `json:"failures,omitempty"`
}

// Complete reports whether every record made it in.
func (r *ImportResult) Complete() bool {
	return len(r.Failures) == 0 && r.Imported == r.Total
}
