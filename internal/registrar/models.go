package registrar

import (
	"encoding/json"
	"errors"
	"time"
)

// Credentials authenticate against the registrar's API. They arrive sealed in
// configuration and are decrypted at startup.
type Credentials struct {
	APIUser string `json:"api_user"`
	APIKey  string `json:"api_key"`
}

// ParseCredentials decodes the decrypted credential payload.
func ParseCredentials(data []byte) (Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, err
	}
	if creds.APIUser == "" || creds.APIKey == "" {
		return Credentials{}, errors.New("registrar credentials missing api_user or api_key")
	}
	return creds, nil
}

// DomainSummary is one entry from the registrar's domain list.
type DomainSummary struct {
	Name      string    `json:"name"`
	Expires   time.Time `json:"expires"`
	Locked    bool      `json:"locked"`
	AutoRenew bool      `json:"auto_renew"`
}
