// Package dns holds the wire-format-agnostic DNS record model shared by the
// registrar export, the edge provider import, and post-cutover verification.
package dns

import (
	"fmt"
	"strings"
	"time"
)

// RecordType is kept as an open string so record types this code has never
// heard of survive an export/import round trip verbatim.
type RecordType string

const (
	TypeA     RecordType = "A"
	TypeAAAA  RecordType = "AAAA"
	TypeCNAME RecordType = "CNAME"
	TypeMX    RecordType = "MX"
	TypeTXT   RecordType = "TXT"
	TypeNS    RecordType = "NS"
	TypeSRV   RecordType = "SRV"
	TypeCAA   RecordType = "CAA"
)

// Record is one DNS record as exported from the registrar.
type Record struct {
	Type  RecordType `json:"type"`
	Name  string     `json:"name"` // host label, "@" for apex
	Value string     `json:"value"`
	TTL   int        `json:"ttl"`
	// Priority applies to MX and SRV records only.
	Priority int `json:"priority,omitempty"`
}

// FQDN expands the record name against the zone apex.
func (r Record) FQDN(domain string) string {
	if r.Name == "" || r.Name == "@" {
		return domain
	}
	return r.Name + "." + domain
}

func (r Record) String() string {
	if r.Priority > 0 {
		return fmt.Sprintf("%s %s %d %s (ttl=%d)", r.Name, r.Type, r.Priority, r.Value, r.TTL)
	}
	return fmt.Sprintf("%s %s %s (ttl=%d)", r.Name, r.Type, r.Value, r.TTL)
}

// RecordSnapshot is an immutable point-in-time copy of a domain's records,
// captured at Export and owned by the job that captured it. It seeds the edge
// provider zone and anchors rollback.
type RecordSnapshot struct {
	Domain      string    `json:"domain"`
	Records     []Record  `json:"records"`
	Nameservers []string  `json:"nameservers"`
	ExportedAt  time.Time `json:"exported_at"`
}

// ByType returns the records of one type, in export order.
func (s *RecordSnapshot) ByType(t RecordType) []Record {
	var out []Record
	for _, r := range s.Records {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

// Clone returns a deep copy so callers can never mutate the stored snapshot
// through a returned reference.
func (s *RecordSnapshot) Clone() *RecordSnapshot {
	if s == nil {
		return nil
	}
	out := &RecordSnapshot{
		Domain:      s.Domain,
		Records:     make([]Record, len(s.Records)),
		Nameservers: make([]string, len(s.Nameservers)),
		ExportedAt:  s.ExportedAt,
	}
	copy(out.Records, s.Records)
	copy(out.Nameservers, s.Nameservers)
	return out
}

// NormalizeHost lowercases and strips the trailing dot resolvers append.
func NormalizeHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}
