package dns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotWith(records ...Record) *RecordSnapshot {
	return &RecordSnapshot{
		Domain:     "example.com",
		Records:    records,
		ExportedAt: time.Now(),
	}
}

func TestDetectEmailService(t *testing.T) {
	t.Run("no MX means none", func(t *testing.T) {
		profile := DetectEmailService(snapshotWith(
			Record{Type: TypeA, Name: "@", Value: "203.0.113.10"},
		))
		assert.Equal(t, EmailNone, profile.Provider)
		assert.Empty(t, profile.Records)
	})

	t.Run("google workspace", func(t *testing.T) {
		profile := DetectEmailService(snapshotWith(
			Record{Type: TypeMX, Name: "@", Value: "ASPMX.L.GOOGLE.COM.", Priority: 1},
			Record{Type: TypeMX, Name: "@", Value: "alt1.aspmx.l.google.com", Priority: 5},
		))
		assert.Equal(t, EmailHostedGoogle, profile.Provider)
		require.Len(t, profile.Records, 2)
	})

	t.Run("hosted exchange", func(t *testing.T) {
		profile := DetectEmailService(snapshotWith(
			Record{Type: TypeMX, Name: "@", Value: "example-com.mail.protection.outlook.com", Priority: 0},
		))
		assert.Equal(t, EmailHostedExchange, profile.Provider)
	})

	t.Run("vendor email", func(t *testing.T) {
		profile := DetectEmailService(snapshotWith(
			Record{Type: TypeMX, Name: "@", Value: "mx1.privateemail.com", Priority: 10},
		))
		assert.Equal(t, EmailVendor, profile.Provider)
	})

	t.Run("unknown MX defaults to self-hosted", func(t *testing.T) {
		profile := DetectEmailService(snapshotWith(
			Record{Type: TypeMX, Name: "@", Value: "mail.example.com", Priority: 10},
		))
		assert.Equal(t, EmailSelfHosted, profile.Provider)
	})

	t.Run("mail TXT records are preserved, others ignored", func(t *testing.T) {
		profile := DetectEmailService(snapshotWith(
			Record{Type: TypeMX, Name: "@", Value: "aspmx.l.google.com", Priority: 1},
			Record{Type: TypeTXT, Name: "@", Value: "v=spf1 include:_spf.google.com ~all"},
			Record{Type: TypeTXT, Name: "_dmarc", Value: "v=DMARC1; p=quarantine"},
			Record{Type: TypeTXT, Name: "@", Value: "site-verification=abc123"},
		))
		require.Len(t, profile.Records, 3)
		assert.Equal(t, TypeMX, profile.Records[0].Type)
		assert.Contains(t, profile.Records[1].Value, "v=spf1")
		assert.Contains(t, profile.Records[2].Value, "v=DMARC1")
	})
}

func TestSnapshotClone(t *testing.T) {
	snap := snapshotWith(Record{Type: TypeA, Name: "@", Value: "203.0.113.10"})
	snap.Nameservers = []string{"dns1.registrar-servers.com", "dns2.registrar-servers.com"}

	clone := snap.Clone()
	clone.Records[0].Value = "changed"
	clone.Nameservers[0] = "changed"

	assert.Equal(t, "203.0.113.10", snap.Records[0].Value)
	assert.Equal(t, "dns1.registrar-servers.com", snap.Nameservers[0])
}

func TestRecordFQDN(t *testing.T) {
	assert.Equal(t, "example.com", Record{Name: "@"}.FQDN("example.com"))
	assert.Equal(t, "example.com", Record{Name: ""}.FQDN("example.com"))
	assert.Equal(t, "www.example.com", Record{Name: "www"}.FQDN("example.com"))
}
