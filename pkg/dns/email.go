package dns

// Email service detection. Classification is a pure function over a
// snapshot's MX and TXT records: hostname-pattern matching against a
// maintained table of provider signatures, with self-hosted as the fallback
// when an MX exists but matches nothing, and none when no MX exists.

import "strings"

// EmailProvider is the closed set of routing categories the pipeline knows
// how to preserve across a cutover.
type EmailProvider string

const (
	EmailHostedGoogle   EmailProvider = "hosted-google"
	EmailHostedExchange EmailProvider = "hosted-exchange"
	EmailVendor         EmailProvider = "vendor-specific-email"
	EmailSelfHosted     EmailProvider = "self-hosted"
	EmailNone           EmailProvider = "none"
)

// EmailServiceProfile captures what Export detected and what Execute must
// re-create byte-for-byte on the edge provider.
type EmailServiceProfile struct {
	Provider EmailProvider `json:"provider"`
	// Records are the literal MX and mail-related TXT records (SPF, DKIM,
	// DMARC) required to keep routing identical after cutover.
	Records []Record `json:"records"`
}

// mxSignatures maps MX hostname suffixes to providers. Longest-suffix match
// is not needed; the suffixes are mutually exclusive.
var mxSignatures = []struct {
	suffix   string
	provider EmailProvider
}{
	{"aspmx.l.google.com", EmailHostedGoogle},
	{"googlemail.com", EmailHostedGoogle},
	{"google.com", EmailHostedGoogle},
	{"protection.outlook.com", EmailHostedExchange},
	{"privateemail.com", EmailVendor},
	{"registrar-servers.com", EmailVendor},
	{"zoho.com", EmailVendor},
	{"zoho.eu", EmailVendor},
	{"mailgun.org", EmailVendor},
	{"messagingengine.com", EmailVendor},
	{"emailsrvr.com", EmailVendor},
	{"mimecast.com", EmailVendor},
	{"pphosted.com", EmailVendor},
}

// DetectEmailService classifies a snapshot's email routing.
func DetectEmailService(snapshot *RecordSnapshot) EmailServiceProfile {
	mx := snapshot.ByType(TypeMX)
	if len(mx) == 0 {
		return EmailServiceProfile{Provider: EmailNone}
	}

	profile := EmailServiceProfile{
		Provider: EmailSelfHosted,
		Records:  append([]Record(nil), mx...),
	}
	for _, r := range mx {
		if p, ok := classifyMXHost(r.Value); ok {
			profile.Provider = p
			break
		}
	}

	for _, r := range snapshot.ByType(TypeTXT) {
		if isMailTXT(r.Value) {
			profile.Records = append(profile.Records, r)
		}
	}
	return profile
}

func classifyMXHost(host string) (EmailProvider, bool) {
	h := NormalizeHost(host)
	for _, sig := range mxSignatures {
		if h == sig.suffix || strings.HasSuffix(h, "."+sig.suffix) {
			return sig.provider, true
		}
	}
	return "", false
}

// isMailTXT recognizes SPF, DKIM and DMARC payloads.
func isMailTXT(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	return strings.HasPrefix(v, "v=spf1") ||
		strings.HasPrefix(v, "v=dkim1") ||
		strings.HasPrefix(v, "v=dmarc1")
}
