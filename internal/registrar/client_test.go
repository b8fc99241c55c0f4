package registrar

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zonepilot/pkg/dns"
	"zonepilot/pkg/platform/retry"
)

var testCreds = Credentials{APIUser: "ops", APIKey: "secret"}

// fastRetry keeps test retries off the wall clock.
var fastRetry = retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, testCreds, WithRetryPolicy(fastRetry))
	require.NoError(t, err)
	return client
}

func TestListDomains(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, cmdDomainList, r.URL.Query().Get("command"))
		assert.Equal(t, "ops", r.URL.Query().Get("api_user"))
		fmt.Fprint(w, `
			<ApiResponse Status="OK">
				<CommandResponse>
					<DomainGetListResult>
						<Domain Name="Example.COM" Expires="2027-05-01" IsLocked="false" AutoRenew="true"/>
						<Domain Name="other.net" Expires="2026-12-31" IsLocked="true" AutoRenew="false"/>
					</DomainGetListResult>
				</CommandResponse>
			</ApiResponse>`)
	})

	domains, err := client.ListDomains(context.Background())
	require.NoError(t, err)
	require.Len(t, domains, 2)
	assert.Equal(t, "example.com", domains[0].Name)
	assert.True(t, domains[0].AutoRenew)
	assert.Equal(t, 2027, domains[0].Expires.Year())
	assert.True(t, domains[1].Locked)
}

func TestExportDNS(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, cmdDNSExport, r.URL.Query().Get("command"))
		assert.Equal(t, "example.com", r.URL.Query().Get("domain"))
		fmt.Fprint(w, `
			<ApiResponse Status="OK">
				<CommandResponse>
					<DomainDNSExportResult Domain="example.com">
						<Nameservers>
							<Nameserver>dns1.registrar.example.</Nameserver>
							<Nameserver>dns2.registrar.example</Nameserver>
						</Nameservers>
						<Hosts>
							<Host Type="A" Name="@" Address="203.0.113.10" TTL="1800"/>
							<Host Type="MX" Name="@" Address="aspmx.l.google.com" TTL="3600" Preference="10"/>
							<Host Type="NAPTR" Name="sip" Address="10 100 u E2U+sip" TTL="600"/>
						</Hosts>
					</DomainDNSExportResult>
				</CommandResponse>
			</ApiResponse>`)
	})

	snapshot, err := client.ExportDNS(context.Background(), "Example.com")
	require.NoError(t, err)
	assert.Equal(t, "example.com", snapshot.Domain)
	assert.False(t, snapshot.ExportedAt.IsZero())
	assert.Equal(t, []string{"dns1.registrar.example", "dns2.registrar.example"}, snapshot.Nameservers)

	require.Len(t, snapshot.Records, 3)
	assert.Equal(t, dns.TypeA, snapshot.Records[0].Type)
	assert.Equal(t, 10, snapshot.Records[1].Priority)

	// Record types the pipeline has never heard of survive verbatim.
	assert.Equal(t, dns.RecordType("NAPTR"), snapshot.Records[2].Type)
	assert.Equal(t, "10 100 u E2U+sip", snapshot.Records[2].Value)
}

func TestUpdateNameservers(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var gotNS string
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotNS = r.URL.Query().Get("nameservers")
			fmt.Fprint(w, `
				<ApiResponse Status="OK">
					<CommandResponse>
						<DomainDNSSetNameserversResult Updated="true"/>
					</CommandResponse>
				</ApiResponse>`)
		})

		err := client.UpdateNameservers(context.Background(), "example.com",
			[]string{"edge1.example.net", "edge2.example.net"})
		require.NoError(t, err)
		assert.Equal(t, "edge1.example.net,edge2.example.net", gotNS)
	})

	t.Run("duplicate nameservers collapsed", func(t *testing.T) {
		var gotNS string
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotNS = r.URL.Query().Get("nameservers")
			fmt.Fprint(w, `
				<ApiResponse Status="OK">
					<CommandResponse>
						<DomainDNSSetNameserversResult Updated="true"/>
					</CommandResponse>
				</ApiResponse>`)
		})

		err := client.UpdateNameservers(context.Background(), "example.com",
			[]string{"EDGE1.example.net", "edge1.example.net ", "edge2.example.net"})
		require.NoError(t, err)
		assert.Equal(t, "edge1.example.net,edge2.example.net", gotNS)
	})

	t.Run("rejected update is not retried", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			fmt.Fprint(w, `
				<ApiResponse Status="OK">
					<CommandResponse>
						<DomainDNSSetNameserversResult Updated="false"/>
					</CommandResponse>
				</ApiResponse>`)
		})

		err := client.UpdateNameservers(context.Background(), "example.com", []string{"edge1.example.net"})
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("empty nameserver list rejected locally", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		err := client.UpdateNameservers(context.Background(), "example.com", nil)
		require.Error(t, err)
	})
}

func TestRetryBehavior(t *testing.T) {
	t.Run("transient 500 retried until success", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			fmt.Fprint(w, `
				<ApiResponse Status="OK">
					<CommandResponse>
						<DomainDNSGetNameserversResult>
							<Nameserver>dns1.registrar.example</Nameserver>
						</DomainDNSGetNameserversResult>
					</CommandResponse>
				</ApiResponse>`)
		})

		nameservers, err := client.GetNameservers(context.Background(), "example.com")
		require.NoError(t, err)
		assert.Equal(t, []string{"dns1.registrar.example"}, nameservers)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("auth failure is fatal on first attempt", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			fmt.Fprint(w, `
				<ApiResponse Status="ERROR">
					<Errors><Error Number="1010104">invalid api key</Error></Errors>
				</ApiResponse>`)
		})

		_, err := client.ListDomains(context.Background())
		require.Error(t, err)
		assert.False(t, IsTransient(err))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("unknown api error is retried", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			fmt.Fprint(w, `
				<ApiResponse Status="ERROR">
					<Errors><Error Number="5050505">backend busy</Error></Errors>
				</ApiResponse>`)
		})

		_, err := client.ListDomains(context.Background())
		require.Error(t, err)
		assert.True(t, IsTransient(err))
		assert.Equal(t, int32(3), calls.Load())
	})
}

func TestDetectEmailServiceDelegates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	snapshot := &dns.RecordSnapshot{
		Domain: "example.com",
		Records: []dns.Record{
			{Type: dns.TypeMX, Name: "@", Value: "aspmx.l.google.com", Priority: 1},
		},
	}
	profile := client.DetectEmailService(snapshot)
	assert.Equal(t, dns.EmailHostedGoogle, profile.Provider)
}
