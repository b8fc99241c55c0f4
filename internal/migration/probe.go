package migration

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"zonepilot/pkg/platform/retry"
)

// NetProber answers the Verify phase's checks against the live internet:
// system-resolver DNS lookups, a TLS handshake on 443, and a plain HTTPS GET.
// DNS lookups retry on transient resolver trouble; NXDOMAIN is final.
type NetProber struct {
	resolver    *net.Resolver
	client      *http.Client
	dnsTimeout  time.Duration
	httpTimeout time.Duration
	policy      retry.Policy
}

func NewNetProber(dnsTimeout, httpTimeout time.Duration, probeRetries int) *NetProber {
	if dnsTimeout <= 0 {
		dnsTimeout = 5 * time.Second
	}
	if httpTimeout <= 0 {
		httpTimeout = 10 * time.Second
	}
	if probeRetries < 0 {
		probeRetries = 0
	}
	return &NetProber{
		resolver:    net.DefaultResolver,
		client:      &http.Client{Timeout: httpTimeout},
		dnsTimeout:  dnsTimeout,
		httpTimeout: httpTimeout,
		policy: retry.Policy{
			MaxAttempts:     uint64(probeRetries) + 1,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     2 * time.Second,
		},
	}
}

func (p *NetProber) LookupHost(ctx context.Context, host string) ([]string, error) {
	var addrs []string
	err := retry.Do(ctx, p.policy, func() error {
		lctx, cancel := context.WithTimeout(ctx, p.dnsTimeout)
		defer cancel()
		var lerr error
		addrs, lerr = p.resolver.LookupHost(lctx, host)
		return dnsFinal(lerr)
	})
	return addrs, err
}

func (p *NetProber) LookupMX(ctx context.Context, host string) ([]MXHost, error) {
	var records []*net.MX
	err := retry.Do(ctx, p.policy, func() error {
		lctx, cancel := context.WithTimeout(ctx, p.dnsTimeout)
		defer cancel()
		var lerr error
		records, lerr = p.resolver.LookupMX(lctx, host)
		return dnsFinal(lerr)
	})
	if err != nil {
		return nil, err
	}
	out := make([]MXHost, 0, len(records))
	for _, mx := range records {
		out = append(out, MXHost{Host: mx.Host, Pref: mx.Pref})
	}
	return out, nil
}

func (p *NetProber) LookupTXT(ctx context.Context, host string) ([]string, error) {
	var values []string
	err := retry.Do(ctx, p.policy, func() error {
		lctx, cancel := context.WithTimeout(ctx, p.dnsTimeout)
		defer cancel()
		var lerr error
		values, lerr = p.resolver.LookupTXT(lctx, host)
		return dnsFinal(lerr)
	})
	return values, err
}

// CheckTLS completes a handshake on port 443 and lets crypto/tls validate the
// chain and hostname. A domain parked behind the edge should present a valid
// certificate as soon as the zone is active.
func (p *NetProber) CheckTLS(ctx context.Context, host string) error {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: p.httpTimeout},
		Config:    &tls.Config{ServerName: host},
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, "443"))
	if err != nil {
		return err
	}
	return conn.Close()
}

// CheckHTTP reports whether the apex answers over HTTPS at all. Any status
// code counts; the check is about reachability, not content.
func (p *NetProber) CheckHTTP(ctx context.Context, host string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+host+"/", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// dnsFinal keeps retry.Do from hammering on answers that will not change.
func dnsFinal(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return retry.Permanent(err)
	}
	return err
}
