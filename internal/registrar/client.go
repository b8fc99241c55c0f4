// Package registrar talks to the domain registrar's XML API: listing managed
// domains, exporting a domain's full record set, and switching its delegated
// nameservers. Every call is retried on transient failures only.
package registrar

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"zonepilot/pkg/dns"
	"zonepilot/pkg/platform/retry"
	strutil "zonepilot/pkg/platform/strings"
)

const (
	cmdDomainList     = "domains.getList"
	cmdDNSExport      = "domains.dns.export"
	cmdGetNameservers = "domains.dns.getNameservers"
	cmdSetNameservers = "domains.dns.setNameservers"

	statusOK = "OK"

	defaultHTTPTimeout = 15 * time.Second
	expiresLayout      = "2006-01-02"
)

type Client struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func NewClient(baseURL string, creds Credentials, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("registrar: base URL is required")
	}
	if creds.APIUser == "" || creds.APIKey == "" {
		return nil, errors.New("registrar: credentials are required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		policy:     retry.DefaultPolicy(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListDomains returns every domain the credentials manage.
func (c *Client) ListDomains(ctx context.Context) ([]DomainSummary, error) {
	var domains []DomainSummary
	err := retry.Do(ctx, c.policy, func() error {
		var out domainListResponse
		if err := c.do(ctx, cmdDomainList, nil, &out); err != nil {
			return permanentUnlessTransient(err)
		}
		domains = domains[:0]
		for _, d := range out.Domains {
			summary := DomainSummary{
				Name:      dns.NormalizeHost(d.Name),
				Locked:    d.IsLocked,
				AutoRenew: d.AutoRenew,
			}
			if t, err := time.Parse(expiresLayout, d.Expires); err == nil {
				summary.Expires = t
			}
			domains = append(domains, summary)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	return domains, nil
}

// ExportDNS captures the domain's complete record set and its currently
// delegated nameservers. Record types the pipeline does not recognize are
// preserved verbatim; the snapshot must survive a round trip untouched.
func (c *Client) ExportDNS(ctx context.Context, domain string) (*dns.RecordSnapshot, error) {
	domain = dns.NormalizeHost(domain)
	var snapshot *dns.RecordSnapshot
	err := retry.Do(ctx, c.policy, func() error {
		var out dnsExportResponse
		params := url.Values{"domain": {domain}}
		if err := c.do(ctx, cmdDNSExport, params, &out); err != nil {
			return permanentUnlessTransient(err)
		}
		snapshot = &dns.RecordSnapshot{
			Domain:     domain,
			ExportedAt: c.now().UTC(),
		}
		for _, h := range out.Result.Hosts {
			snapshot.Records = append(snapshot.Records, dns.Record{
				Type:     dns.RecordType(h.Type),
				Name:     h.Name,
				Value:    h.Address,
				TTL:      h.TTL,
				Priority: h.Preference,
			})
		}
		for _, ns := range out.Result.Nameservers {
			snapshot.Nameservers = append(snapshot.Nameservers, dns.NormalizeHost(ns))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("export dns for %s: %w", domain, err)
	}
	return snapshot, nil
}

// GetNameservers returns the domain's current delegation, used to confirm a
// cutover took effect and to snapshot state before one.
func (c *Client) GetNameservers(ctx context.Context, domain string) ([]string, error) {
	domain = dns.NormalizeHost(domain)
	var nameservers []string
	err := retry.Do(ctx, c.policy, func() error {
		var out getNameserversResponse
		params := url.Values{"domain": {domain}}
		if err := c.do(ctx, cmdGetNameservers, params, &out); err != nil {
			return permanentUnlessTransient(err)
		}
		nameservers = nameservers[:0]
		for _, ns := range out.Nameservers {
			nameservers = append(nameservers, dns.NormalizeHost(ns))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get nameservers for %s: %w", domain, err)
	}
	return nameservers, nil
}

// UpdateNameservers repoints the domain's delegation. This is the cutover:
// after it succeeds the registrar no longer answers for the domain.
func (c *Client) UpdateNameservers(ctx context.Context, domain string, nameservers []string) error {
	domain = dns.NormalizeHost(domain)
	// Hostnames are case-insensitive; a duplicated NS entry would be rejected
	// by some registrars.
	nameservers = strutil.DedupeAndTrimLower(nameservers)
	if len(nameservers) == 0 {
		return errors.New("registrar: at least one nameserver is required")
	}
	err := retry.Do(ctx, c.policy, func() error {
		var out setNameserversResponse
		params := url.Values{
			"domain":      {domain},
			"nameservers": {strings.Join(nameservers, ",")},
		}
		if err := c.do(ctx, cmdSetNameservers, params, &out); err != nil {
			return permanentUnlessTransient(err)
		}
		if !out.Result.Updated {
			return retry.Permanent(&APIError{
				Number:  "update_rejected",
				Message: "registrar did not apply the nameserver update",
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update nameservers for %s: %w", domain, err)
	}
	c.logger.Info("nameservers updated at registrar", "domain", domain, "nameservers", nameservers)
	return nil
}

// DetectEmailService classifies the email routing captured in a snapshot.
func (c *Client) DetectEmailService(snapshot *dns.RecordSnapshot) dns.EmailServiceProfile {
	return dns.DetectEmailService(snapshot)
}

// apiPayload is satisfied by every response struct via the embedded envelope.
type apiPayload interface {
	apiErr() error
}

func (c *Client) do(ctx context.Context, command string, params url.Values, out apiPayload) error {
	q := url.Values{}
	for k, vs := range params {
		q[k] = vs
	}
	q.Set("command", command)
	q.Set("api_user", c.creds.APIUser)
	q.Set("api_key", c.creds.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return newTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return &APIError{Number: strconv.Itoa(resp.StatusCode), Message: "registrar unavailable", Transient: true}
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Number: strconv.Itoa(resp.StatusCode), Message: "unexpected response status"}
	}
	if err := xml.NewDecoder(resp.Body).Decode(out); err != nil {
		return newTransportError(fmt.Errorf("decode response: %w", err))
	}
	return out.apiErr()
}

func permanentUnlessTransient(err error) error {
	if IsTransient(err) {
		return err
	}
	return retry.Permanent(err)
}

// XML wire types.

type apiErrorXML struct {
	Number string `xml:"Number,attr"`
	Text   string `xml:",chardata"`
}

type envelope struct {
	Status string        `xml:"Status,attr"`
	Errors []apiErrorXML `xml:"Errors>Error"`
}

func (e envelope) apiErr() error {
	if e.Status == statusOK {
		return nil
	}
	if len(e.Errors) > 0 {
		return newAPIError(e.Errors[0].Number, strings.TrimSpace(e.Errors[0].Text))
	}
	return &APIError{Number: "unknown", Message: "registrar reported failure without detail"}
}

type domainListResponse struct {
	envelope
	Domains []struct {
		Name      string `xml:"Name,attr"`
		Expires   string `xml:"Expires,attr"`
		IsLocked  bool   `xml:"IsLocked,attr"`
		AutoRenew bool   `xml:"AutoRenew,attr"`
	} `xml:"CommandResponse>DomainGetListResult>Domain"`
}

type dnsExportResponse struct {
	envelope
	Result struct {
		Domain      string   `xml:"Domain,attr"`
		Nameservers []string `xml:"Nameservers>Nameserver"`
		Hosts       []struct {
			Type       string `xml:"Type,attr"`
			Name       string `xml:"Name,attr"`
			Address    string `xml:"Address,attr"`
			TTL        int    `xml:"TTL,attr"`
			Preference int    `xml:"Preference,attr"`
		} `xml:"Hosts>Host"`
	} `xml:"CommandResponse>DomainDNSExportResult"`
}

type getNameserversResponse struct {
	envelope
	Nameservers []string `xml:"CommandResponse>DomainDNSGetNameserversResult>Nameserver"`
}

type setNameserversResponse struct {
	envelope
	Result struct {
		Updated bool `xml:"Updated,attr"`
	} `xml:"CommandResponse>DomainDNSSetNameserversResult"`
}
