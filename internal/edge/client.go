// Package edge talks to the edge provider's zone API: creating hosted zones,
// bulk-importing records, polling activation status, and deleting zones
// during rollback. The client is stateless; zone state lives with the
// provider and in the migration job.
package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	id "zonepilot/pkg/domain"
	"zonepilot/pkg/dns"
	"zonepilot/pkg/platform/retry"
)

const defaultHTTPTimeout = 15 * time.Second

type Client struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
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
		return nil, errors.New("edge: base URL is required")
	}
	if creds.APIToken == "" || creds.AccountID == "" {
		return nil, errors.New("edge: credentials are required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		policy:     retry.DefaultPolicy(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateZone registers a hosted zone for the domain. Creation is idempotent:
// if the account already holds a zone for this name the existing zone is
// returned, so a crashed Execute phase can be re-run safely.
func (c *Client) CreateZone(ctx context.Context, domain string) (*Zone, error) {
	domain = dns.NormalizeHost(domain)
	var zone *Zone
	err := retry.Do(ctx, c.policy, func() error {
		body := map[string]string{"name": domain, "account_id": c.creds.AccountID}
		var out Zone
		err := c.do(ctx, http.MethodPost, "/zones", body, &out)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
				existing, lookupErr := c.findZone(ctx, domain)
				if lookupErr != nil {
					return permanentUnlessTransient(lookupErr)
				}
				zone = existing
				return nil
			}
			return permanentUnlessTransient(err)
		}
		zone = &out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create zone for %s: %w", domain, err)
	}
	return zone, nil
}

// GetZone fetches the current state of a hosted zone, including its
// activation status.
func (c *Client) GetZone(ctx context.Context, zoneID id.ZoneID) (*Zone, error) {
	var zone Zone
	err := retry.Do(ctx, c.policy, func() error {
		if err := c.do(ctx, http.MethodGet, "/zones/"+url.PathEscape(string(zoneID)), nil, &zone); err != nil {
			return permanentUnlessTransient(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get zone %s: %w", zoneID, err)
	}
	return &zone, nil
}

// ImportRecords pushes a snapshot's records into the zone in one batch. The
// provider reports per-record outcomes; a partial import returns a result
// with failures rather than an error.
func (c *Client) ImportRecords(ctx context.Context, zoneID id.ZoneID, snapshot *dns.RecordSnapshot) (*ImportResult, error) {
	var result ImportResult
	err := retry.Do(ctx, c.policy, func() error {
		body := map[string]any{"records": snapshot.Records}
		result = ImportResult{}
		if err := c.do(ctx, http.MethodPost, "/zones/"+url.PathEscape(string(zoneID))+"/records/import", body, &result); err != nil {
			return permanentUnlessTransient(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("import records into zone %s: %w", zoneID, err)
	}
	if !result.Complete() {
		c.logger.Warn("partial record import",
			"zone_id", zoneID,
			"imported", result.Imported,
			"failed", len(result.Failures))
	}
	return &result, nil
}

// DeleteZone removes a hosted zone. A zone that is already gone is success,
// so rollback can be replayed.
func (c *Client) DeleteZone(ctx context.Context, zoneID id.ZoneID) error {
	err := retry.Do(ctx, c.policy, func() error {
		err := c.do(ctx, http.MethodDelete, "/zones/"+url.PathEscape(string(zoneID)), nil, nil)
		if err != nil && !IsNotFound(err) {
			return permanentUnlessTransient(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete zone %s: %w", zoneID, err)
	}
	return nil
}

func (c *Client) findZone(ctx context.Context, domain string) (*Zone, error) {
	var zones []Zone
	query := url.Values{"name": {domain}, "account_id": {c.creds.AccountID}}
	if err := c.do(ctx, http.MethodGet, "/zones?"+query.Encode(), nil, &zones); err != nil {
		return nil, err
	}
	for i := range zones {
		if dns.NormalizeHost(zones[i].Name) == domain {
			return &zones[i], nil
		}
	}
	return nil, newStatusError(http.StatusNotFound, "zone_not_found", "no zone for "+domain)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.creds.APIToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return newTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newTransportError(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.Error.Code == "" {
		return newStatusError(resp.StatusCode, "unknown", http.StatusText(resp.StatusCode))
	}
	return newStatusError(resp.StatusCode, payload.Error.Code, payload.Error.Message)
}

func permanentUnlessTransient(err error) error {
	if IsTransient(err) {
		return err
	}
	return retry.Permanent(err)
}
