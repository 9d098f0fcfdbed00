// Package cloudflare is a minimal Cloudflare v4 API client for the record
// types the appliance manages (A, AAAA and TXT). It implements the libdns
// record interfaces so callers stay provider-neutral.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/libdns/libdns"
	"github.com/miekg/dns"

	"grimm.is/hmdl/internal/brand"
)

// DefaultAPIURL is the production API endpoint.
const DefaultAPIURL = "https://api.cloudflare.com/client/v4"

// ErrZoneNotFound is returned when no zone in the account contains a domain.
var ErrZoneNotFound = errors.New("cloudflare zone not found")

// Provider is the record surface the reconciler and the DNS-01 publisher use.
type Provider interface {
	libdns.RecordGetter
	libdns.RecordAppender
	libdns.RecordDeleter

	// ZoneFor returns the fully qualified zone name that contains domain.
	ZoneFor(ctx context.Context, domain string) (string, error)
}

// APIError is a failed API call.
type APIError struct {
	Status   int
	Messages []string
}

func (e *APIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("cloudflare api: status %d", e.Status)
	}
	return fmt.Sprintf("cloudflare api: status %d: %s", e.Status, strings.Join(e.Messages, "; "))
}

// Client talks to the API with a scoped bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client

	mu    sync.Mutex
	zones map[string]string // fqdn zone name -> zone id
}

// New creates a client. An empty baseURL uses DefaultAPIURL.
func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		zones:   make(map[string]string),
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Errors  []apiMessage    `json:"errors"`
	Result  json.RawMessage `json:"result"`
	Info    *resultInfo     `json:"result_info,omitempty"`
}

type apiMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type resultInfo struct {
	Page       int `json:"page"`
	TotalPages int `json:"total_pages"`
}

type zoneObject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type recordObject struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

// ZoneFor walks the suffixes of domain, longest first, and returns the
// first one the account has a zone for.
func (c *Client) ZoneFor(ctx context.Context, domain string) (string, error) {
	fqdn := dns.CanonicalName(domain)
	for _, off := range dns.Split(fqdn) {
		candidate := fqdn[off:]
		if dns.CountLabel(candidate) < 2 {
			break
		}
		id, err := c.lookupZone(ctx, candidate)
		if err != nil {
			return "", err
		}
		if id != "" {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrZoneNotFound, domain)
}

func (c *Client) lookupZone(ctx context.Context, zone string) (string, error) {
	zone = dns.CanonicalName(zone)

	c.mu.Lock()
	id, ok := c.zones[zone]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	q := url.Values{"name": {strings.TrimSuffix(zone, ".")}, "status": {"active"}}
	var zones []zoneObject
	if _, err := c.do(ctx, http.MethodGet, "/zones?"+q.Encode(), nil, &zones); err != nil {
		return "", err
	}
	if len(zones) == 0 {
		return "", nil
	}

	c.mu.Lock()
	c.zones[zone] = zones[0].ID
	c.mu.Unlock()
	return zones[0].ID, nil
}

func (c *Client) zoneID(ctx context.Context, zone string) (string, error) {
	id, err := c.lookupZone(ctx, zone)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("%w: %s", ErrZoneNotFound, zone)
	}
	return id, nil
}

// GetRecords lists every record in zone.
func (c *Client) GetRecords(ctx context.Context, zone string) ([]libdns.Record, error) {
	id, err := c.zoneID(ctx, zone)
	if err != nil {
		return nil, err
	}

	var out []libdns.Record
	for page := 1; ; page++ {
		q := url.Values{"page": {strconv.Itoa(page)}, "per_page": {"100"}}
		var recs []recordObject
		info, err := c.do(ctx, http.MethodGet, "/zones/"+id+"/dns_records?"+q.Encode(), nil, &recs)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			out = append(out, toLibdns(r, zone))
		}
		if info == nil || page >= info.TotalPages {
			return out, nil
		}
	}
}

// AppendRecords creates recs and returns them populated with their IDs.
// Records are never proxied; a zero TTL means automatic.
func (c *Client) AppendRecords(ctx context.Context, zone string, recs []libdns.Record) ([]libdns.Record, error) {
	id, err := c.zoneID(ctx, zone)
	if err != nil {
		return nil, err
	}

	var created []libdns.Record
	for _, r := range recs {
		body := recordObject{
			Type:    r.Type,
			Name:    strings.TrimSuffix(libdns.AbsoluteName(r.Name, zone), "."),
			Content: r.Value,
			TTL:     ttlSeconds(r.TTL),
		}
		var res recordObject
		if _, err := c.do(ctx, http.MethodPost, "/zones/"+id+"/dns_records", body, &res); err != nil {
			return created, fmt.Errorf("failed to create %s %s: %w", r.Type, body.Name, err)
		}
		created = append(created, toLibdns(res, zone))
	}
	return created, nil
}

// DeleteRecords deletes recs. Records without an ID are matched against
// the zone by type, name and value.
func (c *Client) DeleteRecords(ctx context.Context, zone string, recs []libdns.Record) ([]libdns.Record, error) {
	id, err := c.zoneID(ctx, zone)
	if err != nil {
		return nil, err
	}

	var existing []libdns.Record
	var deleted []libdns.Record
	for _, r := range recs {
		if r.ID == "" {
			if existing == nil {
				if existing, err = c.GetRecords(ctx, zone); err != nil {
					return deleted, err
				}
			}
			r = match(existing, r)
			if r.ID == "" {
				continue
			}
		}
		if _, err := c.do(ctx, http.MethodDelete, "/zones/"+id+"/dns_records/"+r.ID, nil, nil); err != nil {
			return deleted, fmt.Errorf("failed to delete %s %s: %w", r.Type, r.Name, err)
		}
		deleted = append(deleted, r)
	}
	return deleted, nil
}

func match(existing []libdns.Record, want libdns.Record) libdns.Record {
	for _, e := range existing {
		if e.Type == want.Type && e.Name == want.Name && (want.Value == "" || e.Value == want.Value) {
			return e
		}
	}
	return libdns.Record{}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) (*resultInfo, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", brand.UserAgent())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudflare request failed: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&env); err != nil {
		if resp.StatusCode >= 400 {
			return nil, &APIError{Status: resp.StatusCode}
		}
		return nil, fmt.Errorf("failed to decode cloudflare response: %w", err)
	}

	if resp.StatusCode >= 400 || !env.Success {
		apiErr := &APIError{Status: resp.StatusCode}
		for _, m := range env.Errors {
			apiErr.Messages = append(apiErr.Messages, fmt.Sprintf("%d %s", m.Code, m.Message))
		}
		return nil, apiErr
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return nil, fmt.Errorf("failed to decode cloudflare result: %w", err)
		}
	}
	return env.Info, nil
}

func toLibdns(r recordObject, zone string) libdns.Record {
	return libdns.Record{
		ID:    r.ID,
		Type:  r.Type,
		Name:  libdns.RelativeName(dns.Fqdn(r.Name), zone),
		Value: r.Content,
		TTL:   time.Duration(r.TTL) * time.Second,
	}
}

// ttlSeconds maps a TTL to the API's value, where 1 means automatic.
func ttlSeconds(d time.Duration) int {
	if d < time.Second {
		return 1
	}
	return int(d / time.Second)
}
