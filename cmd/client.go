package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"grimm.is/hmdl/internal/api"
	"grimm.is/hmdl/internal/brand"
	"grimm.is/hmdl/internal/setup"
)

// errAlreadySetup is returned when the install server reports the lockout.
var errAlreadySetup = errors.New("already set up")

// installClient talks to the local plaintext install server.
type installClient struct {
	base string
	http *http.Client
}

func newInstallClient(base string) *installClient {
	return &installClient{
		base: base,
		http: &http.Client{
			Timeout: 10 * time.Second,
			// The install server redirects to HTTPS once a certificate is
			// live. The endpoints used here are served on both.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

func (c *installClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", brand.UserAgent())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			if e.Details != "" {
				return resp.StatusCode, fmt.Errorf("%s: %s", e.Error, e.Details)
			}
			return resp.StatusCode, errors.New(e.Error)
		}
		return resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *installClient) isSetup(ctx context.Context) (api.IsSetupResponse, error) {
	var out api.IsSetupResponse
	_, err := c.do(ctx, http.MethodGet, "/api/is-setup", nil, &out)
	return out, err
}

func (c *installClient) health(ctx context.Context) (api.HealthResponse, error) {
	var out api.HealthResponse
	_, err := c.do(ctx, http.MethodGet, "/api/health", nil, &out)
	return out, err
}

func (c *installClient) setup(ctx context.Context, req setup.Request) (api.IsSetupResponse, error) {
	var out api.IsSetupResponse
	code, err := c.do(ctx, http.MethodPost, "/api/setup", req, &out)
	if code == http.StatusForbidden {
		return out, fmt.Errorf("%w: %v", errAlreadySetup, err)
	}
	return out, err
}
