// Package shadowsocksadmin administers a shadowsocks-rust AEAD-2022 multi-user listener: one shared inbound port,
// many passwords, added and removed through the server's local JSON admin endpoint rather than a per-user port
// (the ssmanager UDP protocol's model doesn't fit a shared-port-many-passwords listener, so this client talks to
// the plain HTTP admin surface shadowsocks-rust exposes alongside it).
package shadowsocksadmin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultCallTimeout = 3 * time.Second

// Client administers the users of a single shared shadowsocks inbound.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: defaultCallTimeout}}
}

type userPayload struct {
	Identity string `json:"identity"`
	Password string `json:"password,omitempty"`
}

// AddUser registers a password under identity on the shared port. Idempotent: the admin endpoint treats a repeat
// add for an existing identity as a no-op rather than a conflict.
func (c *Client) AddUser(ctx context.Context, identity, password string) error {
	return c.post(ctx, "/users", userPayload{Identity: identity, Password: password})
}

// RemoveUser revokes a password. Not-found is not an error.
func (c *Client) RemoveUser(ctx context.Context, identity string) error {
	return c.post(ctx, "/users/remove", userPayload{Identity: identity})
}

type statsResponse struct {
	Online   bool  `json:"online"`
	Uplink   int64 `json:"uplink"`
	Downlink int64 `json:"downlink"`
}

// Stats returns the current transfer counters for one user.
func (c *Client) Stats(ctx context.Context, identity string) (online bool, uplink, downlink int64, err error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/users/"+identity+"/stats", nil)
	if err != nil {
		return false, 0, 0, err
	}
	var resp statsResponse
	if err := c.do(req, &resp); err != nil {
		return false, 0, 0, err
	}
	return resp.Online, resp.Uplink, resp.Downlink, nil
}

// ResetStat zeroes a user's cumulative counters.
func (c *Client) ResetStat(ctx context.Context, identity string) error {
	return c.post(ctx, "/users/"+identity+"/reset_stat", nil)
}

type identitiesResponse struct {
	Identities []string `json:"identities"`
}

// ListUsers returns every identity currently configured on the shared port.
func (c *Client) ListUsers(ctx context.Context) ([]string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/users", nil)
	if err != nil {
		return nil, err
	}
	var resp identitiesResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Identities, nil
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("shadowsocksadmin: marshal request: %w", err)
		}
		reader = *bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &reader)
	if err != nil {
		return nil, fmt.Errorf("shadowsocksadmin: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("shadowsocksadmin: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("shadowsocksadmin: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("shadowsocksadmin: decode response: %w", err)
	}
	return nil
}
