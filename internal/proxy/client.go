package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the external proxy's control API. The proxy exposes a
// routes resource keyed by URL prefix: GET lists the full table, POST on
// a prefix creates or replaces a route, DELETE removes one.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient validates the control API endpoint and returns a client
// authenticating with the given control token.
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy API URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid proxy API URL %q: scheme must be http or https", baseURL)
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}, nil
}

type routeEntry struct {
	Target string `json:"target"`
}

// routesURL maps a prefix onto the control API path. The empty prefix
// addresses the whole table; the root route "/" lives at /api/routes/.
func (c *Client) routesURL(prefix string) string {
	if prefix == "" {
		return c.base + "/api/routes"
	}
	p := strings.TrimRight(prefix, "/")
	if p == "" {
		p = "/"
	}
	return c.base + "/api/routes" + p
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding proxy request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "token "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxy API unreachable: %w", err)
	}
	return resp, nil
}

// Routes fetches the proxy's current route table as prefix → target.
func (c *Client) Routes(ctx context.Context) (map[string]string, error) {
	resp, err := c.do(ctx, http.MethodGet, c.routesURL(""), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy API list routes: unexpected status %d", resp.StatusCode)
	}
	var table map[string]routeEntry
	if err := json.NewDecoder(resp.Body).Decode(&table); err != nil {
		return nil, fmt.Errorf("decoding proxy route table: %w", err)
	}
	routes := make(map[string]string, len(table))
	for prefix, entry := range table {
		routes[prefix] = entry.Target
	}
	return routes, nil
}

// AddRoute creates or replaces the route for prefix. Replacing an
// existing route with the same target is a no-op on the proxy side.
func (c *Client) AddRoute(ctx context.Context, prefix, target string) error {
	resp, err := c.do(ctx, http.MethodPost, c.routesURL(prefix), routeEntry{Target: target})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK &&
		resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("proxy API add route %s: unexpected status %d", prefix, resp.StatusCode)
	}
	return nil
}

// RemoveRoute deletes the route for prefix. A route that is already
// absent counts as success.
func (c *Client) RemoveRoute(ctx context.Context, prefix string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.routesURL(prefix), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("proxy API remove route %s: unexpected status %d", prefix, resp.StatusCode)
	}
	return nil
}
