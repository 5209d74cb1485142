package cmd

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

// apiClient is the thin REST client behind the admin subcommands.
type apiClient struct {
	endpoint string
	token    string
	http     *http.Client
}

func newAPIClient() (*apiClient, error) {
	if apiToken == "" {
		return nil, fmt.Errorf("an API token is required (set --token or HUB_TOKEN)")
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid endpoint %q", endpoint)
	}
	return &apiClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    apiToken,
		http:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// apiError carries the hub's error envelope back to the terminal.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("hub API: %s (HTTP %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("hub API: HTTP %d", e.Status)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+"/hub/api"+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "token "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope struct {
			Message string `json:"message"`
		}
		json.NewDecoder(resp.Body).Decode(&envelope)
		return &apiError{Status: resp.StatusCode, Message: envelope.Message}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// serverView mirrors the API's server model.
type serverView struct {
	Name         string    `json:"name"`
	Ready        bool      `json:"ready"`
	Pending      string    `json:"pending"`
	State        string    `json:"state"`
	URL          string    `json:"url"`
	LastActivity time.Time `json:"last_activity"`
	Error        string    `json:"error"`
}

// userView mirrors the API's user model.
type userView struct {
	Name         string                `json:"name"`
	Admin        bool                  `json:"admin"`
	Roles        []string              `json:"roles"`
	Groups       []string              `json:"groups"`
	LastActivity time.Time             `json:"last_activity"`
	Servers      map[string]serverView `json:"servers"`
}

// tokenView mirrors the API's token model.
type tokenView struct {
	ID       string     `json:"id"`
	Scopes   []string   `json:"scopes"`
	Note     string     `json:"note"`
	Created  time.Time  `json:"created"`
	Expires  *time.Time `json:"expires"`
	LastUsed time.Time  `json:"last_used"`
	Token    string     `json:"token"`
}
