// Package client is a small HTTP client for a running heatmap server, used
// by the push and stats commands.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lazypower/heatmap/internal/graph"
)

const (
	defaultServerURL = "http://127.0.0.1:37780"
	httpTimeout      = 5 * time.Second
)

// Client talks to the heatmap server.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client for serverURL. An empty URL falls back to
// HEATMAP_URL, then http://127.0.0.1:37780.
func New(serverURL string) *Client {
	if serverURL == "" {
		serverURL = os.Getenv("HEATMAP_URL")
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: strings.TrimRight(serverURL, "/"),
	}
}

// URL returns the server base URL.
func (c *Client) URL() string { return c.serverURL }

// Post sends body as JSON to path and returns the response body. Status
// codes of 400 and above are returned as errors along with the body.
func (c *Client) Post(path string, body []byte) ([]byte, error) {
	return c.roundTrip(http.MethodPost, path, body)
}

// Get fetches path and returns the response body.
func (c *Client) Get(path string) ([]byte, error) {
	return c.roundTrip(http.MethodGet, path, nil)
}

func (c *Client) roundTrip(method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequest(method, c.serverURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return data, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy() bool {
	resp, err := c.http.Get(c.serverURL + "/api/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// PushEvent sends one raw message to POST /api/events.
func (c *Client) PushEvent(raw []byte) error {
	_, err := c.Post("/api/events", raw)
	return err
}

// Stats fetches the current stats.
func (c *Client) Stats() (graph.Stats, error) {
	var st graph.Stats
	data, err := c.Get("/api/stats")
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("decode stats: %w", err)
	}
	return st, nil
}
