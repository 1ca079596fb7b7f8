// Package hubclient is a thin HTTP stub used by the watcher to talk to an
// optional hub server. The hub is never required: every operation swallows
// its own errors and reports success as a plain bool, never an exception.
package hubclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/nafistiham/jigai/internal/session"
)

const (
	defaultBaseURL    = "http://localhost:9384"
	healthCheckTTL    = 3 * time.Second
	healthCheckExpiry = 6 * time.Second
	reachabilityKey   = "reachable"
)

// Client talks to a running hub over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *cache.Cache
}

// New creates a Client bound to baseURL (default "http://localhost:9384" if
// empty).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		cache:   cache.New(healthCheckTTL, healthCheckExpiry),
	}
}

// IsServerRunning probes GET /api/health with a 2s timeout. The result is
// cached for a few seconds so a watch session doesn't re-probe the hub on
// every idle event when the hub is known to be down.
func (c *Client) IsServerRunning() bool {
	if cached, ok := c.cache.Get(reachabilityKey); ok {
		return cached.(bool)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		c.cache.Set(reachabilityKey, false, cache.DefaultExpiration)
		return false
	}

	resp, err := c.http.Do(req)
	running := err == nil && resp.StatusCode == http.StatusOK
	if resp != nil {
		_ = resp.Body.Close()
	}

	c.cache.Set(reachabilityKey, running, cache.DefaultExpiration)
	return running
}

// RegisterSession posts a new session to the hub. Returns true on success;
// any error (including the hub being unreachable) is swallowed.
func (c *Client) RegisterSession(id, toolName string, argv []string, workingDir string) bool {
	body := map[string]any{
		"session_id":  id,
		"tool_name":   toolName,
		"command":     argv,
		"working_dir": workingDir,
	}
	return c.post("/api/sessions", body)
}

// UnregisterSession deletes a session from the hub.
func (c *Client) UnregisterSession(id string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/sessions/"+id, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	return err == nil && resp.StatusCode == http.StatusOK
}

// PushEvent posts an idle event to the hub.
func (c *Client) PushEvent(ev session.IdleEvent) bool {
	return c.post("/api/events", ev)
}

func (c *Client) post(path string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	return err == nil && resp.StatusCode == http.StatusOK
}
