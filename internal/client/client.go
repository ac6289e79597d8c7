// Package client talks to one agent session server: three bootstrap
// reads over HTTP and a live WebSocket event connection.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/overlook-dev/overlook/internal/types"
)

// Client accesses a single server by port on the loopback interface.
type Client struct {
	port int
	http *http.Client
}

// New creates a client for the server listening on the given port.
func New(port int) *Client {
	return &Client{
		port: port,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// Port returns the server port this client targets.
func (c *Client) Port() int { return c.port }

func (c *Client) url(path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", c.port, path)
}

// getJSON performs a GET and decodes the JSON body into v.
func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("get %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// FetchSessions reads the server's session list.
func (c *Client) FetchSessions(ctx context.Context) ([]types.Session, error) {
	var sessions []types.Session
	if err := c.getJSON(ctx, "/session", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// FetchSessionStatuses reads the sessionID -> status map.
func (c *Client) FetchSessionStatuses(ctx context.Context) (map[string]string, error) {
	var statuses map[string]string
	if err := c.getJSON(ctx, "/session/status", &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// FetchProject reads the current-project descriptor. This doubles as
// the discovery handshake: a server is only accepted when the worktree
// is a real, non-root path.
func (c *Client) FetchProject(ctx context.Context) (types.Project, error) {
	var project types.Project
	if err := c.getJSON(ctx, "/project/current", &project); err != nil {
		return types.Project{}, err
	}
	return project, nil
}
