// Package client is a small Go client for warden's control HTTP API. The
// CLI uses it, and test harnesses can use it to drive a running supervisor
// programmatically.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"warden/supervisor"
)

// Client talks to a running supervisor's control listener.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the control listener at addr (host:port).
func New(addr string) *Client {
	return &Client{
		base: "http://" + addr,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// Status returns the watchdog state of every service.
func (c *Client) Status(ctx context.Context) ([]supervisor.StateSnapshot, error) {
	var resp struct {
		Services []supervisor.StateSnapshot `json:"services"`
	}
	if err := c.get(ctx, "/status", &resp); err != nil {
		return nil, err
	}
	return resp.Services, nil
}

// Healthy reports whether every service is currently healthy, along with
// the full status.
func (c *Client) Healthy(ctx context.Context) (bool, []supervisor.StateSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return false, nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, nil, fmt.Errorf("is warden running? %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Services []supervisor.StateSnapshot `json:"services"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, nil, err
	}
	return resp.StatusCode == http.StatusOK, body.Services, nil
}

// Events returns the event log entries with sequence number > since.
func (c *Client) Events(ctx context.Context, since uint64) ([]supervisor.Event, error) {
	var events []supervisor.Event
	if err := c.get(ctx, fmt.Sprintf("/events?since=%d", since), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Restart asks the supervisor to cycle one service.
func (c *Client) Restart(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/services/"+name+"/restart", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is warden running? %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("restart %s: %s: %s", name, resp.Status, body)
	}
	return nil
}

// WaitHealthy polls until every service is healthy or the context expires.
func (c *Client) WaitHealthy(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	for {
		ok, _, err := c.Healthy(ctx)
		if err == nil && ok {
			return nil
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
			}
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is warden running? %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
