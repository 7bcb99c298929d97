package traccar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to the telemetry server's REST API. It is safe for concurrent
// use; all methods honor the passed context.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// ClientOptions configures a REST client.
type ClientOptions struct {
	// BaseURL is the server root, e.g. http://host:8082.
	BaseURL string
	// Token authenticates requests via the Authorization header.
	Token string
	// Timeout bounds each request (default 10s).
	Timeout time.Duration
	// HTTPClient overrides the underlying client; Timeout is ignored then.
	HTTPClient *http.Client
}

// NewClient builds a REST client.
func NewClient(opts ClientOptions) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: opts.BaseURL, token: opts.Token, http: hc}
}

// Devices fetches the full device list.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var out []Device
	if err := c.getJSON(ctx, "/api/devices", nil, &out); err != nil {
		return nil, fmt.Errorf("devices: %w", err)
	}
	return out, nil
}

// Positions fetches the latest position for each of the given devices in one
// batched call. An empty id set fetches the caller's full visible set.
func (c *Client) Positions(ctx context.Context, deviceIDs []int64) ([]Position, error) {
	q := url.Values{}
	for _, id := range deviceIDs {
		q.Add("deviceId", strconv.FormatInt(id, 10))
	}
	var out []Position
	if err := c.getJSON(ctx, "/api/positions", q, &out); err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	return out, nil
}

// PositionByID fetches a single position by its server-assigned id.
func (c *Client) PositionByID(ctx context.Context, id int64) (*Position, error) {
	q := url.Values{}
	q.Set("id", strconv.FormatInt(id, 10))
	var out []Position
	if err := c.getJSON(ctx, "/api/positions", q, &out); err != nil {
		return nil, fmt.Errorf("position %d: %w", id, err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	p := out[0]
	return &p, nil
}

// Events fetches the event history for one device inside [from, to].
// Used only during reconnect backfill.
func (c *Client) Events(ctx context.Context, deviceID int64, from, to time.Time) ([]Event, error) {
	q := url.Values{}
	q.Set("deviceId", strconv.FormatInt(deviceID, 10))
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	var out []Event
	if err := c.getJSON(ctx, "/api/reports/events", q, &out); err != nil {
		return nil, fmt.Errorf("events device=%d: %w", deviceID, err)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
