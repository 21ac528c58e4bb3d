package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/homelab-assistant/internal/httpkit"
)

// Client calls the monitoring service over HTTP. It satisfies the tool
// executor's Monitor interface; responses are returned as received.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the service at baseURL. Calls are
// bounded by timeout and never retried.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(httpkit.WithTimeout(timeout)),
	}
}

// SystemResources fetches GET /system/resources.
func (c *Client) SystemResources(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/system/resources")
}

// Containers fetches GET /containers.
func (c *Client) Containers(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/containers")
}

// Ping checks GET /health.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "/health")
	return err
}

func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	data, err := httpkit.Do(ctx, c.httpClient, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
