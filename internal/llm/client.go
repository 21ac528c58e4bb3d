package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/homelab-assistant/internal/httpkit"
)

// Client is what the agent loop needs from the LLM backend: one blocking
// round-trip per call.
type Client interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// AdapterClient calls the LLM adapter service over HTTP.
type AdapterClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAdapterClient creates a client for the adapter at baseURL. The
// timeout should be generous; a round-trip includes provider latency.
func NewAdapterClient(baseURL string, timeout time.Duration, logger *slog.Logger) *AdapterClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdapterClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(httpkit.WithTimeout(timeout)),
		logger:     logger,
	}
}

// Chat posts req to /chat. Any transport failure or non-2xx status is
// returned as an error; the caller treats both as the backend being
// unavailable.
func (c *AdapterClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	c.logger.Log(ctx, LevelTrace, "llm adapter request",
		"messages", len(req.Messages),
		"tools", len(req.Tools),
	)

	var resp ChatResponse
	if err := httpkit.DoJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/chat", req, &resp); err != nil {
		return nil, fmt.Errorf("llm adapter: %w", err)
	}

	c.logger.Log(ctx, LevelTrace, "llm adapter response",
		"content_len", len(resp.Text()),
		"tool_calls", len(resp.ToolCalls),
		"finish_reason", resp.FinishReason,
	)
	return &resp, nil
}

// Ping checks the adapter's /health endpoint.
func (c *AdapterClient) Ping(ctx context.Context) error {
	return httpkit.DoJSON(ctx, c.httpClient, http.MethodGet, c.baseURL+"/health", nil, nil)
}
