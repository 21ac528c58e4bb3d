package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Monitor is the monitoring service as seen by the executor. Each method
// performs exactly one request and returns the response body untouched.
type Monitor interface {
	SystemResources(ctx context.Context) (json.RawMessage, error)
	Containers(ctx context.Context) (json.RawMessage, error)
}

// Executor runs gated tool calls against the monitoring service. It
// holds no per-request state and is safe for concurrent use.
type Executor struct {
	monitor Monitor
	logger  *slog.Logger
}

// NewExecutor creates an executor backed by monitor.
func NewExecutor(monitor Monitor, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{monitor: monitor, logger: logger}
}

// Resolve gates name against enabled and, when allowed, performs the
// tool's single outbound call. The result is the monitoring response as
// text. Arguments are accepted for forward compatibility and ignored;
// none of the current tools take parameters.
func (e *Executor) Resolve(ctx context.Context, name string, args map[string]any, enabled EnabledSet) (string, error) {
	log := e.logger
	if conv := ConversationIDFromContext(ctx); conv != "" {
		log = log.With("conversation_id", conv)
	}

	id, err := Gate(name, enabled)
	if err != nil {
		log.Warn("tool call rejected", "tool", name)
		return "", err
	}

	start := time.Now()
	var body json.RawMessage
	switch id {
	case SystemResources:
		body, err = e.monitor.SystemResources(ctx)
	case ListContainers:
		body, err = e.monitor.Containers(ctx)
	default:
		return "", &UnknownToolError{Name: name}
	}
	if err != nil {
		log.Warn("tool call failed",
			"tool", name,
			"duration", time.Since(start),
			"error", err,
		)
		return "", &ExecutionError{Tool: name, Err: err}
	}

	log.Debug("tool call completed",
		"tool", name,
		"duration", time.Since(start),
		"bytes", len(body),
		"args", len(args),
	)
	return string(body), nil
}
