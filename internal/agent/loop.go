// Package agent implements the bounded orchestration loop that turns a
// user message into an answer, asking the model and running monitoring
// tools in between.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nugget/homelab-assistant/internal/audit"
	"github.com/nugget/homelab-assistant/internal/llm"
	"github.com/nugget/homelab-assistant/internal/prompts"
	"github.com/nugget/homelab-assistant/internal/tools"
)

// ErrBackendUnavailable is returned when the LLM backend cannot be
// reached or answers with an error status.
var ErrBackendUnavailable = errors.New("llm backend unavailable")

// ToolResolver runs one named tool, honoring the enabled set.
type ToolResolver interface {
	Resolve(ctx context.Context, name string, args map[string]any, enabled tools.EnabledSet) (string, error)
}

// Request is one chat turn.
type Request struct {
	Message        string
	ConversationID string
	Enabled        tools.EnabledSet
}

// Response is the loop's result. BoundExceeded marks the soft outcome
// where the round-trip budget ran out; Answer then holds the apology.
type Response struct {
	Answer         string
	ConversationID string
	ToolNames      []string
	RoundTrips     int
	BoundExceeded  bool
}

// Loop drives State through its transitions, doing the I/O in between.
type Loop struct {
	logger       *slog.Logger
	llm          llm.Client
	tools        ToolResolver
	audit        audit.Sink
	catalogue    []tools.Definition
	systemPrompt string
}

// NewLoop creates a loop. sink may be nil.
func NewLoop(logger *slog.Logger, client llm.Client, resolver ToolResolver, sink audit.Sink) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		logger:       logger,
		llm:          client,
		tools:        resolver,
		audit:        sink,
		catalogue:    tools.Catalogue(),
		systemPrompt: prompts.SystemPrompt(),
	}
}

// Run executes one chat turn. Every model call advertises the full
// catalogue; the enabled set is enforced only when a tool runs.
func (l *Loop) Run(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("conversation.id", req.ConversationID),
			attribute.Int("tools.enabled", req.Enabled.Len()),
		),
	)
	defer span.End()

	ctx = tools.WithConversationID(ctx, req.ConversationID)
	log := l.logger.With("conversation_id", req.ConversationID)
	log.Info("agent loop started", "message_len", len(req.Message))

	state := Begin(req.ConversationID, req.Message)
	for state.Phase == AwaitingModel {
		if err := ctx.Err(); err != nil {
			l.finish(span, start, outcomeCancelled, state)
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			return nil, err
		}

		next, err := l.roundTrip(ctx, state, req.Enabled, log)
		if err != nil {
			outcome := outcomeBackendUnavailable
			if ctx.Err() != nil {
				outcome = outcomeCancelled
			}
			l.finish(span, start, outcome, state)
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			log.Error("agent loop failed", "round_trip", state.RoundTrips+1, "error", err)
			return nil, err
		}
		state = next
	}

	resp := &Response{
		Answer:         state.Answer,
		ConversationID: state.ConversationID,
		ToolNames:      state.ToolNames,
		RoundTrips:     state.RoundTrips,
		BoundExceeded:  state.Phase == BoundExceeded,
	}

	if resp.BoundExceeded {
		l.finish(span, start, outcomeBoundExceeded, state)
		log.Warn("agent loop hit round-trip bound",
			"round_trips", state.RoundTrips,
			"tool_calls", state.ToolNames,
		)
		return resp, nil
	}

	l.finish(span, start, outcomeAnswered, state)
	if l.audit != nil {
		rec := audit.NewRecord(state.ConversationID, state.UserMessage, state.Answer, state.ToolNames)
		if err := l.audit.Write(ctx, rec); err != nil {
			log.Warn("audit write failed", "error", err)
		}
	}
	log.Info("agent loop completed",
		"round_trips", state.RoundTrips,
		"tool_calls", state.ToolNames,
		"duration", time.Since(start),
	)
	return resp, nil
}

// roundTrip makes one model call and, if tools were requested, runs them.
func (l *Loop) roundTrip(ctx context.Context, state State, enabled tools.EnabledSet, log *slog.Logger) (State, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.round_trip",
		trace.WithAttributes(attribute.Int("round_trip.index", state.RoundTrips+1)),
	)
	defer span.End()

	reply, err := l.llm.Chat(ctx, &llm.ChatRequest{
		Messages:     state.History,
		Tools:        l.catalogue,
		SystemPrompt: l.systemPrompt,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm call failed")
		if ctxErr := ctx.Err(); ctxErr != nil {
			// The caller went away; the adapter is not at fault.
			return state, ctxErr
		}
		return state, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	if reply == nil {
		reply = &llm.ChatResponse{}
	}

	state = state.ApplyModelReply(*reply)
	span.SetAttributes(attribute.Int("tool_calls", len(state.Pending)))
	if state.Phase != ExecutingTools {
		return state, nil
	}

	results := make([]ToolResult, len(state.Pending))
	for i, call := range state.Pending {
		results[i] = l.runTool(ctx, call, enabled, log)
	}
	return state.ApplyToolResults(results)
}

// runTool resolves one call. Failures become result text; they never
// abort the loop.
func (l *Loop) runTool(ctx context.Context, call llm.ToolCall, enabled tools.EnabledSet, log *slog.Logger) ToolResult {
	start := time.Now()
	content, err := l.tools.Resolve(ctx, call.Name, call.Arguments, enabled)

	label := "unknown"
	if id, ok := tools.ParseID(call.Name); ok {
		label = id.String()
	}
	recordToolMetrics(label, err)

	if err != nil {
		log.Warn("tool call failed",
			"tool", call.Name,
			"call_id", call.ID,
			"error", err,
		)
		content = prompts.ToolErrorPrefix + err.Error()
	} else {
		log.Debug("tool call completed",
			"tool", call.Name,
			"call_id", call.ID,
			"result_len", len(content),
			"duration", time.Since(start),
		)
	}
	return ToolResult{CallID: call.ID, Name: call.Name, Content: content}
}

func (l *Loop) finish(span trace.Span, start time.Time, outcome string, state State) {
	runsTotal.WithLabelValues(outcome).Inc()
	roundTripsPerRun.Observe(float64(state.RoundTrips))
	runDurationSeconds.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("agent.outcome", outcome),
		attribute.Int("agent.round_trips", state.RoundTrips),
		attribute.Int("agent.tool_calls", len(state.ToolNames)),
	)
}
