// Package llm defines the contract between the orchestrator and the LLM
// adapter service, the client the orchestrator uses to call it, and the
// adapter service itself with its OpenAI-compatible providers.
package llm

import (
	"encoding/json"
	"log/slog"

	"github.com/nugget/homelab-assistant/internal/tools"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message is one conversation entry in the OpenAI chat format. Content
// is a pointer because assistant messages that only carry tool calls
// have a null content.
type Message struct {
	Role       string            `json:"role"`
	Content    *string           `json:"content"`
	ToolCalls  []MessageToolCall `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

// MessageToolCall is a tool call as echoed back in an assistant message.
type MessageToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a tool invocation requested by the model. ID is opaque
// and assigned by the provider; it correlates the eventual result.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatRequest is the body of POST /chat on the adapter.
type ChatRequest struct {
	Messages     []Message          `json:"messages"`
	Tools        []tools.Definition `json:"tools"`
	SystemPrompt string             `json:"system_prompt,omitempty"`
}

// ChatResponse is the adapter's reply. A response with no tool calls is
// final; Content may still be null or empty.
type ChatResponse struct {
	Content      *string    `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls"`
	FinishReason string     `json:"finish_reason"`
}

// Text returns Content, or "" when it is null.
func (r *ChatResponse) Text() string {
	if r == nil || r.Content == nil {
		return ""
	}
	return *r.Content
}

// UserMessage builds a user turn.
func UserMessage(text string) Message {
	return Message{Role: "user", Content: &text}
}

// AssistantMessage echoes a model reply that requested tools. The calls
// are rendered exactly as received, in order.
func AssistantMessage(content *string, calls []ToolCall) Message {
	out := make([]MessageToolCall, len(calls))
	for i, c := range calls {
		args, err := json.Marshal(c.Arguments)
		if err != nil || c.Arguments == nil {
			args = []byte("{}")
		}
		out[i] = MessageToolCall{
			ID:   c.ID,
			Type: "function",
			Function: FunctionCall{
				Name:      c.Name,
				Arguments: string(args),
			},
		}
	}
	return Message{Role: "assistant", Content: content, ToolCalls: out}
}

// ToolMessage carries one tool result back to the model.
func ToolMessage(callID, content string) Message {
	return Message{Role: "tool", Content: &content, ToolCallID: callID}
}
