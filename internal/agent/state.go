package agent

import (
	"errors"
	"fmt"

	"github.com/nugget/homelab-assistant/internal/llm"
	"github.com/nugget/homelab-assistant/internal/prompts"
)

// MaxRoundTrips bounds model calls per chat.
const MaxRoundTrips = 5

// Phase is where a conversation turn stands.
type Phase int

const (
	// AwaitingModel: the next step is a model call.
	AwaitingModel Phase = iota
	// ExecutingTools: the model asked for tools; results are pending.
	ExecutingTools
	// Done: a final answer is available.
	Done
	// BoundExceeded: the round-trip budget ran out before an answer.
	BoundExceeded
)

func (p Phase) String() string {
	switch p {
	case AwaitingModel:
		return "awaiting_model"
	case ExecutingTools:
		return "executing_tools"
	case Done:
		return "done"
	case BoundExceeded:
		return "bound_exceeded"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Terminal reports whether no further transitions apply.
func (p Phase) Terminal() bool { return p == Done || p == BoundExceeded }

// ToolResult is the outcome of one requested tool call. Content is the
// text handed back to the model, already folded to "Error: ..." on
// failure.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
}

// Errors returned by ApplyToolResults.
var (
	ErrWrongPhase     = errors.New("transition not valid in current phase")
	ErrResultMismatch = errors.New("tool results do not match pending calls")
)

// State is an immutable snapshot of one chat turn. Transitions return
// a new State and never modify the receiver's slices.
type State struct {
	Phase          Phase
	ConversationID string
	UserMessage    string

	// History is everything sent to the model on the next call.
	History []llm.Message

	// Pending holds the calls from the latest reply while Phase is
	// ExecutingTools, with the reply's content.
	Pending        []llm.ToolCall
	PendingContent *string

	// ToolNames lists every tool invoked, in invocation order, including
	// failed calls.
	ToolNames []string

	RoundTrips int
	Answer     string
}

// Begin seeds a turn with the user's message.
func Begin(conversationID, message string) State {
	return State{
		Phase:          AwaitingModel,
		ConversationID: conversationID,
		UserMessage:    message,
		History:        []llm.Message{llm.UserMessage(message)},
		ToolNames:      []string{},
	}
}

// ApplyModelReply consumes one model reply. A reply without tool calls
// finishes the turn; otherwise the calls become pending. Outside
// AwaitingModel the state is returned unchanged.
func (s State) ApplyModelReply(reply llm.ChatResponse) State {
	if s.Phase != AwaitingModel {
		return s
	}
	next := s
	next.RoundTrips++

	if len(reply.ToolCalls) == 0 {
		next.Phase = Done
		next.Answer = reply.Text()
		if next.Answer == "" {
			next.Answer = prompts.EmptyResponseFallback
		}
		return next
	}

	next.Phase = ExecutingTools
	next.Pending = append([]llm.ToolCall(nil), reply.ToolCalls...)
	next.PendingContent = reply.Content
	return next
}

// ApplyToolResults appends the assistant turn and one tool turn per
// result. Results must correspond one-to-one, in order, with the pending
// calls. When the round-trip budget is spent the turn ends in
// BoundExceeded.
func (s State) ApplyToolResults(results []ToolResult) (State, error) {
	if s.Phase != ExecutingTools {
		return s, fmt.Errorf("apply tool results in %s: %w", s.Phase, ErrWrongPhase)
	}
	if len(results) != len(s.Pending) {
		return s, fmt.Errorf("%d results for %d calls: %w", len(results), len(s.Pending), ErrResultMismatch)
	}
	for i, r := range results {
		if r.CallID != s.Pending[i].ID {
			return s, fmt.Errorf("result %d has id %q, want %q: %w", i, r.CallID, s.Pending[i].ID, ErrResultMismatch)
		}
	}

	next := s
	next.History = make([]llm.Message, 0, len(s.History)+1+len(results))
	next.History = append(next.History, s.History...)
	next.History = append(next.History, llm.AssistantMessage(s.PendingContent, s.Pending))

	next.ToolNames = append([]string{}, s.ToolNames...)
	for _, r := range results {
		next.History = append(next.History, llm.ToolMessage(r.CallID, r.Content))
		next.ToolNames = append(next.ToolNames, r.Name)
	}
	next.Pending = nil
	next.PendingContent = nil

	if next.RoundTrips >= MaxRoundTrips {
		next.Phase = BoundExceeded
		next.Answer = prompts.BoundExceededFallback
		return next, nil
	}
	next.Phase = AwaitingModel
	return next, nil
}
