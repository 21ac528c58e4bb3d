// Package audit records completed conversations to an append-only
// JSON Lines log and any number of mirrors.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is one completed chat turn. Field names are the on-disk JSONL
// keys.
type Record struct {
	Timestamp         time.Time `json:"timestamp"`
	ConversationID    string    `json:"conversation_id"`
	UserMessage       string    `json:"user_message"`
	AssistantResponse string    `json:"assistant_response"`
	ToolCalls         []string  `json:"tool_calls"`
}

// NewRecord stamps a record with the current UTC time. A nil tool list
// is stored as an empty array.
func NewRecord(conversationID, userMessage, response string, toolCalls []string) Record {
	if toolCalls == nil {
		toolCalls = []string{}
	}
	return Record{
		Timestamp:         time.Now().UTC(),
		ConversationID:    conversationID,
		UserMessage:       userMessage,
		AssistantResponse: response,
		ToolCalls:         toolCalls,
	}
}

// Sink accepts audit records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// FileSink appends records to a JSONL file, creating parent directories
// on demand. Writes are serialized so concurrent chats never interleave
// within a line.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink returns a sink writing to path. Nothing is touched on disk
// until the first Write.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Path returns the log file location.
func (s *FileSink) Path() string { return s.path }

// Write appends rec as one JSON line.
func (s *FileSink) Write(_ context.Context, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create audit directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("write audit log: %w", err)
	}
	return f.Close()
}

// MultiSink fans a record out to every sink, in order. All sinks are
// attempted; their errors are joined.
type MultiSink []Sink

// Write implements Sink.
func (m MultiSink) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DefaultTimeout bounds a best-effort delivery.
const DefaultTimeout = 2 * time.Second

// BestEffort wraps a sink so failures are logged and never returned.
type BestEffort struct {
	sink    Sink
	timeout time.Duration
	logger  *slog.Logger
}

// NewBestEffort wraps sink. A zero timeout uses DefaultTimeout.
func NewBestEffort(sink Sink, timeout time.Duration, logger *slog.Logger) *BestEffort {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BestEffort{sink: sink, timeout: timeout, logger: logger}
}

// Write delivers rec within the timeout. It always returns nil.
func (b *BestEffort) Write(ctx context.Context, rec Record) error {
	if b.sink == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()

	if err := b.sink.Write(ctx, rec); err != nil {
		b.logger.Warn("audit write failed",
			"conversation_id", rec.ConversationID,
			"error", err,
		)
		return nil
	}
	b.logger.Debug("audit record written", "conversation_id", rec.ConversationID)
	return nil
}
