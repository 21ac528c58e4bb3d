package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/homelab-assistant/internal/httpkit"
	"github.com/nugget/homelab-assistant/internal/tools"
)

// Provider turns a chat request into a model reply.
type Provider interface {
	// Name identifies the provider in logs, metrics, and /health.
	Name() string
	Chat(ctx context.Context, messages []Message, defs []tools.Definition, systemPrompt string) (*ChatResponse, error)
}

// Default endpoints and models for the supported providers.
const (
	OpenAIBaseURL = "https://api.openai.com/v1"
	OpenAIModel   = "gpt-4o-mini"
	GroqBaseURL   = "https://api.groq.com/openai/v1"
	GroqModel     = "llama-3.3-70b-versatile"
)

// ErrEmptyChoices is returned when a provider answers without choices.
var ErrEmptyChoices = errors.New("provider returned no choices")

// OpenAIProvider speaks the OpenAI chat-completions protocol. Groq
// exposes the same protocol under a different base URL.
type OpenAIProvider struct {
	name       string
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIProvider creates a provider. Empty model or baseURL fall back
// to the OpenAI defaults.
func NewOpenAIProvider(name, apiKey, model, baseURL string, timeout time.Duration, logger *slog.Logger) *OpenAIProvider {
	if model == "" {
		model = OpenAIModel
	}
	if baseURL == "" {
		baseURL = OpenAIBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIProvider{
		name:       name,
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(httpkit.WithTimeout(timeout)),
		logger:     logger,
	}
}

// NewGroqProvider creates a provider for Groq's OpenAI-compatible API.
func NewGroqProvider(apiKey, model string, timeout time.Duration, logger *slog.Logger) *OpenAIProvider {
	if model == "" {
		model = GroqModel
	}
	return NewOpenAIProvider("groq", apiKey, model, GroqBaseURL, timeout, logger)
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return p.name }

// Model returns the configured model.
func (p *OpenAIProvider) Model() string { return p.model }

type completionRequest struct {
	Model    string               `json:"model"`
	Messages []Message            `json:"messages"`
	Tools    []tools.FunctionTool `json:"tools,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content   *string           `json:"content"`
			ToolCalls []MessageToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat prepends the system prompt, advertises defs as function tools,
// and decodes the first choice.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, defs []tools.Definition, systemPrompt string) (*ChatResponse, error) {
	msgs := make([]Message, 0, len(messages)+1)
	if systemPrompt != "" {
		sp := systemPrompt
		msgs = append(msgs, Message{Role: "system", Content: &sp})
	}
	msgs = append(msgs, messages...)

	body := completionRequest{
		Model:    p.model,
		Messages: msgs,
	}
	if len(defs) > 0 {
		body.Tools = tools.Schemas(defs)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	p.logger.Log(ctx, LevelTrace, "provider request", "provider", p.name, "payload", string(payload))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		recordProviderMetrics(p.name, time.Since(start), 0, 0, err)
		return nil, fmt.Errorf("%s request failed: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		err := &httpkit.StatusError{
			Method:     http.MethodPost,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       httpkit.ReadErrorBody(resp.Body, httpkit.MaxErrorBody),
		}
		recordProviderMetrics(p.name, time.Since(start), 0, 0, err)
		return nil, fmt.Errorf("%s API error: %w", p.name, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)

	var cr completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		recordProviderMetrics(p.name, time.Since(start), 0, 0, err)
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		recordProviderMetrics(p.name, time.Since(start), 0, 0, ErrEmptyChoices)
		return nil, ErrEmptyChoices
	}

	choice := cr.Choices[0]
	out := &ChatResponse{
		Content:      choice.Message.Content,
		ToolCalls:    []ToolCall{},
		FinishReason: choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		args, err := decodeArguments(tc.Function.Arguments)
		if err != nil {
			recordProviderMetrics(p.name, time.Since(start), 0, 0, err)
			return nil, fmt.Errorf("tool call %s (%s): %w", tc.ID, tc.Function.Name, err)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	recordProviderMetrics(p.name, time.Since(start), cr.Usage.PromptTokens, cr.Usage.CompletionTokens, nil)
	p.logger.Debug("provider response",
		"provider", p.name,
		"model", p.model,
		"tool_calls", len(out.ToolCalls),
		"finish_reason", out.FinishReason,
		"input_tokens", cr.Usage.PromptTokens,
		"output_tokens", cr.Usage.CompletionTokens,
		"duration", time.Since(start),
	)
	return out, nil
}

// decodeArguments parses the JSON-encoded argument object. Some models
// send an empty string for parameterless tools.
func decodeArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
