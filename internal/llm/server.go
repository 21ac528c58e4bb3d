package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Server is the LLM adapter HTTP service. It hides provider wire
// formats behind the ChatRequest/ChatResponse contract.
type Server struct {
	addr     string
	provider Provider
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates an adapter server. A nil provider is allowed; /chat
// then answers 503 until one is configured.
func NewServer(addr string, provider Provider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{addr: addr, provider: provider, logger: logger}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}
	name := "none"
	if s.provider != nil {
		name = s.provider.Name()
	}
	s.logger.Info("starting llm adapter", "address", s.addr, "provider", name)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, detail string) {
	s.writeJSON(w, code, map[string]string{"detail": detail})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	name := "none"
	if s.provider != nil {
		name = s.provider.Name()
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "healthy",
		"service":  "llm-adapter",
		"provider": name,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "LLM provider not configured")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "llm.chat",
		trace.WithAttributes(
			attribute.String("llm.provider", s.provider.Name()),
			attribute.Int("llm.messages", len(req.Messages)),
			attribute.Int("llm.tools", len(req.Tools)),
		),
	)
	defer span.End()

	resp, err := s.provider.Chat(ctx, req.Messages, req.Tools, req.SystemPrompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider chat failed")
		s.logger.Error("provider chat failed", "provider", s.provider.Name(), "error", err)
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if resp.ToolCalls == nil {
		resp.ToolCalls = []ToolCall{}
	}

	span.SetAttributes(
		attribute.Int("llm.tool_calls", len(resp.ToolCalls)),
		attribute.String("llm.finish_reason", resp.FinishReason),
	)
	s.writeJSON(w, http.StatusOK, resp)
}
