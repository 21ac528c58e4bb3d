// Package api implements the orchestrator HTTP service: the chat entry
// point the gateway forwards to, plus health, tool administration, and
// session lookup.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/homelab-assistant/internal/agent"
	"github.com/nugget/homelab-assistant/internal/buildinfo"
	"github.com/nugget/homelab-assistant/internal/connwatch"
	"github.com/nugget/homelab-assistant/internal/store"
	"github.com/nugget/homelab-assistant/internal/tools"
)

// Runner executes one chat turn. *agent.Loop satisfies it.
type Runner interface {
	Run(ctx context.Context, req *agent.Request) (*agent.Response, error)
}

// Store is the persistence the orchestrator needs. *store.Store
// satisfies it.
type Store interface {
	RecordSession(ctx context.Context, conversationID string) error
	GetSession(ctx context.Context, conversationID string) (*store.Session, error)
	EnabledTools(ctx context.Context) (tools.EnabledSet, error)
	ListTools(ctx context.Context) ([]store.ToolState, error)
	SetToolEnabled(ctx context.Context, name string, enabled bool) error
}

// HealthReporter exposes dependency status. *connwatch.Manager
// satisfies it.
type HealthReporter interface {
	Status() []connwatch.ServiceStatus
	AllReady() bool
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatResponse is the body returned by POST /chat.
type ChatResponse struct {
	Message        string   `json:"message"`
	ConversationID string   `json:"conversation_id"`
	ToolCallsMade  []string `json:"tool_calls_made"`
}

// Server is the orchestrator HTTP server.
type Server struct {
	addr   string
	runner Runner
	store  Store
	health HealthReporter
	logger *slog.Logger
	server *http.Server
}

// NewServer creates an orchestrator server. health may be nil, in which
// case /health reports no dependencies.
func NewServer(addr string, runner Runner, st Store, health HealthReporter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:   addr,
		runner: runner,
		store:  st,
		health: health,
		logger: logger,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", s.handleChat)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /tools", s.handleToolList)
	mux.HandleFunc("PUT /tools/{name}", s.handleToolUpdate)

	mux.HandleFunc("GET /sessions/{id}", s.handleSessionGet)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // a chat turn can span five model round-trips
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}
	s.logger.Info("starting orchestrator", "address", s.addr)
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
		s.logger.Info("request",
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

// errorResponse writes {"detail": ...}, the shape every homelab service
// uses for errors.
func (s *Server) errorResponse(w http.ResponseWriter, code int, detail string) {
	s.writeJSON(w, code, map[string]string{"detail": detail})
}

// handleChat runs one agent turn.
// POST /chat {"message": "how busy is the CPU?"}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	convID := req.ConversationID
	if convID == "" {
		convID = uuid.NewString()
	}
	ctx := r.Context()
	log := s.logger.With("conversation_id", convID)

	if err := s.store.RecordSession(ctx, convID); err != nil {
		log.Error("record session failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to record session")
		return
	}

	enabled, err := s.store.EnabledTools(ctx)
	if err != nil {
		log.Error("load enabled tools failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load enabled tools")
		return
	}

	resp, err := s.runner.Run(ctx, &agent.Request{
		Message:        req.Message,
		ConversationID: convID,
		Enabled:        enabled,
	})
	switch {
	case errors.Is(err, agent.ErrBackendUnavailable):
		s.errorResponse(w, http.StatusBadGateway, "LLM adapter unavailable")
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Info("chat request ended before an answer", "error", err)
		s.errorResponse(w, http.StatusGatewayTimeout, "request cancelled")
		return
	case err != nil:
		log.Error("agent loop failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "agent error: "+err.Error())
		return
	}

	names := resp.ToolNames
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, http.StatusOK, ChatResponse{
		Message:        resp.Answer,
		ConversationID: convID,
		ToolCallsMade:  names,
	})
}

// HealthResponse is the body of GET /health. Status is "degraded" when
// any watched dependency failed its last probe; the orchestrator itself
// still answers 200.
type HealthResponse struct {
	Status        string                    `json:"status"`
	Service       string                    `json:"service"`
	Version       string                    `json:"version"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	Dependencies  []connwatch.ServiceStatus `json:"dependencies"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "healthy",
		Service:       "orchestrator",
		Version:       buildinfo.Version,
		UptimeSeconds: int64(buildinfo.Uptime().Seconds()),
		Dependencies:  []connwatch.ServiceStatus{},
	}
	if s.health != nil {
		resp.Dependencies = s.health.Status()
		if !s.health.AllReady() {
			resp.Status = "degraded"
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, buildinfo.Info())
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.store.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.Error("get session failed", "conversation_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}
