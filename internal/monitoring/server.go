package monitoring

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nugget/homelab-assistant/internal/buildinfo"
)

// ResourceCollector produces a host resource snapshot.
type ResourceCollector interface {
	Collect(ctx context.Context) (*SystemResources, error)
}

// ContainerLister produces the container list.
type ContainerLister interface {
	ListContainers(ctx context.Context) ([]Container, error)
}

// Server is the monitoring HTTP service.
type Server struct {
	addr       string
	system     ResourceCollector
	containers ContainerLister
	logger     *slog.Logger
	server     *http.Server
}

// NewServer creates a monitoring server listening on addr.
func NewServer(addr string, system ResourceCollector, containers ContainerLister, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:       addr,
		system:     system,
		containers: containers,
		logger:     logger,
	}
}

// Handler returns the routed handler, wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /system/resources", s.handleSystemResources)
	mux.HandleFunc("GET /containers", s.handleContainers)
	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}
	s.logger.Info("starting monitoring server", "address", s.addr)
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

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "tool-monitoring",
		"build":   buildinfo.Info(),
	})
}

func (s *Server) handleSystemResources(w http.ResponseWriter, r *http.Request) {
	res, err := s.system.Collect(r.Context())
	if err != nil {
		s.logger.Error("system resource collection failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleContainers(w http.ResponseWriter, r *http.Request) {
	list, err := s.containers.ListContainers(r.Context())
	if err != nil {
		s.logger.Error("container listing failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	if list == nil {
		list = []Container{}
	}
	s.writeJSON(w, http.StatusOK, list)
}
