// Package gateway is the public edge of the homelab assistant. It
// authenticates callers by API key, rate-limits them per key, and
// forwards chat requests to the orchestrator unchanged.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nugget/homelab-assistant/internal/api"
	"github.com/nugget/homelab-assistant/internal/config"
	"github.com/nugget/homelab-assistant/internal/httpkit"
)

// APIKeyHeader carries the caller's key.
const APIKeyHeader = "X-API-Key"

// anonymousPrefix marks rate-limit keys for callers admitted without
// authentication; the rest of the key is their remote host.
const anonymousPrefix = "anonymous:"

// Server is the gateway HTTP server.
type Server struct {
	addr            string
	apiKey          string
	orchestratorURL string
	limit           config.RateLimitConfig
	limiter         *Limiter
	client          *http.Client
	logger          *slog.Logger
	server          *http.Server
}

// NewServer creates a gateway from its config section. An empty API key
// disables authentication.
func NewServer(cfg config.GatewayConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:            cfg.Listen.Addr(),
		apiKey:          cfg.APIKey,
		orchestratorURL: strings.TrimRight(cfg.OrchestratorURL, "/"),
		limit:           cfg.RateLimit,
		limiter:         NewLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window()),
		client:          httpkit.NewClient(httpkit.WithTimeout(cfg.Timeout())),
		logger:          logger,
	}
}

// Handler returns the routed handler with CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return s.withLogging(withCORS(mux))
}

// Start begins serving HTTP requests and pruning idle rate-limit
// keys. It blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	if s.apiKey == "" {
		s.logger.Warn("API key not set, authentication disabled; rate limiting by remote address")
	}

	go s.pruneLoop(ctx)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 130 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}
	s.logger.Info("starting gateway",
		"address", s.addr,
		"orchestrator", s.orchestratorURL,
		"rate_limit", s.limit.Requests,
		"window", s.limit.Window(),
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(s.limiter.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Prune(); n > 0 {
				s.logger.Debug("pruned idle rate-limit keys", "count", n)
			}
			rateLimitKeys.Set(float64(s.limiter.Len()))
		}
	}
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

// withCORS allows any origin to call POST and GET endpoints and answers
// preflight requests directly.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "POST, GET")
		if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
			h.Set("Access-Control-Allow-Headers", reqHeaders)
		} else {
			h.Set("Access-Control-Allow-Headers", "*")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
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
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "gateway",
	})
}

// authenticate returns the rate-limit key for r, or writes a 401 and
// returns false. With auth disabled the client-supplied header is
// ignored so rotating it cannot buy a fresh budget.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.apiKey == "" {
		return anonymousPrefix + remoteHost(r), true
	}
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		requestsRejectedTotal.WithLabelValues(rejectMissingKey).Inc()
		s.errorResponse(w, http.StatusUnauthorized, "Missing API key")
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
		requestsRejectedTotal.WithLabelValues(rejectInvalidKey).Inc()
		s.logger.Warn("invalid API key", "remote", r.RemoteAddr)
		s.errorResponse(w, http.StatusUnauthorized, "Invalid API key")
		return "", false
	}
	return key, true
}

// remoteHost is the peer address of r without its port.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handleChat authenticates, rate-limits, and forwards one chat request.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	key, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	if allowed, wait := s.limiter.Allow(key); !allowed {
		requestsRejectedTotal.WithLabelValues(rejectRateLimited).Inc()
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
		s.errorResponse(w, http.StatusTooManyRequests, fmt.Sprintf(
			"Rate limit exceeded. Max %d requests per %d seconds",
			s.limit.Requests, s.limit.WindowSec,
		))
		return
	}

	var req api.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		requestsRejectedTotal.WithLabelValues(rejectBadRequest).Inc()
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, code, detail := s.forward(r.Context(), &req)
	requestsForwardedTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	if resp == nil {
		s.errorResponse(w, code, detail)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// forward posts req to the orchestrator. On failure it returns the
// status code and detail to relay: the orchestrator's own code and body
// for HTTP errors, 502 when it cannot be reached.
func (s *Server) forward(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, int, string) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "gateway.forward",
		trace.WithAttributes(attribute.String("conversation.id", req.ConversationID)),
	)
	defer span.End()

	start := time.Now()
	var resp api.ChatResponse
	err := httpkit.DoJSON(ctx, s.client, http.MethodPost, s.orchestratorURL+"/chat", req, &resp)
	forwardDurationSeconds.Observe(time.Since(start).Seconds())

	if err == nil {
		span.SetAttributes(attribute.Int("http.status_code", http.StatusOK))
		return &resp, http.StatusOK, ""
	}

	span.RecordError(err)
	var statusErr *httpkit.StatusError
	if errors.As(err, &statusErr) {
		span.SetAttributes(attribute.Int("http.status_code", statusErr.StatusCode))
		span.SetStatus(codes.Error, "orchestrator error")
		s.logger.Error("orchestrator returned error", "status", statusErr.StatusCode)
		return nil, statusErr.StatusCode, relayDetail(statusErr.Body)
	}

	span.SetStatus(codes.Error, "orchestrator unreachable")
	s.logger.Error("failed to reach orchestrator", "error", err)
	return nil, http.StatusBadGateway, "Backend service unavailable"
}

// relayDetail unwraps an upstream {"detail": "..."} body so the client
// sees one level of error object. Any other body is relayed verbatim.
func relayDetail(body string) string {
	var upstream struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal([]byte(body), &upstream); err == nil && upstream.Detail != "" {
		return upstream.Detail
	}
	return body
}
