package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nugget/homelab-assistant/internal/api"
	"github.com/nugget/homelab-assistant/internal/config"
)

// fakeOrchestrator answers /chat with a fixed status and body and
// records what the gateway forwarded.
type fakeOrchestrator struct {
	status int
	body   string
	hits   atomic.Int32
	last   atomic.Value // api.ChatRequest
}

func (f *fakeOrchestrator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	var req api.ChatRequest
	json.NewDecoder(r.Body).Decode(&req)
	f.last.Store(req)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.status)
	io.WriteString(w, f.body)
}

func okOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		status: http.StatusOK,
		body:   `{"message":"CPU is at 12%.","conversation_id":"conv-1","tool_calls_made":["get_system_resources"]}`,
	}
}

func newTestGateway(t *testing.T, apiKey string, requests int, orch http.Handler) *Server {
	t.Helper()
	backend := httptest.NewServer(orch)
	t.Cleanup(backend.Close)
	return NewServer(config.GatewayConfig{
		APIKey:          apiKey,
		OrchestratorURL: backend.URL,
		TimeoutSec:      5,
		RateLimit:       config.RateLimitConfig{Requests: requests, WindowSec: 60},
	}, nil)
}

func postChat(t *testing.T, h http.Handler, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["detail"]
}

func TestChat_Forwards(t *testing.T) {
	orch := okOrchestrator()
	h := newTestGateway(t, "secret", 10, orch).Handler()

	rec := postChat(t, h, "secret", `{"message":"cpu?","conversation_id":"conv-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp api.ChatResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Message != "CPU is at 12%." || len(resp.ToolCallsMade) != 1 {
		t.Errorf("response = %+v", resp)
	}

	got := orch.last.Load().(api.ChatRequest)
	if got.Message != "cpu?" || got.ConversationID != "conv-1" {
		t.Errorf("forwarded = %+v", got)
	}
}

func TestChat_Auth(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		sent       string
		wantCode   int
		wantDetail string
	}{
		{"missing key", "secret", "", http.StatusUnauthorized, "Missing API key"},
		{"wrong key", "secret", "guess", http.StatusUnauthorized, "Invalid API key"},
		{"right key", "secret", "secret", http.StatusOK, ""},
		{"auth disabled, no key", "", "", http.StatusOK, ""},
		{"auth disabled, any key", "", "whatever", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := okOrchestrator()
			h := newTestGateway(t, tt.configured, 10, orch).Handler()

			rec := postChat(t, h, tt.sent, `{"message":"hi"}`)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantDetail != "" {
				if d := detail(t, rec); d != tt.wantDetail {
					t.Errorf("detail = %q, want %q", d, tt.wantDetail)
				}
				if orch.hits.Load() != 0 {
					t.Error("rejected request reached the orchestrator")
				}
			}
		})
	}
}

func TestChat_RateLimit(t *testing.T) {
	orch := okOrchestrator()
	h := newTestGateway(t, "secret", 2, orch).Handler()

	for i := range 2 {
		if rec := postChat(t, h, "secret", `{"message":"hi"}`); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}

	rec := postChat(t, h, "secret", `{"message":"hi"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if d := detail(t, rec); d != "Rate limit exceeded. Max 2 requests per 60 seconds" {
		t.Errorf("detail = %q", d)
	}
	if ra, err := strconv.Atoi(rec.Header().Get("Retry-After")); err != nil || ra < 1 || ra > 60 {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	if orch.hits.Load() != 2 {
		t.Errorf("orchestrator hits = %d, want 2", orch.hits.Load())
	}
}

func TestChat_RateLimitAnonymousShared(t *testing.T) {
	h := newTestGateway(t, "", 1, okOrchestrator()).Handler()

	postChat(t, h, "", `{"message":"a"}`)
	if rec := postChat(t, h, "", `{"message":"b"}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second anonymous request status = %d, want 429", rec.Code)
	}
}

func TestChat_RateLimitAnonymousIgnoresKeyHeader(t *testing.T) {
	orch := okOrchestrator()
	h := newTestGateway(t, "", 1, orch).Handler()

	postChat(t, h, "key-1", `{"message":"a"}`)
	if rec := postChat(t, h, "key-2", `{"message":"b"}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("rotated key status = %d, want 429", rec.Code)
	}

	// A different peer has its own budget.
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"c"}`))
	req.RemoteAddr = "198.51.100.7:40000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("other peer status = %d, want 200", rec.Code)
	}
	if orch.hits.Load() != 2 {
		t.Errorf("orchestrator hits = %d, want 2", orch.hits.Load())
	}
}

func TestRemoteHost(t *testing.T) {
	tests := map[string]string{
		"192.0.2.1:1234":    "192.0.2.1",
		"[2001:db8::1]:443": "2001:db8::1",
		"@":                 "@",
	}
	for addr, want := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = addr
		if got := remoteHost(r); got != want {
			t.Errorf("remoteHost(%q) = %q, want %q", addr, got, want)
		}
	}
}

func TestChat_OrchestratorErrorPassthrough(t *testing.T) {
	orch := &fakeOrchestrator{status: http.StatusBadGateway, body: `{"detail":"LLM adapter unavailable"}`}
	h := newTestGateway(t, "", 10, orch).Handler()

	rec := postChat(t, h, "", `{"message":"hi"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if d := detail(t, rec); d != "LLM adapter unavailable" {
		t.Errorf("detail = %q, want orchestrator detail", d)
	}
}

func TestRelayDetail(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"detail":"agent error: boom"}`, "agent error: boom"},
		{`{"detail":""}`, `{"detail":""}`},
		{"upstream exploded", "upstream exploded"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := relayDetail(tt.body); got != tt.want {
			t.Errorf("relayDetail(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestChat_OrchestratorUnreachable(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	url := backend.URL
	backend.Close()

	h := NewServer(config.GatewayConfig{
		OrchestratorURL: url,
		TimeoutSec:      2,
		RateLimit:       config.RateLimitConfig{Requests: 10, WindowSec: 60},
	}, nil).Handler()

	rec := postChat(t, h, "", `{"message":"hi"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if d := detail(t, rec); d != "Backend service unavailable" {
		t.Errorf("detail = %q", d)
	}
}

func TestChat_MalformedBody(t *testing.T) {
	orch := okOrchestrator()
	h := newTestGateway(t, "", 10, orch).Handler()

	rec := postChat(t, h, "", `{"message":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if orch.hits.Load() != 0 {
		t.Error("malformed body was forwarded")
	}
}

func TestHealth_NoAuth(t *testing.T) {
	h := newTestGateway(t, "secret", 10, okOrchestrator()).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "healthy" || body["service"] != "gateway" {
		t.Errorf("body = %v", body)
	}
}

func TestCORS(t *testing.T) {
	h := newTestGateway(t, "secret", 10, okOrchestrator()).Handler()

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
		req.Header.Set("Origin", "http://frontend.lan")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "content-type, x-api-key")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("Allow-Origin = %q", got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "POST, GET" {
			t.Errorf("Allow-Methods = %q", got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "content-type, x-api-key" {
			t.Errorf("Allow-Headers = %q", got)
		}
	})

	t.Run("simple request", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("Allow-Origin = %q", got)
		}
	})
}
