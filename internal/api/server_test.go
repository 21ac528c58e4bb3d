package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nugget/homelab-assistant/internal/agent"
	"github.com/nugget/homelab-assistant/internal/connwatch"
	"github.com/nugget/homelab-assistant/internal/store"
)

// fakeRunner records agent requests and returns a canned result.
type fakeRunner struct {
	mu    sync.Mutex
	calls []*agent.Request
	resp  *agent.Response
	err   error
}

func (f *fakeRunner) Run(_ context.Context, req *agent.Request) (*agent.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	resp := *f.resp
	resp.ConversationID = req.ConversationID
	return &resp, nil
}

type fakeHealth struct {
	status []connwatch.ServiceStatus
}

func (f fakeHealth) Status() []connwatch.ServiceStatus { return f.status }

func (f fakeHealth) AllReady() bool {
	for _, s := range f.status {
		if !s.Ready {
			return false
		}
	}
	return true
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "orchestrator.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st, err := store.NewStore(context.Background(), db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return st
}

func newTestServer(t *testing.T, runner Runner, health HealthReporter) (*Server, *store.Store) {
	t.Helper()
	st := newTestStore(t)
	return NewServer(":0", runner, st, health, nil), st
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["detail"]
}

func TestChat_DirectAnswer(t *testing.T) {
	runner := &fakeRunner{resp: &agent.Response{Answer: "All good.", RoundTrips: 1}}
	srv, st := newTestServer(t, runner, nil)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/chat", `{"message":"hello","conversation_id":"conv-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp ChatResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Message != "All good." || resp.ConversationID != "conv-1" {
		t.Errorf("response = %+v", resp)
	}
	if resp.ToolCallsMade == nil || len(resp.ToolCallsMade) != 0 {
		t.Errorf("tool_calls_made = %#v, want empty non-nil", resp.ToolCallsMade)
	}

	sess, err := st.GetSession(context.Background(), "conv-1")
	if err != nil || sess.MessageCount != 1 {
		t.Errorf("session = %+v, %v", sess, err)
	}

	if len(runner.calls) != 1 {
		t.Fatalf("runner calls = %d", len(runner.calls))
	}
	got := runner.calls[0]
	if got.Message != "hello" || got.Enabled.Len() != 2 {
		t.Errorf("agent request = %+v (enabled %v)", got, got.Enabled.Names())
	}
}

func TestChat_ToolCallsJSON(t *testing.T) {
	runner := &fakeRunner{resp: &agent.Response{
		Answer:    "CPU is at 12%.",
		ToolNames: []string{"get_system_resources"},
	}}
	srv, _ := newTestServer(t, runner, nil)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/chat", `{"message":"cpu?","conversation_id":"c"}`)
	want := `{"message":"CPU is at 12%.","conversation_id":"c","tool_calls_made":["get_system_resources"]}` + "\n"
	if rec.Body.String() != want {
		t.Errorf("body = %s\nwant %s", rec.Body, want)
	}
}

func TestChat_GeneratesConversationID(t *testing.T) {
	runner := &fakeRunner{resp: &agent.Response{Answer: "hi"}}
	srv, _ := newTestServer(t, runner, nil)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/chat", `{"message":"hello"}`)
	var resp ChatResponse
	json.NewDecoder(rec.Body).Decode(&resp)

	if _, err := uuid.Parse(resp.ConversationID); err != nil {
		t.Errorf("conversation_id %q is not a UUID: %v", resp.ConversationID, err)
	}
	if runner.calls[0].ConversationID != resp.ConversationID {
		t.Errorf("agent saw %q, response has %q", runner.calls[0].ConversationID, resp.ConversationID)
	}
}

func TestChat_EmptyMessageAccepted(t *testing.T) {
	runner := &fakeRunner{resp: &agent.Response{Answer: "What can I help with?"}}
	srv, _ := newTestServer(t, runner, nil)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/chat", `{"message":""}`)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if len(runner.calls) != 1 || runner.calls[0].Message != "" {
		t.Errorf("empty message not forwarded: %+v", runner.calls)
	}
}

func TestChat_MalformedBody(t *testing.T) {
	runner := &fakeRunner{resp: &agent.Response{}}
	srv, _ := newTestServer(t, runner, nil)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/chat", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if len(runner.calls) != 0 {
		t.Error("runner should not be called for a malformed body")
	}
}

func TestChat_SnapshotsEnabledTools(t *testing.T) {
	runner := &fakeRunner{resp: &agent.Response{Answer: "ok"}}
	srv, st := newTestServer(t, runner, nil)

	if err := st.SetToolEnabled(context.Background(), "list_containers", false); err != nil {
		t.Fatal(err)
	}
	doRequest(t, srv.Handler(), http.MethodPost, "/chat", `{"message":"containers?"}`)

	enabled := runner.calls[0].Enabled
	if enabled.Contains("list_containers") || !enabled.Contains("get_system_resources") {
		t.Errorf("enabled = %v", enabled.Names())
	}
}

func TestChat_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantDetail string
	}{
		{
			name:       "backend unavailable",
			err:        fmt.Errorf("%w: %w", agent.ErrBackendUnavailable, errors.New("connection refused")),
			wantCode:   http.StatusBadGateway,
			wantDetail: "LLM adapter unavailable",
		},
		{
			name:       "cancelled",
			err:        context.Canceled,
			wantCode:   http.StatusGatewayTimeout,
			wantDetail: "request cancelled",
		},
		{
			name:       "deadline",
			err:        fmt.Errorf("round trip: %w", context.DeadlineExceeded),
			wantCode:   http.StatusGatewayTimeout,
			wantDetail: "request cancelled",
		},
		{
			name:       "other failure",
			err:        errors.New("tool catalogue empty"),
			wantCode:   http.StatusInternalServerError,
			wantDetail: "agent error: tool catalogue empty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &fakeRunner{err: tt.err}, nil)
			rec := doRequest(t, srv.Handler(), http.MethodPost, "/chat", `{"message":"hi"}`)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if d := decodeDetail(t, rec); d != tt.wantDetail {
				t.Errorf("detail = %q, want %q", d, tt.wantDetail)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		health     HealthReporter
		wantStatus string
		wantDeps   int
	}{
		{"no watchers", nil, "healthy", 0},
		{"all ready", fakeHealth{status: []connwatch.ServiceStatus{
			{Name: "llm-adapter", Ready: true},
			{Name: "monitoring", Ready: true},
		}}, "healthy", 2},
		{"one down", fakeHealth{status: []connwatch.ServiceStatus{
			{Name: "llm-adapter", Ready: true},
			{Name: "monitoring", Ready: false, LastError: "connection refused"},
		}}, "degraded", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &fakeRunner{}, tt.health)
			rec := doRequest(t, srv.Handler(), http.MethodGet, "/health", "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.wantStatus || resp.Service != "orchestrator" {
				t.Errorf("status = %q service = %q", resp.Status, resp.Service)
			}
			if len(resp.Dependencies) != tt.wantDeps {
				t.Errorf("dependencies = %d, want %d", len(resp.Dependencies), tt.wantDeps)
			}
		})
	}
}

func TestToolList(t *testing.T) {
	srv, st := newTestServer(t, &fakeRunner{}, nil)
	st.SetToolEnabled(context.Background(), "list_containers", false)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/tools", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Tools []struct {
			Name    string `json:"name"`
			Enabled bool   `json:"enabled"`
		} `json:"tools"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Tools) != 2 {
		t.Fatalf("tools = %+v", body.Tools)
	}
	if body.Tools[0].Name != "get_system_resources" || !body.Tools[0].Enabled {
		t.Errorf("tools[0] = %+v", body.Tools[0])
	}
	if body.Tools[1].Name != "list_containers" || body.Tools[1].Enabled {
		t.Errorf("tools[1] = %+v", body.Tools[1])
	}
}

func TestToolUpdate(t *testing.T) {
	ctx := context.Background()
	srv, st := newTestServer(t, &fakeRunner{}, nil)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPut, "/tools/list_containers", `{"enabled":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d, body = %s", rec.Code, rec.Body)
	}
	if set, _ := st.EnabledTools(ctx); set.Contains("list_containers") {
		t.Error("list_containers still enabled")
	}

	rec = doRequest(t, h, http.MethodPut, "/tools/list_containers", `{"enabled":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("enable status = %d", rec.Code)
	}
	if set, _ := st.EnabledTools(ctx); !set.Contains("list_containers") {
		t.Error("list_containers not re-enabled")
	}
}

func TestToolUpdate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
	}{
		{"unknown tool", "/tools/restart_container", `{"enabled":true}`, http.StatusNotFound},
		{"missing flag", "/tools/list_containers", `{}`, http.StatusBadRequest},
		{"bad json", "/tools/list_containers", `enabled`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &fakeRunner{}, nil)
			rec := doRequest(t, srv.Handler(), http.MethodPut, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestSessionGet(t *testing.T) {
	srv, st := newTestServer(t, &fakeRunner{}, nil)
	h := srv.Handler()

	if rec := doRequest(t, h, http.MethodGet, "/sessions/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing session status = %d, want 404", rec.Code)
	}

	st.RecordSession(context.Background(), "conv-9")
	st.RecordSession(context.Background(), "conv-9")

	rec := doRequest(t, h, http.MethodGet, "/sessions/conv-9", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var sess store.Session
	if err := json.NewDecoder(rec.Body).Decode(&sess); err != nil {
		t.Fatal(err)
	}
	if sess.ConversationID != "conv-9" || sess.MessageCount != 2 {
		t.Errorf("session = %+v", sess)
	}
}

func TestVersionAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{}, nil)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodGet, "/version", "")
	var info map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil || info["version"] == "" {
		t.Errorf("version body = %v, %v", info, err)
	}

	rec = doRequest(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("go_goroutines")) {
		t.Errorf("metrics status = %d", rec.Code)
	}
}
