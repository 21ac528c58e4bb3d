package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/homelab-assistant/internal/config"
)

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var out bytes.Buffer
		if err := run(context.Background(), &out, &out, args); err != nil {
			t.Fatalf("run(%v) error: %v", args, err)
		}
		if !strings.Contains(out.String(), "Usage: homelab") {
			t.Errorf("run(%v) output missing usage:\n%s", args, out.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command: frobnicate"},
		{"unknown flag", []string{"-verbose"}, "unknown flag: -verbose"},
		{"bad output format", []string{"-o", "yaml", "version"}, "unknown output format"},
		{"ask without question", []string{"ask"}, "usage: homelab ask"},
		{"tools without subcommand", []string{"tools"}, "usage: homelab tools"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(context.Background(), &out, &out, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestRun_VersionText(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"version"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Homelab Assistant") || !strings.Contains(out.String(), "go_version:") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestRun_VersionJSON(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"-o", "json", "version"}); err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if info["version"] == "" || info["go_version"] == "" {
		t.Errorf("info = %v", info)
	}
}

func TestNewLogger_Formats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, config.LevelTrace, "json").Log(context.Background(), config.LevelTrace, "hello", "k", "v")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("json logger output not JSON: %v\n%s", err, buf.String())
	}
	if line["level"] != "TRACE" || line["msg"] != "hello" {
		t.Errorf("line = %v", line)
	}

	buf.Reset()
	newLogger(&buf, config.LevelTrace, "text").Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestLoadConfig_Explicit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "log_level: debug\ngateway:\n  listen:\n    port: 9000\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, got, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}
	if got != path {
		t.Errorf("path = %q, want %q", got, path)
	}
	if cfg.Gateway.Listen.Port != 9000 || cfg.LogLevel != "debug" {
		t.Errorf("cfg = %+v", cfg.Gateway.Listen)
	}
	if cfg.Orchestrator.Listen.Port != 8001 {
		t.Errorf("defaults not applied: orchestrator port = %d", cfg.Orchestrator.Listen.Port)
	}
}

func TestLoadConfig_MissingExplicit(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("llm_adapter:\n  provider: claude\n"), 0o600)

	_, _, err := loadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Errorf("error = %v, want invalid config", err)
	}
}

func TestNewProvider(t *testing.T) {
	base := config.Default().LLMAdapter

	tests := []struct {
		name     string
		mutate   func(*config.LLMAdapterConfig)
		wantName string
	}{
		{"groq without key", func(c *config.LLMAdapterConfig) {}, ""},
		{"groq with key", func(c *config.LLMAdapterConfig) { c.Groq.APIKey = "gsk" }, "groq"},
		{"openai with key", func(c *config.LLMAdapterConfig) {
			c.Provider = "OpenAI"
			c.OpenAI.APIKey = "sk"
		}, "openai"},
		{"openai key only under groq", func(c *config.LLMAdapterConfig) {
			c.Provider = "openai"
			c.Groq.APIKey = "gsk"
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			p := newProvider(cfg, testLogger())
			if tt.wantName == "" {
				if p != nil {
					t.Errorf("provider = %s, want nil", p.Name())
				}
				return
			}
			if p == nil || p.Name() != tt.wantName {
				t.Errorf("provider = %v, want %s", p, tt.wantName)
			}
		})
	}
}

func testLogger() *slog.Logger { return newLogger(io.Discard, config.LevelTrace, "text") }

// fakeService records lifecycle calls for serve tests.
type fakeService struct {
	startErr  error
	started   chan struct{}
	stop      chan struct{}
	shutdowns atomic.Int32
}

func newFakeService(startErr error) *fakeService {
	return &fakeService{startErr: startErr, started: make(chan struct{}), stop: make(chan struct{})}
}

func (f *fakeService) Start(ctx context.Context) error {
	close(f.started)
	if f.startErr != nil {
		return f.startErr
	}
	<-f.stop
	return nil
}

func (f *fakeService) Shutdown(ctx context.Context) error {
	if f.shutdowns.Add(1) == 1 {
		close(f.stop)
	}
	return nil
}

func TestServe_ShutdownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := newFakeService(nil)

	var bgDone atomic.Bool
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, testLogger(), svc, func(ctx context.Context) error {
			<-ctx.Done()
			bgDone.Store(true)
			return nil
		})
	}()

	<-svc.started
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	if svc.shutdowns.Load() != 1 {
		t.Errorf("Shutdown called %d times, want 1", svc.shutdowns.Load())
	}
	if !bgDone.Load() {
		t.Error("background task not stopped")
	}
}

func TestServe_StartFailure(t *testing.T) {
	boom := errors.New("address already in use")
	err := serve(context.Background(), testLogger(), newFakeService(boom))
	if !errors.Is(err, boom) {
		t.Errorf("serve() = %v, want wrapping %v", err, boom)
	}
}
