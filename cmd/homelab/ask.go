package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nugget/homelab-assistant/internal/agent"
	"github.com/nugget/homelab-assistant/internal/llm"
	"github.com/nugget/homelab-assistant/internal/monitoring"
	"github.com/nugget/homelab-assistant/internal/store"
	"github.com/nugget/homelab-assistant/internal/tools"
)

// runAsk runs a single chat turn in-process against the configured LLM
// adapter and monitoring service, printing the answer to stdout. Nothing
// is audited. Useful for smoke tests without the gateway and
// orchestrator.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, args []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, slog.LevelWarn, "text").With("service", "ask")

	enabled := askEnabledTools(ctx, cfg.Database.Path, logger)

	llmClient := llm.NewAdapterClient(cfg.Orchestrator.LLMAdapterURL, cfg.Orchestrator.LLMTimeout(), logger)
	monClient := monitoring.NewClient(cfg.Orchestrator.MonitoringURL, cfg.Orchestrator.ToolTimeout())
	loop := agent.NewLoop(logger, llmClient, tools.NewExecutor(monClient, logger), nil)

	resp, err := loop.Run(ctx, &agent.Request{
		Message:        strings.Join(args, " "),
		ConversationID: "cli-" + uuid.NewString(),
		Enabled:        enabled,
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, resp.Answer)
	if len(resp.ToolNames) > 0 {
		fmt.Fprintf(stderr, "(tools: %s; round-trips: %d)\n", strings.Join(resp.ToolNames, ", "), resp.RoundTrips)
	}
	return nil
}

// askEnabledTools reads the operator's enabled set. If the database is
// not reachable from this host every tool is enabled.
func askEnabledTools(ctx context.Context, path string, logger *slog.Logger) tools.EnabledSet {
	db, err := store.Open(path)
	if err == nil {
		defer db.Close()
		var st *store.Store
		if st, err = store.NewStore(ctx, db); err == nil {
			var set tools.EnabledSet
			if set, err = st.EnabledTools(ctx); err == nil {
				return set
			}
		}
	}
	logger.Warn("cannot read enabled tools, enabling all", "path", path, "error", err)
	return tools.AllEnabled()
}
