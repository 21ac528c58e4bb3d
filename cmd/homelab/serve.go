package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/homelab-assistant/internal/agent"
	"github.com/nugget/homelab-assistant/internal/api"
	"github.com/nugget/homelab-assistant/internal/audit"
	"github.com/nugget/homelab-assistant/internal/config"
	"github.com/nugget/homelab-assistant/internal/connwatch"
	"github.com/nugget/homelab-assistant/internal/gateway"
	"github.com/nugget/homelab-assistant/internal/llm"
	"github.com/nugget/homelab-assistant/internal/monitoring"
	"github.com/nugget/homelab-assistant/internal/mqtt"
	"github.com/nugget/homelab-assistant/internal/store"
	"github.com/nugget/homelab-assistant/internal/tools"
)

// shutdownTimeout bounds graceful shutdown of a service.
const shutdownTimeout = 10 * time.Second

// service is an HTTP server with the Start/Shutdown lifecycle every
// homelab service shares.
type service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// serve runs svc and any background tasks until SIGINT/SIGTERM or until
// one of them fails, then shuts svc down.
func serve(ctx context.Context, logger *slog.Logger, svc service, background ...func(context.Context) error) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := svc.Start(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	for _, fn := range background {
		g.Go(func() error { return fn(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return svc.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	logger.Info("stopped")
	return err
}

func runGateway(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, logger, err := serviceLogger(stdout, configPath, "gateway")
	if err != nil {
		return err
	}
	return serve(ctx, logger, gateway.NewServer(cfg.Gateway, logger))
}

func runLLMAdapter(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, logger, err := serviceLogger(stdout, configPath, "llm-adapter")
	if err != nil {
		return err
	}

	provider := newProvider(cfg.LLMAdapter, logger)
	if provider == nil {
		logger.Warn("no API key for provider, /chat will answer 503", "provider", cfg.LLMAdapter.Provider)
	}
	return serve(ctx, logger, llm.NewServer(cfg.LLMAdapter.Listen.Addr(), provider, logger))
}

// newProvider builds the configured provider, or returns nil when its
// API key is missing.
func newProvider(cfg config.LLMAdapterConfig, logger *slog.Logger) llm.Provider {
	name := strings.ToLower(cfg.Provider)
	var pc config.ProviderConfig
	switch name {
	case "openai":
		pc = cfg.OpenAI
	default:
		name, pc = "groq", cfg.Groq
	}
	if pc.APIKey == "" {
		return nil
	}
	logger.Info("llm provider configured", "provider", name, "model", pc.Model)
	return llm.NewOpenAIProvider(name, pc.APIKey, pc.Model, pc.BaseURL, cfg.Timeout(), logger)
}

func runMonitoring(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, logger, err := serviceLogger(stdout, configPath, "monitoring")
	if err != nil {
		return err
	}

	system := monitoring.NewSystemCollector(cfg.Monitoring.ProcRoot)
	docker, err := monitoring.NewDockerClient(cfg.Monitoring.DockerSocket, logger)
	if err != nil {
		return err
	}
	defer docker.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	if err := docker.Ping(pingCtx); err != nil {
		logger.Warn("docker engine unreachable, container listings will be empty",
			"socket", cfg.Monitoring.DockerSocket, "error", err)
	}
	cancel()

	return serve(ctx, logger, monitoring.NewServer(cfg.Monitoring.Listen.Addr(), system, docker, logger))
}

func runOrchestrator(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, logger, err := serviceLogger(stdout, configPath, "orchestrator")
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	st, err := store.NewStore(ctx, db)
	if err != nil {
		return fmt.Errorf("init database %s: %w", cfg.Database.Path, err)
	}
	logger.Info("database ready", "path", cfg.Database.Path)

	llmClient := llm.NewAdapterClient(cfg.Orchestrator.LLMAdapterURL, cfg.Orchestrator.LLMTimeout(), logger)
	monClient := monitoring.NewClient(cfg.Orchestrator.MonitoringURL, cfg.Orchestrator.ToolTimeout())
	executor := tools.NewExecutor(monClient, logger)

	sinks := audit.MultiSink{audit.NewFileSink(cfg.Audit.LogPath)}
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Enabled() {
		instanceID, err := st.InstanceID(ctx)
		if err != nil {
			return fmt.Errorf("load instance id: %w", err)
		}
		logger.Info("mqtt audit mirror enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"instance_id", instanceID,
		)
		mqttPub = mqtt.New(cfg.MQTT, instanceID, logger)
		sinks = append(sinks, mqttPub)
	}
	sink := audit.NewBestEffort(sinks, audit.DefaultTimeout, logger)

	loop := agent.NewLoop(logger, llmClient, executor, sink)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	connMgr := connwatch.NewManager(logger)
	defer connMgr.Stop()
	connMgr.Watch(watchCtx, connwatch.WatcherConfig{Name: "llm-adapter", Probe: llmClient.Ping})
	connMgr.Watch(watchCtx, connwatch.WatcherConfig{Name: "monitoring", Probe: monClient.Ping})
	connMgr.Watch(watchCtx, connwatch.WatcherConfig{Name: "database", Probe: st.Ping})

	var background []func(context.Context) error
	if mqttPub != nil {
		connMgr.Watch(watchCtx, connwatch.WatcherConfig{
			Name: "mqtt",
			Probe: func(pCtx context.Context) error {
				awaitCtx, cancel := context.WithTimeout(pCtx, 2*time.Second)
				defer cancel()
				return mqttPub.AwaitConnection(awaitCtx)
			},
		})
		background = append(background, func(ctx context.Context) error {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
				return nil
			}
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := mqttPub.Stop(stopCtx); err != nil {
				logger.Warn("mqtt shutdown failed", "error", err)
			}
			return nil
		})
	}

	server := api.NewServer(cfg.Orchestrator.Listen.Addr(), loop, st, connMgr, logger)
	return serve(ctx, logger, server, background...)
}
