// Homelab is a chat assistant for a self-hosted server. One binary runs
// each service of the deployment:
//
//	homelab gateway          Public edge: API key auth, rate limit, forwarding
//	homelab orchestrator     Agent loop, tool gating, audit
//	homelab llm-adapter      Bridge to the configured model provider
//	homelab monitoring       Read-only system and Docker metrics
//
// and a few operator commands:
//
//	homelab ask <question>             One chat turn against running services
//	homelab tools list                 Show tools and their enabled state
//	homelab tools enable|disable <n>   Toggle a tool
//	homelab init [dir]                 Write a starter config.yaml and .env.example
//	homelab version                    Print version and build information
//
// Configuration comes from a single YAML file discovered automatically
// (see [config.DefaultSearchPaths]). Without one, defaults and
// environment variables are used so containers can run config-less.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nugget/homelab-assistant/internal/buildinfo"
	"github.com/nugget/homelab-assistant/internal/config"
)

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. OS-level dependencies are parameters so
// the whole lifecycle can be driven from tests. Arguments are parsed by
// hand; the flag package's globals get in the way of parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command == "" {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
			cmdArgs = append(cmdArgs, args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "gateway":
		return runGateway(ctx, stdout, configPath)
	case "orchestrator":
		return runOrchestrator(ctx, stdout, configPath)
	case "llm-adapter":
		return runLLMAdapter(ctx, stdout, configPath)
	case "monitoring":
		return runMonitoring(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return errors.New("usage: homelab ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, cmdArgs)
	case "tools":
		return runTools(ctx, stdout, configPath, outputFmt, cmdArgs)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Homelab Assistant - chat with your server")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: homelab [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Services:")
	fmt.Fprintln(w, "  gateway        Public API (auth, rate limiting)")
	fmt.Fprintln(w, "  orchestrator   Agent loop and tool gating")
	fmt.Fprintln(w, "  llm-adapter    Model provider bridge")
	fmt.Fprintln(w, "  monitoring     System and container metrics")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  ask <question>                 One chat turn via the running services")
	fmt.Fprintln(w, "  tools list                     Show tools and whether they are enabled")
	fmt.Fprintln(w, "  tools enable|disable <name>    Toggle a tool")
	fmt.Fprintln(w, "  init [dir]                     Write starter config (default: .)")
	fmt.Fprintln(w, "  version                        Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/homelab/config.yaml, /etc/homelab/config.yaml")
	return nil
}

// newLogger creates a structured logger writing to w. Format must be
// "text" or "json"; anything else falls back to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig loads .env, then the YAML config. When no file is given
// and none is found on the search path, it falls back to defaults plus
// environment. The returned path is empty in that case.
func loadConfig(explicit string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, "", err
	}

	cfgPath, err := config.FindConfig(explicit)
	var cfg *config.Config
	switch {
	case errors.Is(err, config.ErrNoConfig):
		cfg, cfgPath = config.FromEnv(), ""
	case err != nil:
		return nil, "", err
	default:
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, cfgPath, nil
}

// serviceLogger loads config and builds the logger a service runs with.
func serviceLogger(w io.Writer, configPath, service string) (*config.Config, *slog.Logger, error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(w, level, cfg.LogFormat).With("service", service)

	if cfgPath == "" {
		logger.Info("no config file found, using defaults and environment")
	} else {
		logger.Info("config loaded", "path", cfgPath)
	}
	logger.Info(buildinfo.String())
	return cfg, logger, nil
}
