// Package config handles homelab-assistant configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/homelab/config.yaml, /etc/homelab/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "homelab", "config.yaml"))
	}

	paths = append(paths, "/etc/homelab/config.yaml")
	return paths
}

// ErrNoConfig is returned by FindConfig when no explicit path was given
// and nothing exists on the search path. Callers fall back to Default.
var ErrNoConfig = errors.New("no config file found")

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Config holds the settings for every service. A single file configures
// the whole deployment; each subcommand reads the sections it needs.
type Config struct {
	Gateway      GatewayConfig      `yaml:"gateway"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	LLMAdapter   LLMAdapterConfig   `yaml:"llm_adapter"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Audit        AuditConfig        `yaml:"audit"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	LogLevel     string             `yaml:"log_level"`
	LogFormat    string             `yaml:"log_format"` // text or json
}

// ListenConfig defines a server bind address.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// Addr returns the host:port pair for net/http.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Address, l.Port)
}

// GatewayConfig defines the edge service.
type GatewayConfig struct {
	Listen          ListenConfig    `yaml:"listen"`
	APIKey          string          `yaml:"api_key"` // Empty disables authentication
	OrchestratorURL string          `yaml:"orchestrator_url"`
	TimeoutSec      int             `yaml:"timeout_sec"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// Timeout returns the forwarding timeout.
func (g GatewayConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSec) * time.Second
}

// RateLimitConfig bounds requests per API key.
type RateLimitConfig struct {
	Requests  int `yaml:"requests"`
	WindowSec int `yaml:"window_sec"`
}

// Window returns the rate limit window.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSec) * time.Second
}

// OrchestratorConfig defines the agent service and its two backends.
type OrchestratorConfig struct {
	Listen         ListenConfig `yaml:"listen"`
	LLMAdapterURL  string       `yaml:"llm_adapter_url"`
	MonitoringURL  string       `yaml:"monitoring_url"`
	LLMTimeoutSec  int          `yaml:"llm_timeout_sec"`
	ToolTimeoutSec int          `yaml:"tool_timeout_sec"`
}

// LLMTimeout bounds a single round-trip to the LLM adapter.
func (o OrchestratorConfig) LLMTimeout() time.Duration {
	return time.Duration(o.LLMTimeoutSec) * time.Second
}

// ToolTimeout bounds a single monitoring call.
func (o OrchestratorConfig) ToolTimeout() time.Duration {
	return time.Duration(o.ToolTimeoutSec) * time.Second
}

// LLMAdapterConfig defines the model-provider bridge.
type LLMAdapterConfig struct {
	Listen     ListenConfig   `yaml:"listen"`
	Provider   string         `yaml:"provider"` // groq or openai
	TimeoutSec int            `yaml:"timeout_sec"`
	OpenAI     ProviderConfig `yaml:"openai"`
	Groq       ProviderConfig `yaml:"groq"`
}

// Timeout bounds a single provider call.
func (l LLMAdapterConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSec) * time.Second
}

// ProviderConfig holds credentials and model selection for one
// OpenAI-compatible provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// MonitoringConfig defines the read-only metrics service.
type MonitoringConfig struct {
	Listen       ListenConfig `yaml:"listen"`
	DockerSocket string       `yaml:"docker_socket"`
	ProcRoot     string       `yaml:"proc_root"` // Default: /proc
}

// AuditConfig defines where audit records are appended.
type AuditConfig struct {
	LogPath string `yaml:"log_path"`
}

// DatabaseConfig defines the orchestrator's SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig defines the optional MQTT mirror for audit records and
// service availability. Leaving Broker empty disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtt://localhost:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	DeviceName  string `yaml:"device_name"`
	TopicPrefix string `yaml:"topic_prefix"`

	// DiscoveryPrefix is the Home Assistant MQTT discovery prefix.
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// Enabled reports whether an MQTT broker is configured.
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from a YAML file. ${VAR} references are
// expanded from the environment before parsing, then environment
// overrides and defaults are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// FromEnv builds a configuration from defaults and environment variables
// alone, for container deployments that ship no config file.
func FromEnv() *Config {
	cfg := Default()
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Listen:          ListenConfig{Port: 8000},
			OrchestratorURL: "http://orchestrator:8001",
			TimeoutSec:      120,
			RateLimit:       RateLimitConfig{Requests: 60, WindowSec: 60},
		},
		Orchestrator: OrchestratorConfig{
			Listen:         ListenConfig{Port: 8001},
			LLMAdapterURL:  "http://llm-adapter:8002",
			MonitoringURL:  "http://tool-monitoring:8003",
			LLMTimeoutSec:  60,
			ToolTimeoutSec: 10,
		},
		LLMAdapter: LLMAdapterConfig{
			Listen:     ListenConfig{Port: 8002},
			Provider:   "groq",
			TimeoutSec: 60,
			OpenAI: ProviderConfig{
				Model:   "gpt-4o-mini",
				BaseURL: "https://api.openai.com/v1",
			},
			Groq: ProviderConfig{
				Model:   "llama-3.3-70b-versatile",
				BaseURL: "https://api.groq.com/openai/v1",
			},
		},
		Monitoring: MonitoringConfig{
			Listen:       ListenConfig{Port: 8003},
			DockerSocket: "/var/run/docker.sock",
			ProcRoot:     "/proc",
		},
		Audit:    AuditConfig{LogPath: "/var/log/homelab-assistant/audit.jsonl"},
		Database: DatabaseConfig{Path: "/var/lib/homelab-assistant/db.sqlite3"},
		MQTT: MQTTConfig{
			DeviceName:      "homelab",
			TopicPrefix:     "homelab",
			DiscoveryPrefix: "homeassistant",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// applyEnv overlays the flat environment variables used by the
// docker-compose deployment. Only non-empty values override.
func (c *Config) applyEnv() {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("GATEWAY_HOST", &c.Gateway.Listen.Address)
	num("GATEWAY_PORT", &c.Gateway.Listen.Port)
	str("API_KEY", &c.Gateway.APIKey)
	str("ORCHESTRATOR_URL", &c.Gateway.OrchestratorURL)
	num("RATE_LIMIT_REQUESTS", &c.Gateway.RateLimit.Requests)
	num("RATE_LIMIT_WINDOW", &c.Gateway.RateLimit.WindowSec)

	str("LLM_ADAPTER_URL", &c.Orchestrator.LLMAdapterURL)
	str("MONITORING_URL", &c.Orchestrator.MonitoringURL)

	str("LLM_PROVIDER", &c.LLMAdapter.Provider)
	str("OPENAI_API_KEY", &c.LLMAdapter.OpenAI.APIKey)
	str("GROQ_API_KEY", &c.LLMAdapter.Groq.APIKey)

	str("AUDIT_LOG_PATH", &c.Audit.LogPath)
	str("DB_PATH", &c.Database.Path)
	str("MQTT_BROKER", &c.MQTT.Broker)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
}

// applyDefaults fills zero values left behind by a sparse YAML file.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Gateway.Listen.Port == 0 {
		c.Gateway.Listen.Port = d.Gateway.Listen.Port
	}
	if c.Gateway.TimeoutSec <= 0 {
		c.Gateway.TimeoutSec = d.Gateway.TimeoutSec
	}
	if c.Gateway.RateLimit.Requests <= 0 {
		c.Gateway.RateLimit.Requests = d.Gateway.RateLimit.Requests
	}
	if c.Gateway.RateLimit.WindowSec <= 0 {
		c.Gateway.RateLimit.WindowSec = d.Gateway.RateLimit.WindowSec
	}
	if c.Orchestrator.Listen.Port == 0 {
		c.Orchestrator.Listen.Port = d.Orchestrator.Listen.Port
	}
	if c.Orchestrator.LLMTimeoutSec <= 0 {
		c.Orchestrator.LLMTimeoutSec = d.Orchestrator.LLMTimeoutSec
	}
	if c.Orchestrator.ToolTimeoutSec <= 0 {
		c.Orchestrator.ToolTimeoutSec = d.Orchestrator.ToolTimeoutSec
	}
	if c.LLMAdapter.Listen.Port == 0 {
		c.LLMAdapter.Listen.Port = d.LLMAdapter.Listen.Port
	}
	if c.LLMAdapter.TimeoutSec <= 0 {
		c.LLMAdapter.TimeoutSec = d.LLMAdapter.TimeoutSec
	}
	if c.LLMAdapter.OpenAI.Model == "" {
		c.LLMAdapter.OpenAI.Model = d.LLMAdapter.OpenAI.Model
	}
	if c.LLMAdapter.OpenAI.BaseURL == "" {
		c.LLMAdapter.OpenAI.BaseURL = d.LLMAdapter.OpenAI.BaseURL
	}
	if c.LLMAdapter.Groq.Model == "" {
		c.LLMAdapter.Groq.Model = d.LLMAdapter.Groq.Model
	}
	if c.LLMAdapter.Groq.BaseURL == "" {
		c.LLMAdapter.Groq.BaseURL = d.LLMAdapter.Groq.BaseURL
	}
	if c.Monitoring.Listen.Port == 0 {
		c.Monitoring.Listen.Port = d.Monitoring.Listen.Port
	}
	if c.Monitoring.ProcRoot == "" {
		c.Monitoring.ProcRoot = d.Monitoring.ProcRoot
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = d.MQTT.DeviceName
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = d.MQTT.TopicPrefix
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = d.MQTT.DiscoveryPrefix
	}
}

// Validate reports configuration errors that would prevent a service
// from starting. It does not require provider API keys; the adapter
// starts without one and answers 503.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat))
	}
	switch strings.ToLower(c.LLMAdapter.Provider) {
	case "groq", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown llm_adapter.provider %q (valid: groq, openai)", c.LLMAdapter.Provider))
	}
	if c.Gateway.OrchestratorURL == "" {
		errs = append(errs, errors.New("gateway.orchestrator_url is required"))
	}
	if c.Orchestrator.LLMAdapterURL == "" {
		errs = append(errs, errors.New("orchestrator.llm_adapter_url is required"))
	}
	if c.Orchestrator.MonitoringURL == "" {
		errs = append(errs, errors.New("orchestrator.monitoring_url is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Audit.LogPath == "" {
		errs = append(errs, errors.New("audit.log_path is required"))
	}

	return errors.Join(errs...)
}
