// Package connwatch tracks the reachability of the services the
// orchestrator depends on: the LLM adapter, the monitoring backend, its
// database, and the MQTT broker when one is configured.
//
// Each Watcher runs one probe loop. While the service is down the loop
// backs off exponentially (2s, 4s, 8s, ... capped); once it is up the
// loop settles into a steady poll. State transitions are logged, fed to
// optional callbacks, and exported as a Prometheus gauge. Watchers never
// gate request handling; they inform /health and the logs.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serviceUp reports 1 when a watched service answered its last probe.
// Labels: service
var serviceUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "homelab",
	Subsystem: "connwatch",
	Name:      "up",
	Help:      "Whether a dependent service answered its last health probe",
}, []string{"service"})

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// BackoffConfig controls probe timing.
type BackoffConfig struct {
	// InitialDelay is the wait after the first failed probe (default 2s).
	InitialDelay time.Duration

	// MaxDelay caps backoff growth (default 60s).
	MaxDelay time.Duration

	// Multiplier scales the delay after each consecutive failure (default 2).
	Multiplier float64

	// PollInterval is the wait between probes while healthy (default 30s).
	PollInterval time.Duration

	// ProbeTimeout bounds a single probe (default 5s).
	ProbeTimeout time.Duration
}

// DefaultBackoffConfig returns the standard schedule.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		PollInterval: 30 * time.Second,
		ProbeTimeout: 5 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultBackoffConfig.
func (b BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// next returns the delay to use after cur failed once more.
func (b BackoffConfig) next(cur time.Duration) time.Duration {
	if cur <= 0 {
		return b.InitialDelay
	}
	n := time.Duration(float64(cur) * b.Multiplier)
	if n > b.MaxDelay {
		n = b.MaxDelay
	}
	return n
}

// WatcherConfig configures a single service watcher.
type WatcherConfig struct {
	// Name identifies the service in logs, metrics, and /health.
	Name string

	// Probe checks service health. Must be safe for concurrent use.
	Probe ProbeFunc

	Backoff BackoffConfig

	// OnReady and OnDown run in their own goroutine on each transition.
	OnReady func()
	OnDown  func(err error)

	Logger *slog.Logger
}

// ServiceStatus is a watcher snapshot for health endpoints.
type ServiceStatus struct {
	Name                string    `json:"name"`
	Ready               bool      `json:"ready"`
	LastCheck           time.Time `json:"last_check"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Watcher monitors a single service.
type Watcher struct {
	config WatcherConfig
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
	failures  int
}

// IsReady reports whether the last probe succeeded.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// Status returns the current snapshot.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := ServiceStatus{
		Name:                w.config.Name,
		Ready:               w.ready.Load(),
		LastCheck:           w.lastCheck,
		ConsecutiveFailures: w.failures,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	cfg := w.config.Backoff
	var backoff time.Duration
	for {
		err := w.check(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := cfg.PollInterval
		if err != nil {
			backoff = cfg.next(backoff)
			wait = backoff
		} else {
			backoff = 0
		}

		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

// check runs one probe and applies the resulting transition.
func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.config.Backoff.ProbeTimeout)
	err := w.config.Probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	if err != nil {
		w.failures++
	} else {
		w.failures = 0
	}
	failures := w.failures
	w.mu.Unlock()

	logger := w.config.Logger
	name := w.config.Name
	wasReady := w.ready.Swap(err == nil)

	switch {
	case err == nil:
		serviceUp.WithLabelValues(name).Set(1)
		if !wasReady {
			logger.Info("service ready", "service", name)
			if w.config.OnReady != nil {
				go w.config.OnReady()
			}
		}
	default:
		serviceUp.WithLabelValues(name).Set(0)
		if wasReady {
			logger.Warn("service became unreachable", "service", name, "error", err)
			if w.config.OnDown != nil {
				go w.config.OnDown(err)
			}
		} else {
			logger.Debug("service unreachable",
				"service", name,
				"consecutive_failures", failures,
				"error", err,
			)
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Manager owns a set of watchers.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		logger:   logger,
	}
}

// Watch starts a watcher that runs until ctx is cancelled or Stop is
// called. Registering a name twice replaces and stops the earlier
// watcher.
//
// Panics if Name is empty or Probe is nil.
func (m *Manager) Watch(ctx context.Context, cfg WatcherConfig) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: WatcherConfig.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: WatcherConfig.Probe must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		config: cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	prev := m.watchers[cfg.Name]
	m.watchers[cfg.Name] = w
	m.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	go w.run(watchCtx)
	return w
}

// Status returns every watcher's snapshot, sorted by name.
func (m *Manager) Status() []ServiceStatus {
	m.mu.RLock()
	out := make([]ServiceStatus, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.Status())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AllReady reports whether every watched service is ready. An empty
// manager is ready.
func (m *Manager) AllReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.watchers {
		if !w.IsReady() {
			return false
		}
	}
	return true
}

// Stop shuts down all watchers and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		w.Stop()
	}
}
