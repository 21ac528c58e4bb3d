package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const tracerName = "github.com/nugget/homelab-assistant/internal/agent"

// Outcome labels for runsTotal.
const (
	outcomeAnswered           = "answered"
	outcomeBoundExceeded      = "bound_exceeded"
	outcomeBackendUnavailable = "backend_unavailable"
	outcomeCancelled          = "cancelled"
)

var (
	// runsTotal counts completed loop runs.
	// Labels: outcome (answered, bound_exceeded, backend_unavailable, cancelled)
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "homelab",
		Subsystem: "agent",
		Name:      "runs_total",
		Help:      "Total agent loop runs by outcome",
	}, []string{"outcome"})

	roundTripsPerRun = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "homelab",
		Subsystem: "agent",
		Name:      "round_trips",
		Help:      "Model round-trips per agent run",
		Buckets:   []float64{1, 2, 3, 4, 5},
	})

	// toolCallsTotal counts tool resolutions.
	// Labels: tool, status (ok, error)
	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "homelab",
		Subsystem: "agent",
		Name:      "tool_calls_total",
		Help:      "Total tool calls by tool and status",
	}, []string{"tool", "status"})

	runDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "homelab",
		Subsystem: "agent",
		Name:      "run_duration_seconds",
		Help:      "Agent loop run duration",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})
)

func recordToolMetrics(tool string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	toolCallsTotal.WithLabelValues(tool, status).Inc()
}
