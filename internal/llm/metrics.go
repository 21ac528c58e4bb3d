package llm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const tracerName = "github.com/nugget/homelab-assistant/internal/llm"

var (
	// providerCallsTotal counts provider round-trips.
	// Labels: provider, status (ok, error)
	providerCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "homelab",
		Subsystem: "llm",
		Name:      "provider_calls_total",
		Help:      "Total provider chat calls by provider and status",
	}, []string{"provider", "status"})

	// providerTokensTotal counts tokens by provider and direction.
	// Labels: provider, direction (input, output)
	providerTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "homelab",
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Total tokens by provider and direction",
	}, []string{"provider", "direction"})

	providerLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "homelab",
		Subsystem: "llm",
		Name:      "provider_latency_seconds",
		Help:      "Provider chat call latency",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"provider"})
)

func recordProviderMetrics(provider string, d time.Duration, input, output int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	providerCallsTotal.WithLabelValues(provider, status).Inc()
	providerLatencySeconds.WithLabelValues(provider).Observe(d.Seconds())
	if input > 0 {
		providerTokensTotal.WithLabelValues(provider, "input").Add(float64(input))
	}
	if output > 0 {
		providerTokensTotal.WithLabelValues(provider, "output").Add(float64(output))
	}
}
