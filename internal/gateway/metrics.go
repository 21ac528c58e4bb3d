package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const tracerName = "github.com/nugget/homelab-assistant/internal/gateway"

// Rejection reasons for requestsRejectedTotal.
const (
	rejectMissingKey  = "missing_key"
	rejectInvalidKey  = "invalid_key"
	rejectRateLimited = "rate_limited"
	rejectBadRequest  = "bad_request"
)

var (
	// requestsForwardedTotal counts chat requests sent to the
	// orchestrator, by the status code returned to the client.
	// Labels: code
	requestsForwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "homelab",
		Subsystem: "gateway",
		Name:      "requests_forwarded_total",
		Help:      "Chat requests forwarded to the orchestrator by response code",
	}, []string{"code"})

	// requestsRejectedTotal counts chat requests refused at the edge.
	// Labels: reason
	requestsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "homelab",
		Subsystem: "gateway",
		Name:      "requests_rejected_total",
		Help:      "Chat requests rejected before forwarding",
	}, []string{"reason"})

	forwardDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "homelab",
		Subsystem: "gateway",
		Name:      "forward_duration_seconds",
		Help:      "Time spent waiting on the orchestrator",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	rateLimitKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "homelab",
		Subsystem: "gateway",
		Name:      "rate_limit_keys",
		Help:      "Number of rate-limit keys with requests inside the window",
	})
)
