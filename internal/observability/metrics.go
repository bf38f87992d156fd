package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for the agent service.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Turn metrics.
	TurnsTotal   *prometheus.CounterVec
	TurnDuration prometheus.Histogram

	// Provider metrics.
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec
	ProviderTokensUsed      *prometheus.CounterVec

	// Tool execution metrics.
	ToolExecutionsTotal   *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	// Rate limiting.
	RateLimitRejectionsTotal prometheus.Counter

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engezna",
			Subsystem: "agent",
			Name:      "turns_total",
			Help:      "Total conversation turns handled.",
		}, []string{"outcome"}),

		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "engezna",
			Subsystem: "agent",
			Name:      "turn_duration_seconds",
			Help:      "Full conversation turn duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		}),

		ProviderRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engezna",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM API requests.",
		}, []string{"provider", "status"}),

		ProviderRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "engezna",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM API request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),

		ProviderTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engezna",
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total LLM tokens consumed.",
		}, []string{"provider", "direction"}),

		ToolExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engezna",
			Subsystem: "tool",
			Name:      "executions_total",
			Help:      "Total tool executions by outcome.",
		}, []string{"tool", "outcome"}),

		ToolExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "engezna",
			Subsystem: "tool",
			Name:      "execution_duration_seconds",
			Help:      "Tool execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		RateLimitRejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "engezna",
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Tool calls rejected by the per-customer rate limiter.",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engezna",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "engezna",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "engezna",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	reg.MustRegister(
		m.TurnsTotal,
		m.TurnDuration,
		m.ProviderRequestsTotal,
		m.ProviderRequestDuration,
		m.ProviderTokensUsed,
		m.ToolExecutionsTotal,
		m.ToolExecutionDuration,
		m.RateLimitRejectionsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}
