package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates the runtime's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so callers never need to guard.
type Metrics struct {
	turnsTotal      *prometheus.CounterVec
	turnDuration    prometheus.Histogram
	turnIterations  prometheus.Histogram
	toolInvocations *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors on reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aria",
			Subsystem: "agent",
			Name:      "turns_total",
			Help:      "Completed agent turns by outcome.",
		}, []string{"outcome"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aria",
			Subsystem: "agent",
			Name:      "turn_duration_seconds",
			Help:      "Wall-clock duration of agent turns.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		turnIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aria",
			Subsystem: "agent",
			Name:      "turn_iterations",
			Help:      "Think-act-observe iterations per turn.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aria",
			Subsystem: "tools",
			Name:      "invocations_total",
			Help:      "Tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aria",
			Subsystem: "tools",
			Name:      "invocation_duration_seconds",
			Help:      "Wall-clock duration of tool invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"tool"}),
	}

	reg.MustRegister(m.turnsTotal, m.turnDuration, m.turnIterations, m.toolInvocations, m.toolDuration)
	return m
}

// ObserveTurn records one finished turn.
func (m *Metrics) ObserveTurn(outcome string, iterations int, duration time.Duration) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(duration.Seconds())
	m.turnIterations.Observe(float64(iterations))
}

// ObserveToolInvocation records one tool execution.
func (m *Metrics) ObserveToolInvocation(tool, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.toolInvocations.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}
