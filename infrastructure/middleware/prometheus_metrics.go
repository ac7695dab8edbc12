// Package middleware provides the Prometheus implementation of the metrics
// collector used by the runner and the language-model middleware.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/webis-de/GenIRSim/infrastructure/llm"
	"github.com/webis-de/GenIRSim/internal/ports"
)

const namespace = "genirsim"

// PrometheusMetrics implements ports.MetricsCollector. Known metric names
// map to dedicated vectors with fixed label sets; anything else lands in
// the generic vectors labelled by metric name.
type PrometheusMetrics struct {
	llmLatency      *prometheus.HistogramVec
	llmRequests     *prometheus.CounterVec
	llmTokens       *prometheus.CounterVec
	pluginLatency   *prometheus.HistogramVec
	scores          *prometheus.HistogramVec
	runs            *prometheus.CounterVec
	runsInFlight    prometheus.Gauge
	breakerState    *prometheus.GaugeVec
	breakerTrips    *prometheus.CounterVec
	breakerOutcomes *prometheus.CounterVec

	otherCounters   *prometheus.CounterVec
	otherGauges     *prometheus.GaugeVec
	otherHistograms *prometheus.HistogramVec
}

// NewPrometheusMetrics registers all metrics with registerer. A nil
// registerer selects prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      llm.MetricLLMLatency,
				Help:      "Duration of language model requests.",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model", "status"},
		),
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      llm.MetricLLMRequests,
				Help:      "Language model requests by outcome.",
			},
			[]string{"provider", "model", "status"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      llm.MetricLLMTokens,
				Help:      "Tokens sent to and received from language models.",
			},
			[]string{"provider", "model", "token_type"},
		),
		pluginLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plugin_call_duration_seconds",
				Help:      "Duration of user, system, and evaluator calls.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"capability", "method"},
		),
		scores: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_score",
				Help:      "Scores produced by evaluators.",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
			[]string{"evaluator", "scope"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      ports.MetricRuns,
				Help:      "Finished runs by status.",
			},
			[]string{"status"},
		),
		runsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      ports.MetricRunsInFlight,
				Help:      "Runs currently executing.",
			},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "llm_circuit_breaker_state",
				Help:      "Circuit breaker state: 0 closed, 1 open, 2 half open.",
			},
			[]string{"provider"},
		),
		breakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_circuit_breaker_rejections_total",
				Help:      "Requests rejected by an open circuit breaker.",
			},
			[]string{"provider"},
		),
		breakerOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_circuit_breaker_calls_total",
				Help:      "Calls through circuit breakers by outcome.",
			},
			[]string{"provider", "outcome"},
		),
		otherCounters: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Counters without a dedicated metric.",
			},
			[]string{"metric"},
		),
		otherGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "state",
				Help:      "Gauges without a dedicated metric.",
			},
			[]string{"metric"},
		),
		otherHistograms: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "observations",
				Help:      "Observations without a dedicated metric, including latencies in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"metric"},
		),
	}
}

// RecordLatency records durations of plugin calls and other operations.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	switch operation {
	case ports.MetricPluginCall:
		pm.pluginLatency.WithLabelValues(labels["capability"], labels["method"]).Observe(duration.Seconds())
	default:
		pm.otherHistograms.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// RecordCounter increments the counter for metric.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case llm.MetricLLMRequests:
		pm.llmRequests.WithLabelValues(labels["provider"], labels["model"], labels["status"]).Add(value)
	case llm.MetricLLMTokens:
		pm.llmTokens.WithLabelValues(labels["provider"], labels["model"], labels["token_type"]).Add(value)
	case ports.MetricRuns:
		pm.runs.WithLabelValues(labels["status"]).Add(value)
	default:
		pm.otherCounters.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge sets the gauge for metric.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	switch metric {
	case ports.MetricRunsInFlight:
		pm.runsInFlight.Set(value)
	default:
		pm.otherGauges.WithLabelValues(metric).Set(value)
	}
}

// RecordHistogram observes value for metric.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	switch metric {
	case llm.MetricLLMLatency:
		pm.llmLatency.WithLabelValues(labels["provider"], labels["model"], labels["status"]).Observe(value)
	case ports.MetricEvaluationScore:
		pm.scores.WithLabelValues(labels["evaluator"], labels["scope"]).Observe(value)
	default:
		pm.otherHistograms.WithLabelValues(metric).Observe(value)
	}
}

// BreakerMetrics returns the circuit breaker observer for provider.
func (pm *PrometheusMetrics) BreakerMetrics(provider string) llm.CircuitBreakerMetrics {
	return &breakerMetrics{metrics: pm, provider: provider}
}

type breakerMetrics struct {
	metrics  *PrometheusMetrics
	provider string
}

func (b *breakerMetrics) RecordState(state llm.CircuitBreakerState) {
	b.metrics.breakerState.WithLabelValues(b.provider).Set(float64(state))
}

func (b *breakerMetrics) RecordTrip() {
	b.metrics.breakerTrips.WithLabelValues(b.provider).Inc()
}

func (b *breakerMetrics) RecordSuccess() {
	b.metrics.breakerOutcomes.WithLabelValues(b.provider, "success").Inc()
}

func (b *breakerMetrics) RecordFailure() {
	b.metrics.breakerOutcomes.WithLabelValues(b.provider, "failure").Inc()
}

var (
	_ ports.MetricsCollector    = (*PrometheusMetrics)(nil)
	_ llm.CircuitBreakerMetrics = (*breakerMetrics)(nil)
)
