package ports

import (
	"context"
	"time"

	"github.com/webis-de/GenIRSim/internal/domain"
)

// LLMClient defines the interface plugins use to talk to a language model.
// Implementations handle provider-specific details like authentication,
// request formatting, and streaming, and log every request and response
// chunk to the logbook they were created with.
type LLMClient interface {
	// Chat sends the conversation and returns the fully assembled
	// completion. The action labels the logbook entries of this call.
	Chat(ctx context.Context, messages []domain.Message, action string) (string, error)

	// JSON requests completions until one can be repaired into a JSON
	// object containing every key in requiredKeys, or the retry budget is
	// exhausted. Each retry requests a fresh completion. A negative
	// maxRetries selects the client's configured default.
	//
	// Example:
	//
	//	turn, err := client.JSON(ctx, messages, "generation", []string{"utterance"}, -1)
	JSON(
		ctx context.Context,
		messages []domain.Message,
		action string,
		requiredKeys []string,
		maxRetries int,
	) (map[string]any, error)

	// GetModel returns the model identifier being used by this client.
	GetModel() string
}

// Metric names recorded by the application layer.
const (
	// MetricPluginCall is the latency of one User, System, or Evaluator
	// call, labelled with capability and method.
	MetricPluginCall = "plugin_call"

	// MetricEvaluationScore observes every non-null score, labelled with
	// evaluator and scope ("turn" or "overall").
	MetricEvaluationScore = "evaluation_score"

	// MetricRuns counts finished runs, labelled with status.
	MetricRuns = "runs_total"

	// MetricRunsInFlight is the number of runs currently executing.
	MetricRunsInFlight = "runs_in_flight"
)

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus or OpenTelemetry.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram, such as evaluation
	// scores.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// NopMetrics discards every measurement.
type NopMetrics struct{}

func (NopMetrics) RecordLatency(string, time.Duration, map[string]string) {}
func (NopMetrics) RecordCounter(string, float64, map[string]string)       {}
func (NopMetrics) RecordGauge(string, float64, map[string]string)         {}
func (NopMetrics) RecordHistogram(string, float64, map[string]string)     {}

var _ MetricsCollector = NopMetrics{}
