package application

import (
	"context"
	"fmt"
	"math"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/logbook"
	"github.com/webis-de/GenIRSim/internal/ports"
)

// SourceEvaluation is the logbook source prefix of evaluators; each
// evaluator logs under "evaluation.<name>".
const SourceEvaluation = "evaluation"

// NamedEvaluator pairs an evaluator with its configured name.
type NamedEvaluator struct {
	Name      string
	Evaluator ports.Evaluator
}

// EvaluationController scores a simulation with the configured evaluators.
//
// Every evaluator is called for each turn that has a system response, in
// ascending turn order, and then once with domain.Overall. Evaluators run in
// series, sorted by name, and a fresh instance is constructed per call of
// Evaluate.
type EvaluationController struct {
	registry   *Registry
	restricted bool
	logger     *zap.Logger
	metrics    ports.MetricsCollector
	tracer     trace.Tracer
}

// NewEvaluationController creates a controller that constructs evaluators
// from registry. Nil logger and metrics discard their output.
func NewEvaluationController(registry *Registry, restricted bool, logger *zap.Logger, metrics ports.MetricsCollector) *EvaluationController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &EvaluationController{
		registry:   registry,
		restricted: restricted,
		logger:     logger,
		metrics:    metrics,
		tracer:     otel.Tracer(TracerName),
	}
}

// Evaluate constructs one evaluator per configured name and scores
// simulation. Any failing evaluator call aborts the evaluation.
func (c *EvaluationController) Evaluate(
	ctx context.Context,
	config *domain.EvaluationConfiguration,
	simulation *domain.Simulation,
	lb *logbook.Logbook,
) (*domain.Evaluation, error) {
	if config == nil {
		config = &domain.EvaluationConfiguration{}
	}
	if simulation == nil {
		return nil, domain.NewConfigurationError("simulation", "missing", nil)
	}

	names := make([]string, 0, len(config.Evaluators))
	for name := range config.Evaluators {
		names = append(names, name)
	}
	slices.Sort(names)

	evaluators := make([]NamedEvaluator, 0, len(names))
	for _, name := range names {
		evaluator, err := Construct[ports.Evaluator](c.registry, ports.CapabilityEvaluator,
			config.Evaluators[name], lb.Sub(SourceEvaluation).Sub(name), c.restricted)
		if err != nil {
			return nil, fmt.Errorf("constructing evaluator %s: %w", name, err)
		}
		evaluators = append(evaluators, NamedEvaluator{Name: name, Evaluator: evaluator})
	}

	return c.EvaluateWith(ctx, config, simulation, evaluators...)
}

// EvaluateWith scores simulation with already constructed evaluators, in the
// given order. The evaluators must not have been used before.
func (c *EvaluationController) EvaluateWith(
	ctx context.Context,
	config *domain.EvaluationConfiguration,
	simulation *domain.Simulation,
	evaluators ...NamedEvaluator,
) (*domain.Evaluation, error) {
	ctx, span := c.tracer.Start(ctx, "genirsim.evaluate",
		trace.WithAttributes(
			attribute.Int("evaluation.evaluators", len(evaluators)),
			attribute.Int("simulation.turns", len(simulation.UserTurns)),
		))
	defer span.End()

	evaluation := &domain.Evaluation{
		Configuration:        config,
		Simulation:           simulation,
		UserTurnsEvaluations: make([]map[string]*domain.EvaluationResult, 0, len(simulation.UserTurns)),
		OverallEvaluations:   make(map[string]*domain.EvaluationResult, len(evaluators)),
	}

	for turnIndex, turn := range simulation.UserTurns {
		if turn.SystemResponse == nil {
			continue
		}
		results, err := c.evaluateAll(ctx, evaluators, simulation, turnIndex)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		evaluation.UserTurnsEvaluations = append(evaluation.UserTurnsEvaluations, results)
	}

	results, err := c.evaluateAll(ctx, evaluators, simulation, domain.Overall)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	evaluation.OverallEvaluations = results

	return evaluation, nil
}

// evaluateAll calls every evaluator for one turn, or overall, and keeps the
// non-nil results.
func (c *EvaluationController) evaluateAll(
	ctx context.Context,
	evaluators []NamedEvaluator,
	simulation *domain.Simulation,
	turnIndex int,
) (map[string]*domain.EvaluationResult, error) {
	scope := "turn"
	if turnIndex == domain.Overall {
		scope = "overall"
	}

	results := make(map[string]*domain.EvaluationResult, len(evaluators))
	for _, e := range evaluators {
		result, err := timedCall(c.metrics, ports.CapabilityEvaluator, e.Name, "Evaluate", turnIndex,
			func() (*domain.EvaluationResult, error) {
				return e.Evaluator.Evaluate(ctx, simulation, turnIndex)
			})
		if err != nil {
			return nil, err
		}
		if result == nil {
			continue
		}
		if err := validateScore(e.Name, result); err != nil {
			return nil, ports.NewPluginCallError(ports.CapabilityEvaluator, e.Name, "Evaluate", turnIndex, err)
		}

		if result.Score != nil {
			c.metrics.RecordHistogram(ports.MetricEvaluationScore, *result.Score, map[string]string{
				"evaluator": e.Name,
				"scope":     scope,
			})
		}
		c.logger.Debug("evaluated",
			zap.String("evaluator", e.Name),
			zap.Int("turn", turnIndex),
			zap.Any("score", result.Score))
		results[e.Name] = result
	}
	return results, nil
}

// validateScore rejects non-null scores outside [0,1].
func validateScore(name string, result *domain.EvaluationResult) error {
	if result.Score == nil {
		return nil
	}
	score := *result.Score
	if math.IsNaN(score) || score < 0 || score > 1 {
		verr := domain.NewValidationError("evaluator " + name)
		verr.AddError(fmt.Sprintf("score %v is outside [0,1]", score))
		return verr
	}
	return nil
}
