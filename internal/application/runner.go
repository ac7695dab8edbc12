package application

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/logbook"
	"github.com/webis-de/GenIRSim/internal/ports"
	"github.com/webis-de/GenIRSim/internal/templates"
)

// SourceRun is the logbook source of the runner's own entries.
const SourceRun = "run"

// Runner composes simulation and evaluation into runs. A run that fails is
// logged and yields an empty evaluation instead of an error, so one failing
// entry of a batch never affects its siblings.
//
// A Runner is safe for concurrent use. Plugins are constructed anew for
// every run and every attempt.
type Runner struct {
	registry       *Registry
	loader         *ConfigurationLoader
	simulator      *Simulator
	evaluator      *EvaluationController
	sink           logbook.Sink
	restricted     bool
	attempts       int
	maxConcurrency int
	logger         *zap.Logger
	metrics        ports.MetricsCollector
	tracer         trace.Tracer
	inFlight       atomic.Int64
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSink delivers the logbook entries of every run to sink. The sink is
// wrapped with logbook.Synchronized because batch runs log concurrently.
func WithSink(sink logbook.Sink) RunnerOption {
	return func(r *Runner) { r.sink = sink }
}

// WithRestricted controls whether remote module references are rejected.
// Runners are restricted by default.
func WithRestricted(restricted bool) RunnerOption {
	return func(r *Runner) { r.restricted = restricted }
}

// WithAttempts sets how often a failing run is started again with fresh
// plugins before it counts as failed. Values below 1 mean 1.
func WithAttempts(attempts int) RunnerOption {
	return func(r *Runner) { r.attempts = attempts }
}

// WithMaxConcurrency bounds the number of concurrent runs of a batch.
// Zero or less means unbounded.
func WithMaxConcurrency(n int) RunnerOption {
	return func(r *Runner) { r.maxConcurrency = n }
}

// WithLogger sets the operator logger.
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// WithMetrics sets the metrics collector for runs and plugin calls.
func WithMetrics(metrics ports.MetricsCollector) RunnerOption {
	return func(r *Runner) { r.metrics = metrics }
}

// WithRegistry replaces the plugin registry, for example with one that has
// additional modules registered.
func WithRegistry(registry *Registry) RunnerOption {
	return func(r *Runner) { r.registry = registry }
}

// NewRunner creates a runner. Without options it uses the built-in plugins,
// restricted loading, one attempt per run, unbounded batch concurrency, and
// discards logbook entries, operator logs, and metrics.
func NewRunner(opts ...RunnerOption) (*Runner, error) {
	r := &Runner{
		restricted: true,
		attempts:   1,
		logger:     zap.NewNop(),
		metrics:    ports.NopMetrics{},
		tracer:     otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.registry == nil {
		r.registry = NewRegistry()
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.metrics == nil {
		r.metrics = ports.NopMetrics{}
	}
	r.attempts = max(r.attempts, 1)
	if r.sink != nil {
		r.sink = logbook.Synchronized(r.sink)
	}

	loader, err := NewConfigurationLoader()
	if err != nil {
		return nil, err
	}
	r.loader = loader
	r.simulator = NewSimulator(r.registry, r.restricted, r.logger, r.metrics)
	r.evaluator = NewEvaluationController(r.registry, r.restricted, r.logger, r.metrics)
	return r, nil
}

// Loader returns the configuration loader of this runner.
func (r *Runner) Loader() *ConfigurationLoader { return r.loader }

// Run executes one run of configuration with replacements rendered into it.
// Configuration is anything ConfigurationLoader.Parse accepts. Failures are
// logged and produce an empty evaluation.
func (r *Runner) Run(ctx context.Context, configuration any, replacements map[string]any) *domain.Evaluation {
	evaluation, err := r.RunE(ctx, configuration, replacements)
	if err != nil {
		return &domain.Evaluation{}
	}
	return evaluation
}

// RunE is Run but also returns the error of a failed run.
func (r *Runner) RunE(ctx context.Context, configuration any, replacements map[string]any) (*domain.Evaluation, error) {
	runID := uuid.NewString()
	logger := r.logger.With(zap.String("run_id", runID))
	lb := logbook.New("", r.sink)

	m, err := r.loader.Parse(configuration)
	if err == nil {
		m, err = ApplyReplacements(m, replacements)
	}
	if err != nil {
		r.fail(lb, logger, err)
		return nil, err
	}
	return r.run(ctx, runID, m, lb, logger)
}

// RunBatch executes one independent run per replacement set, concurrently,
// and returns the evaluations in input order. Failed runs yield empty
// evaluations.
func (r *Runner) RunBatch(ctx context.Context, configuration any, replacements []map[string]any) []*domain.Evaluation {
	results := make([]*domain.Evaluation, len(replacements))

	m, err := r.loader.Parse(configuration)
	if err != nil {
		r.fail(logbook.New("", r.sink), r.logger, err)
		for i := range results {
			results[i] = &domain.Evaluation{}
		}
		return results
	}

	var g errgroup.Group
	if r.maxConcurrency > 0 {
		g.SetLimit(r.maxConcurrency)
	}
	for i, replacement := range replacements {
		g.Go(func() error {
			results[i] = r.Run(ctx, m, replacement)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// RunTSV converts tab-separated replacements (row 0 holds the variable
// names) into replacement sets and executes them as a batch.
func (r *Runner) RunTSV(ctx context.Context, configuration any, tsv string) ([]*domain.Evaluation, error) {
	contexts, err := templates.TSVToContexts(tsv)
	if err != nil {
		return nil, fmt.Errorf("parsing replacements: %w", err)
	}
	return r.RunBatch(ctx, configuration, contexts), nil
}

// Simulate runs only the simulation part of configuration. Unlike Run it
// returns errors to the caller.
func (r *Runner) Simulate(ctx context.Context, configuration any) (*domain.Simulation, error) {
	config, err := r.decode(configuration)
	if err != nil {
		return nil, err
	}
	return r.simulator.Simulate(ctx, config.Simulation, logbook.New("", r.sink))
}

// Evaluate scores a stored simulation with the evaluators of config. Unlike
// Run it returns errors to the caller.
func (r *Runner) Evaluate(ctx context.Context, simulation *domain.Simulation, config *domain.EvaluationConfiguration) (*domain.Evaluation, error) {
	if err := r.loader.ValidateEvaluation(config); err != nil {
		return nil, err
	}
	return r.evaluator.Evaluate(ctx, config, simulation, logbook.New("", r.sink))
}

func (r *Runner) decode(configuration any) (*domain.Configuration, error) {
	m, err := r.loader.Parse(configuration)
	if err != nil {
		return nil, err
	}
	return r.loader.Decode(m)
}

// run attempts the decoded configuration up to r.attempts times.
func (r *Runner) run(ctx context.Context, runID string, m map[string]any, lb *logbook.Logbook, logger *zap.Logger) (*domain.Evaluation, error) {
	ctx, span := r.tracer.Start(ctx, "genirsim.run", trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	r.metrics.RecordGauge(ports.MetricRunsInFlight, float64(r.inFlight.Add(1)), nil)
	defer func() {
		r.metrics.RecordGauge(ports.MetricRunsInFlight, float64(r.inFlight.Add(-1)), nil)
	}()

	config, err := r.loader.Decode(m)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.fail(lb, logger, err)
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		evaluation, err := r.attempt(ctx, config, lb)
		if err == nil {
			r.metrics.RecordCounter(ports.MetricRuns, 1, map[string]string{"status": "success"})
			logger.Info("run finished", zap.Int("attempt", attempt))
			return evaluation, nil
		}
		if ctx.Err() != nil || attempt >= r.attempts {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.fail(lb, logger, err)
			return nil, err
		}
		lb.Sub(SourceRun).Log("retry", fmt.Sprintf("Failed attempt %d/%d: %v", attempt, r.attempts, err))
		logger.Warn("run attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}
}

func (r *Runner) attempt(ctx context.Context, config *domain.Configuration, lb *logbook.Logbook) (*domain.Evaluation, error) {
	simulation, err := r.simulator.Simulate(ctx, config.Simulation, lb)
	if err != nil {
		return nil, fmt.Errorf("simulation: %w", err)
	}
	evaluation, err := r.evaluator.Evaluate(ctx, &config.Evaluation, simulation, lb)
	if err != nil {
		return nil, fmt.Errorf("evaluation: %w", err)
	}
	return evaluation, nil
}

func (r *Runner) fail(lb *logbook.Logbook, logger *zap.Logger, err error) {
	r.metrics.RecordCounter(ports.MetricRuns, 1, map[string]string{"status": "failure"})
	lb.Sub(SourceRun).Log("error", err.Error())
	logger.Error("run failed", zap.Error(err))
}
