package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/logbook"
	"github.com/webis-de/GenIRSim/internal/ports"
)

// TracerName is the instrumentation scope of the run, simulation, and
// evaluation spans.
const TracerName = "github.com/webis-de/GenIRSim/internal/application"

// Logbook sources of the simulation plugins.
const (
	SourceUser   = "user"
	SourceSystem = "system"
)

// Simulator drives the turn loop between a user and a system.
//
// For maxTurns N it calls User.Start once, System.Search N times, and
// User.FollowUp N-1 times, strictly alternating and never concurrently.
// Turn t's system response is attached before turn t+1 is requested.
type Simulator struct {
	registry   *Registry
	restricted bool
	logger     *zap.Logger
	metrics    ports.MetricsCollector
	tracer     trace.Tracer
}

// NewSimulator creates a simulator that constructs its plugins from
// registry. Nil logger and metrics discard their output.
func NewSimulator(registry *Registry, restricted bool, logger *zap.Logger, metrics ports.MetricsCollector) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Simulator{
		registry:   registry,
		restricted: restricted,
		logger:     logger,
		metrics:    metrics,
		tracer:     otel.Tracer(TracerName),
	}
}

// Simulate constructs fresh user and system plugins for config and runs the
// conversation. Any failure aborts the simulation; no partial simulation is
// returned.
func (s *Simulator) Simulate(ctx context.Context, config domain.SimulationConfiguration, lb *logbook.Logbook) (*domain.Simulation, error) {
	user, err := Construct[ports.User](s.registry, ports.CapabilityUser, config.User, lb.Sub(SourceUser), s.restricted)
	if err != nil {
		return nil, fmt.Errorf("constructing user: %w", err)
	}
	system, err := Construct[ports.System](s.registry, ports.CapabilitySystem, config.System, lb.Sub(SourceSystem), s.restricted)
	if err != nil {
		return nil, fmt.Errorf("constructing system: %w", err)
	}
	return s.SimulateWith(ctx, config, user, system)
}

// SimulateWith runs the conversation with already constructed plugins. The
// plugins must not have been used before.
func (s *Simulator) SimulateWith(ctx context.Context, config domain.SimulationConfiguration, user ports.User, system ports.System) (*domain.Simulation, error) {
	if config.MaxTurns < 1 {
		return nil, domain.NewConfigurationError("simulation.maxTurns", "must be at least 1", nil)
	}

	ctx, span := s.tracer.Start(ctx, "genirsim.simulate",
		trace.WithAttributes(attribute.Int("simulation.max_turns", config.MaxTurns)))
	defer span.End()

	simulation, err := s.simulate(ctx, config, GuardUser(user), system)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("simulation.turns", len(simulation.UserTurns)))
	return simulation, nil
}

func (s *Simulator) simulate(ctx context.Context, config domain.SimulationConfiguration, user ports.User, system ports.System) (*domain.Simulation, error) {
	simulation := &domain.Simulation{
		Configuration: config,
		UserTurns:     make([]domain.UserTurn, 0, config.MaxTurns),
	}

	turn, err := requiredCall(s.metrics, ports.CapabilityUser, "Start", 0, func() (*domain.UserTurn, error) {
		return user.Start(ctx, config.Topic)
	})
	if err != nil {
		return nil, err
	}

	for t := 0; ; t++ {
		response, err := requiredCall(s.metrics, ports.CapabilitySystem, "Search", t, func() (*domain.SystemResponse, error) {
			return system.Search(ctx, turn)
		})
		if err != nil {
			return nil, err
		}
		turn.SystemResponse = response
		simulation.UserTurns = append(simulation.UserTurns, *turn)
		s.logger.Debug("turn completed", zap.Int("turn", t))

		if t+1 == config.MaxTurns {
			return simulation, nil
		}

		turn, err = requiredCall(s.metrics, ports.CapabilityUser, "FollowUp", t+1, func() (*domain.UserTurn, error) {
			return user.FollowUp(ctx, response)
		})
		if err != nil {
			return nil, err
		}
	}
}

// errNilResult marks a plugin that returned neither a value nor an error
// where a value is mandatory.
var errNilResult = errors.New("returned no result")

// timedCall invokes one plugin method, records its latency, and wraps a
// failure in a *ports.PluginCallError.
func timedCall[T any](metrics ports.MetricsCollector, capability, name, method string, turn int, call func() (*T, error)) (*T, error) {
	start := time.Now()
	result, err := call()
	metrics.RecordLatency(ports.MetricPluginCall, time.Since(start), map[string]string{
		"capability": capability,
		"method":     method,
	})
	if err != nil {
		return nil, ports.NewPluginCallError(capability, name, method, turn, err)
	}
	return result, nil
}

// requiredCall is timedCall for methods that must return a value.
func requiredCall[T any](metrics ports.MetricsCollector, capability, method string, turn int, call func() (*T, error)) (*T, error) {
	result, err := timedCall(metrics, capability, "", method, turn, call)
	if err == nil && result == nil {
		return nil, ports.NewPluginCallError(capability, "", method, turn, errNilResult)
	}
	return result, err
}

// guardedUser enforces the Start-then-FollowUp order of a User.
type guardedUser struct {
	user    ports.User
	started bool
}

// GuardUser wraps user so that FollowUp before Start, and a second Start,
// fail with domain.ErrInvalidTurnOrder without reaching user.
func GuardUser(user ports.User) ports.User {
	if guarded, ok := user.(*guardedUser); ok {
		return guarded
	}
	return &guardedUser{user: user}
}

func (g *guardedUser) Start(ctx context.Context, topic domain.Topic) (*domain.UserTurn, error) {
	if g.started {
		return nil, fmt.Errorf("%w: Start called twice", domain.ErrInvalidTurnOrder)
	}
	g.started = true
	return g.user.Start(ctx, topic)
}

func (g *guardedUser) FollowUp(ctx context.Context, response *domain.SystemResponse) (*domain.UserTurn, error) {
	if !g.started {
		return nil, fmt.Errorf("%w: FollowUp called before Start", domain.ErrInvalidTurnOrder)
	}
	return g.user.FollowUp(ctx, response)
}
