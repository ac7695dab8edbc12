package evaluators

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"

	"github.com/webis-de/GenIRSim/infrastructure/pluginkit"
	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/logbook"
	"github.com/webis-de/GenIRSim/internal/ports"
	"github.com/webis-de/GenIRSim/internal/templates"
)

var (
	_ ports.Evaluator = (*ReferenceMatchEvaluator)(nil)

	// foldCaser is a package-level Unicode case folder.
	foldCaser = cases.Fold()
)

// Matching algorithms.
const (
	AlgorithmExact       = "exact"
	AlgorithmLevenshtein = "levenshtein"
)

// ReferenceMatchEvaluator compares each system utterance with a reference
// answer without calling a model. Per-turn scores are kept, and the overall
// evaluation aggregates the scores of the turns seen so far, so calls must
// arrive in turn order.
type ReferenceMatchEvaluator struct {
	config     ReferenceMatchConfig
	raw        map[string]any
	aggregator domain.Aggregator
	logbook    *logbook.Logbook
	tracer     trace.Tracer

	scores   []float64
	lastTurn int
	finished bool
}

// ReferenceMatchConfig defines the configuration of a
// ReferenceMatchEvaluator.
type ReferenceMatchConfig struct {
	// Reference is a template for the expected system utterance. Variables:
	// {{variables.userTurn}}, {{variables.turnIndex}}, and
	// {{variables.simulation}}. A reference that renders empty marks the
	// turn as not applicable.
	Reference string `json:"reference" validate:"required"`

	// Algorithm is "exact" or "levenshtein" (default).
	Algorithm string `json:"algorithm" validate:"omitempty,oneof=exact levenshtein"`

	// Threshold is the minimum similarity; lower similarities score 0.
	Threshold float64 `json:"threshold" validate:"min=0,max=1"`

	// CaseSensitive disables Unicode case folding.
	CaseSensitive bool `json:"caseSensitive"`

	// Aggregation is "mean" (default), "max", or "median".
	Aggregation string `json:"aggregation" validate:"omitempty,oneof=mean max median"`
}

// NewReferenceMatchEvaluator creates the evaluator from its configuration.
func NewReferenceMatchEvaluator(cfg map[string]any, lb *logbook.Logbook) (*ReferenceMatchEvaluator, error) {
	var config ReferenceMatchConfig
	if err := pluginkit.Decode(cfg, &config); err != nil {
		return nil, err
	}
	if config.Algorithm == "" {
		config.Algorithm = AlgorithmLevenshtein
	}

	aggregator, err := NewAggregator(config.Aggregation)
	if err != nil {
		return nil, domain.NewConfigurationError("aggregation", "unknown aggregation", err)
	}

	return &ReferenceMatchEvaluator{
		config:     config,
		raw:        cfg,
		aggregator: aggregator,
		logbook:    lb,
		tracer:     otel.Tracer("reference-match-evaluator"),
		lastTurn:   -1,
	}, nil
}

// Evaluate scores one turn, or aggregates all scored turns for
// domain.Overall.
func (e *ReferenceMatchEvaluator) Evaluate(ctx context.Context, simulation *domain.Simulation, turnIndex int) (*domain.EvaluationResult, error) {
	if e.finished {
		return nil, fmt.Errorf("%w: evaluation already finished", domain.ErrInvalidTurnOrder)
	}
	if turnIndex == domain.Overall {
		e.finished = true
		return e.overall()
	}
	if turnIndex <= e.lastTurn {
		return nil, fmt.Errorf("%w: turn %d after turn %d", domain.ErrInvalidTurnOrder, turnIndex, e.lastTurn)
	}
	if turnIndex >= len(simulation.UserTurns) {
		return nil, fmt.Errorf("turn %d out of range [0,%d)", turnIndex, len(simulation.UserTurns))
	}
	e.lastTurn = turnIndex

	_, span := e.tracer.Start(ctx, "ReferenceMatchEvaluator.Evaluate",
		trace.WithAttributes(
			attribute.String("config.algorithm", e.config.Algorithm),
			attribute.Float64("config.threshold", e.config.Threshold),
			attribute.Int("turn.index", turnIndex),
		),
	)
	defer span.End()

	turn := simulation.UserTurns[turnIndex]
	if turn.SystemResponse == nil {
		return nil, nil
	}

	reference, err := templates.RenderString(e.config.Reference, pluginkit.Context(e.raw, map[string]any{
		"simulation": simulation,
		"userTurn":   turn,
		"turnIndex":  turnIndex,
	}), false)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("rendering reference: %w", err)
	}
	if strings.TrimSpace(reference) == "" {
		return nil, nil
	}

	raw := e.similarity(e.prepare(turn.SystemResponse.Utterance), e.prepare(reference))
	score := raw
	explanation := fmt.Sprintf("%s similarity %.2f%%", e.config.Algorithm, raw*100)
	if raw < e.config.Threshold {
		score = 0
		explanation = fmt.Sprintf("No match (similarity %.2f%% below threshold %.2f%%)", raw*100, e.config.Threshold*100)
	}
	e.scores = append(e.scores, score)
	e.logbook.Log("match", map[string]any{"turn": turnIndex, "reference": reference, "similarity": raw})

	span.SetAttributes(
		attribute.Float64("eval.score", score),
		attribute.Bool("no_llm_cost", true),
	)
	return domain.NewEvaluationResult(score, explanation), nil
}

func (e *ReferenceMatchEvaluator) overall() (*domain.EvaluationResult, error) {
	if len(e.scores) == 0 {
		return nil, nil
	}
	score, err := e.aggregator.Aggregate(e.scores)
	if err != nil {
		return nil, err
	}
	return domain.NewEvaluationResult(score,
		fmt.Sprintf("%s of %d turn scores", e.aggregator.Name(), len(e.scores))), nil
}

func (e *ReferenceMatchEvaluator) prepare(s string) string {
	s = strings.TrimSpace(s)
	if !e.config.CaseSensitive {
		s = foldCaser.String(s)
	}
	return s
}

// similarity is 1 for identical strings. For levenshtein it is
// 1 - distance/maxRuneLength, otherwise 0.
func (e *ReferenceMatchEvaluator) similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if e.config.Algorithm == AlgorithmExact {
		return 0
	}

	distance := levenshtein.ComputeDistance(a, b)
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 1
	}
	return max(0, 1-float64(distance)/float64(maxLen))
}
