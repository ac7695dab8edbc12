package evaluators

import (
	"context"
	"fmt"

	"github.com/webis-de/GenIRSim/infrastructure/llm"
	"github.com/webis-de/GenIRSim/infrastructure/pluginkit"
	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/logbook"
	"github.com/webis-de/GenIRSim/internal/ports"
	"github.com/webis-de/GenIRSim/internal/templates"
)

var _ ports.Evaluator = (*PromptedEvaluator)(nil)

const (
	keyScore = "score"

	actionPrompting = "prompting"
)

// PromptedEvaluator asks a language model to score each turn. It does not
// evaluate complete simulations.
type PromptedEvaluator struct {
	config PromptedConfig
	raw    map[string]any
	client ports.LLMClient
	scale  *ScoreScale
}

// PromptedConfig defines the configuration of a PromptedEvaluator.
type PromptedConfig struct {
	LLM map[string]any `json:"llm" validate:"required"`

	// Prompt is the judge prompt template. Variables:
	// {{variables.simulation}} and {{variables.userTurn}}, notably
	// {{variables.userTurn.utterance}} and
	// {{variables.userTurn.systemResponse.utterance}}.
	Prompt string `json:"prompt" validate:"required"`

	// RequiredKeys are required in the model's answer besides "score".
	RequiredKeys []string `json:"requiredKeys"`

	// ScoreScale, such as "1-10", is the range the prompt asks for. Scores
	// are normalized from it onto [0,1]. Without it the model must answer
	// in [0,1].
	ScoreScale string `json:"scoreScale"`
}

// NewPromptedEvaluator creates the evaluator from its configuration.
func NewPromptedEvaluator(cfg map[string]any, lb *logbook.Logbook) (*PromptedEvaluator, error) {
	var config PromptedConfig
	if err := pluginkit.Decode(cfg, &config); err != nil {
		return nil, err
	}

	client, err := llm.NewClient(config.LLM, lb)
	if err != nil {
		return nil, err
	}
	return NewPromptedEvaluatorWithClient(config, cfg, client)
}

// NewPromptedEvaluatorWithClient creates the evaluator around an existing
// client. raw is the template context base.
func NewPromptedEvaluatorWithClient(config PromptedConfig, raw map[string]any, client ports.LLMClient) (*PromptedEvaluator, error) {
	e := &PromptedEvaluator{config: config, raw: raw, client: client}
	if config.ScoreScale != "" {
		scale, err := ParseScoreScale(config.ScoreScale)
		if err != nil {
			return nil, domain.NewConfigurationError("scoreScale", "invalid score scale", err)
		}
		e.scale = &scale
	}
	return e, nil
}

// Evaluate prompts the model for the given turn and returns its answer as
// the result. A null score is kept as a result without score, together
// with the explanation and any other keys of the answer.
func (e *PromptedEvaluator) Evaluate(ctx context.Context, simulation *domain.Simulation, turnIndex int) (*domain.EvaluationResult, error) {
	if turnIndex == domain.Overall {
		return nil, nil
	}
	if turnIndex < 0 || turnIndex >= len(simulation.UserTurns) {
		return nil, fmt.Errorf("turn %d out of range [0,%d)", turnIndex, len(simulation.UserTurns))
	}

	vars := pluginkit.Context(e.raw, map[string]any{
		"simulation": simulation,
		"userTurn":   simulation.UserTurns[turnIndex],
	})
	prompt, err := templates.RenderString(e.config.Prompt, vars, false)
	if err != nil {
		return nil, fmt.Errorf("rendering prompt: %w", err)
	}

	requiredKeys := append(append([]string{}, e.config.RequiredKeys...), keyScore)
	object, err := e.client.JSON(ctx, []domain.Message{llm.UserMessage(prompt)}, actionPrompting, requiredKeys, -1)
	if err != nil {
		return nil, err
	}

	result, err := domain.EvaluationResultFromMap(object)
	if err != nil {
		return nil, fmt.Errorf("judge answer: %w", err)
	}
	if e.scale != nil && result.Score != nil {
		normalized, err := e.scale.Normalize(*result.Score)
		if err != nil {
			return nil, err
		}
		if result.Fields == nil {
			result.Fields = map[string]any{}
		}
		result.Fields["rawScore"] = *result.Score
		result.Score = &normalized
	}
	return result, nil
}
