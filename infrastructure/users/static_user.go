// Package users provides the built-in simulated users.
package users

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

var _ ports.User = (*StaticUser)(nil)

const (
	keyUtterance = "utterance"

	actionGeneration = "generation"
)

// StaticUser prompts a language model for each utterance. Its behavior
// does not change during the conversation and a follow-up only looks at the
// latest system response.
type StaticUser struct {
	config  StaticUserConfig
	raw     map[string]any
	client  ports.LLMClient
	topic   *domain.Topic
	started bool
}

// StaticUserConfig defines the configuration of a StaticUser.
// Every key of the configuration, including unknown ones, can be referenced
// from the prompt templates.
type StaticUserConfig struct {
	// LLM configures the language model.
	LLM map[string]any `json:"llm" validate:"required"`

	// Start is the prompt template for the first utterance. Variables:
	// {{variables.topic}}.
	Start string `json:"start" validate:"required"`

	// FollowUp is the prompt template for later utterances. Variables:
	// {{variables.topic}} and {{variables.systemResponse}}.
	FollowUp string `json:"followUp" validate:"required"`
}

// NewStaticUser creates a StaticUser from its configuration. The language
// model client logs to lb.
func NewStaticUser(cfg map[string]any, lb *logbook.Logbook) (*StaticUser, error) {
	var config StaticUserConfig
	if err := pluginkit.Decode(cfg, &config); err != nil {
		return nil, err
	}

	client, err := llm.NewClient(config.LLM, lb)
	if err != nil {
		return nil, err
	}
	return NewStaticUserWithClient(config, cfg, client), nil
}

// NewStaticUserWithClient creates a StaticUser around an existing client.
// raw is the template context base; nil uses no extra keys.
func NewStaticUserWithClient(config StaticUserConfig, raw map[string]any, client ports.LLMClient) *StaticUser {
	return &StaticUser{config: config, raw: raw, client: client}
}

// Start generates the first utterance for topic.
func (u *StaticUser) Start(ctx context.Context, topic domain.Topic) (*domain.UserTurn, error) {
	if u.started {
		return nil, fmt.Errorf("%w: Start called twice", domain.ErrInvalidTurnOrder)
	}
	u.started = true
	u.topic = &topic

	return u.ask(ctx, u.config.Start, map[string]any{"topic": topic})
}

// FollowUp generates the next utterance in reaction to response.
func (u *StaticUser) FollowUp(ctx context.Context, response *domain.SystemResponse) (*domain.UserTurn, error) {
	if !u.started {
		return nil, fmt.Errorf("%w: FollowUp called before Start", domain.ErrInvalidTurnOrder)
	}
	return u.ask(ctx, u.config.FollowUp, map[string]any{
		"topic":          *u.topic,
		"systemResponse": response,
	})
}

func (u *StaticUser) ask(ctx context.Context, template string, vars map[string]any) (*domain.UserTurn, error) {
	prompt, err := templates.RenderString(template, pluginkit.Context(u.raw, vars), false)
	if err != nil {
		return nil, fmt.Errorf("rendering prompt: %w", err)
	}

	object, err := u.client.JSON(ctx, []domain.Message{llm.UserMessage(prompt)},
		actionGeneration, []string{keyUtterance}, -1)
	if err != nil {
		return nil, err
	}
	return turnFromObject(object), nil
}

// turnFromObject keeps every key besides the utterance as a turn field.
func turnFromObject(object map[string]any) *domain.UserTurn {
	utterance, _ := pluginkit.String(object, keyUtterance)
	if utterance == "" {
		if v, ok := object[keyUtterance]; ok && v != nil {
			utterance = fmt.Sprint(v)
		}
	}
	return &domain.UserTurn{
		Utterance: utterance,
		Fields:    pluginkit.Fields(object, keyUtterance),
	}
}
