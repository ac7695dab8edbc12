package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/webis-de/GenIRSim/internal/domain"
)

const (
	// AnthropicDefaultModel is used when the configuration names no model.
	AnthropicDefaultModel = "claude-3-5-sonnet-20241022"
)

func init() {
	RegisterProviderFactory("anthropic", newAnthropicProvider)
}

// anthropicProvider implements the CoreLLM interface for Anthropic's
// Messages API. System prompts are sent as the separate system parameter.
type anthropicProvider struct {
	BaseProvider
	client          anthropic.Client
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

func newAnthropicProvider(config Config) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = AnthropicDefaultModel
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.URL != "" {
		validatedURL, err := ValidateBaseURL(config.URL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithBaseURL(validatedURL))
	}
	if timeout := ValidateTimeout(config.timeout()); timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}

	return &anthropicProvider{
		BaseProvider:    BaseProvider{model: model},
		client:          anthropic.NewClient(opts...),
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: "anthropic"},
	}, nil
}

// DoRequest sends the conversation to the Messages API.
func (p *anthropicProvider) DoRequest(ctx context.Context, req Request) (Response, error) {
	options := ParseRequestOptions(req.Options, p.GetModel())

	message, err := p.client.Messages.New(ctx, p.buildParams(req.Messages, options))
	if err != nil {
		return Response{}, p.handleError(err)
	}

	var content strings.Builder
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content.WriteString(b.Text)
		}
	}
	if content.Len() == 0 {
		return Response{}, NewProviderError("anthropic", ErrorTypeUnknown, 0, "", ErrEmptyResponse)
	}
	req.emit(content.String())

	out := Response{
		Content:   content.String(),
		TokensIn:  int(message.Usage.InputTokens),
		TokensOut: int(message.Usage.OutputTokens),
	}
	if out.TokensIn == 0 {
		out.TokensIn = p.tokenCounter.EstimateMessages(req.Messages)
	}
	out.TokensOut = p.tokenCounter.GetTokenCount(out.TokensOut, out.Content)
	return out, nil
}

func (p *anthropicProvider) buildParams(messages []domain.Message, options RequestOptions) anthropic.MessageNewParams {
	system, conversation := splitSystem(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(options.Model),
		MaxTokens: int64(options.MaxTokens),
		Messages:  make([]anthropic.MessageParam, 0, len(conversation)),
	}
	for _, m := range conversation {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == domain.RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	if options.Temperature != nil {
		// Anthropic accepts temperatures up to 1.0.
		params.Temperature = anthropic.Float(Clamp(*options.Temperature, 0, 1))
	}
	if options.TopP != nil {
		params.TopP = anthropic.Float(*options.TopP)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

func (p *anthropicProvider) handleError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return p.errorClassifier.ClassifyHTTPError(apiErr.StatusCode, "request rejected", err)
	}

	return NewProviderError("anthropic", ErrorTypeNetwork, 0, "request failed", err)
}
