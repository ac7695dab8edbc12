package llm

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/webis-de/GenIRSim/internal/domain"
)

const (
	// OpenAIDefaultModel is used when the configuration names no model.
	OpenAIDefaultModel = "gpt-4o-mini"
)

func init() {
	RegisterProviderFactory("openai", newOpenAIProvider)
}

// openAIProvider implements the CoreLLM interface for OpenAI's API and any
// endpoint compatible with it. Completions are streamed.
type openAIProvider struct {
	BaseProvider
	client          *openai.Client
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

// newOpenAIProvider creates a new OpenAI provider instance.
func newOpenAIProvider(config Config) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = OpenAIDefaultModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)

	if config.URL != "" {
		validatedURL, err := ValidateBaseURL(config.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid url: %w", err)
		}
		clientConfig.BaseURL = validatedURL
	}

	if timeout := ValidateTimeout(config.timeout()); timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: timeout}
	}

	return &openAIProvider{
		BaseProvider:    BaseProvider{model: model},
		client:          openai.NewClientWithConfig(clientConfig),
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: "openai"},
	}, nil
}

// DoRequest streams a chat completion and returns the concatenated content
// along with token usage data.
func (p *openAIProvider) DoRequest(ctx context.Context, req Request) (Response, error) {
	options := ParseRequestOptions(req.Options, p.GetModel())

	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildChatCompletionRequest(req.Messages, options))
	if err != nil {
		return Response{}, p.handleError(err)
	}
	defer stream.Close()

	var (
		content strings.Builder
		usage   *openai.Usage
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Response{}, p.handleError(err)
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		req.emit(delta)
		content.WriteString(delta)
	}

	out := Response{Content: content.String()}
	if usage != nil {
		out.TokensIn = usage.PromptTokens
		out.TokensOut = usage.CompletionTokens
	}
	if out.TokensIn == 0 {
		out.TokensIn = p.tokenCounter.EstimateMessages(req.Messages)
	}
	out.TokensOut = p.tokenCounter.GetTokenCount(out.TokensOut, out.Content)
	return out, nil
}

func (p *openAIProvider) buildChatCompletionRequest(messages []domain.Message, options RequestOptions) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:         options.Model,
		Messages:      make([]openai.ChatCompletionMessage, len(messages)),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	p.applyRequestParameters(&req, options)
	return req
}

// applyRequestParameters copies the sampling options onto the request,
// clamped to the ranges the API accepts.
func (p *openAIProvider) applyRequestParameters(req *openai.ChatCompletionRequest, options RequestOptions) {
	if options.Temperature != nil {
		req.Temperature = float32(Clamp(*options.Temperature, MinTemperature, MaxTemperature))
	}
	if options.TopP != nil {
		req.TopP = float32(Clamp(*options.TopP, MinTopP, MaxTopP))
	}
	req.MaxTokens = max(options.MaxTokens, 0)

	penalty := func(key string) float32 {
		v, ok := SafeFloat32(options.Extra[key])
		if !ok {
			return 0
		}
		return float32(Clamp(float64(v), MinPenalty, MaxPenalty))
	}
	req.FrequencyPenalty = penalty("frequency_penalty")
	req.PresencePenalty = penalty("presence_penalty")

	if seed, ok := SafeInt(options.Extra["seed"]); ok {
		req.Seed = &seed
	}
	switch stop := options.Extra["stop"].(type) {
	case string:
		req.Stop = []string{stop}
	case []any:
		for _, s := range stop {
			if text, ok := s.(string); ok {
				req.Stop = append(req.Stop, text)
			}
		}
	}
}

// handleError classifies errors of the OpenAI client. API errors carry the
// HTTP status; moderation rejections become content policy errors.
func (p *openAIProvider) handleError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		if code, _ := apiErr.Code.(string); code == "content_policy_violation" || code == "content_filter" {
			return NewProviderError("openai", ErrorTypeContentPolicy, apiErr.HTTPStatusCode, apiErr.Message, err)
		}
		return p.errorClassifier.ClassifyHTTPError(apiErr.HTTPStatusCode, cmp.Or(apiErr.Message, "unknown error"), err)
	case errors.As(err, &reqErr):
		return p.errorClassifier.ClassifyHTTPError(reqErr.HTTPStatusCode, "request failed", err)
	default:
		return p.errorClassifier.ClassifyTransportError(err)
	}
}
