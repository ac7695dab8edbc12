package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/webis-de/GenIRSim/internal/domain"
)

const (
	// GoogleDefaultModel is used when the configuration names no model.
	GoogleDefaultModel = "gemini-2.0-flash"
)

func init() {
	RegisterProviderFactory("google", newGoogleProvider)
}

// googleProvider implements the CoreLLM interface for Google's Gemini API.
// System prompts become the system instruction; assistant turns use the
// "model" role.
type googleProvider struct {
	BaseProvider
	client          *genai.Client
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

func newGoogleProvider(config Config) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = GoogleDefaultModel
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.URL != "" {
		validatedURL, err := ValidateBaseURL(config.URL)
		if err != nil {
			return nil, err
		}
		clientConfig.HTTPOptions.BaseURL = validatedURL
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &googleProvider{
		BaseProvider:    BaseProvider{model: model},
		client:          client,
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: "google"},
	}, nil
}

// DoRequest sends the conversation to GenerateContent.
func (p *googleProvider) DoRequest(ctx context.Context, req Request) (Response, error) {
	options := ParseRequestOptions(req.Options, p.GetModel())
	system, conversation := splitSystem(req.Messages)

	contents := make([]*genai.Content, len(conversation))
	for i, m := range conversation {
		role := genai.Role(genai.RoleUser)
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents[i] = genai.NewContentFromText(m.Content, role)
	}

	config := p.buildGenerationConfig(options)
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, options.Model, contents, config)
	if err != nil {
		return Response{}, p.handleError(err)
	}

	content := resp.Text()
	if content == "" {
		return Response{}, NewProviderError("google", ErrorTypeUnknown, 0, "", ErrEmptyResponse)
	}
	req.emit(content)

	out := Response{Content: content}
	if usage := resp.UsageMetadata; usage != nil {
		out.TokensIn = int(usage.PromptTokenCount)
		out.TokensOut = int(usage.CandidatesTokenCount)
	}
	if out.TokensIn == 0 {
		out.TokensIn = p.tokenCounter.EstimateMessages(req.Messages)
	}
	out.TokensOut = p.tokenCounter.GetTokenCount(out.TokensOut, content)
	return out, nil
}

// buildGenerationConfig maps the common options onto Gemini's
// generation config. Values outside the API's ranges are clamped.
func (p *googleProvider) buildGenerationConfig(options RequestOptions) *genai.GenerateContentConfig {
	clamped := func(v *float64, lo, hi float64) *float32 {
		if v == nil {
			return nil
		}
		return genai.Ptr(float32(Clamp(*v, lo, hi)))
	}

	config := &genai.GenerateContentConfig{
		Temperature: clamped(options.Temperature, MinTemperature, MaxTemperature),
		TopP:        clamped(options.TopP, MinTopP, MaxTopP),
	}
	if options.MaxTokens > 0 {
		config.MaxOutputTokens = int32(min(options.MaxTokens, math.MaxInt32)) // #nosec G115 -- clamped
	}
	if topK := ExtractOptionalInt(options.Extra, "top_k", 0, IsPositiveInt); topK > 0 {
		config.TopK = genai.Ptr(float32(min(topK, 40)))
	}
	return config
}

var safetyMarkers = []string{"safety", "policy", "blocked"}

// handleError turns a Gemini failure into a ProviderError. Both the genai
// and the googleapi error shapes carry an HTTP status; safety blocks are
// reported as content policy errors whatever their status.
func (p *googleProvider) handleError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var (
		code    int
		message string
		reasons []string
	)
	var genaiErr genai.APIError
	var apiErr *googleapi.Error
	switch {
	case errors.As(err, &genaiErr):
		code, message, reasons = genaiErr.Code, genaiErr.Message, []string{genaiErr.Status}
	case errors.As(err, &apiErr):
		code, message = apiErr.Code, apiErr.Message
		for _, item := range apiErr.Errors {
			reasons = append(reasons, item.Reason)
			if message == "" {
				message = item.Message
			}
		}
	default:
		return NewProviderError("google", ErrorTypeUnknown, 0, "request failed", err)
	}

	if isSafetyBlock(message, reasons) {
		return NewProviderError("google", ErrorTypeContentPolicy, code, "request blocked by safety filters", err)
	}
	return p.errorClassifier.ClassifyHTTPError(code, message, err)
}

func isSafetyBlock(message string, reasons []string) bool {
	lower := strings.ToLower(message)
	for _, marker := range safetyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	for _, reason := range reasons {
		if reason == "SAFETY" || reason == "BLOCKED" {
			return true
		}
	}
	return false
}
