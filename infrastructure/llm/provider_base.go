package llm

import (
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/webis-de/GenIRSim/internal/domain"
)

// DefaultMaxTokens is the completion limit for providers that require one.
const DefaultMaxTokens = 1024

// BaseProvider holds the model name shared by all providers.
type BaseProvider struct {
	mu    sync.RWMutex
	model string
}

func (b *BaseProvider) GetModel() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

func (b *BaseProvider) SetModel(model string) {
	b.mu.Lock()
	b.model = model
	b.mu.Unlock()
}

// RequestOptions are the sampling options every provider understands.
// Nil pointers leave the provider default in place.
type RequestOptions struct {
	MaxTokens   int
	Model       string
	Temperature *float64
	TopP        *float64
	// Extra holds the remaining, provider-specific options.
	Extra map[string]any
}

var commonOptions = map[string]bool{"max_tokens": true, "model": true, "temperature": true, "top_p": true}

// ParseRequestOptions reads the common options from the "options" map of
// a model configuration. Invalid values fall back to the defaults.
func ParseRequestOptions(opts map[string]any, defaultModel string) RequestOptions {
	options := RequestOptions{
		MaxTokens: ExtractOptionalInt(opts, "max_tokens", DefaultMaxTokens, IsPositiveInt),
		Model:     ExtractOptionalString(opts, "model", defaultModel, IsNonEmptyString),
		Extra:     make(map[string]any, len(opts)),
	}
	options.Temperature = optionalFloat(opts, "temperature", IsValidTemperature)
	options.TopP = optionalFloat(opts, "top_p", IsValidTopP)

	for key, value := range opts {
		if !commonOptions[key] {
			options.Extra[key] = value
		}
	}
	return options
}

func optionalFloat(opts map[string]any, key string, valid func(float64) bool) *float64 {
	if _, ok := opts[key]; !ok {
		return nil
	}
	v := ExtractOptionalFloat64(opts, key, math.NaN(), valid)
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// splitSystem separates system prompts from the conversation for providers
// that take them as a distinct parameter. Multiple system messages are
// joined by blank lines.
func splitSystem(messages []domain.Message) (string, []domain.Message) {
	var system []string
	rest := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// TokenCounter estimates token counts for providers that do not report
// usage, assuming a fixed number of characters per token.
type TokenCounter struct {
	CharactersPerToken float64
}

func NewTokenCounter() *TokenCounter {
	return &TokenCounter{CharactersPerToken: 4}
}

// EstimateTokens counts runes, not bytes, and rounds up.
func (tc *TokenCounter) EstimateTokens(text string) int {
	if text == "" || tc.CharactersPerToken <= 0 {
		return 0
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / tc.CharactersPerToken))
}

func (tc *TokenCounter) EstimateMessages(messages []domain.Message) int {
	var total int
	for _, m := range messages {
		total += tc.EstimateTokens(m.Content)
	}
	return total
}

// GetTokenCount prefers a positive reported count over the estimate.
func (tc *TokenCounter) GetTokenCount(reported int, text string) int {
	if reported > 0 {
		return reported
	}
	return tc.EstimateTokens(text)
}
