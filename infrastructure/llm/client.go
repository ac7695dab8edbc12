// Package llm provides the language model client that users, systems, and
// evaluators use to chat with a model and to obtain structured JSON from it.
//
// Providers (ollama, OpenAI, Anthropic, Google) are abstracted behind the
// CoreLLM interface. Cross-cutting concerns such as retries, rate limiting,
// circuit breaking, metrics, and tracing are added through a middleware
// chain, so plugins never deal with provider specifics.
//
// Basic usage from a plugin configuration:
//
//	client, err := llm.NewClient(map[string]any{
//	    "url":   "http://localhost:11434/api/chat",
//	    "model": "llama3.1",
//	}, lb)
//	reply, err := client.Chat(ctx, []domain.Message{llm.UserMessage("Hi")}, "generation")
//
// Structured output with required keys:
//
//	turn, err := client.JSON(ctx, messages, "generation", []string{"utterance"}, -1)
package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/logbook"
	"github.com/webis-de/GenIRSim/internal/ports"
)

// Request is one chat completion request.
type Request struct {
	// Messages is the conversation sent to the model.
	Messages []domain.Message

	// Options holds provider parameters such as temperature or, for ollama,
	// arbitrary body fields.
	Options map[string]any

	// OnChunk, if set, receives the completion incrementally. Providers
	// that do not stream call it once with the full content.
	OnChunk func(chunk string)
}

// emit forwards a chunk to the request's chunk handler.
func (r Request) emit(chunk string) {
	if r.OnChunk != nil && chunk != "" {
		r.OnChunk(chunk)
	}
}

// Response is the assembled completion and its token usage.
type Response struct {
	Content   string
	TokensIn  int
	TokensOut int
}

// CoreLLM defines the minimal interface that LLM providers must implement.
// This interface abstracts the core functionality needed to make requests
// to different LLM services, allowing the middleware system to wrap
// any conforming implementation.
type CoreLLM interface {
	// DoRequest sends the conversation to the provider and returns the
	// complete response.
	DoRequest(ctx context.Context, req Request) (Response, error)

	// GetModel returns the currently configured model name.
	GetModel() string

	// SetModel updates the model to use for subsequent requests.
	SetModel(model string)
}

// Middleware wraps a CoreLLM implementation to add cross-cutting functionality.
// This pattern allows composition of features like rate limiting, circuit breaking,
// metrics collection, and custom behavior without modifying core provider logic.
type Middleware func(CoreLLM) CoreLLM

// Chain applies middleware so that the first one is the outermost.
func Chain(core CoreLLM, middleware ...Middleware) CoreLLM {
	for i := len(middleware) - 1; i >= 0; i-- {
		core = middleware[i](core)
	}
	return core
}

// DefaultJSONRetries is the number of fresh completions JSON requests after
// the first one failed.
const DefaultJSONRetries = 2

// Client implements ports.LLMClient on top of a middleware-wrapped CoreLLM.
// Every call is logged to the client's logbook.
type Client struct {
	core       CoreLLM
	provider   string
	logbook    *logbook.Logbook
	maxRetries int
	options    map[string]any
}

var _ ports.LLMClient = (*Client)(nil)

// NewClientWithCore creates a client around an already constructed core.
func NewClientWithCore(core CoreLLM, provider string, maxRetries int, options map[string]any, lb *logbook.Logbook) *Client {
	if maxRetries < 0 {
		maxRetries = DefaultJSONRetries
	}
	return &Client{
		core:       core,
		provider:   provider,
		logbook:    lb,
		maxRetries: maxRetries,
		options:    options,
	}
}

// Chat sends messages and returns the concatenated completion. It logs
// "<action>.request" with the messages and "<action>.response" with every
// chunk.
func (c *Client) Chat(ctx context.Context, messages []domain.Message, action string) (string, error) {
	c.logbook.Log(action+".request", messages)

	resp, err := c.core.DoRequest(ctx, Request{
		Messages: messages,
		Options:  c.options,
		OnChunk: func(chunk string) {
			c.logbook.Log(action+".response", chunk)
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", action, err)
	}
	return resp.Content, nil
}

// JSON requests completions until one repairs into a JSON object holding
// every required key. Each failed attempt is logged as
// "<action> [failed i/N]"; after N attempts a *domain.JSONGenerationError is
// returned. Transport failures abort immediately.
func (c *Client) JSON(
	ctx context.Context,
	messages []domain.Message,
	action string,
	requiredKeys []string,
	maxRetries int,
) (map[string]any, error) {
	if maxRetries < 0 {
		maxRetries = c.maxRetries
	}
	attempts := maxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, err := c.Chat(ctx, messages, action)
		if err != nil {
			return nil, err
		}

		value, err := ParseJSONObject(text)
		if err != nil {
			c.logbook.Log(failedAction(action, attempt, attempts), "Failed parsing JSON: "+err.Error())
			lastErr = err
			continue
		}

		if missing, ok := MissingKey(value, requiredKeys); ok {
			c.logbook.Log(failedAction(action, attempt, attempts), "Missing key '"+missing+"'")
			lastErr = fmt.Errorf("missing key %q", missing)
			continue
		}
		return value, nil
	}

	return nil, domain.NewJSONGenerationError(action, attempts, lastErr)
}

func failedAction(action string, attempt, attempts int) string {
	return fmt.Sprintf("%s [failed %d/%d]", action, attempt, attempts)
}

// GetModel returns the currently configured model name from the underlying provider.
func (c *Client) GetModel() string { return c.core.GetModel() }

// Provider returns the provider type the client was created for.
func (c *Client) Provider() string { return c.provider }

// UserMessage creates a message from the user.
func UserMessage(content string) domain.Message {
	return domain.Message{Role: domain.RoleUser, Content: content}
}

// SystemMessage creates a system prompt message.
func SystemMessage(content string) domain.Message {
	return domain.Message{Role: domain.RoleSystem, Content: content}
}

// AssistantMessage creates a message from the assistant.
func AssistantMessage(content string) domain.Message {
	return domain.Message{Role: domain.RoleAssistant, Content: content}
}

// ProviderFactory creates a CoreLLM implementation from configuration.
// This function signature allows the provider registry to create
// provider instances without knowing their specific implementation details.
type ProviderFactory func(Config) (CoreLLM, error)

var (
	factoriesMu       sync.RWMutex
	providerFactories = map[string]ProviderFactory{}
)

// RegisterProviderFactory allows registration of custom LLM provider factories.
// This enables extension of the client with additional providers
// without modifying the core library code.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	providerFactories[providerType] = factory
}

func lookupProviderFactory(providerType string) (ProviderFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	factory, ok := providerFactories[providerType]
	return factory, ok
}
