package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/ports"
)

var _ ports.LLMClient = (*MockLLMClient)(nil)

// MockLLMClient implements ports.LLMClient with deterministic responses
// chosen by the content of the last message. It lets plugin and controller
// tests run built-in users, systems, and evaluators without a model
// endpoint.
type MockLLMClient struct {
	model string

	mu sync.Mutex
	// responses are checked in insertion order; the first pattern contained
	// in the prompt wins.
	responses []MockResponse
	calls     []MockCall
}

// MockResponse defines a pre-configured response pattern for the mock client.
type MockResponse struct {
	// Pattern is matched case-insensitively against the last message. The
	// empty pattern matches every prompt.
	Pattern string
	// Response is the completion text; JSON calls parse it as an object.
	Response string
}

// MockCall records one call to the mock.
type MockCall struct {
	Action   string
	Messages []domain.Message
}

// NewMockLLMClient creates a mock for model with the given responses.
func NewMockLLMClient(model string, responses ...MockResponse) *MockLLMClient {
	return &MockLLMClient{model: model, responses: responses}
}

// AddResponse appends a response pattern.
func (m *MockLLMClient) AddResponse(response MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, response)
}

// Chat returns the response whose pattern matches the last message.
func (m *MockLLMClient) Chat(ctx context.Context, messages []domain.Message, action string) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("messages cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Action: action, Messages: append([]domain.Message(nil), messages...)})
	return m.findMatchingResponse(messages[len(messages)-1].Content)
}

// JSON parses the matching response and checks the required keys. The mock
// never retries: an unusable response fails with domain.ErrJSONGeneration.
func (m *MockLLMClient) JSON(
	ctx context.Context,
	messages []domain.Message,
	action string,
	requiredKeys []string,
	_ int,
) (map[string]any, error) {
	text, err := m.Chat(ctx, messages, action)
	if err != nil {
		return nil, err
	}

	var object map[string]any
	if err := json.Unmarshal([]byte(text), &object); err != nil {
		return nil, domain.NewJSONGenerationError(action, 1, err)
	}
	for _, key := range requiredKeys {
		if !gjson.Get(text, key).Exists() {
			return nil, domain.NewJSONGenerationError(action, 1, fmt.Errorf("missing key '%s'", key))
		}
	}
	return object, nil
}

// GetModel returns the model name.
func (m *MockLLMClient) GetModel() string { return m.model }

// Calls returns the recorded calls in order.
func (m *MockLLMClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

func (m *MockLLMClient) findMatchingResponse(prompt string) (string, error) {
	promptLower := strings.ToLower(prompt)
	for _, r := range m.responses {
		if strings.Contains(promptLower, strings.ToLower(r.Pattern)) {
			return r.Response, nil
		}
	}
	return "", fmt.Errorf("no mock response matches prompt %q", prompt)
}
