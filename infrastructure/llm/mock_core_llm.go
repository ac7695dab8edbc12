package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/webis-de/GenIRSim/internal/domain"
)

// MockCoreLLM is a scripted CoreLLM for tests. It returns Responses in
// order, repeating the last one, or Response when no script is set.
type MockCoreLLM struct {
	mu sync.Mutex

	Response      string
	Responses     []string
	Chunks        int
	TokensIn      int
	TokensOut     int
	Error         error
	Model         string
	ResponseDelay time.Duration

	// FailUntilAttempt fails the first N calls, then succeeds.
	FailUntilAttempt int

	CallCount      int
	Requests       []Request
	CallTimestamps []time.Time
}

// NewMockCoreLLM creates a new mock CoreLLM with default successful behavior.
func NewMockCoreLLM(responses ...string) *MockCoreLLM {
	return &MockCoreLLM{
		Response:  "test response",
		Responses: responses,
		TokensIn:  10,
		TokensOut: 20,
		Model:     "test-model",
	}
}

// ErrMockFailure is returned by failing mock calls without a configured Error.
var ErrMockFailure = errors.New("simulated failure")

// DoRequest implements the CoreLLM interface with configurable behavior.
func (m *MockCoreLLM) DoRequest(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	m.CallCount++
	call := m.CallCount
	m.Requests = append(m.Requests, Request{
		Messages: append([]domain.Message(nil), req.Messages...),
		Options:  req.Options,
	})
	m.CallTimestamps = append(m.CallTimestamps, time.Now())
	delay := m.ResponseDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUntilAttempt > 0 && call <= m.FailUntilAttempt {
		if m.Error != nil {
			return Response{}, m.Error
		}
		return Response{}, ErrMockFailure
	}
	if m.Error != nil {
		return Response{}, m.Error
	}

	content := m.Response
	if len(m.Responses) > 0 {
		i := call - 1
		if i >= len(m.Responses) {
			i = len(m.Responses) - 1
		}
		content = m.Responses[i]
	}

	for _, chunk := range splitChunks(content, m.Chunks) {
		req.emit(chunk)
	}
	return Response{Content: content, TokensIn: m.TokensIn, TokensOut: m.TokensOut}, nil
}

// splitChunks cuts s into n roughly equal byte chunks.
func splitChunks(s string, n int) []string {
	if n <= 1 || len(s) <= n {
		return []string{s}
	}
	size := (len(s) + n - 1) / n
	chunks := make([]string, 0, n)
	for start := 0; start < len(s); start += size {
		end := start + size
		if end > len(s) {
			end = len(s)
		}
		chunks = append(chunks, s[start:end])
	}
	return chunks
}

// GetModel returns the configured model name.
func (m *MockCoreLLM) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Model
}

// SetModel updates the model name.
func (m *MockCoreLLM) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Model = model
}

// GetCallCount returns the number of times DoRequest was called.
func (m *MockCoreLLM) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// LastRequest returns the most recent request, or the zero value.
func (m *MockCoreLLM) LastRequest() Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return Request{}
	}
	return m.Requests[len(m.Requests)-1]
}

// GetTimeBetweenCalls calculates the duration between two calls.
// Returns nil if either call has not happened.
func (m *MockCoreLLM) GetTimeBetweenCalls(call1, call2 int) *time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if call1 < 0 || call2 < 0 || call1 >= len(m.CallTimestamps) || call2 >= len(m.CallTimestamps) {
		return nil
	}

	duration := m.CallTimestamps[call2].Sub(m.CallTimestamps[call1])
	return &duration
}

// RegisterMockProvider registers a provider type that always returns mock,
// ignoring its configuration.
func RegisterMockProvider(providerType string, mock *MockCoreLLM) {
	RegisterProviderFactory(providerType, func(Config) (CoreLLM, error) {
		return mock, nil
	})
}
