package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/logbook"
)

func newTestClient(mock *MockCoreLLM, maxRetries int) (*Client, *logbook.Recorder) {
	rec := &logbook.Recorder{}
	lb := logbook.New("user", rec.Sink())
	return NewClientWithCore(mock, "mock", maxRetries, map[string]any{"temperature": 0.0}, lb), rec
}

func TestChain_FirstMiddlewareIsOutermost(t *testing.T) {
	var order []string
	trace := func(name string) Middleware {
		return func(next CoreLLM) CoreLLM {
			return &orderRecorder{next: next, name: name, order: &order}
		}
	}

	core := Chain(NewMockCoreLLM(), trace("outer"), trace("inner"))
	_, err := core.DoRequest(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

type orderRecorder struct {
	next  CoreLLM
	name  string
	order *[]string
}

func (o *orderRecorder) DoRequest(ctx context.Context, req Request) (Response, error) {
	*o.order = append(*o.order, o.name)
	return o.next.DoRequest(ctx, req)
}
func (o *orderRecorder) GetModel() string  { return o.next.GetModel() }
func (o *orderRecorder) SetModel(m string) { o.next.SetModel(m) }

func TestClient_ChatLogsRequestAndChunks(t *testing.T) {
	// Given a provider that streams its answer in three chunks
	mock := NewMockCoreLLM("Hello there!")
	mock.Chunks = 3
	client, rec := newTestClient(mock, 0)
	messages := []domain.Message{SystemMessage("Be brief."), UserMessage("Hi")}

	// When chatting
	reply, err := client.Chat(context.Background(), messages, "generation")

	// Then the reply is the concatenation and every chunk is logged
	require.NoError(t, err)
	assert.Equal(t, "Hello there!", reply)

	entries := rec.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, "generation.request", entries[0].Action)
	assert.Equal(t, messages, entries[0].Data)

	var streamed string
	for _, e := range entries[1:] {
		assert.Equal(t, "generation.response", e.Action)
		assert.Equal(t, "user", e.Source)
		assert.True(t, e.IsContinuationOf(entries[1]))
		streamed += e.Data.(string)
	}
	assert.Equal(t, "Hello there!", streamed)

	assert.Equal(t, map[string]any{"temperature": 0.0}, mock.LastRequest().Options)
}

func TestClient_ChatWrapsProviderErrors(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Error = NewProviderError("ollama", ErrorTypeServerError, 500, "down", nil)
	client, _ := newTestClient(mock, 0)

	_, err := client.Chat(context.Background(), []domain.Message{UserMessage("Hi")}, "generation")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Contains(t, err.Error(), "generation: ")
}

func TestClient_JSON(t *testing.T) {
	tests := []struct {
		name        string
		responses   []string
		required    []string
		maxRetries  int
		want        map[string]any
		wantCalls   int
		wantFailLog []string
		wantErr     bool
	}{
		{
			name:      "valid object on first attempt",
			responses: []string{`{"utterance": "hi"}`},
			required:  []string{"utterance"},
			want:      map[string]any{"utterance": "hi"},
			wantCalls: 1,
		},
		{
			name:      "fenced object with prose",
			responses: []string{"Sure!\n```json\n{\"utterance\": \"hi\"}\n```"},
			required:  []string{"utterance"},
			want:      map[string]any{"utterance": "hi"},
			wantCalls: 1,
		},
		{
			name:        "missing key then success",
			responses:   []string{`{"text": "hi"}`, `{"utterance": "hi"}`},
			required:    []string{"utterance"},
			maxRetries:  2,
			want:        map[string]any{"utterance": "hi"},
			wantCalls:   2,
			wantFailLog: []string{"generation [failed 1/3]"},
		},
		{
			name:        "unparseable then success",
			responses:   []string{"I cannot answer that.", `{"utterance": "ok"}`},
			required:    []string{"utterance"},
			maxRetries:  1,
			want:        map[string]any{"utterance": "ok"},
			wantCalls:   2,
			wantFailLog: []string{"generation [failed 1/2]"},
		},
		{
			name:        "budget exhausted",
			responses:   []string{"no json here"},
			required:    []string{"utterance"},
			maxRetries:  2,
			wantCalls:   3,
			wantFailLog: []string{"generation [failed 1/3]", "generation [failed 2/3]", "generation [failed 3/3]"},
			wantErr:     true,
		},
		{
			name:      "repairable output needs no second completion",
			responses: []string{"```json\n{\"key\": \"utterance\", \"value\": \"hi\"}\n``` Hope that helps {smile}."},
			required:  []string{"utterance"},
			want:      map[string]any{"utterance": "hi"},
			wantCalls: 1,
		},
		{
			name:        "zero retries means one attempt",
			responses:   []string{`{"other": 1}`},
			required:    []string{"utterance"},
			wantCalls:   1,
			wantFailLog: []string{"generation [failed 1/1]"},
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given a scripted provider
			mock := NewMockCoreLLM(tt.responses...)
			client, rec := newTestClient(mock, 0)

			// When requesting JSON
			got, err := client.JSON(context.Background(), []domain.Message{UserMessage("Hi")},
				"generation", tt.required, tt.maxRetries)

			// Then the attempts and failure logs match the cascade
			assert.Equal(t, tt.wantCalls, mock.GetCallCount())
			var failures []string
			for _, action := range rec.Actions("user") {
				if action != "generation.request" && action != "generation.response" {
					failures = append(failures, action)
				}
			}
			assert.Equal(t, tt.wantFailLog, failures)

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrJSONGeneration)
				var genErr *domain.JSONGenerationError
				require.True(t, errors.As(err, &genErr))
				assert.Equal(t, tt.wantCalls, genErr.Attempts)
				assert.Equal(t, "generation", genErr.Action)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_JSONFailureMessages(t *testing.T) {
	mock := NewMockCoreLLM(`{"text": "hi"}`, "not json", `{"utterance": "hi"}`)
	client, rec := newTestClient(mock, 0)

	_, err := client.JSON(context.Background(), []domain.Message{UserMessage("Hi")},
		"generation", []string{"utterance"}, 2)
	require.NoError(t, err)

	var data []any
	for _, e := range rec.Entries() {
		if e.Action == "generation [failed 1/3]" || e.Action == "generation [failed 2/3]" {
			data = append(data, e.Data)
		}
	}
	assert.Equal(t, []any{"Missing key 'utterance'", "Failed parsing JSON: " + ErrNoJSONObject.Error()}, data)
}

func TestClient_JSONNegativeRetriesUsesClientDefault(t *testing.T) {
	mock := NewMockCoreLLM("nothing")
	client, _ := newTestClient(mock, 4)

	_, err := client.JSON(context.Background(), []domain.Message{UserMessage("Hi")}, "generation", nil, -1)

	require.Error(t, err)
	assert.Equal(t, 5, mock.GetCallCount())
}

func TestClient_JSONAbortsOnTransportError(t *testing.T) {
	// Given a provider that cannot be reached
	mock := NewMockCoreLLM()
	mock.Error = NewProviderError("ollama", ErrorTypeNetwork, 0, "connection refused", nil)
	client, _ := newTestClient(mock, 3)

	// When requesting JSON
	_, err := client.JSON(context.Background(), []domain.Message{UserMessage("Hi")}, "generation", nil, -1)

	// Then the cascade stops at once with the transport error
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.NotErrorIs(t, err, domain.ErrJSONGeneration)
	assert.Equal(t, 1, mock.GetCallCount())
}

func TestNewClientWithCore_NegativeRetriesUsesDefault(t *testing.T) {
	client := NewClientWithCore(NewMockCoreLLM(), "mock", -1, nil, logbook.Nop())

	assert.Equal(t, DefaultJSONRetries, client.maxRetries)
	assert.Equal(t, "mock", client.Provider())
	assert.Equal(t, "test-model", client.GetModel())
}
