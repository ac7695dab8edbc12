package evaluators

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webis-de/GenIRSim/infrastructure/llm"
	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/logbook"
)

func twoTurnSimulation() *domain.Simulation {
	return &domain.Simulation{
		UserTurns: []domain.UserTurn{
			{Utterance: "What is BM25?", SystemResponse: &domain.SystemResponse{Utterance: "A ranking function."}},
			{Utterance: "Who made it?", SystemResponse: &domain.SystemResponse{Utterance: "Robertson et al."}},
		},
	}
}

func TestParseScoreScale(t *testing.T) {
	tests := []struct {
		input   string
		want    ScoreScale
		wantErr bool
	}{
		{input: "1-10", want: ScoreScale{Min: 1, Max: 10}},
		{input: "0.0-1.0", want: ScoreScale{Min: 0, Max: 1}},
		{input: "-5-5", want: ScoreScale{Min: -5, Max: 5}},
		{input: "-10--2", want: ScoreScale{Min: -10, Max: -2}},
		{input: " 1 - 5 ", want: ScoreScale{Min: 1, Max: 5}},
		{input: "10-1", wantErr: true},
		{input: "1-2-3", wantErr: true},
		{input: "1to10", wantErr: true},
		{input: "-2000-1", wantErr: true},
		{input: "1-1.001", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseScoreScale(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScoreScale_Normalize(t *testing.T) {
	scale := ScoreScale{Min: 1, Max: 5}

	got, err := scale.Normalize(4)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, got, 1e-9)

	_, err = scale.Normalize(6)
	assert.Error(t, err)
	assert.Equal(t, "1-5", scale.String())
}

func TestPromptedEvaluator(t *testing.T) {
	// Given a judge that answers on a 1-5 scale
	mock := llm.NewMockCoreLLM(
		`{"score": 4, "explanation": "Correct but short."}`,
		`{"score": null, "explanation": "Not a question.", "category": "chitchat"}`,
	)
	llm.RegisterMockProvider("evaluators-prompted", mock)
	recorder := &logbook.Recorder{}
	evaluator, err := NewPromptedEvaluator(map[string]any{
		"llm":        map[string]any{"provider": "evaluators-prompted"},
		"criterion":  "correctness",
		"prompt":     "Rate {{criterion}} of '{{variables.userTurn.systemResponse.utterance}}' for '{{variables.userTurn.utterance}}'",
		"scoreScale": "1-5",
	}, logbook.New("evaluation.judge", recorder.Sink()))
	require.NoError(t, err)
	simulation := twoTurnSimulation()

	// When the first turn is evaluated
	result, err := evaluator.Evaluate(context.Background(), simulation, 0)
	require.NoError(t, err)

	// Then the score is normalized and the prompt rendered for that turn
	require.NotNil(t, result.Score)
	assert.InDelta(t, 0.75, *result.Score, 1e-9)
	assert.Equal(t, "Correct but short.", result.Explanation)
	assert.Equal(t, 4.0, result.Fields["rawScore"])
	assert.Equal(t, "Rate correctness of 'A ranking function.' for 'What is BM25?'",
		mock.LastRequest().Messages[0].Content)
	assert.Contains(t, recorder.Actions("evaluation.judge"), "prompting.request")

	// And a null score still yields the judge's explanation
	result, err = evaluator.Evaluate(context.Background(), simulation, 1)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Nil(t, result.Score)
	assert.Equal(t, "Not a question.", result.Explanation)
	assert.Equal(t, map[string]any{"category": "chitchat"}, result.Fields)

	// And the overall call is never prompted
	result, err = evaluator.Evaluate(context.Background(), simulation, domain.Overall)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 2, mock.GetCallCount())
}

func TestPromptedEvaluator_RequiresConfiguredKeys(t *testing.T) {
	mock := llm.NewMockCoreLLM(`{"score": 0.5}`, `{"score": 0.5, "label": "ok"}`)
	llm.RegisterMockProvider("evaluators-prompted-keys", mock)
	evaluator, err := NewPromptedEvaluator(map[string]any{
		"llm":          map[string]any{"provider": "evaluators-prompted-keys"},
		"prompt":       "Rate {{variables.userTurn.utterance}}",
		"requiredKeys": []any{"label"},
	}, logbook.Nop())
	require.NoError(t, err)

	result, err := evaluator.Evaluate(context.Background(), twoTurnSimulation(), 0)

	require.NoError(t, err)
	assert.Equal(t, "ok", result.Fields["label"])
	assert.Equal(t, 2, mock.GetCallCount())
}

func TestNewPromptedEvaluator_InvalidScoreScale(t *testing.T) {
	_, err := NewPromptedEvaluator(map[string]any{
		"llm":        map[string]any{"provider": "ollama"},
		"prompt":     "p",
		"scoreScale": "high-low",
	}, logbook.Nop())

	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "scoreScale", cfgErr.Field)
}

func TestAPIBasedEvaluator(t *testing.T) {
	// Given an endpoint that only scores the overall simulation
	var requests []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		requests = append(requests, body)
		if _, perTurn := body["userTurnIndex"]; perTurn {
			_, _ = w.Write([]byte(`{"score": null}`))
			return
		}
		_, _ = w.Write([]byte(`{"score": 0.8, "explanation": "coherent", "turns": 2}`))
	}))
	defer server.Close()

	recorder := &logbook.Recorder{}
	evaluator, err := NewAPIBasedEvaluator(map[string]any{"url": server.URL},
		logbook.New("evaluation.api", recorder.Sink()))
	require.NoError(t, err)
	simulation := twoTurnSimulation()

	// When a turn and the overall simulation are evaluated
	perTurn, err := evaluator.Evaluate(context.Background(), simulation, 1)
	require.NoError(t, err)
	overall, err := evaluator.Evaluate(context.Background(), simulation, domain.Overall)
	require.NoError(t, err)

	// Then only the overall call yields a result
	assert.Nil(t, perTurn)
	require.NotNil(t, overall)
	assert.InDelta(t, 0.8, *overall.Score, 1e-9)
	assert.Equal(t, "coherent", overall.Explanation)
	assert.Equal(t, 2.0, overall.Fields["turns"])

	require.Len(t, requests, 2)
	assert.Equal(t, 1.0, requests[0]["userTurnIndex"])
	assert.NotContains(t, requests[1], "userTurnIndex")
	turns := requests[1]["simulation"].(map[string]any)["userTurns"].([]any)
	assert.Len(t, turns, 2)
	assert.Equal(t, []string{"evaluation.query", "evaluation.result", "evaluation.query", "evaluation.result"},
		recorder.Actions("evaluation.api"))
}

func TestAPIBasedEvaluator_MissingScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"explanation": "oops"}`))
	}))
	defer server.Close()
	evaluator, err := NewAPIBasedEvaluator(map[string]any{"url": server.URL}, logbook.Nop())
	require.NoError(t, err)

	_, err = evaluator.Evaluate(context.Background(), twoTurnSimulation(), 0)

	require.ErrorIs(t, err, domain.ErrTransport)
	assert.Contains(t, err.Error(), "missing score")
}

func referenceSimulation() *domain.Simulation {
	return &domain.Simulation{
		UserTurns: []domain.UserTurn{
			{Utterance: "q1", Fields: map[string]any{"expected": "Paris"},
				SystemResponse: &domain.SystemResponse{Utterance: "paris"}},
			{Utterance: "q2", Fields: map[string]any{"expected": "kitten"},
				SystemResponse: &domain.SystemResponse{Utterance: "sitting"}},
			{Utterance: "q3", Fields: map[string]any{"expected": ""},
				SystemResponse: &domain.SystemResponse{Utterance: "anything"}},
		},
	}
}

func TestReferenceMatchEvaluator(t *testing.T) {
	tests := []struct {
		name        string
		cfg         map[string]any
		wantTurns   []float64
		wantOverall float64
	}{
		{
			name:        "levenshtein with case folding",
			cfg:         map[string]any{"reference": "{{variables.userTurn.expected}}"},
			wantTurns:   []float64{1, 1 - 3.0/7},
			wantOverall: (1 + 1 - 3.0/7) / 2,
		},
		{
			name:        "threshold and max",
			cfg:         map[string]any{"reference": "{{variables.userTurn.expected}}", "threshold": 0.9, "aggregation": "max"},
			wantTurns:   []float64{1, 0},
			wantOverall: 1,
		},
		{
			name:        "exact and case sensitive",
			cfg:         map[string]any{"reference": "{{variables.userTurn.expected}}", "algorithm": "exact", "caseSensitive": true},
			wantTurns:   []float64{0, 0},
			wantOverall: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evaluator, err := NewReferenceMatchEvaluator(tt.cfg, logbook.Nop())
			require.NoError(t, err)
			simulation := referenceSimulation()

			for i, want := range tt.wantTurns {
				result, err := evaluator.Evaluate(context.Background(), simulation, i)
				require.NoError(t, err)
				require.NotNil(t, result)
				assert.InDelta(t, want, *result.Score, 1e-9, "turn %d", i)
			}

			// An empty reference is not applicable.
			result, err := evaluator.Evaluate(context.Background(), simulation, 2)
			require.NoError(t, err)
			assert.Nil(t, result)

			overall, err := evaluator.Evaluate(context.Background(), simulation, domain.Overall)
			require.NoError(t, err)
			require.NotNil(t, overall)
			assert.InDelta(t, tt.wantOverall, *overall.Score, 1e-9)
		})
	}
}

func TestReferenceMatchEvaluator_EnforcesCallOrder(t *testing.T) {
	evaluator, err := NewReferenceMatchEvaluator(map[string]any{"reference": "x"}, logbook.Nop())
	require.NoError(t, err)
	simulation := referenceSimulation()

	_, err = evaluator.Evaluate(context.Background(), simulation, 1)
	require.NoError(t, err)

	_, err = evaluator.Evaluate(context.Background(), simulation, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidTurnOrder)

	_, err = evaluator.Evaluate(context.Background(), simulation, domain.Overall)
	require.NoError(t, err)

	_, err = evaluator.Evaluate(context.Background(), simulation, domain.Overall)
	assert.ErrorIs(t, err, domain.ErrInvalidTurnOrder)
}

func TestReferenceMatchEvaluator_OverallWithoutTurns(t *testing.T) {
	evaluator, err := NewReferenceMatchEvaluator(map[string]any{"reference": "x"}, logbook.Nop())
	require.NoError(t, err)

	result, err := evaluator.Evaluate(context.Background(), &domain.Simulation{}, domain.Overall)

	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestNewReferenceMatchEvaluator_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name  string
		cfg   map[string]any
		field string
	}{
		{name: "missing reference", cfg: map[string]any{}, field: "reference"},
		{name: "unknown algorithm", cfg: map[string]any{"reference": "x", "algorithm": "jaro"}, field: "algorithm"},
		{name: "threshold above one", cfg: map[string]any{"reference": "x", "threshold": 1.5}, field: "threshold"},
		{name: "unknown aggregation", cfg: map[string]any{"reference": "x", "aggregation": "mode"}, field: "aggregation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReferenceMatchEvaluator(tt.cfg, logbook.Nop())

			var cfgErr *domain.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}
