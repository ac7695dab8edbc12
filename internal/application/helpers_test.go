package application

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/logbook"
	"github.com/webis-de/GenIRSim/internal/testutils"
)

const testModule = "test"

const validJSONConfiguration = `{
  "simulation": {
    "topic": {"description": "cats"},
    "user": {"module": "test", "class": "ScriptedUser", "configuration": {}},
    "system": {"module": "test", "class": "ScriptedSystem", "configuration": {}},
    "maxTurns": 3
  },
  "evaluation": {
    "evaluators": {
      "relevance": {"module": "test", "class": "ScriptedEvaluator", "configuration": {"name": "relevance", "score": 0.5}},
      "coverage": {"module": "test", "class": "ScriptedEvaluator", "configuration": {"name": "coverage", "overallOnly": 0.7}}
    }
  }
}`

const validYAMLConfiguration = `simulation:
  topic:
    description: cats
  user:
    module: test
    class: ScriptedUser
    configuration: {}
  system:
    module: test
    class: ScriptedSystem
    configuration: {}
  maxTurns: 3
evaluation:
  evaluators:
    relevance:
      module: test
      class: ScriptedEvaluator
      configuration:
        name: relevance
        score: 0.5
    coverage:
      module: test
      class: ScriptedEvaluator
      configuration:
        name: coverage
        overallOnly: 0.7
`

// templatedConfiguration fails the user at turn {{failAt}} unless the value
// is not a number.
const templatedConfiguration = `{
  "simulation": {
    "topic": {"description": "{{topic}}"},
    "user": {"module": "test", "class": "ScriptedUser", "configuration": {"failAt": "{{failAt}}"}},
    "system": {"module": "test", "class": "ScriptedSystem", "configuration": {}},
    "maxTurns": 2
  },
  "evaluation": {
    "evaluators": {
      "relevance": {"module": "test", "class": "ScriptedEvaluator", "configuration": {"name": "relevance", "score": 1}}
    }
  }
}`

// testPlugins counts the scripted plugins constructed by a test registry.
type testPlugins struct {
	log        *testutils.CallLog
	users      atomic.Int64
	evaluators atomic.Int64
}

// newTestRegistry registers the scripted plugins under testModule. The user
// reads "failAt" (a number or numeric string), the evaluator "name",
// "score", and "overallOnly".
func newTestRegistry(t *testing.T) (*Registry, *testPlugins) {
	t.Helper()
	plugins := &testPlugins{log: &testutils.CallLog{}}
	registry := NewRegistry()

	require.NoError(t, registry.Register(testModule, "ScriptedUser", func(cfg map[string]any, _ *logbook.Logbook) (any, error) {
		plugins.users.Add(1)
		user := &testutils.ScriptedUser{Log: plugins.log}
		switch failAt := cfg["failAt"].(type) {
		case float64:
			user.Fail, user.FailAt = true, int(failAt)
		case string:
			if n, err := strconv.Atoi(failAt); err == nil {
				user.Fail, user.FailAt = true, n
			}
		}
		return user, nil
	}))
	require.NoError(t, registry.Register(testModule, "ScriptedSystem", func(map[string]any, *logbook.Logbook) (any, error) {
		return &testutils.ScriptedSystem{Log: plugins.log}, nil
	}))
	require.NoError(t, registry.Register(testModule, "ScriptedEvaluator", func(cfg map[string]any, _ *logbook.Logbook) (any, error) {
		plugins.evaluators.Add(1)
		name, _ := cfg["name"].(string)
		evaluator := &testutils.ScriptedEvaluator{Name: name, Log: plugins.log}
		if score, ok := cfg["score"].(float64); ok {
			evaluator.Results = testutils.Score(score)
		}
		if score, ok := cfg["overallOnly"].(float64); ok {
			evaluator.Results = testutils.OverallOnly(score)
		}
		return evaluator, nil
	}))
	return registry, plugins
}

// threeTurnCalls is the call log of validJSONConfiguration.
var threeTurnCalls = []string{
	"user.Start(cats)",
	"system.Search(utterance 0)",
	"user.FollowUp(answer to utterance 0)",
	"system.Search(utterance 1)",
	"user.FollowUp(answer to utterance 1)",
	"system.Search(utterance 2)",
	"coverage.Evaluate(0)",
	"relevance.Evaluate(0)",
	"coverage.Evaluate(1)",
	"relevance.Evaluate(1)",
	"coverage.Evaluate(2)",
	"relevance.Evaluate(2)",
	"coverage.Evaluate(overall)",
	"relevance.Evaluate(overall)",
}

// recordingMetrics is a ports.MetricsCollector that keeps every value.
type recordingMetrics struct {
	mu         sync.Mutex
	latencies  map[string]int
	counters   map[string]float64
	histograms map[string][]float64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		latencies:  make(map[string]int),
		counters:   make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (m *recordingMetrics) RecordLatency(operation string, _ time.Duration, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies[operation+"/"+labels["capability"]+"."+labels["method"]]++
}

func (m *recordingMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metric+"/"+labels["status"]] += value
}

func (m *recordingMetrics) RecordGauge(string, float64, map[string]string) {}

func (m *recordingMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := metric + "/" + labels["evaluator"] + "/" + labels["scope"]
	m.histograms[key] = append(m.histograms[key], value)
}

func scoreOf(t *testing.T, result *domain.EvaluationResult) float64 {
	t.Helper()
	require.NotNil(t, result)
	require.NotNil(t, result.Score)
	return *result.Score
}
