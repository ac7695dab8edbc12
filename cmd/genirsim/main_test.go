package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webis-de/GenIRSim/internal/domain"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))

		require.NoError(t, err)
		assert.Equal(t, &Config{LogLevel: "info", LogFormat: "console", Addr: ":8080", Restricted: true, Attempts: 1}, cfg)
	})

	t.Run("environment and env file", func(t *testing.T) {
		// Given an env file and a variable that is already set
		envFile := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(envFile, []byte("GENIRSIM_ATTEMPTS=3\nGENIRSIM_LOG_LEVEL=warn\n"), 0o600))
		t.Setenv("GENIRSIM_LOG_LEVEL", "debug")
		t.Setenv("GENIRSIM_MAX_CONCURRENCY", "4")
		// Registers the cleanup that unsets the value the env file writes.
		t.Setenv("GENIRSIM_ATTEMPTS", "")
		require.NoError(t, os.Unsetenv("GENIRSIM_ATTEMPTS"))

		// When
		cfg, err := LoadConfig(envFile)

		// Then the environment wins over the file
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 4, cfg.MaxConcurrency)
		assert.Equal(t, 3, cfg.Attempts)
	})

	t.Run("invalid value", func(t *testing.T) {
		t.Setenv("GENIRSIM_ATTEMPTS", "many")

		_, err := LoadConfig("")

		assert.Error(t, err)
	})
}

func TestInitLogger(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		for _, level := range []string{"debug", "info", "warn", "error"} {
			logger, err := initLogger(level, format)
			require.NoError(t, err, "%s/%s", level, format)
			assert.NotNil(t, logger)
		}
	}

	_, err := initLogger("verbose", "json")
	assert.Error(t, err)
	_, err = initLogger("info", "xml")
	assert.Error(t, err)
}

// newFakeServices serves a user simulator at /user that asks for the topic
// and a chat system at /chat that repeats the last message.
func newFakeServices(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Options *struct {
				Claim string `json:"claim"`
			} `json:"options"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		content := "and then?"
		if req.Options != nil {
			content = req.Options.Claim
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"message": map[string]any{"role": "assistant", "content": content}})
	})
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []domain.Message `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]any{"content": req.Messages[len(req.Messages)-1].Content})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--env-file", "", "--log-level", "error"))
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func decodeLines(t *testing.T, output string) []domain.Evaluation {
	t.Helper()
	var evaluations []domain.Evaluation
	for line := range strings.SplitSeq(strings.TrimSpace(output), "\n") {
		var evaluation domain.Evaluation
		require.NoError(t, json.Unmarshal([]byte(line), &evaluation), line)
		evaluations = append(evaluations, evaluation)
	}
	return evaluations
}

const runConfiguration = `simulation:
  topic:
    description: "{{topic}}"
  user:
    module: builtin
    class: Touche25RADUser
    configuration:
      url: %[1]s/user
  system:
    module: builtin
    class: BasicChatSystem
    configuration:
      url: %[1]s/chat
  maxTurns: 2
evaluation:
  evaluators:
    echo:
      module: builtin
      class: ReferenceMatchEvaluator
      configuration:
        reference: "{{expected}}"
        algorithm: exact
`

func TestRunCommand(t *testing.T) {
	// Given services behind the built-in user and system, and two parameter rows
	services := newFakeServices(t)
	configPath := writeFile(t, "configuration.yml", strings.ReplaceAll(runConfiguration, "%[1]s", services.URL))
	paramsPath := writeFile(t, "params.tsv", "topic\texpected\ncats\tcats\ndogs\tcats\n")

	// When
	stdout, stderr, err := execute(t, "run", configPath, "--params", paramsPath, "--log")

	// Then one evaluation per row is printed in order
	require.NoError(t, err)
	evaluations := decodeLines(t, stdout)
	require.Len(t, evaluations, 2)

	first := evaluations[0]
	require.NotNil(t, first.Simulation)
	require.Len(t, first.Simulation.UserTurns, 2)
	assert.Equal(t, "cats", first.Simulation.UserTurns[0].Utterance)
	assert.Equal(t, "cats", first.Simulation.UserTurns[0].SystemResponse.Utterance)
	assert.Equal(t, 1.0, *first.UserTurnsEvaluations[0]["echo"].Score)
	assert.Equal(t, 0.0, *first.UserTurnsEvaluations[1]["echo"].Score)
	assert.Equal(t, 0.5, *first.OverallEvaluations["echo"].Score)

	assert.Equal(t, 0.0, *evaluations[1].OverallEvaluations["echo"].Score)

	assert.Contains(t, stderr, `"action":"user.request"`)
	assert.Contains(t, stderr, `"source":"system"`)
}

func TestRunCommand_FailedRunPrintsEmptyObject(t *testing.T) {
	configPath := writeFile(t, "configuration.yml", strings.ReplaceAll(runConfiguration, "%[1]s", "http://127.0.0.1:1"))

	stdout, _, err := execute(t, "run", configPath)

	require.NoError(t, err)
	assert.Equal(t, "{}\n", stdout)
}

func TestRunCommand_MissingFile(t *testing.T) {
	_, _, err := execute(t, "run", filepath.Join(t.TempDir(), "missing.yml"))

	assert.Error(t, err)
}

func TestEvaluateCommand(t *testing.T) {
	// Given a stored run, a line without a simulation, and a blank line
	configPath := writeFile(t, "configuration.json", `{
  "evaluation": {"evaluators": {"match": {
    "module": "builtin", "class": "ReferenceMatchEvaluator",
    "configuration": {"reference": "hello", "aggregation": "max"}}}}
}`)
	stored := domain.Evaluation{Simulation: &domain.Simulation{UserTurns: []domain.UserTurn{
		{Utterance: "hi", SystemResponse: &domain.SystemResponse{Utterance: "Hello"}},
		{Utterance: "bye", SystemResponse: &domain.SystemResponse{Utterance: "goodbye"}},
	}}}
	line, err := json.Marshal(stored)
	require.NoError(t, err)
	runsPath := writeFile(t, "runs.jsonl", string(line)+"\n{}\n\n")

	// When
	stdout, _, err := execute(t, "evaluate", configPath, runsPath)

	// Then
	require.NoError(t, err)
	evaluations := decodeLines(t, stdout)
	require.Len(t, evaluations, 2)
	require.Len(t, evaluations[0].UserTurnsEvaluations, 2)
	assert.Equal(t, 1.0, *evaluations[0].UserTurnsEvaluations[0]["match"].Score)
	assert.Equal(t, 1.0, *evaluations[0].OverallEvaluations["match"].Score)
	assert.True(t, evaluations[1].IsEmpty())
}

func TestServeHandler_Metrics(t *testing.T) {
	c := &cli{config: &Config{Attempts: 1}}
	var err error
	c.logger, err = initLogger("error", "json")
	require.NoError(t, err)

	srv := httptest.NewServer(c.newHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "go_goroutines")
}
