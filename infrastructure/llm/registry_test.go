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

// registerCapturingProvider registers providerType and returns a pointer to
// the last configuration the factory received.
func registerCapturingProvider(providerType string, mock *MockCoreLLM) *Config {
	var captured Config
	RegisterProviderFactory(providerType, func(cfg Config) (CoreLLM, error) {
		captured = cfg
		mock.SetModel(cfg.Model)
		return mock, nil
	})
	return &captured
}

func TestNewRegistry_RequiresDefaultProvider(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{})

	assert.Error(t, err)
}

func TestRegistry_NewClientAppliesProviderDefaults(t *testing.T) {
	// Given a registry whose default provider has an env var and model
	mock := NewMockCoreLLM()
	captured := registerCapturingProvider("registry-defaults", mock)
	registry, err := NewRegistry(RegistryConfig{
		DefaultProvider: "registry-defaults",
		Providers: map[string]ProviderConfig{
			"registry-defaults": {EnvVar: "TEST_KEY", DefaultModel: "small-model"},
		},
		DisableTracing: true,
		Getenv: func(key string) string {
			if key == "TEST_KEY" {
				return "secret"
			}
			return ""
		},
	})
	require.NoError(t, err)

	// When creating a client from a configuration without provider or model
	client, err := registry.NewClientFromMap(map[string]any{"temperature": 0.1}, logbook.Nop())

	// Then the defaults are filled in
	require.NoError(t, err)
	assert.Equal(t, "registry-defaults", captured.Provider)
	assert.Equal(t, "small-model", captured.Model)
	assert.Equal(t, "secret", captured.APIKey)
	assert.Equal(t, "registry-defaults", client.Provider())
	assert.Equal(t, "small-model", client.GetModel())
	assert.Equal(t, DefaultJSONRetries, client.maxRetries)
	assert.Equal(t, map[string]any{"temperature": 0.1}, client.options)
}

func TestRegistry_NewClientKeepsExplicitSettings(t *testing.T) {
	mock := NewMockCoreLLM()
	captured := registerCapturingProvider("registry-explicit", mock)
	registry, err := NewRegistry(RegistryConfig{
		DefaultProvider: "ollama",
		Providers: map[string]ProviderConfig{
			"registry-explicit": {EnvVar: "TEST_KEY", DefaultModel: "small-model"},
		},
		Getenv: func(string) string { return "from-env" },
	})
	require.NoError(t, err)

	client, err := registry.NewClientFromMap(map[string]any{
		"provider":   "registry-explicit",
		"model":      "large-model",
		"apiKey":     "inline",
		"maxRetries": 5.0,
	}, logbook.Nop())

	require.NoError(t, err)
	assert.Equal(t, "large-model", captured.Model)
	assert.Equal(t, "inline", captured.APIKey)
	assert.Equal(t, 5, client.maxRetries)
}

func TestRegistry_UnknownProvider(t *testing.T) {
	registry, err := NewRegistry(RegistryConfig{DefaultProvider: "ollama"})
	require.NoError(t, err)

	_, err = registry.NewClientFromMap(map[string]any{"provider": "does-not-exist"}, logbook.Nop())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.ErrorIs(t, err, ErrUnknownProvider)
	var cfgErr *domain.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "llm.provider", cfgErr.Field)
}

func TestRegistry_FactoryErrorIsConfigurationError(t *testing.T) {
	registry, err := NewRegistry(RegistryConfig{DefaultProvider: "openai", Getenv: func(string) string { return "" }})
	require.NoError(t, err)

	_, err = registry.NewClientFromMap(map[string]any{}, logbook.Nop())

	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.ErrorIs(t, err, ErrEmptyAPIKey)
}

func TestRegistry_RetryConfigurationWrapsCore(t *testing.T) {
	// Given a provider that fails once
	mock := NewMockCoreLLM("recovered")
	mock.FailUntilAttempt = 1
	RegisterMockProvider("registry-flaky", mock)
	registry, err := NewRegistry(RegistryConfig{DefaultProvider: "registry-flaky"})
	require.NoError(t, err)

	// When the configuration enables transport retries
	client, err := registry.NewClientFromMap(map[string]any{
		"retry": map[string]any{"maxRetries": 2.0, "baseDelay": "1ms", "maxDelay": "5ms"},
	}, logbook.Nop())
	require.NoError(t, err)

	reply, err := client.Chat(context.Background(), []domain.Message{UserMessage("Hi")}, "generation")

	// Then the failure is retried transparently
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply)
	assert.Equal(t, 2, mock.GetCallCount())
}

func TestRegistry_MetricsAndDefaultMiddleware(t *testing.T) {
	mock := NewMockCoreLLM()
	RegisterMockProvider("registry-metrics", mock)
	registry, err := NewRegistry(RegistryConfig{DefaultProvider: "registry-metrics"})
	require.NoError(t, err)

	collector := &capturingCollector{}
	registry.SetMetrics(collector)
	var order []string
	registry.UpdateDefaultMiddleware(func(next CoreLLM) CoreLLM {
		return &orderRecorder{next: next, name: "default", order: &order}
	})

	client, err := registry.NewClientFromMap(map[string]any{}, logbook.Nop())
	require.NoError(t, err)
	_, err = client.Chat(context.Background(), []domain.Message{UserMessage("Hi")}, "generation")

	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, order)
	assert.Len(t, collector.countersNamed(MetricLLMRequests), 1)
}

func TestNewClient_UsesOllamaByDefault(t *testing.T) {
	client, err := NewClient(map[string]any{"url": "http://localhost:11434/api/chat"}, logbook.Nop())

	require.NoError(t, err)
	assert.Equal(t, "ollama", client.Provider())
	assert.Equal(t, OllamaDefaultModel, client.GetModel())
}
