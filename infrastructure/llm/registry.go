package llm

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/logbook"
	"github.com/webis-de/GenIRSim/internal/ports"
)

// ProviderConfig holds the defaults of one provider type.
type ProviderConfig struct {
	// EnvVar names the environment variable the API key is read from when
	// the configuration does not set apiKey.
	EnvVar string
	// DefaultModel is used when the configuration names no model.
	DefaultModel string
}

// DefaultProviders lists the built-in provider types.
var DefaultProviders = map[string]ProviderConfig{
	"ollama":    {DefaultModel: OllamaDefaultModel},
	"openai":    {EnvVar: "OPENAI_API_KEY", DefaultModel: OpenAIDefaultModel},
	"anthropic": {EnvVar: "ANTHROPIC_API_KEY", DefaultModel: AnthropicDefaultModel},
	"google":    {EnvVar: "GOOGLE_API_KEY", DefaultModel: GoogleDefaultModel},
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Providers maps provider types to their defaults. Types without an
	// entry can still be used if a factory is registered for them.
	Providers map[string]ProviderConfig
	// DefaultProvider is used when the configuration names no provider.
	DefaultProvider string
	// Metrics, if set, receives request metrics of every client.
	Metrics ports.MetricsCollector
	// DisableTracing turns off the llm.request spans.
	DisableTracing bool
	// Getenv looks up API keys. Defaults to os.Getenv.
	Getenv func(string) string
}

// breakerObserver is implemented by collectors that also observe circuit
// breakers.
type breakerObserver interface {
	BreakerMetrics(provider string) CircuitBreakerMetrics
}

// Registry creates clients from plugin configurations and applies the
// middleware shared by all of them.
type Registry struct {
	mu                sync.RWMutex
	providers         map[string]ProviderConfig
	defaultProvider   string
	defaultMiddleware []Middleware
	metrics           ports.MetricsCollector
	tracing           bool
	getenv            func(string) string
}

// NewRegistry creates a registry.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DefaultProvider == "" {
		return nil, fmt.Errorf("default provider cannot be empty")
	}

	providers := config.Providers
	if providers == nil {
		providers = DefaultProviders
	}
	getenv := config.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	return &Registry{
		providers:       providers,
		defaultProvider: config.DefaultProvider,
		metrics:         config.Metrics,
		tracing:         !config.DisableTracing,
		getenv:          getenv,
	}, nil
}

var defaultRegistry = mustRegistry(RegistryConfig{
	Providers:       DefaultProviders,
	DefaultProvider: "ollama",
})

func mustRegistry(config RegistryConfig) *Registry {
	r, err := NewRegistry(config)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultRegistry returns the registry used by NewClient.
func DefaultRegistry() *Registry { return defaultRegistry }

// NewClient decodes an "llm" configuration object and creates a client on
// the default registry.
func NewClient(config map[string]any, lb *logbook.Logbook) (*Client, error) {
	return defaultRegistry.NewClientFromMap(config, lb)
}

// NewClientFromMap decodes an "llm" configuration object and creates a
// client for it.
func (r *Registry) NewClientFromMap(config map[string]any, lb *logbook.Logbook) (*Client, error) {
	cfg, err := ParseConfig(config)
	if err != nil {
		return nil, err
	}
	return r.NewClient(cfg, lb)
}

// NewClient creates a client for cfg. Provider defaults fill in a missing
// model and API key; the middleware chain is assembled from the registry
// settings and the configuration.
func (r *Registry) NewClient(cfg Config, lb *logbook.Logbook) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider := cfg.Provider
	if provider == "" {
		provider = r.defaultProvider
	}
	cfg.Provider = provider

	factory, ok := lookupProviderFactory(provider)
	if !ok {
		return nil, domain.NewConfigurationError("llm.provider", fmt.Sprintf("unknown provider %q", provider), ErrUnknownProvider)
	}

	defaults := r.providers[provider]
	if cfg.Model == "" {
		cfg.Model = defaults.DefaultModel
	}
	if cfg.APIKey == "" && defaults.EnvVar != "" {
		cfg.APIKey = r.getenv(defaults.EnvVar)
	}

	core, err := factory(cfg)
	if err != nil {
		return nil, domain.NewConfigurationError("llm", "failed to create provider "+provider, err)
	}

	maxRetries := DefaultJSONRetries
	if cfg.MaxRetries != nil {
		maxRetries = *cfg.MaxRetries
	}

	return NewClientWithCore(Chain(core, r.middlewareFor(provider, cfg)...), provider, maxRetries, cfg.Options, lb), nil
}

// middlewareFor orders the chain from outermost to innermost: registry
// defaults, tracing, metrics, circuit breaker, retry, rate limit, timeout.
func (r *Registry) middlewareFor(provider string, cfg Config) []Middleware {
	middleware := append([]Middleware{}, r.defaultMiddleware...)

	if r.tracing {
		middleware = append(middleware, TracingMiddleware(provider))
	}
	if r.metrics != nil {
		middleware = append(middleware, MetricsMiddleware(provider, r.metrics))
	}
	if cb := cfg.CircuitBreaker; cb != nil {
		var observer CircuitBreakerMetrics
		if bo, ok := r.metrics.(breakerObserver); ok {
			observer = bo.BreakerMetrics(provider)
		}
		middleware = append(middleware, CircuitBreakerMiddlewareWithMetrics(
			cb.MaxFailures, parseDuration(cb.Cooldown, 30*time.Second), observer))
	}
	if retry := cfg.Retry; retry != nil && retry.MaxRetries > 0 {
		middleware = append(middleware, RetryMiddleware(
			retry.MaxRetries,
			parseDuration(retry.BaseDelay, defaultRetryBaseDelay),
			parseDuration(retry.MaxDelay, defaultRetryMaxDelay),
		))
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		middleware = append(middleware, RateLimitMiddleware(rate.Limit(cfg.RequestsPerSecond), burst))
	}
	if timeout := cfg.timeout(); timeout > 0 {
		middleware = append(middleware, TimeoutMiddleware(timeout))
	}
	return middleware
}

// SetMetrics sets the collector that receives request metrics of clients
// created afterwards. A collector with a BreakerMetrics(provider) method
// also observes circuit breakers.
func (r *Registry) SetMetrics(collector ports.MetricsCollector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = collector
}

// UpdateDefaultMiddleware adds middleware to every client created
// afterwards. Existing clients are not affected.
func (r *Registry) UpdateDefaultMiddleware(middleware ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultMiddleware = append(r.defaultMiddleware, middleware...)
}
