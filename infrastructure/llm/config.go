package llm

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/webis-de/GenIRSim/internal/domain"
)

// Config is the "llm" object of a plugin configuration.
type Config struct {
	// Provider selects the provider implementation. Defaults to "ollama".
	Provider string `json:"provider"`

	// URL is the complete chat endpoint for ollama and the API base URL
	// for the other providers.
	URL string `json:"url" validate:"omitempty,url"`

	// Model names the model to use.
	Model string `json:"model"`

	// APIKey authenticates against hosted providers. When empty it is read
	// from the provider's environment variable.
	APIKey string `json:"apiKey"`

	// MaxRetries is the default number of fresh completions JSON requests
	// after a failed attempt.
	MaxRetries *int `json:"maxRetries" validate:"omitempty,min=0"`

	// RequestsPerSecond enables rate limiting when positive.
	RequestsPerSecond float64 `json:"requestsPerSecond" validate:"min=0"`

	// Burst is the rate limiter's bucket size. Defaults to 1.
	Burst int `json:"burst" validate:"min=0"`

	// Timeout bounds each request, as a Go duration string such as "90s".
	Timeout string `json:"timeout" validate:"omitempty,duration"`

	// Retry enables transport-level retries with exponential backoff.
	Retry *RetryConfig `json:"retry"`

	// CircuitBreaker enables the circuit breaker.
	CircuitBreaker *CircuitBreakerConfig `json:"circuitBreaker"`

	// Options holds every other key of the configuration object. They are
	// passed to the provider as request parameters.
	Options map[string]any `json:"-"`
}

// RetryConfig configures the retry middleware.
type RetryConfig struct {
	MaxRetries int    `json:"maxRetries" validate:"min=0"`
	BaseDelay  string `json:"baseDelay" validate:"omitempty,duration"`
	MaxDelay   string `json:"maxDelay" validate:"omitempty,duration"`
}

// CircuitBreakerConfig configures the circuit breaker middleware.
type CircuitBreakerConfig struct {
	MaxFailures int    `json:"maxFailures" validate:"min=1"`
	Cooldown    string `json:"cooldown" validate:"omitempty,duration"`
}

// knownConfigKeys are the keys consumed by Config itself.
var knownConfigKeys = map[string]bool{
	"provider":          true,
	"url":               true,
	"model":             true,
	"apiKey":            true,
	"maxRetries":        true,
	"requestsPerSecond": true,
	"burst":             true,
	"timeout":           true,
	"retry":             true,
	"circuitBreaker":    true,
}

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d >= 0
	})
	return v
}

// ParseConfig decodes and validates an "llm" configuration object.
func ParseConfig(m map[string]any) (Config, error) {
	var cfg Config
	if m == nil {
		return cfg, domain.NewConfigurationError("llm", "missing configuration", nil)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return cfg, domain.NewConfigurationError("llm", "not encodable", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, domain.NewConfigurationError("llm", "invalid value", err)
	}

	cfg.Options = make(map[string]any)
	for key, value := range m {
		if !knownConfigKeys[key] {
			cfg.Options[key] = value
		}
	}

	if err := configValidator.Struct(cfg); err != nil {
		return cfg, domain.NewConfigurationError("llm", "validation failed", err)
	}
	return cfg, nil
}

func (c Config) timeout() time.Duration {
	return parseDuration(c.Timeout, 0)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// ExtractOptionalInt extracts an integer value from options map with validation.
// Returns defaultVal if key doesn't exist, value is not a number, or validator fails.
// Whole float64 values are accepted since decoded JSON numbers are floats.
func ExtractOptionalInt(opts map[string]any, key string, defaultVal int, validator func(int) bool) int {
	if opts == nil {
		return defaultVal
	}

	val, ok := opts[key]
	if !ok {
		return defaultVal
	}

	intVal, ok := SafeInt(val)
	if !ok {
		return defaultVal
	}
	if f, isFloat := val.(float64); isFloat && float64(intVal) != f {
		return defaultVal
	}

	if validator != nil && !validator(intVal) {
		return defaultVal
	}

	return intVal
}

// ExtractOptionalString extracts a string value from options map with validation.
// Returns defaultVal if key doesn't exist, value is not a string, or validator fails.
func ExtractOptionalString(opts map[string]any, key string, defaultVal string, validator func(string) bool) string {
	if opts == nil {
		return defaultVal
	}

	val, ok := opts[key]
	if !ok {
		return defaultVal
	}

	strVal, ok := val.(string)
	if !ok {
		return defaultVal
	}

	if validator != nil && !validator(strVal) {
		return defaultVal
	}

	return strVal
}

// ExtractOptionalFloat64 extracts a float64 value from options map with validation.
// Returns defaultVal if key doesn't exist, value is not a number, or validator fails.
func ExtractOptionalFloat64(opts map[string]any, key string, defaultVal float64, validator func(float64) bool) float64 {
	if opts == nil {
		return defaultVal
	}

	val, ok := opts[key]
	if !ok {
		return defaultVal
	}

	var floatVal float64
	switch v := val.(type) {
	case float64:
		floatVal = v
	case int:
		floatVal = float64(v)
	default:
		return defaultVal
	}

	if validator != nil && !validator(floatVal) {
		return defaultVal
	}

	return floatVal
}
