package application

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/templates"
)

// ConfigurationLoader parses run configurations from files, text, or
// structured values and decodes them into validated
// domain.Configuration values.
//
// Parsing and decoding are separate steps: replacements are rendered into
// the generic map returned by Parse before it is decoded, so a templated
// configuration only has to be valid after rendering.
type ConfigurationLoader struct {
	validator *validator.Validate
}

// NewConfigurationLoader creates a loader with the configuration validator
// and its custom tags registered.
func NewConfigurationLoader() (*ConfigurationLoader, error) {
	v, err := newConfigurationValidator()
	if err != nil {
		return nil, err
	}
	return &ConfigurationLoader{validator: v}, nil
}

// LoadFile reads and parses the configuration at path.
func (cl *ConfigurationLoader) LoadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return cl.ParseBytes(data)
}

// LoadReader reads and parses a configuration from r.
func (cl *ConfigurationLoader) LoadReader(r io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	return cl.ParseBytes(data)
}

// Parse converts input into a generic configuration map. Accepted inputs
// are map[string]any, JSON or YAML text as string or []byte, and
// domain.Configuration values or pointers.
func (cl *ConfigurationLoader) Parse(input any) (map[string]any, error) {
	switch in := input.(type) {
	case nil:
		return nil, domain.NewConfigurationError("configuration", "missing", nil)
	case string:
		return cl.ParseBytes([]byte(in))
	case []byte:
		return cl.ParseBytes(in)
	case map[string]any:
		return in, nil
	default:
		return toMap(in)
	}
}

// ParseBytes parses serialized configuration text. Text whose first
// non-space character is '{' is JSON, anything else YAML.
func (cl *ConfigurationLoader) ParseBytes(data []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, domain.NewConfigurationError("configuration", "empty", nil)
	}

	if trimmed[0] == '{' {
		var m map[string]any
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return nil, domain.NewConfigurationError("configuration", "invalid JSON", err)
		}
		return m, nil
	}

	var raw any
	if err := yaml.Unmarshal(trimmed, &raw); err != nil {
		return nil, domain.NewConfigurationError("configuration", "invalid YAML", err)
	}
	if _, ok := raw.(map[string]any); !ok {
		return nil, domain.NewConfigurationError("configuration", "not an object", nil)
	}
	return toMap(raw)
}

// Decode converts a generic configuration map into a validated
// configuration. Unknown keys outside plugin sub-configurations and topics
// are rejected.
func (cl *ConfigurationLoader) Decode(m map[string]any) (*domain.Configuration, error) {
	if m == nil {
		return nil, domain.NewConfigurationError("configuration", "missing", nil)
	}

	var config domain.Configuration
	if err := decodeStrict(coerceMaxTurns(m), &config); err != nil {
		return nil, err
	}
	if err := cl.validator.Struct(&config); err != nil {
		return nil, configurationError(err)
	}
	return &config, nil
}

// DecodeEvaluation decodes only the evaluation section of a generic
// configuration map, for re-evaluating stored simulations. A missing
// section yields a configuration without evaluators.
func (cl *ConfigurationLoader) DecodeEvaluation(m map[string]any) (*domain.EvaluationConfiguration, error) {
	var config domain.EvaluationConfiguration
	section, ok := m["evaluation"].(map[string]any)
	if !ok {
		if m["evaluation"] != nil {
			return nil, domain.NewConfigurationError("evaluation", "not an object", nil)
		}
		return &config, nil
	}
	if err := decodeStrict(section, &config); err != nil {
		return nil, err
	}
	if err := cl.ValidateEvaluation(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// ValidateEvaluation checks an evaluation configuration that did not pass
// through Decode, such as one supplied next to a stored simulation.
func (cl *ConfigurationLoader) ValidateEvaluation(config *domain.EvaluationConfiguration) error {
	if config == nil {
		return domain.NewConfigurationError("evaluation", "missing", nil)
	}
	if err := cl.validator.Struct(config); err != nil {
		return configurationError(err)
	}
	return nil
}

// ApplyReplacements renders every {{variable}} in the configuration with
// the given replacements. Placeholders without a replacement are kept, so
// plugins can still resolve their own variables later.
func ApplyReplacements(m map[string]any, replacements map[string]any) (map[string]any, error) {
	if len(replacements) == 0 {
		return m, nil
	}
	rendered, err := templates.Render(m, replacements, true)
	if err != nil {
		return nil, fmt.Errorf("applying replacements: %w", err)
	}
	out, ok := rendered.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("applying replacements: got %T", rendered)
	}
	return out, nil
}

// coerceMaxTurns turns a numeric string simulation.maxTurns, as left by a
// rendered "{{turns}}" placeholder, into an integer. The input map is not
// modified.
func coerceMaxTurns(m map[string]any) map[string]any {
	simulation, ok := m["simulation"].(map[string]any)
	if !ok {
		return m
	}
	raw, ok := simulation["maxTurns"].(string)
	if !ok {
		return m
	}
	turns, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return m
	}

	coerced := maps.Clone(simulation)
	coerced["maxTurns"] = turns
	out := maps.Clone(m)
	out["simulation"] = coerced
	return out
}

// toMap converts a value into the generic map shape through its JSON
// encoding.
func toMap(v any) (map[string]any, error) {
	normalized, err := templates.Normalize(v)
	if err != nil {
		return nil, domain.NewConfigurationError("configuration", "not encodable", err)
	}
	m, ok := normalized.(map[string]any)
	if !ok {
		return nil, domain.NewConfigurationError("configuration", "not an object", nil)
	}
	return m, nil
}

func decodeStrict(m map[string]any, target any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return domain.NewConfigurationError("configuration", "not encodable", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields() // Strict mode - fail on unknown fields.
	if err := decoder.Decode(target); err != nil {
		field := "configuration"
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			field = typeErr.Field
		}
		return domain.NewConfigurationError(field, "invalid value", err)
	}
	return nil
}
