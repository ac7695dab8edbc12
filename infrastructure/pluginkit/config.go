// Package pluginkit holds the configuration decoding, template context, and
// HTTP helpers shared by the built-in users, systems, and evaluators.
package pluginkit

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/webis-de/GenIRSim/internal/domain"
)

// Package-level validator instance for plugin configurations.
// Field names in errors follow the JSON keys of the configuration.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode copies a plugin configuration into target through its JSON
// encoding and validates the result against target's struct tags. Every
// failure is a *domain.ConfigurationError naming the offending key.
func Decode(cfg map[string]any, target any) error {
	if cfg == nil {
		return domain.NewConfigurationError("configuration", "missing", nil)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return domain.NewConfigurationError("configuration", "not encodable", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		field := "configuration"
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			field = typeErr.Field
		}
		return domain.NewConfigurationError(field, "invalid value", err)
	}

	if err := validate.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return domain.NewConfigurationError(fieldPath(fe), fmt.Sprintf("failed on the %q rule", fe.Tag()), err)
		}
		return domain.NewConfigurationError("configuration", "validation failed", err)
	}
	return nil
}

// fieldPath drops the struct name from a validator namespace.
func fieldPath(fe validator.FieldError) string {
	_, path, found := strings.Cut(fe.Namespace(), ".")
	if !found {
		return fe.Field()
	}
	return path
}

// Context builds a template context from a plugin configuration: every
// configuration key plus a "variables" object holding vars.
func Context(cfg map[string]any, vars map[string]any) map[string]any {
	context := make(map[string]any, len(cfg)+1)
	maps.Copy(context, cfg)
	variables := make(map[string]any, len(vars))
	maps.Copy(variables, vars)
	context["variables"] = variables
	return context
}

// Fields returns the entries of m whose keys are not in known, or nil when
// none remain.
func Fields(m map[string]any, known ...string) map[string]any {
	var fields map[string]any
	for key, value := range m {
		if slices.Contains(known, key) {
			continue
		}
		if fields == nil {
			fields = make(map[string]any)
		}
		fields[key] = value
	}
	return fields
}

// String returns m[key] when it is a string.
func String(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}
