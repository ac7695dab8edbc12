package application

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/webis-de/GenIRSim/internal/domain"
)

// newConfigurationValidator creates the validator for run configurations.
// Field names in errors follow the JSON keys of the configuration.
func newConfigurationValidator() (*validator.Validate, error) {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	if err := registerCustomValidators(v); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}
	return v, nil
}

// registerCustomValidators adds the pluginmodule tag.
func registerCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("pluginmodule", validatePluginModule); err != nil {
		return fmt.Errorf("failed to register pluginmodule validator: %w", err)
	}
	return nil
}

// validatePluginModule accepts non-empty module names without whitespace.
// Whether a remote reference is allowed is decided at construction time.
func validatePluginModule(fl validator.FieldLevel) bool {
	module := fl.Field().String()
	if module == "" {
		return false
	}
	return strings.IndexFunc(module, unicode.IsSpace) < 0
}

// configurationError converts a validator failure into a
// *domain.ConfigurationError for the first failing field.
func configurationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return domain.NewConfigurationError("configuration", "validation failed", err)
	}

	fe := fieldErrs[0]
	field := fe.Field()
	if _, path, found := strings.Cut(fe.Namespace(), "."); found {
		field = path
	}
	reason := fmt.Sprintf("failed on the %q rule", fe.Tag())
	if fe.Tag() == "required" || (fe.Tag() == "pluginmodule" && fe.Value() == "") {
		reason = "missing"
	}
	return domain.NewConfigurationError(field, reason, err)
}
