package domain

import (
	"errors"
	"fmt"
)

// Common domain errors that can occur while simulating or evaluating.
// Every struct error below reports one of these through errors.Is.
var (
	// ErrConfiguration indicates that a configuration fragment is missing a
	// required field or holds an invalid value.
	ErrConfiguration = errors.New("configuration error")

	// ErrRestrictedModule indicates that restricted loading rejected a
	// foreign module reference.
	ErrRestrictedModule = errors.New("restricted module")

	// ErrTypeMismatch indicates that a constructed plugin does not provide the
	// requested capability.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrNotImplemented indicates that a capability method was invoked on an
	// implementation that does not override it.
	ErrNotImplemented = errors.New("not implemented")

	// ErrJSONGeneration indicates that the JSON repair and retry cascade was
	// exhausted without producing a valid value.
	ErrJSONGeneration = errors.New("JSON generation failed")

	// ErrMissingVariable indicates that a template placeholder could not be
	// resolved in its context.
	ErrMissingVariable = errors.New("missing variable")

	// ErrTransport indicates that a network call to a model, search, or
	// evaluation endpoint failed or returned an error payload.
	ErrTransport = errors.New("transport error")

	// ErrInvalidTurnOrder indicates that a stateful plugin was called out of
	// its mandatory order.
	ErrInvalidTurnOrder = errors.New("invalid turn order")
)

// ConfigurationError reports a missing or invalid configuration field.
type ConfigurationError struct {
	// Field names the offending key, using dotted notation for nesting.
	Field string

	// Reason describes what is wrong with the field.
	Reason string

	// Err is an optional underlying cause, such as a decoding error.
	Err error
}

// Error implements the error interface for ConfigurationError.
func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration error: field=%s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(field, reason string, err error) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason, Err: err}
}

// RestrictedModuleError reports a module reference rejected by restricted
// plugin loading.
type RestrictedModuleError struct {
	Module string
}

// Error implements the error interface for RestrictedModuleError.
func (e *RestrictedModuleError) Error() string {
	return fmt.Sprintf("restricted construction forbids module names that contain '://', but was %q", e.Module)
}

// Is reports whether target is ErrRestrictedModule.
func (e *RestrictedModuleError) Is(target error) bool { return target == ErrRestrictedModule }

// NewRestrictedModuleError creates a new RestrictedModuleError.
func NewRestrictedModuleError(module string) *RestrictedModuleError {
	return &RestrictedModuleError{Module: module}
}

// TypeMismatchError reports a constructed plugin that lacks the requested
// capability.
type TypeMismatchError struct {
	Module     string
	Class      string
	Capability string
	// Got is the dynamic type of the constructed value.
	Got string
}

// Error implements the error interface for TypeMismatchError.
func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("created object of %q from %q is not a %s (got %s)", e.Class, e.Module, e.Capability, e.Got)
}

// Is reports whether target is ErrTypeMismatch.
func (e *TypeMismatchError) Is(target error) bool { return target == ErrTypeMismatch }

// NewTypeMismatchError creates a new TypeMismatchError.
func NewTypeMismatchError(module, class, capability string, got any) *TypeMismatchError {
	return &TypeMismatchError{
		Module:     module,
		Class:      class,
		Capability: capability,
		Got:        fmt.Sprintf("%T", got),
	}
}

// NotImplementedError reports a capability method without an implementation.
type NotImplementedError struct {
	Method string
}

// Error implements the error interface for NotImplementedError.
func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("method %s is not implemented", e.Method)
}

// Is reports whether target is ErrNotImplemented.
func (e *NotImplementedError) Is(target error) bool { return target == ErrNotImplemented }

// NewNotImplementedError creates a new NotImplementedError.
func NewNotImplementedError(method string) *NotImplementedError {
	return &NotImplementedError{Method: method}
}

// JSONGenerationError reports an exhausted JSON repair and retry cascade.
type JSONGenerationError struct {
	// Action is the logbook action label of the failed call.
	Action string

	// Attempts is the number of completions that were requested.
	Attempts int

	// Err is the failure of the last attempt.
	Err error
}

// Error implements the error interface for JSONGenerationError.
func (e *JSONGenerationError) Error() string {
	msg := fmt.Sprintf("getting JSON for %s failed after %d attempts", e.Action, e.Attempts)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the failure of the last attempt.
func (e *JSONGenerationError) Unwrap() error { return e.Err }

// Is reports whether target is ErrJSONGeneration.
func (e *JSONGenerationError) Is(target error) bool { return target == ErrJSONGeneration }

// NewJSONGenerationError creates a new JSONGenerationError.
func NewJSONGenerationError(action string, attempts int, err error) *JSONGenerationError {
	return &JSONGenerationError{Action: action, Attempts: attempts, Err: err}
}

// MissingVariableError reports a template path that does not resolve.
type MissingVariableError struct {
	// Path is the full dotted path of the placeholder.
	Path string

	// Position is the index of the first segment that did not resolve.
	Position int

	// Segment is the segment at Position.
	Segment string
}

// Error implements the error interface for MissingVariableError.
func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("context %q at position %d (%q) does not exist in context", e.Path, e.Position, e.Segment)
}

// Is reports whether target is ErrMissingVariable.
func (e *MissingVariableError) Is(target error) bool { return target == ErrMissingVariable }

// NewMissingVariableError creates a new MissingVariableError.
func NewMissingVariableError(path string, position int, segment string) *MissingVariableError {
	return &MissingVariableError{Path: path, Position: position, Segment: segment}
}

// TransportError reports a failed call to an external HTTP endpoint.
type TransportError struct {
	// Endpoint is the URL that was called.
	Endpoint string

	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	// Message is the error payload or a short description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface for TransportError.
func (e *TransportError) Error() string {
	msg := "transport error: endpoint=" + e.Endpoint
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// NewTransportError creates a new TransportError.
func NewTransportError(endpoint string, statusCode int, message string, err error) *TransportError {
	return &TransportError{Endpoint: endpoint, StatusCode: statusCode, Message: message, Err: err}
}

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}
