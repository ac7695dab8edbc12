package ports

import (
	"fmt"

	"github.com/webis-de/GenIRSim/internal/domain"
)

// PluginCallError reports a failed call into a plugin. It names the
// capability, method, and turn so an aborted simulation or evaluation tells
// which step failed.
type PluginCallError struct {
	// Capability is one of the Capability* constants.
	Capability string

	// Name is the configured evaluator name, or empty for users and systems.
	Name string

	// Method is the called method, such as "Search".
	Method string

	// Turn is the turn index, or domain.Overall.
	Turn int

	// Err is the error returned by the plugin.
	Err error
}

// Error implements the error interface for PluginCallError.
func (e *PluginCallError) Error() string {
	target := e.Capability
	if e.Name != "" {
		target += " " + e.Name
	}
	turn := fmt.Sprintf("turn %d", e.Turn)
	if e.Turn == domain.Overall {
		turn = "overall"
	}
	return fmt.Sprintf("%s.%s failed at %s: %v", target, e.Method, turn, e.Err)
}

// Unwrap returns the underlying error.
func (e *PluginCallError) Unwrap() error { return e.Err }

// NewPluginCallError creates a new PluginCallError.
func NewPluginCallError(capability, name, method string, turn int, err error) *PluginCallError {
	return &PluginCallError{
		Capability: capability,
		Name:       name,
		Method:     method,
		Turn:       turn,
		Err:        err,
	}
}
