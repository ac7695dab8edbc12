package application

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/webis-de/GenIRSim/infrastructure/evaluators"
	"github.com/webis-de/GenIRSim/infrastructure/systems"
	"github.com/webis-de/GenIRSim/infrastructure/users"
	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/logbook"
)

// BuiltinModule is the module name under which the built-in users,
// systems, and evaluators are registered.
const BuiltinModule = "builtin"

// Factory creates a plugin from its sub-configuration. The returned value is
// checked against the requested capability by Construct.
type Factory func(cfg map[string]any, lb *logbook.Logbook) (any, error)

type registryKey struct {
	module string
	class  string
}

// Registry maps (module, class) pairs to plugin factories. The built-in
// plugins are always available; further modules are added with Register.
type Registry struct {
	// factories maps module and class names to their factory functions.
	factories map[registryKey]Factory
	// mu protects concurrent access to the factories map.
	mu sync.RWMutex
}

// NewRegistry creates a registry with the built-in plugins registered under
// BuiltinModule.
func NewRegistry() *Registry {
	registry := &Registry{factories: make(map[registryKey]Factory)}
	registry.registerBuiltinFactories()
	return registry
}

// registerBuiltinFactories registers the users, systems, and evaluators
// shipped with the simulator.
func (r *Registry) registerBuiltinFactories() {
	builtins := map[string]Factory{
		"StaticUser": func(cfg map[string]any, lb *logbook.Logbook) (any, error) {
			return users.NewStaticUser(cfg, lb)
		},
		"Touche25RADUser": func(cfg map[string]any, lb *logbook.Logbook) (any, error) {
			return users.NewTouche25RADUser(cfg, lb)
		},
		"BasicChatSystem": func(cfg map[string]any, lb *logbook.Logbook) (any, error) {
			return systems.NewBasicChatSystem(cfg, lb)
		},
		"GenerativeElasticSystem": func(cfg map[string]any, lb *logbook.Logbook) (any, error) {
			return systems.NewGenerativeElasticSystem(cfg, lb)
		},
		"PromptedEvaluator": func(cfg map[string]any, lb *logbook.Logbook) (any, error) {
			return evaluators.NewPromptedEvaluator(cfg, lb)
		},
		"ApiBasedEvaluator": func(cfg map[string]any, lb *logbook.Logbook) (any, error) {
			return evaluators.NewAPIBasedEvaluator(cfg, lb)
		},
		"ReferenceMatchEvaluator": func(cfg map[string]any, lb *logbook.Logbook) (any, error) {
			return evaluators.NewReferenceMatchEvaluator(cfg, lb)
		},
	}
	for class, factory := range builtins {
		r.factories[registryKey{module: BuiltinModule, class: class}] = factory
	}
}

// Register adds a factory for class in module, replacing any previous one.
// This is the extension point for plugins that are not built in.
func (r *Registry) Register(module, class string, factory Factory) error {
	if strings.TrimSpace(module) == "" {
		return fmt.Errorf("module cannot be empty")
	}
	if strings.TrimSpace(class) == "" {
		return fmt.Errorf("class cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory function cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[registryKey{module: module, class: class}] = factory
	return nil
}

// SupportedClasses returns the sorted class names registered for module.
func (r *Registry) SupportedClasses(module string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	classes := make([]string, 0, len(r.factories))
	for key := range r.factories {
		if key.module == module {
			classes = append(classes, key.class)
		}
	}
	slices.Sort(classes)
	return classes
}

// Create builds the plugin described by pc. With restricted set, module
// names that look like remote references are rejected before lookup.
func (r *Registry) Create(pc domain.PluginConfiguration, lb *logbook.Logbook, restricted bool) (any, error) {
	if pc.Module == "" {
		return nil, domain.NewConfigurationError("module", "missing", nil)
	}
	if restricted && strings.Contains(pc.Module, "://") {
		return nil, domain.NewRestrictedModuleError(pc.Module)
	}
	if pc.Class == "" {
		return nil, domain.NewConfigurationError("class", "missing", nil)
	}
	if pc.Configuration == nil {
		return nil, domain.NewConfigurationError("configuration", "missing", nil)
	}

	r.mu.RLock()
	factory, exists := r.factories[registryKey{module: pc.Module, class: pc.Class}]
	r.mu.RUnlock()
	if !exists {
		return nil, domain.NewConfigurationError("class",
			fmt.Sprintf("no class %q in module %q", pc.Class, pc.Module), nil)
	}

	plugin, err := factory(pc.Configuration, lb)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s from %s: %w", pc.Class, pc.Module, err)
	}
	return plugin, nil
}

// Construct builds the plugin described by pc and checks that it provides
// capability T.
//
// Example:
//
//	user, err := Construct[ports.User](registry, ports.CapabilityUser, cfg.User, lb, true)
func Construct[T any](r *Registry, capability string, pc domain.PluginConfiguration, lb *logbook.Logbook, restricted bool) (T, error) {
	var zero T
	plugin, err := r.Create(pc, lb, restricted)
	if err != nil {
		return zero, err
	}
	typed, ok := plugin.(T)
	if !ok {
		return zero, domain.NewTypeMismatchError(pc.Module, pc.Class, capability, plugin)
	}
	return typed, nil
}

