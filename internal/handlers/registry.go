package handlers

import (
	"sort"
	"sync"

	"github.com/rendis/leadflow/pkg/schema"
)

// Registry maps handler type names to factories. It is established once at
// process start and read-only afterward; Create is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	describe  map[string]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		describe:  make(map[string]string),
	}
}

// Register adds a handler factory under a type name. Returns error on
// duplicate or empty name.
func (r *Registry) Register(typeName string, factory Factory) error {
	return r.RegisterWithDescription(typeName, "", factory)
}

// RegisterWithDescription adds a handler factory with a human-readable summary.
func (r *Registry) RegisterWithDescription(typeName, description string, factory Factory) error {
	if typeName == "" {
		return schema.NewError(schema.ErrCodeValidation, "handler type name is empty")
	}
	if factory == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "handler factory for %q is nil", typeName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typeName]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "handler type %q already registered", typeName)
	}

	r.factories[typeName] = factory
	r.describe[typeName] = description
	return nil
}

// Create instantiates a handler of the given type from a step's config and
// instructions.
func (r *Registry) Create(typeName string, config map[string]any, instructions string) (Handler, error) {
	r.mu.RLock()
	factory, ok := r.factories[typeName]
	r.mu.RUnlock()

	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownHandler, "handler type %q not registered", typeName)
	}
	return factory(config, instructions)
}

// Has checks if a handler type is registered.
func (r *Registry) Has(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[typeName]
	return ok
}

// List returns info for all registered handler types, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.factories))
	for name := range r.factories {
		infos = append(infos, Info{Type: name, Description: r.describe[name]})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Type < infos[j].Type
	})
	return infos
}

// Preflight verifies every step of the spec names a registered handler type.
// Called before execution begins so a misconfigured workflow never partially
// runs.
func (r *Registry) Preflight(spec *schema.WorkflowSpec) error {
	for _, step := range spec.Steps {
		if !r.Has(step.Handler) {
			return schema.NewErrorf(schema.ErrCodeUnknownHandler,
				"handler type %q not registered", step.Handler).WithStep(step.ID)
		}
	}
	return nil
}
