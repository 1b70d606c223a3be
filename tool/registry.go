package tool

import (
	"fmt"
	"sync"

	"github.com/Aidanwa/smart-home/model"
)

// Registry holds an agent's tools by unique name, in registration order.
// Provider schema projections are computed once per provider name and cached
// until the tool set changes.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	schemas map[string][]model.ToolSchema
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools:   make(map[string]Tool, len(tools)),
		schemas: map[string][]model.ToolSchema{},
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t. Names must be unique.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("register tool %q: %w", name, ErrDuplicateTool)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	clear(r.schemas)
	return nil
}

// Lookup resolves a tool by exact name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Definitions returns all tool definitions in registration order.
func (r *Registry) Definitions() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]model.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, Definition(r.tools[name]))
	}
	return defs
}

// Schemas returns the provider-specific projections of every tool.
func (r *Registry) Schemas(p model.Provider) []model.ToolSchema {
	key := p.Info().Name

	r.mu.RLock()
	cached, ok := r.schemas[key]
	r.mu.RUnlock()
	if ok {
		return cached
	}

	defs := r.Definitions()
	schemas := make([]model.ToolSchema, 0, len(defs))
	for _, def := range defs {
		schemas = append(schemas, p.ProjectTool(def))
	}

	r.mu.Lock()
	r.schemas[key] = schemas
	r.mu.Unlock()
	return schemas
}
