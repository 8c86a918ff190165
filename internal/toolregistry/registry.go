package toolregistry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"aria/internal/agent/ports"
)

var (
	// ErrDuplicateTool is returned when registering a name that already exists.
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrUnknownTool is returned when looking up a name that was never registered.
	ErrUnknownTool = errors.New("tool not found")
)

// Registry implements ports.ToolRegistry. Lookups are keyed by exact name and
// List preserves registration order so the definitions handed to the model are
// stable across turns.
type Registry struct {
	tools map[string]ports.ToolExecutor
	order []string
	mu    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]ports.ToolExecutor),
	}
}

func (r *Registry) Register(tool ports.ToolExecutor) error {
	if tool == nil {
		return fmt.Errorf("register: nil tool")
	}
	name := strings.TrimSpace(tool.Metadata().Name)
	if name == "" {
		name = strings.TrimSpace(tool.Definition().Name)
	}
	if name == "" {
		return fmt.Errorf("register: tool has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Get(name string) (ports.ToolExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return tool, nil
}

func (r *Registry) List() []ports.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ports.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

var _ ports.ToolRegistry = (*Registry)(nil)
