// Package tools provides the built-in tool catalog: workspace inspection and
// the propose/apply edit cycle.
package tools

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/Strob0t/TaskLoom/internal/port/toolregistry"
)

// Registry is a map-backed tool catalog with optional visibility filtering.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]toolregistry.Tool
	visibility toolregistry.Visibility
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]toolregistry.Tool)}
}

// Register adds a tool. Later registrations with the same name win.
func (r *Registry) Register(t toolregistry.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// SetVisibility restricts which tools List and Get expose.
func (r *Registry) SetVisibility(v toolregistry.Visibility) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visibility = v
}

// Get returns the named tool if it exists and is visible.
func (r *Registry) Get(name string) (toolregistry.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok || (r.visibility != nil && !r.visibility(name)) {
		return nil, false
	}
	return t, true
}

// List returns all visible tools sorted by name.
func (r *Registry) List() []toolregistry.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]toolregistry.Tool, 0, len(r.tools))
	for name, t := range r.tools {
		if r.visibility != nil && !r.visibility(name) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// SchemaOf returns the argument schema of a visible tool.
func (r *Registry) SchemaOf(name string) (json.RawMessage, bool) {
	t, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	return t.Schema(), true
}
