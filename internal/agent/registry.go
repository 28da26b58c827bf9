package agent

import (
	"context"
	"sort"
	"sync"
)

// ToolFunc is one tool implementation. It receives the raw JSON argument
// blob and returns a plain result payload; wrapping into the {ok:...} wire
// shape is done by the caller.
type ToolFunc func(ctx context.Context, argsJSON string) (string, error)

// Registry holds the tool implementations available to the engine. Which of
// them a given job may use is decided per job by the policy layer, not here.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ToolFunc
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]ToolFunc)}
}

// Register adds or replaces a tool implementation.
func (r *Registry) Register(name string, fn ToolFunc) {
	if name == "" || fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = fn
}

// Lookup returns the implementation for a tool name.
func (r *Registry) Lookup(name string) (ToolFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.tools[name]
	return fn, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
