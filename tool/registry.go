package tool

import (
	"log/slog"
	"slices"
	"sync"
)

// Registry maps tool ids to tools. Registration usually happens once at
// startup while lookups happen continuously from concurrent invocations, so
// all access goes through an RWMutex.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register inserts t, replacing any tool already registered under t.ID.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	_, exists := r.tools[t.ID]
	r.tools[t.ID] = t
	r.mu.Unlock()

	if exists {
		r.logger.Warn("tool already registered, overwriting", "tool_id", t.ID)
	}
}

// Get returns the tool registered under id.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[id]
	return t, ok
}

// Has reports whether a tool is registered under id.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[id]
	return ok
}

// Unregister removes the tool registered under id and reports whether
// anything was removed.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[id]; !ok {
		return false
	}
	delete(r.tools, id)
	return true
}

// List returns a snapshot of all registered tools sorted by id. Callers must
// not attach meaning to the order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Tool) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
