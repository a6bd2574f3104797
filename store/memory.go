package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/piyushagarwal-55/flowforge/core"
	"github.com/piyushagarwal-55/flowforge/graph"
)

// MemoryStore is an in-process Store. Values are copied on the way in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	servers   map[string]core.ServerDefinition
	workflows map[string]Workflow
	now       func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		servers:   make(map[string]core.ServerDefinition),
		workflows: make(map[string]Workflow),
		now:       time.Now,
	}
}

func (s *MemoryStore) ListServers(_ context.Context) ([]core.ServerDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.ServerDefinition, 0, len(s.servers))
	for _, def := range s.servers {
		out = append(out, def.Clone())
	}
	slices.SortFunc(out, func(a, b core.ServerDefinition) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *MemoryStore) GetServer(_ context.Context, id string) (core.ServerDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.servers[id]
	if !ok {
		return core.ServerDefinition{}, notFound("server", id)
	}
	return def.Clone(), nil
}

func (s *MemoryStore) PutServer(_ context.Context, def core.ServerDefinition) error {
	if err := checkID(def.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[def.ID] = def.Clone()
	return nil
}

func (s *MemoryStore) DeleteServer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.servers[id]; !ok {
		return notFound("server", id)
	}
	delete(s.servers, id)
	return nil
}

func (s *MemoryStore) ListWorkflows(_ context.Context) ([]Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		out = append(out, cloneWorkflow(wf))
	}
	slices.SortFunc(out, func(a, b Workflow) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return Workflow{}, notFound("workflow", id)
	}
	return cloneWorkflow(wf), nil
}

func (s *MemoryStore) PutWorkflow(_ context.Context, wf Workflow) (Workflow, error) {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.workflows[wf.ID]; ok {
		wf.CreatedAt = existing.CreatedAt
	} else {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now
	s.workflows[wf.ID] = cloneWorkflow(wf)
	return cloneWorkflow(wf), nil
}

func (s *MemoryStore) DeleteWorkflow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return notFound("workflow", id)
	}
	delete(s.workflows, id)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func cloneWorkflow(wf Workflow) Workflow {
	wf.Graph = cloneGraph(wf.Graph)
	return wf
}

func cloneGraph(g graph.Definition) graph.Definition {
	g.Edges = slices.Clone(g.Edges)
	if g.Nodes != nil {
		nodes := make([]graph.Node, len(g.Nodes))
		for i, n := range g.Nodes {
			n.Fields = cloneValue(n.Fields).(map[string]any)
			nodes[i] = n
		}
		g.Nodes = nodes
	}
	return g
}

// cloneValue deep-copies JSON-shaped values.
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return val
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
