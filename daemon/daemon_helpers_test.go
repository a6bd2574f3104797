package daemon

import (
	"context"
	"errors"
	"sync"

	"github.com/piyushagarwal-55/flowforge/core"
)

type fakeApplier struct {
	mu      sync.Mutex
	applied []core.ServerDefinition
	removed []string
	live    map[string]bool
	reject  map[string]bool
}

func newFakeApplier() *fakeApplier {
	return &fakeApplier{live: make(map[string]bool), reject: make(map[string]bool)}
}

func (f *fakeApplier) ApplyServer(_ context.Context, def core.ServerDefinition) (*core.ServerRuntime, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject[def.ID] {
		return nil, errors.New("rejected")
	}
	f.applied = append(f.applied, def)
	f.live[def.ID] = true
	status := core.StatusCreated
	if def.Autostart {
		status = core.StatusRunning
	}
	return &core.ServerRuntime{ID: def.ID, Name: def.Name, Status: status}, nil
}

func (f *fakeApplier) RemoveServer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.live[id] {
		return errors.New("not found")
	}
	delete(f.live, id)
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeApplier) appliedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.applied))
	for _, def := range f.applied {
		ids = append(ids, def.ID)
	}
	return ids
}

func (f *fakeApplier) removedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func (f *fakeApplier) lastApplied(id string) (core.ServerDefinition, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.applied) - 1; i >= 0; i-- {
		if f.applied[i].ID == id {
			return f.applied[i], true
		}
	}
	return core.ServerDefinition{}, false
}
