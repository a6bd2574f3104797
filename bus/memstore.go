package bus

import (
	"context"
	"sync"

	"github.com/piyushagarwal-55/flowforge/core"
)

// MemLogStore is a thread-safe in-memory log store.
type MemLogStore struct {
	mu     sync.RWMutex
	events map[string][]core.LogEvent // executionID -> events
}

// NewMemLogStore creates a new in-memory log store.
func NewMemLogStore() *MemLogStore {
	return &MemLogStore{
		events: make(map[string][]core.LogEvent),
	}
}

func (s *MemLogStore) Append(_ context.Context, event core.LogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ExecutionID] = append(s.events[event.ExecutionID], event)
	return nil
}

func (s *MemLogStore) List(_ context.Context, executionID string, afterSeq uint64, limit int) ([]core.LogEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []core.LogEvent
	for _, e := range s.events[executionID] {
		if afterSeq > 0 && e.Seq <= afterSeq {
			continue
		}
		result = append(result, e)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MemLogStore) LatestSeq(_ context.Context, executionID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var maxSeq uint64
	for _, e := range s.events[executionID] {
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}
	return maxSeq, nil
}

var _ LogStore = (*MemLogStore)(nil)
