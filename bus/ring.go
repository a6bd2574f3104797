package bus

import (
	"slices"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/piyushagarwal-55/flowforge/core"
)

// DefaultRingCapacity is the number of events a RingBuffer keeps by default.
const DefaultRingCapacity = 1000

// RingBuffer is a fixed-capacity in-memory sink of runtime events. Once full,
// each Add overwrites the oldest slot, so internal order is not chronological;
// all queries sort by timestamp, newest first.
//
// History is lost on restart. It is an observability aid, not an audit log.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []core.Event
	next     int
	capacity int
}

// NewRingBuffer creates a ring buffer holding at most capacity events. A
// non-positive capacity selects DefaultRingCapacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &RingBuffer{
		events:   make([]core.Event, 0, capacity),
		capacity: capacity,
	}
}

// Add appends event, overwriting the oldest slot when at capacity. Missing
// ids and timestamps are filled in.
func (r *RingBuffer) Add(event core.Event) {
	if event.ID == "" {
		event.ID, _ = gonanoid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.events) < r.capacity {
		r.events = append(r.events, event)
		return
	}
	r.events[r.next] = event
	r.next = (r.next + 1) % r.capacity
}

// Recent returns up to limit events, newest first. A non-positive limit
// returns every event.
func (r *RingBuffer) Recent(limit int) []core.Event {
	return r.query(nil, limit)
}

// ByType returns up to limit events of the given type, newest first.
func (r *RingBuffer) ByType(eventType core.EventType, limit int) []core.Event {
	return r.query(func(e core.Event) bool { return e.Type == eventType }, limit)
}

// ByServer returns up to limit events for the given server, newest first.
func (r *RingBuffer) ByServer(serverID string, limit int) []core.Event {
	return r.query(func(e core.Event) bool { return e.ServerID == serverID }, limit)
}

// ByAgent returns up to limit events for the given agent, newest first.
func (r *RingBuffer) ByAgent(agentID string, limit int) []core.Event {
	return r.query(func(e core.Event) bool { return e.AgentID == agentID }, limit)
}

// EventFilter selects events by any combination of fields. Zero fields match
// everything.
type EventFilter struct {
	Type     core.EventType
	ServerID string
	AgentID  string
	ToolID   string
}

// Match reports whether e satisfies every non-zero field of f.
func (f EventFilter) Match(e core.Event) bool {
	return (f.Type == "" || e.Type == f.Type) &&
		(f.ServerID == "" || e.ServerID == f.ServerID) &&
		(f.AgentID == "" || e.AgentID == f.AgentID) &&
		(f.ToolID == "" || e.ToolID == f.ToolID)
}

// Query returns up to limit events matching f, newest first.
func (r *RingBuffer) Query(f EventFilter, limit int) []core.Event {
	return r.query(f.Match, limit)
}

// Clear drops every stored event.
func (r *RingBuffer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = r.events[:0]
	r.next = 0
}

// Size returns the number of stored events.
func (r *RingBuffer) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// Capacity returns the maximum number of stored events.
func (r *RingBuffer) Capacity() int {
	return r.capacity
}

// query filters before limiting so a limit never hides matching events.
func (r *RingBuffer) query(match func(core.Event) bool, limit int) []core.Event {
	r.mu.RLock()
	out := make([]core.Event, 0, len(r.events))
	for _, e := range r.events {
		if match == nil || match(e) {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b core.Event) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
