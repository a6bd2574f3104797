package bus

import (
	"sync"

	"github.com/piyushagarwal-55/flowforge/core"
)

// MemBusConfig configures an in-memory log bus.
type MemBusConfig struct {
	// SubscriberBufferSize is the channel buffer size per subscriber (default: 256).
	SubscriberBufferSize int
}

// MemBus is an in-memory LogBus. It also satisfies core.LogEmitter so the
// runtime manager and the engine can publish to it directly.
type MemBus struct {
	mu         sync.RWMutex
	subs       map[string][]*memSub // executionID -> subscribers
	globalSubs []*memSub
	bufSize    int
	closed     bool
}

// NewMemBus creates a new in-memory log bus with the given configuration.
func NewMemBus(config MemBusConfig) *MemBus {
	bufSize := config.SubscriberBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	return &MemBus{
		subs:    make(map[string][]*memSub),
		bufSize: bufSize,
	}
}

// Publish sends an event to the subscribers of its execution and to global
// subscribers. Events published after Close are dropped.
func (b *MemBus) Publish(event core.LogEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs[event.ExecutionID] {
		sub.send(event)
	}
	for _, sub := range b.globalSubs {
		sub.send(event)
	}
}

// Emit publishes event under executionID.
func (b *MemBus) Emit(executionID string, event core.LogEvent) {
	event.ExecutionID = executionID
	b.Publish(event)
}

// Subscribe registers a subscriber for a specific execution.
func (b *MemBus) Subscribe(executionID string) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(b.bufSize)
	sub.unsubscribe = func() { b.remove(executionID, sub) }
	b.subs[executionID] = append(b.subs[executionID], sub)
	return sub
}

// SubscribeAll registers a subscriber that receives events from all executions.
func (b *MemBus) SubscribeAll() Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(b.bufSize)
	sub.unsubscribe = func() { b.remove("", sub) }
	b.globalSubs = append(b.globalSubs, sub)
	return sub
}

// remove detaches sub so closed subscriptions do not accumulate. An empty
// executionID means a global subscription.
func (b *MemBus) remove(executionID string, sub *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if executionID == "" {
		b.globalSubs = deleteSub(b.globalSubs, sub)
		return
	}
	remaining := deleteSub(b.subs[executionID], sub)
	if len(remaining) == 0 {
		delete(b.subs, executionID)
		return
	}
	b.subs[executionID] = remaining
}

func deleteSub(subs []*memSub, target *memSub) []*memSub {
	for i, s := range subs {
		if s == target {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// Close shuts down the bus and all active subscriptions.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	for _, sub := range b.globalSubs {
		sub.close()
	}
	return nil
}

type memSub struct {
	ch          chan core.LogEvent
	mu          sync.Mutex
	closed      bool
	unsubscribe func()
}

func newMemSub(bufSize int) *memSub {
	return &memSub{
		ch: make(chan core.LogEvent, bufSize),
	}
}

// Events returns a channel of events for this subscription.
func (s *memSub) Events() <-chan core.LogEvent {
	return s.ch
}

// Close unsubscribes and releases resources.
func (s *memSub) Close() error {
	if s.close() && s.unsubscribe != nil {
		s.unsubscribe()
	}
	return nil
}

// close closes the channel once and reports whether this call closed it.
func (s *memSub) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	close(s.ch)
	return true
}

// send delivers an event, dropping it if the buffer is full or the
// subscription is closed.
func (s *memSub) send(event core.LogEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.ch <- event:
	default:
	}
}

var (
	_ LogBus          = (*MemBus)(nil)
	_ Subscription    = (*memSub)(nil)
	_ core.LogEmitter = (*MemBus)(nil)
)
