// Package bus carries events out of the runtime manager and the execution
// engine.
//
// Two streams live here:
//   - RingBuffer is the bounded in-memory sink of runtime events (server
//     lifecycle, tool calls, permission denials, agent changes) queried by
//     the API.
//   - LogBus distributes per-execution log events to live subscribers such
//     as SSE and websocket streams, while a LogStore keeps them for replay.
package bus

import "github.com/piyushagarwal-55/flowforge/core"

// LogBus distributes execution log events to subscribers.
type LogBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(event core.LogEvent)

	// Subscribe registers a subscriber for a specific execution.
	// Returns a Subscription that must be closed when done.
	Subscribe(executionID string) Subscription

	// SubscribeAll registers a subscriber that receives events from all
	// executions. Returns a Subscription that must be closed when done.
	SubscribeAll() Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events.
type Subscription interface {
	// Events returns a channel of events for this subscription.
	Events() <-chan core.LogEvent

	// Close unsubscribes and releases resources.
	Close() error
}
