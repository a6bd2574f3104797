package bus

import (
	"context"

	"github.com/piyushagarwal-55/flowforge/core"
)

// LogStore persists execution log events for replay.
type LogStore interface {
	// Append stores an event.
	Append(ctx context.Context, event core.LogEvent) error

	// List returns events for an execution in sequence order.
	// afterSeq: return events with Seq > afterSeq (0 means all)
	// limit: max events to return (0 means no limit)
	List(ctx context.Context, executionID string, afterSeq uint64, limit int) ([]core.LogEvent, error)

	// LatestSeq returns the highest Seq for an execution (0 if no events).
	LatestSeq(ctx context.Context, executionID string) (uint64, error)
}
