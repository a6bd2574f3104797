package engine

import (
	"sync/atomic"

	"github.com/piyushagarwal-55/flowforge/core"
)

// seqEmitter stamps every log event of one execution with a monotonically
// increasing sequence number before handing it on.
type seqEmitter struct {
	next        core.LogEmitter
	executionID string
	counter     atomic.Uint64
}

func newSeqEmitter(executionID string, next core.LogEmitter) *seqEmitter {
	if next == nil {
		next = core.NopEmitter
	}
	return &seqEmitter{next: next, executionID: executionID}
}

// Emit implements core.LogEmitter. Events for other executions are passed
// through unsequenced.
func (s *seqEmitter) Emit(executionID string, event core.LogEvent) {
	if executionID == "" {
		executionID = s.executionID
	}
	if executionID == s.executionID {
		event.Seq = s.counter.Add(1)
	}
	event.ExecutionID = executionID
	s.next.Emit(executionID, event)
}
