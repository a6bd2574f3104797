package bus

import (
	"context"
	"log/slog"

	"github.com/piyushagarwal-55/flowforge/core"
)

// StoreSubscriber writes log events to a LogStore. It is a core.LogEmitter,
// so it can sit next to a LogBus in a core.MultiEmitter.
type StoreSubscriber struct {
	store  LogStore
	logger *slog.Logger
}

// NewStoreSubscriber creates a new StoreSubscriber.
func NewStoreSubscriber(store LogStore, logger *slog.Logger) *StoreSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSubscriber{
		store:  store,
		logger: logger,
	}
}

// Handle persists a single event. Failures are logged, never returned.
func (s *StoreSubscriber) Handle(event core.LogEvent) {
	if err := s.store.Append(context.Background(), event); err != nil {
		s.logger.Error("failed to persist log event",
			"execution_id", event.ExecutionID,
			"type", event.Type,
			"seq", event.Seq,
			"error", err,
		)
	}
}

// Emit persists event under executionID.
func (s *StoreSubscriber) Emit(executionID string, event core.LogEvent) {
	event.ExecutionID = executionID
	s.Handle(event)
}

var _ core.LogEmitter = (*StoreSubscriber)(nil)
