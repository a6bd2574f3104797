// Package sse streams execution log events to HTTP clients as Server-Sent
// Events. Follow holds the replay-then-live logic and is shared with other
// transports.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/piyushagarwal-55/flowforge/bus"
	"github.com/piyushagarwal-55/flowforge/core"
)

// DefaultHeartbeat is the interval between ": ping" comments.
const DefaultHeartbeat = 15 * time.Second

// Config configures a Handler.
type Config struct {
	Store bus.LogStore
	Bus   bus.LogBus

	// Heartbeat is the comment interval. Zero selects DefaultHeartbeat.
	Heartbeat time.Duration

	Logger *slog.Logger
}

// Handler serves the log of the execution named by the "execution_id" path
// value. Each event is framed as
//
//	id: {seq}
//	event: {type}
//	data: {json}
//
// and the stream ends after execution_completed or execution_failed.
type Handler struct {
	store     bus.LogStore
	bus       bus.LogBus
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		store:     cfg.Store,
		bus:       cfg.Bus,
		heartbeat: cfg.Heartbeat,
		logger:    cfg.Logger,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("execution_id")
	if executionID == "" {
		http.Error(w, "missing execution_id", http.StatusBadRequest)
		return
	}
	after, err := ParseCursor(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := &eventStream{w: w, flusher: flusher}
	_, err = Follow(r.Context(), h.store, h.bus, executionID, after, h.heartbeat, sink)
	if err != nil && !errors.Is(err, r.Context().Err()) {
		h.logger.Debug("sse stream ended", "execution_id", executionID, "error", err)
	}
}

type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *eventStream) Send(evt core.LogEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Type, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *eventStream) Heartbeat() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
