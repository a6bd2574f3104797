package sse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/piyushagarwal-55/flowforge/bus"
	"github.com/piyushagarwal-55/flowforge/core"
)

// ErrInvalidCursor is returned by ParseCursor for a non-numeric cursor.
var ErrInvalidCursor = errors.New("invalid after parameter")

// ParseCursor reads the last sequence number a client has seen, from the
// "after" query parameter or else the Last-Event-ID header. Zero means the
// client wants the whole log.
func ParseCursor(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("after")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	if raw == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCursor, raw)
	}
	return seq, nil
}

// Sink is the transport side of a followed execution.
type Sink interface {
	Send(event core.LogEvent) error
	Heartbeat() error
}

// Follow streams one execution's log to sink: stored events after the cursor
// first, then live events from the bus. The subscription is taken before the
// replay so nothing published in between is lost; live events at or below the
// last sent sequence are dropped.
//
// It returns true once a terminal event has been sent, false with a nil error
// when the subscription closes, and ctx.Err() when ctx ends. A non-positive
// heartbeat disables heartbeats.
func Follow(ctx context.Context, store bus.LogStore, lb bus.LogBus, executionID string, after uint64, heartbeat time.Duration, sink Sink) (bool, error) {
	sub := lb.Subscribe(executionID)
	defer sub.Close()

	last := after
	stored, err := store.List(ctx, executionID, after, 0)
	if err != nil {
		return false, fmt.Errorf("replay %s: %w", executionID, err)
	}
	for _, evt := range stored {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := sink.Send(evt); err != nil {
			return false, err
		}
		last = max(last, evt.Seq)
		if evt.Type.Terminal() {
			return true, nil
		}
	}

	var tick <-chan time.Time
	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()

		case evt, ok := <-sub.Events():
			if !ok {
				return false, nil
			}
			if evt.Seq <= last {
				continue
			}
			if err := sink.Send(evt); err != nil {
				return false, err
			}
			last = evt.Seq
			if evt.Type.Terminal() {
				return true, nil
			}

		case <-tick:
			if err := sink.Heartbeat(); err != nil {
				return false, err
			}
		}
	}
}
