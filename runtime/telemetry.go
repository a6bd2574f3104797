package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/piyushagarwal-55/flowforge/core"
)

// TelemetryEvent is a fire-and-forget notification sent to the telemetry
// collaborator.
type TelemetryEvent struct {
	Event     core.EventType `json:"event"`
	ServerID  string         `json:"serverId"`
	AgentID   string         `json:"agentId,omitempty"`
	ToolID    string         `json:"toolId,omitempty"`
	Duration  time.Duration  `json:"duration,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// telemetryFromEvent mirrors a sink event into a telemetry notification.
func telemetryFromEvent(e core.Event) TelemetryEvent {
	return TelemetryEvent{
		Event:     e.Type,
		ServerID:  e.ServerID,
		AgentID:   e.AgentID,
		ToolID:    e.ToolID,
		Duration:  time.Duration(e.DurationMS) * time.Millisecond,
		Timestamp: e.Timestamp,
		Metadata:  e.Metadata,
	}
}

// Telemetry receives runtime notifications. Implementations may be slow or
// unreachable; the manager never waits on them.
type Telemetry interface {
	Notify(ctx context.Context, event TelemetryEvent) error
}

// TelemetryFunc adapts a function to Telemetry.
type TelemetryFunc func(ctx context.Context, event TelemetryEvent) error

// Notify calls f.
func (f TelemetryFunc) Notify(ctx context.Context, event TelemetryEvent) error {
	return f(ctx, event)
}

// MultiTelemetry fans a notification out to several collaborators and joins
// their errors.
func MultiTelemetry(ts ...Telemetry) Telemetry {
	return TelemetryFunc(func(ctx context.Context, event TelemetryEvent) error {
		var errs []error
		for _, t := range ts {
			if t == nil {
				continue
			}
			if err := t.Notify(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) == 0 {
			return nil
		}
		return fmt.Errorf("telemetry: %d of %d collaborators failed: %w", len(errs), len(ts), errs[0])
	})
}

// DefaultTelemetryMaxInFlight bounds concurrent notifications when
// DispatcherConfig.MaxInFlight is zero.
const DefaultTelemetryMaxInFlight = 64

// DispatcherConfig configures a TelemetryDispatcher.
type DispatcherConfig struct {
	// MaxInFlight bounds concurrent notifications (default 64). Notifications
	// beyond the bound are dropped and logged.
	MaxInFlight int64

	// Timeout bounds each notification (default 5s).
	Timeout time.Duration

	Logger *slog.Logger
}

// TelemetryDispatcher delivers notifications to a Telemetry on background
// goroutines. Notify never blocks and never returns an error; delivery
// failures, drops and panics are logged.
type TelemetryDispatcher struct {
	next    Telemetry
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewTelemetryDispatcher wraps next with asynchronous bounded delivery.
func NewTelemetryDispatcher(next Telemetry, cfg DispatcherConfig) *TelemetryDispatcher {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultTelemetryMaxInFlight
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TelemetryDispatcher{
		next:    next,
		sem:     semaphore.NewWeighted(cfg.MaxInFlight),
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// Notify schedules delivery of event and returns immediately.
func (d *TelemetryDispatcher) Notify(ctx context.Context, event TelemetryEvent) error {
	if d == nil || d.next == nil {
		return nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	if !d.sem.TryAcquire(1) {
		d.mu.Unlock()
		d.logger.Warn("telemetry saturated, dropping notification",
			"event", event.Event, "server_id", event.ServerID)
		return nil
	}
	d.wg.Add(1)
	d.mu.Unlock()

	// Delivery outlives the caller's request, but keeps its values.
	deliverCtx := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("telemetry panicked", "event", event.Event, "panic", r)
			}
		}()

		notifyCtx, cancel := context.WithTimeout(deliverCtx, d.timeout)
		defer cancel()
		if err := d.next.Notify(notifyCtx, event); err != nil {
			d.logger.Warn("telemetry notification failed",
				"event", event.Event, "server_id", event.ServerID, "error", err)
		}
	}()
	return nil
}

// Close stops accepting notifications and waits for in-flight ones, or for
// ctx to end.
func (d *TelemetryDispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Telemetry = (*TelemetryDispatcher)(nil)
