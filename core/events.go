package core

import "time"

// EventType identifies a runtime event recorded in the event sink.
type EventType string

const (
	EventRuntimeCreated   EventType = "runtime_created"
	EventRuntimeStarted   EventType = "runtime_started"
	EventRuntimeStopped   EventType = "runtime_stopped"
	EventRuntimeDeleted   EventType = "runtime_deleted"
	EventToolInvoked      EventType = "tool_invoked"
	EventToolCompleted    EventType = "tool_completed"
	EventToolFailed       EventType = "tool_failed"
	EventPermissionDenied EventType = "permission_denied"
	EventAgentAttached    EventType = "agent_attached"
	EventAgentDetached    EventType = "agent_detached"
)

// String returns the string representation of the EventType.
func (t EventType) String() string {
	return string(t)
}

// EventCategory groups event types by the subsystem that produced them.
type EventCategory string

const (
	CategoryRuntime    EventCategory = "runtime"
	CategoryTool       EventCategory = "tool"
	CategoryPermission EventCategory = "permission"
	CategoryAgent      EventCategory = "agent"
	CategoryUnknown    EventCategory = "unknown"
)

// Category returns the category an event type belongs to.
func (t EventType) Category() EventCategory {
	switch t {
	case EventRuntimeCreated, EventRuntimeStarted, EventRuntimeStopped, EventRuntimeDeleted:
		return CategoryRuntime
	case EventToolInvoked, EventToolCompleted, EventToolFailed:
		return CategoryTool
	case EventPermissionDenied:
		return CategoryPermission
	case EventAgentAttached, EventAgentDetached:
		return CategoryAgent
	default:
		return CategoryUnknown
	}
}

// Event is a runtime, tool, agent or permission transition recorded by the
// runtime manager. Events are additive and read-only to consumers.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	ServerID   string         `json:"serverId"`
	AgentID    string         `json:"agentId,omitempty"`
	ToolID     string         `json:"toolId,omitempty"`
	DurationMS int64          `json:"durationMs,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewEvent creates an event of the given type stamped with the current time.
func NewEvent(eventType EventType, serverID string) Event {
	return Event{
		Type:      eventType,
		ServerID:  serverID,
		Timestamp: time.Now(),
	}
}

// WithAgent sets the agent on the event.
func (e Event) WithAgent(agentID string) Event {
	e.AgentID = agentID
	return e
}

// WithTool sets the tool on the event.
func (e Event) WithTool(toolID string) Event {
	e.ToolID = toolID
	return e
}

// WithDuration sets the duration on the event.
func (e Event) WithDuration(d time.Duration) Event {
	e.DurationMS = d.Milliseconds()
	return e
}

// WithMetadata adds a key-value pair to the event metadata.
func (e Event) WithMetadata(key string, value any) Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// LogEventType identifies an execution log event delivered to transports.
type LogEventType string

const (
	LogExecutionStarted   LogEventType = "execution_started"
	LogStepStarted        LogEventType = "step_started"
	LogStepCompleted      LogEventType = "step_completed"
	LogStepFailed         LogEventType = "step_failed"
	LogToolStart          LogEventType = "tool_start"
	LogToolComplete       LogEventType = "tool_complete"
	LogToolError          LogEventType = "tool_error"
	LogExecutionCompleted LogEventType = "execution_completed"
	LogExecutionFailed    LogEventType = "execution_failed"
)

// Terminal reports whether no further events follow this one for an execution.
func (t LogEventType) Terminal() bool {
	return t == LogExecutionCompleted || t == LogExecutionFailed
}

// LogEvent is a step- or invocation-level log entry for one execution, shaped
// as {type, timestamp, data} for presentation to an operator.
type LogEvent struct {
	ExecutionID string         `json:"executionId"`
	Seq         uint64         `json:"seq"`
	Type        LogEventType   `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
	TraceID     string         `json:"traceId,omitempty"`
	SpanID      string         `json:"spanId,omitempty"`
}

// NewLogEvent creates a log event stamped with the current time.
func NewLogEvent(executionID string, eventType LogEventType) LogEvent {
	return LogEvent{
		ExecutionID: executionID,
		Type:        eventType,
		Timestamp:   time.Now(),
		Data:        make(map[string]any),
	}
}

// With adds a key-value pair to the event data.
func (e LogEvent) With(key string, value any) LogEvent {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// LogEmitter delivers execution log events to a transport. Implementations
// must be best-effort and never block the caller for long.
type LogEmitter interface {
	Emit(executionID string, event LogEvent)
}

// LogEmitterFunc adapts a function to LogEmitter.
type LogEmitterFunc func(executionID string, event LogEvent)

// Emit calls f.
func (f LogEmitterFunc) Emit(executionID string, event LogEvent) {
	f(executionID, event)
}

// NopEmitter discards all log events.
var NopEmitter LogEmitter = LogEmitterFunc(func(string, LogEvent) {})

// MultiEmitter fans one log event out to several emitters in order. Nil
// emitters are skipped.
func MultiEmitter(emitters ...LogEmitter) LogEmitter {
	var active []LogEmitter
	for _, e := range emitters {
		if e != nil {
			active = append(active, e)
		}
	}
	return LogEmitterFunc(func(executionID string, event LogEvent) {
		for _, e := range active {
			e.Emit(executionID, event)
		}
	})
}
