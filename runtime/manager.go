package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/piyushagarwal-55/flowforge/core"
	"github.com/piyushagarwal-55/flowforge/tool"
)

// EventSink receives runtime events. bus.RingBuffer satisfies it.
type EventSink interface {
	Add(event core.Event)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Registry resolves tool handlers. Required.
	Registry *tool.Registry

	// Sink receives runtime events. Nil discards them.
	Sink EventSink

	// Telemetry receives notifications. It is wrapped in a
	// TelemetryDispatcher unless it already is one.
	Telemetry Telemetry

	// TelemetryMaxInFlight bounds concurrent telemetry notifications when
	// the manager builds the dispatcher.
	TelemetryMaxInFlight int64

	// Emitter receives invocation-level log events for calls whose context
	// carries an execution id but no emitter of its own.
	Emitter core.LogEmitter

	// MaxInvocations caps the ledger (0 = unbounded).
	MaxInvocations int

	// InvokeTimeout bounds each handler call (0 = no deadline).
	InvokeTimeout time.Duration

	Logger *slog.Logger

	// Now provides the current time (for testing). If nil, uses time.Now.
	Now func() time.Time
}

// Manager owns all live server runtimes and the invocation ledger. It is safe
// for concurrent use; handlers run outside the lock so invocations proceed in
// parallel.
type Manager struct {
	mu       sync.RWMutex
	runtimes map[string]*core.ServerRuntime
	ledger   *ledger

	registry      *tool.Registry
	sink          EventSink
	telemetry     *TelemetryDispatcher
	emitter       core.LogEmitter
	invokeTimeout time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = tool.NewRegistry(cfg.Logger)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Emitter == nil {
		cfg.Emitter = core.NopEmitter
	}

	dispatcher, ok := cfg.Telemetry.(*TelemetryDispatcher)
	if !ok {
		dispatcher = NewTelemetryDispatcher(cfg.Telemetry, DispatcherConfig{
			MaxInFlight: cfg.TelemetryMaxInFlight,
			Logger:      cfg.Logger,
		})
	}

	return &Manager{
		runtimes:      make(map[string]*core.ServerRuntime),
		ledger:        newLedger(cfg.MaxInvocations),
		registry:      cfg.Registry,
		sink:          cfg.Sink,
		telemetry:     dispatcher,
		emitter:       cfg.Emitter,
		invokeTimeout: cfg.InvokeTimeout,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}
}

// Registry returns the tool registry backing this manager.
func (m *Manager) Registry() *tool.Registry {
	return m.registry
}

// CreateRuntime materializes def with status created. An existing runtime
// under the same id is replaced wholesale, which is how edited servers are
// hot-reloaded.
func (m *Manager) CreateRuntime(def core.ServerDefinition) string {
	def = def.Clone()
	now := m.now()
	rt := &core.ServerRuntime{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Tools:       def.Tools,
		Agents:      def.Agents,
		Permissions: def.Permissions,
		Status:      core.StatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if rt.Tools == nil {
		rt.Tools = []core.ToolRef{}
	}
	if rt.Agents == nil {
		rt.Agents = []core.Agent{}
	}
	if rt.Permissions == nil {
		rt.Permissions = []core.Permission{}
	}

	m.mu.Lock()
	_, replaced := m.runtimes[def.ID]
	m.runtimes[def.ID] = rt
	m.mu.Unlock()

	if replaced {
		m.logger.Warn("runtime already exists, replacing", "server_id", def.ID)
	}
	m.record(context.Background(), core.NewEvent(core.EventRuntimeCreated, def.ID).
		WithMetadata("tools", len(rt.Tools)).
		WithMetadata("replaced", replaced), false)
	return def.ID
}

// StartRuntime moves a runtime to running. It returns false if no runtime
// exists under serverID.
func (m *Manager) StartRuntime(serverID string) bool {
	return m.transition(serverID, core.StatusRunning, core.EventRuntimeStarted)
}

// StopRuntime moves a runtime to stopped. It returns false if no runtime
// exists under serverID.
func (m *Manager) StopRuntime(serverID string) bool {
	return m.transition(serverID, core.StatusStopped, core.EventRuntimeStopped)
}

func (m *Manager) transition(serverID string, status core.RuntimeStatus, eventType core.EventType) bool {
	m.mu.Lock()
	rt, ok := m.runtimes[serverID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	rt.Status = status
	rt.UpdatedAt = m.now()
	tools, agents := len(rt.Tools), len(rt.Agents)
	m.mu.Unlock()

	m.record(context.Background(), core.NewEvent(eventType, serverID).
		WithMetadata("tools", tools).
		WithMetadata("agents", agents), true)
	return true
}

// SetStatus sets a runtime's status directly, for callers that need the
// error state. It returns false if the runtime is absent or status is unknown.
func (m *Manager) SetStatus(serverID string, status core.RuntimeStatus) bool {
	if !status.Valid() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.runtimes[serverID]
	if !ok {
		return false
	}
	rt.Status = status
	rt.UpdatedAt = m.now()
	return true
}

// GetRuntime returns a copy of the runtime registered under serverID.
func (m *Manager) GetRuntime(serverID string) (*core.ServerRuntime, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.runtimes[serverID]
	if !ok {
		return nil, false
	}
	return rt.Clone(), true
}

// ListRuntimes returns copies of all runtimes sorted by id.
func (m *Manager) ListRuntimes() []*core.ServerRuntime {
	m.mu.RLock()
	out := make([]*core.ServerRuntime, 0, len(m.runtimes))
	for _, rt := range m.runtimes {
		out = append(out, rt.Clone())
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b *core.ServerRuntime) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return out
}

// DeleteRuntime marks a runtime stopped and removes it.
func (m *Manager) DeleteRuntime(serverID string) bool {
	if !m.StopRuntime(serverID) {
		return false
	}

	m.mu.Lock()
	_, ok := m.runtimes[serverID]
	delete(m.runtimes, serverID)
	m.mu.Unlock()

	if ok {
		m.record(context.Background(), core.NewEvent(core.EventRuntimeDeleted, serverID), false)
	}
	return ok
}

// AttachAgent attaches agent to a runtime. It returns false if the runtime is
// absent or an agent with the same id is already attached.
func (m *Manager) AttachAgent(serverID string, agent core.Agent) bool {
	agent = agent.Clone()
	if !slices.Contains(agent.AttachedServers, serverID) {
		agent.AttachedServers = append(agent.AttachedServers, serverID)
	}

	m.mu.Lock()
	rt, ok := m.runtimes[serverID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if _, exists := rt.Agent(agent.ID); exists {
		m.mu.Unlock()
		m.logger.Warn("agent already attached", "server_id", serverID, "agent_id", agent.ID)
		return false
	}
	rt.Agents = append(rt.Agents, agent)
	rt.UpdatedAt = m.now()
	m.mu.Unlock()

	m.record(context.Background(), core.NewEvent(core.EventAgentAttached, serverID).
		WithAgent(agent.ID).
		WithMetadata("allowedTools", len(agent.AllowedTools)), true)
	return true
}

// DetachAgent removes an attached agent. It returns false if the runtime or
// the agent is absent.
func (m *Manager) DetachAgent(serverID, agentID string) bool {
	m.mu.Lock()
	rt, ok := m.runtimes[serverID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	idx := slices.IndexFunc(rt.Agents, func(a core.Agent) bool { return a.ID == agentID })
	if idx < 0 {
		m.mu.Unlock()
		return false
	}
	rt.Agents = slices.Delete(rt.Agents, idx, idx+1)
	rt.UpdatedAt = m.now()
	m.mu.Unlock()

	m.record(context.Background(), core.NewEvent(core.EventAgentDetached, serverID).WithAgent(agentID), true)
	return true
}

// CheckPermission reports whether agentID may call toolID on serverID. It is
// false when the runtime or agent is absent. No side effects.
func (m *Manager) CheckPermission(serverID, agentID, toolID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.runtimes[serverID]
	if !ok {
		return false
	}
	agent, ok := rt.Agent(agentID)
	if !ok {
		return false
	}
	return agent.Allows(toolID)
}

// InvokeTool calls toolID on serverID. A non-empty agentID makes the call
// agent-gated; the engine calls with an empty agentID as a trusted caller.
//
// Precondition failures return errors wrapping the package sentinels, or a
// *PermissionDeniedError. Handler errors are returned unchanged after the
// invocation has been recorded, except that a precondition error passed
// through from a nested InvokeTool is wrapped so Classify reports it as a
// handler failure.
func (m *Manager) InvokeTool(ctx context.Context, serverID, toolID string, input map[string]any, cc *tool.CallContext, agentID string) (any, error) {
	m.mu.RLock()
	rt, ok := m.runtimes[serverID]
	if !ok {
		m.mu.RUnlock()
		return nil, precondition(KindNotFound, ErrRuntimeNotFound, "%s", serverID)
	}
	status := rt.Status
	m.mu.RUnlock()

	if status != core.StatusRunning {
		return nil, precondition(KindNotRunning, ErrRuntimeNotRunning, "server %s is %s", serverID, status)
	}

	if agentID != "" && !m.CheckPermission(serverID, agentID, toolID) {
		m.record(ctx, core.NewEvent(core.EventPermissionDenied, serverID).
			WithAgent(agentID).
			WithTool(toolID), true)
		return nil, &PermissionDeniedError{AgentID: agentID, ToolID: toolID, ServerID: serverID}
	}

	t, ok := m.registry.Get(toolID)
	if !ok || t.Handler == nil {
		return nil, precondition(KindToolNotFound, ErrToolNotFound, "%s", toolID)
	}

	m.mu.RLock()
	rt, ok = m.runtimes[serverID]
	attached := ok && rt.HasTool(toolID)
	m.mu.RUnlock()
	if !attached {
		return nil, precondition(KindToolNotRegistered, ErrToolNotRegistered, "%s on %s", toolID, serverID)
	}

	if cc == nil {
		cc = tool.NewCallContext(nil, nil, "")
	}
	if cc.Vars == nil {
		cc.Vars = make(map[string]any)
	}

	inv := &core.Invocation{
		ID:          uuid.NewString(),
		ServerID:    serverID,
		ToolID:      toolID,
		AgentID:     agentID,
		ExecutionID: cc.ExecutionID,
		Input:       maps.Clone(input),
		StartedAt:   m.now(),
	}
	m.mu.Lock()
	m.ledger.add(inv)
	m.mu.Unlock()

	m.record(ctx, core.NewEvent(core.EventToolInvoked, serverID).
		WithAgent(agentID).
		WithTool(toolID).
		WithMetadata("invocationId", inv.ID), true)
	m.logInvocation(cc, core.NewLogEvent(cc.ExecutionID, core.LogToolStart).
		With("invocation_id", inv.ID).
		With("server_id", serverID).
		With("tool_id", toolID))

	callCtx := ctx
	if m.invokeTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.invokeTimeout)
		defer cancel()
	}

	output, err := callHandler(callCtx, t.Handler, input, cc)
	if isPrecondition(err) {
		// A nested call's precondition failure is this call's handler failure.
		err = fmt.Errorf("tool %s: %w", toolID, err)
	}
	completedAt := m.now()
	duration := completedAt.Sub(inv.StartedAt)

	m.mu.Lock()
	inv.CompletedAt = &completedAt
	inv.DurationMS = duration.Milliseconds()
	if err != nil {
		code, message, details := tool.Describe(err)
		inv.Error = &core.InvocationError{Code: code, Message: message, Details: details}
	} else {
		inv.Output = output
	}
	m.ledger.evict()
	m.mu.Unlock()

	if err != nil {
		m.record(ctx, core.NewEvent(core.EventToolFailed, serverID).
			WithAgent(agentID).
			WithTool(toolID).
			WithDuration(duration).
			WithMetadata("invocationId", inv.ID).
			WithMetadata("error", inv.Error.Message), true)
		m.logInvocation(cc, core.NewLogEvent(cc.ExecutionID, core.LogToolError).
			With("invocation_id", inv.ID).
			With("tool_id", toolID).
			With("duration_ms", inv.DurationMS).
			With("error", inv.Error.Message))
		return nil, err
	}

	m.record(ctx, core.NewEvent(core.EventToolCompleted, serverID).
		WithAgent(agentID).
		WithTool(toolID).
		WithDuration(duration).
		WithMetadata("invocationId", inv.ID), true)
	m.logInvocation(cc, core.NewLogEvent(cc.ExecutionID, core.LogToolComplete).
		With("invocation_id", inv.ID).
		With("tool_id", toolID).
		With("duration_ms", inv.DurationMS))
	return output, nil
}

// callHandler runs h, converting a panic into an error so the invocation is
// still finalized.
func callHandler(ctx context.Context, h tool.Handler, input map[string]any, cc *tool.CallContext) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool handler panicked: %v", r)
		}
	}()
	return h(ctx, input, cc)
}

// Invocations returns the ledger in start order, filtered by server when
// serverID is non-empty.
func (m *Manager) Invocations(serverID string) []core.Invocation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger.list(serverID)
}

// Invocation returns a copy of one ledger record.
func (m *Manager) Invocation(id string) (core.Invocation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.ledger.get(id)
	if !ok {
		return core.Invocation{}, false
	}
	return copyInvocation(inv), true
}

// Stats summarizes manager state.
type Stats struct {
	Runtimes    map[core.RuntimeStatus]int `json:"runtimes"`
	Invocations int                        `json:"invocations"`
}

// Stats returns runtime counts by status and the ledger size.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{Runtimes: make(map[core.RuntimeStatus]int), Invocations: m.ledger.len()}
	for _, rt := range m.runtimes {
		s.Runtimes[rt.Status]++
	}
	return s
}

// Clear drops every runtime and ledger record. Intended for tests.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runtimes = make(map[string]*core.ServerRuntime)
	m.ledger.clear()
}

// Close waits for in-flight telemetry notifications.
func (m *Manager) Close(ctx context.Context) error {
	return m.telemetry.Close(ctx)
}

// record appends e to the sink and, when notify is set, forwards it to
// telemetry. Neither step can fail the caller.
func (m *Manager) record(ctx context.Context, e core.Event, notify bool) {
	if m.sink != nil {
		m.sink.Add(e)
	}
	if notify {
		_ = m.telemetry.Notify(ctx, telemetryFromEvent(e))
	}
}

func (m *Manager) logInvocation(cc *tool.CallContext, event core.LogEvent) {
	if cc.ExecutionID == "" {
		return
	}
	emitter := cc.Emitter
	if emitter == nil {
		emitter = m.emitter
	}
	emitter.Emit(cc.ExecutionID, event)
}
