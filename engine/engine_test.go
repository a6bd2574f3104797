package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piyushagarwal-55/flowforge/core"
	"github.com/piyushagarwal-55/flowforge/graph"
	"github.com/piyushagarwal-55/flowforge/runtime"
	"github.com/piyushagarwal-55/flowforge/tool"
)

type logRecorder struct {
	mu     sync.Mutex
	events []core.LogEvent
}

func (r *logRecorder) Emit(_ string, e core.LogEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *logRecorder) types() []core.LogEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.LogEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	manager *runtime.Manager
	engine  *Engine
	logs    *logRecorder
	calls   map[string]int
	mu      sync.Mutex
}

// newFixture registers the given tools, attaches them to server "s1" and
// starts it.
func newFixture(t *testing.T, tools ...tool.Tool) *fixture {
	t.Helper()
	f := &fixture{logs: &logRecorder{}, calls: make(map[string]int)}

	reg := tool.NewRegistry(nil)
	def := core.ServerDefinition{ID: "s1", Name: "test"}
	for _, tl := range tools {
		handler := tl.Handler
		id := tl.ID
		tl.Handler = func(ctx context.Context, input map[string]any, cc *tool.CallContext) (any, error) {
			f.mu.Lock()
			f.calls[id]++
			f.mu.Unlock()
			return handler(ctx, input, cc)
		}
		reg.Register(tl)
		def.Tools = append(def.Tools, tl.Ref())
	}

	f.manager = runtime.NewManager(runtime.ManagerConfig{Registry: reg})
	t.Cleanup(func() { _ = f.manager.Close(context.Background()) })
	f.manager.CreateRuntime(def)
	require.True(t, f.manager.StartRuntime("s1"))

	f.engine = New(Config{Invoker: f.manager, Emitter: f.logs})
	return f
}

func (f *fixture) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func okTool(id string, out any) tool.Tool {
	return tool.Tool{ID: id, Handler: func(context.Context, map[string]any, *tool.CallContext) (any, error) {
		return out, nil
	}}
}

func TestRunEndToEnd(t *testing.T) {
	stored := map[string]any{"_id": "rec-1", "email": "x@y.com"}
	var gotDoc any
	f := newFixture(t,
		tool.Tool{ID: "input", Handler: func(_ context.Context, _ map[string]any, cc *tool.CallContext) (any, error) {
			v, _ := cc.Get("input")
			return v, nil
		}},
		tool.Tool{ID: "dbInsert", Handler: func(_ context.Context, input map[string]any, cc *tool.CallContext) (any, error) {
			gotDoc = input["document"]
			cc.Set("created", stored)
			return stored, nil
		}},
	)

	def := &graph.Definition{
		Nodes: []graph.Node{
			{ID: "save", Tool: "dbInsert", Fields: map[string]any{
				"collection": "users",
				"document":   map[string]any{"email": "input.email"},
			}},
			{ID: "in", Tool: "input"},
		},
		Edges: []graph.Edge{{Source: "in", Target: "save"}},
	}

	res, err := f.engine.Run(context.Background(), def, Request{
		ServerID: "s1",
		Input:    map[string]any{"email": "x@y.com"},
	})
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.Equal(t, 2, res.StepsExecuted)
	assert.Equal(t, []string{"in", "save"}, res.Order)
	assert.False(t, res.FallbackOrder)
	assert.Equal(t, stored, res.Vars["created"])
	assert.Equal(t, map[string]any{"email": "x@y.com"}, gotDoc)

	body, ok := res.Body().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, 2, body["stepsExecuted"])

	invs := f.manager.Invocations("s1")
	require.Len(t, invs, 2)
	for _, inv := range invs {
		assert.Equal(t, res.ExecutionID, inv.ExecutionID)
		assert.Empty(t, inv.AgentID)
		assert.True(t, inv.Succeeded())
	}
}

func TestRunFailFast(t *testing.T) {
	boom := errors.New("boom")
	f := newFixture(t,
		okTool("one", "1"),
		tool.Tool{ID: "two", Handler: func(context.Context, map[string]any, *tool.CallContext) (any, error) {
			return nil, boom
		}},
		okTool("three", "3"),
	)

	def := &graph.Definition{
		ServerID: "s1",
		Nodes: []graph.Node{
			{ID: "a", Tool: "one"},
			{ID: "b", Tool: "two", Name: "second"},
			{ID: "c", Tool: "three"},
		},
		Edges: []graph.Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "c"}},
	}

	res, err := f.engine.Run(context.Background(), def, Request{})
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 2, stepErr.Step)
	assert.Equal(t, "second", stepErr.Name)
	assert.ErrorIs(t, err, boom)

	require.NotNil(t, res)
	assert.False(t, res.OK)
	assert.Equal(t, 1, res.StepsExecuted)
	require.NotNil(t, res.Failure)
	assert.Equal(t, 2, res.Failure.Step)
	assert.Equal(t, "b", res.Failure.NodeID)
	assert.Equal(t, "boom", res.Failure.Message)

	assert.Equal(t, 1, f.count("one"))
	assert.Equal(t, 1, f.count("two"))
	assert.Equal(t, 0, f.count("three"))
	assert.Contains(t, f.logs.types(), core.LogStepFailed)
	assert.Equal(t, core.LogExecutionFailed, f.logs.types()[len(f.logs.types())-1])
}

func TestRunFailureCarriesToolErrorDetails(t *testing.T) {
	f := newFixture(t, tool.Tool{ID: "check", Handler: func(context.Context, map[string]any, *tool.CallContext) (any, error) {
		return nil, tool.NewError(tool.ErrorCodeInvalidInput, "email taken", nil).
			WithDetails(map[string]any{"field": "email"})
	}})

	def := &graph.Definition{Nodes: []graph.Node{{ID: "c", Tool: "check"}}}
	res, err := f.engine.Run(context.Background(), def, Request{ServerID: "s1"})
	require.Error(t, err)

	assert.Equal(t, tool.ErrorCodeInvalidInput, res.Failure.Code)
	assert.Equal(t, "email taken", res.Failure.Message)
	assert.Equal(t, map[string]any{"field": "email"}, res.Failure.Details)
}

func TestRunCycleFallsBackToDeclarationOrder(t *testing.T) {
	f := newFixture(t, okTool("t", nil))
	def := &graph.Definition{
		Nodes: []graph.Node{{ID: "b", Tool: "t"}, {ID: "a", Tool: "t"}},
		Edges: []graph.Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}},
	}

	res, err := f.engine.Run(context.Background(), def, Request{ServerID: "s1"})
	require.NoError(t, err)
	assert.True(t, res.FallbackOrder)
	assert.Equal(t, []string{"b", "a"}, res.Order)
	assert.Equal(t, 2, res.StepsExecuted)
}

func TestRunResponseBodyReturnedVerbatim(t *testing.T) {
	reg := tool.NewRegistry(nil)
	tool.RegisterBuiltins(reg, tool.BuiltinDeps{})

	def := core.ServerDefinition{ID: "s1"}
	for _, id := range []string{tool.BuiltinInput, tool.BuiltinRespond} {
		tl, ok := reg.Get(id)
		require.True(t, ok)
		def.Tools = append(def.Tools, tl.Ref())
	}
	m := runtime.NewManager(runtime.ManagerConfig{Registry: reg})
	defer func() { _ = m.Close(context.Background()) }()
	m.CreateRuntime(def)
	m.StartRuntime("s1")

	graphDef := &graph.Definition{
		Nodes: []graph.Node{
			{ID: "in", Tool: tool.BuiltinInput},
			{ID: "out", Tool: tool.BuiltinRespond, Fields: map[string]any{
				"status": 201,
				"body":   map[string]any{"greeting": "Hello {{input.name}}"},
			}},
		},
		Edges: []graph.Edge{{Source: "in", Target: "out"}},
	}

	res, err := New(Config{Invoker: m}).Run(context.Background(), graphDef, Request{
		ServerID: "s1",
		Input:    map[string]any{"name": "Lee"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Response)
	assert.Equal(t, 201, res.Response.Status)
	assert.Equal(t, map[string]any{"greeting": "Hello Lee"}, res.Body())
}

func TestRunInsertFindRespondWalksRecords(t *testing.T) {
	reg := tool.NewRegistry(nil)
	tool.RegisterBuiltins(reg, tool.BuiltinDeps{Records: tool.NewMemoryRecordStore()})

	def := core.ServerDefinition{ID: "s1"}
	for _, id := range []string{tool.BuiltinInput, tool.BuiltinDBInsert, tool.BuiltinDBFind, tool.BuiltinRespond} {
		tl, ok := reg.Get(id)
		require.True(t, ok)
		def.Tools = append(def.Tools, tl.Ref())
	}
	m := runtime.NewManager(runtime.ManagerConfig{Registry: reg})
	defer func() { _ = m.Close(context.Background()) }()
	m.CreateRuntime(def)
	m.StartRuntime("s1")

	graphDef := &graph.Definition{
		Nodes: []graph.Node{
			{ID: "in", Tool: tool.BuiltinInput},
			{ID: "save", Tool: tool.BuiltinDBInsert, Fields: map[string]any{
				"collection": "users",
				"document":   map[string]any{"email": "input.email"},
			}},
			{ID: "lookup", Tool: tool.BuiltinDBFind, Fields: map[string]any{
				"collection": "users",
				"filter":     map[string]any{"email": "input.email"},
			}},
			{ID: "out", Tool: tool.BuiltinRespond, Fields: map[string]any{
				"body": map[string]any{
					"first": "found.0.email",
					"tpl":   "hi {{found.0.email}}",
					"all":   "{{found}}",
				},
			}},
		},
		Edges: []graph.Edge{
			{Source: "in", Target: "save"},
			{Source: "save", Target: "lookup"},
			{Source: "lookup", Target: "out"},
		},
	}

	res, err := New(Config{Invoker: m}).Run(context.Background(), graphDef, Request{
		ServerID: "s1",
		Input:    map[string]any{"email": "x@y.com"},
	})
	require.NoError(t, err)

	body, ok := res.Body().(map[string]any)
	require.True(t, ok, "body is %T", res.Body())
	assert.Equal(t, "x@y.com", body["first"])
	assert.Equal(t, "hi x@y.com", body["tpl"])

	all, ok := body["all"].(string)
	require.True(t, ok)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal([]byte(all), &decoded), all)
	require.Len(t, decoded, 1)
	assert.Equal(t, "x@y.com", decoded[0]["email"])
}

func TestRunCanceledBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t,
		tool.Tool{ID: "stop", Handler: func(context.Context, map[string]any, *tool.CallContext) (any, error) {
			cancel()
			return nil, nil
		}},
		okTool("never", nil),
	)

	def := &graph.Definition{
		Nodes: []graph.Node{{ID: "a", Tool: "stop"}, {ID: "b", Tool: "never"}},
		Edges: []graph.Edge{{Source: "a", Target: "b"}},
	}

	res, err := f.engine.Run(ctx, def, Request{ServerID: "s1"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.StepsExecuted)
	assert.Equal(t, 0, f.count("never"))
}

func TestRunLogEventsShareSequence(t *testing.T) {
	f := newFixture(t, okTool("t", "x"))
	def := &graph.Definition{Nodes: []graph.Node{{ID: "a", Tool: "t"}}}

	res, err := f.engine.Run(context.Background(), def, Request{ServerID: "s1", ExecutionID: "exec-1"})
	require.NoError(t, err)
	assert.Equal(t, "exec-1", res.ExecutionID)

	assert.Equal(t, []core.LogEventType{
		core.LogExecutionStarted,
		core.LogStepStarted,
		core.LogToolStart,
		core.LogToolComplete,
		core.LogStepCompleted,
		core.LogExecutionCompleted,
	}, f.logs.types())

	for i, e := range f.logs.events {
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.Equal(t, "exec-1", e.ExecutionID)
	}
}

func TestRunPreconditionFailureIsStepError(t *testing.T) {
	f := newFixture(t, okTool("t", nil))
	f.manager.StopRuntime("s1")

	def := &graph.Definition{Nodes: []graph.Node{{ID: "a", Tool: "t"}}}
	res, err := f.engine.Run(context.Background(), def, Request{ServerID: "s1"})

	require.ErrorIs(t, err, runtime.ErrRuntimeNotRunning)
	assert.Equal(t, 1, res.Failure.Step)
	assert.Equal(t, 0, f.count("t"))
}

func TestRunEmptyGraph(t *testing.T) {
	_, err := New(Config{}).Run(context.Background(), &graph.Definition{}, Request{})
	assert.ErrorIs(t, err, ErrEmptyGraph)
}
