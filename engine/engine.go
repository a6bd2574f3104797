package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/piyushagarwal-55/flowforge/core"
	"github.com/piyushagarwal-55/flowforge/graph"
	"github.com/piyushagarwal-55/flowforge/runtime"
	"github.com/piyushagarwal-55/flowforge/tool"
)

// InputVar is the vars slot seeded with the run's input payload.
const InputVar = "input"

// ErrEmptyGraph is returned when a run is requested for a graph without nodes.
var ErrEmptyGraph = errors.New("graph has no nodes")

// Invoker is the slice of the runtime manager the engine drives.
type Invoker interface {
	InvokeTool(ctx context.Context, serverID, toolID string, input map[string]any, cc *tool.CallContext, agentID string) (any, error)
}

var _ Invoker = (*runtime.Manager)(nil)

// Config configures an Engine.
type Config struct {
	// Invoker executes tool calls. Required; normally a *runtime.Manager.
	Invoker Invoker

	// Emitter receives step- and invocation-level log events. Nil discards
	// them.
	Emitter core.LogEmitter

	Logger *slog.Logger

	// Now provides the current time (for testing). If nil, uses time.Now.
	Now func() time.Time
}

// Engine executes graph definitions. It holds no per-run state and is safe
// for concurrent runs.
type Engine struct {
	invoker Invoker
	emitter core.LogEmitter
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Emitter == nil {
		cfg.Emitter = core.NopEmitter
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		invoker: cfg.Invoker,
		emitter: cfg.Emitter,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

// Request describes one run.
type Request struct {
	// ServerID names the runtime every step is invoked against. When empty
	// the definition's ServerID is used.
	ServerID string

	Input   map[string]any
	Headers map[string]string

	// ExecutionID identifies the run in log events and ledger records. A
	// UUID is generated when empty.
	ExecutionID string
}

// Response is the value a respond step stored in vars._response.
type Response struct {
	Status int `json:"status"`
	Body   any `json:"body"`
}

// Failure describes the step that stopped a run. Step is 1-based.
type Failure struct {
	Step    int            `json:"step"`
	NodeID  string         `json:"node_id"`
	ToolID  string         `json:"tool"`
	Name    string         `json:"name"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Result is the outcome of a run.
type Result struct {
	ExecutionID   string         `json:"executionId"`
	OK            bool           `json:"ok"`
	StepsExecuted int            `json:"stepsExecuted"`
	Vars          map[string]any `json:"output"`
	Response      *Response      `json:"-"`
	Failure       *Failure       `json:"failure,omitempty"`
	Order         []string       `json:"order"`
	FallbackOrder bool           `json:"fallbackOrder,omitempty"`
	DurationMS    int64          `json:"durationMs"`
}

// Body returns what a caller should hand back: the respond step's body when
// one ran, otherwise {ok, stepsExecuted, output}.
func (r *Result) Body() any {
	if r.Response != nil {
		return r.Response.Body
	}
	body := map[string]any{
		"ok":            r.OK,
		"stepsExecuted": r.StepsExecuted,
		"output":        r.Vars,
	}
	if r.Failure != nil {
		body["error"] = r.Failure
	}
	return body
}

// StepError reports the step that failed a run. Err is the error returned by
// the runtime manager, unchanged.
type StepError struct {
	Step   int
	NodeID string
	ToolID string
	Name   string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.Step, e.Name, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Run executes def. On a step failure it returns both the partial Result
// (with Failure set) and a *StepError. Cancellation of ctx between steps
// stops the run with the context's error.
func (e *Engine) Run(ctx context.Context, def *graph.Definition, req Request) (*Result, error) {
	if def == nil || len(def.Nodes) == 0 {
		return nil, ErrEmptyGraph
	}
	serverID := req.ServerID
	if serverID == "" {
		serverID = def.ServerID
	}
	executionID := req.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	emitter := newSeqEmitter(executionID, e.emitter)
	start := e.now()

	nodes, sorted := def.ExecutionOrder()
	if !sorted {
		e.logger.Warn("graph is not a DAG, falling back to declaration order",
			"graph_id", def.ID,
			"execution_id", executionID)
	}

	input := req.Input
	if input == nil {
		input = make(map[string]any)
	}
	vars := map[string]any{InputVar: input}
	cc := tool.NewCallContext(vars, req.Headers, executionID)
	cc.Emitter = emitter

	result := &Result{
		ExecutionID:   executionID,
		Vars:          vars,
		Order:         make([]string, 0, len(nodes)),
		FallbackOrder: !sorted,
	}

	emitter.Emit(executionID, core.NewLogEvent(executionID, core.LogExecutionStarted).
		With("graph_id", def.ID).
		With("server_id", serverID).
		With("steps", len(nodes)).
		With("fallback_order", !sorted))

	for i, node := range nodes {
		step := i + 1
		if err := ctx.Err(); err != nil {
			result.DurationMS = e.now().Sub(start).Milliseconds()
			emitter.Emit(executionID, core.NewLogEvent(executionID, core.LogExecutionFailed).
				With("steps_executed", result.StepsExecuted).
				With("error", err.Error()))
			return result, fmt.Errorf("execution %s canceled before step %d: %w", executionID, step, err)
		}

		stepInput := ResolveFields(node.Fields, vars)
		result.Order = append(result.Order, node.ID)

		emitter.Emit(executionID, core.NewLogEvent(executionID, core.LogStepStarted).
			With("step", step).
			With("node_id", node.ID).
			With("tool_id", node.Tool).
			With("name", node.Label()))

		stepStart := e.now()
		output, err := e.invoker.InvokeTool(ctx, serverID, node.Tool, stepInput, cc, "")
		elapsed := e.now().Sub(stepStart)

		if err != nil {
			code, message, details := tool.Describe(err)
			result.Failure = &Failure{
				Step:    step,
				NodeID:  node.ID,
				ToolID:  node.Tool,
				Name:    node.Label(),
				Code:    code,
				Message: message,
				Details: details,
			}
			result.DurationMS = e.now().Sub(start).Milliseconds()

			emitter.Emit(executionID, core.NewLogEvent(executionID, core.LogStepFailed).
				With("step", step).
				With("node_id", node.ID).
				With("tool_id", node.Tool).
				With("duration_ms", elapsed.Milliseconds()).
				With("error", message))
			emitter.Emit(executionID, core.NewLogEvent(executionID, core.LogExecutionFailed).
				With("steps_executed", result.StepsExecuted).
				With("failed_step", step).
				With("error", message))

			return result, &StepError{
				Step:   step,
				NodeID: node.ID,
				ToolID: node.Tool,
				Name:   node.Label(),
				Err:    err,
			}
		}

		result.StepsExecuted++
		emitter.Emit(executionID, core.NewLogEvent(executionID, core.LogStepCompleted).
			With("step", step).
			With("node_id", node.ID).
			With("tool_id", node.Tool).
			With("duration_ms", elapsed.Milliseconds()).
			With("output", output))
	}

	result.OK = true
	result.Response = responseFrom(vars)
	result.DurationMS = e.now().Sub(start).Milliseconds()

	emitter.Emit(executionID, core.NewLogEvent(executionID, core.LogExecutionCompleted).
		With("steps_executed", result.StepsExecuted).
		With("duration_ms", result.DurationMS))

	return result, nil
}

// responseFrom reads vars._response. A map carrying "body" is unpacked into
// status and body; any other value is taken as the body itself.
func responseFrom(vars map[string]any) *Response {
	raw, ok := vars[tool.ResponseVar]
	if !ok || raw == nil {
		return nil
	}
	resp := &Response{Status: 200, Body: raw}
	m, ok := raw.(map[string]any)
	if !ok {
		return resp
	}
	if body, ok := m["body"]; ok {
		resp.Body = body
	}
	switch status := m["status"].(type) {
	case int:
		resp.Status = status
	case int64:
		resp.Status = int(status)
	case float64:
		resp.Status = int(status)
	}
	return resp
}
