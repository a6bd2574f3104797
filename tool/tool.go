package tool

import (
	"context"

	"github.com/piyushagarwal-55/flowforge/core"
)

// CallContext is the request-scoped context handed to every handler. Vars is
// shared by reference across all steps of one engine run, so handlers may
// read values written by earlier steps and write values for later ones.
type CallContext struct {
	Vars        map[string]any    `json:"vars"`
	Headers     map[string]string `json:"headers,omitempty"`
	ExecutionID string            `json:"executionId,omitempty"`

	// Emitter receives invocation-level log events for ExecutionID. The
	// engine sets it so step and invocation events share one sequence.
	Emitter core.LogEmitter `json:"-"`
}

// NewCallContext returns a CallContext with non-nil maps.
func NewCallContext(vars map[string]any, headers map[string]string, executionID string) *CallContext {
	if vars == nil {
		vars = make(map[string]any)
	}
	if headers == nil {
		headers = make(map[string]string)
	}
	return &CallContext{Vars: vars, Headers: headers, ExecutionID: executionID}
}

// Set writes a variable for later steps.
func (c *CallContext) Set(name string, value any) {
	if c.Vars == nil {
		c.Vars = make(map[string]any)
	}
	c.Vars[name] = value
}

// Get reads a top-level variable.
func (c *CallContext) Get(name string) (any, bool) {
	if c == nil || c.Vars == nil {
		return nil, false
	}
	v, ok := c.Vars[name]
	return v, ok
}

// Handler implements a tool. Input is the resolved field map for the call;
// the returned value is recorded as the invocation output.
type Handler func(ctx context.Context, input map[string]any, cc *CallContext) (any, error)

// Tool is a named, schema-described operation registered process-wide.
type Tool struct {
	ID           string       `json:"toolId"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	InputSchema  *core.Schema `json:"inputSchema,omitempty"`
	OutputSchema *core.Schema `json:"outputSchema,omitempty"`
	Handler      Handler      `json:"-"`
}

// Ref returns the schema snapshot stored in server definitions.
func (t Tool) Ref() core.ToolRef {
	name := t.Name
	if name == "" {
		name = t.ID
	}
	return core.ToolRef{
		ID:           t.ID,
		Name:         name,
		Description:  t.Description,
		InputSchema:  t.InputSchema,
		OutputSchema: t.OutputSchema,
	}
}
