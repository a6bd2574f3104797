// Package core provides the foundational types shared by the FlowForge runtime.
//
// This package contains:
//   - Server definitions and their materialized runtimes
//   - Agents and their tool allow-lists
//   - Invocation records kept by the runtime ledger
//   - Runtime events (for the event sink) and execution log events (for transports)
package core

import (
	"encoding/json"
	"slices"
	"time"
)

// RuntimeStatus is the lifecycle state of a ServerRuntime.
type RuntimeStatus string

const (
	StatusCreated RuntimeStatus = "created"
	StatusRunning RuntimeStatus = "running"
	StatusStopped RuntimeStatus = "stopped"
	StatusError   RuntimeStatus = "error"
)

// String returns the string representation of the RuntimeStatus.
func (s RuntimeStatus) String() string {
	return string(s)
}

// Valid reports whether s is one of the known statuses.
func (s RuntimeStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusStopped, StatusError:
		return true
	default:
		return false
	}
}

// ToolRef names a tool exposed by a server together with a snapshot of its
// schema at the time the server was defined. Handlers are never stored here;
// they always come from the tool registry.
type ToolRef struct {
	ID           string  `json:"toolId" yaml:"toolId"`
	Name         string  `json:"name,omitempty" yaml:"name,omitempty"`
	Description  string  `json:"description,omitempty" yaml:"description,omitempty"`
	InputSchema  *Schema `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`
	OutputSchema *Schema `json:"outputSchema,omitempty" yaml:"outputSchema,omitempty"`
}

// Agent is a capability principal restricted to a subset of tools on the
// servers it is attached to.
type Agent struct {
	ID              string   `json:"agentId" yaml:"agentId"`
	Name            string   `json:"name,omitempty" yaml:"name,omitempty"`
	Description     string   `json:"description,omitempty" yaml:"description,omitempty"`
	AllowedTools    []string `json:"allowedTools" yaml:"allowedTools"`
	AttachedServers []string `json:"attachedServers,omitempty" yaml:"attachedServers,omitempty"`
}

// Allows reports whether toolID is in the agent's allow-list.
func (a Agent) Allows(toolID string) bool {
	return slices.Contains(a.AllowedTools, toolID)
}

// Clone returns a deep copy of the agent.
func (a Agent) Clone() Agent {
	a.AllowedTools = slices.Clone(a.AllowedTools)
	a.AttachedServers = slices.Clone(a.AttachedServers)
	return a
}

// Permission is a declarative grant carried with a server definition.
type Permission struct {
	AgentID     string   `json:"agentId" yaml:"agentId"`
	ToolIDs     []string `json:"toolIds" yaml:"toolIds"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// ServerDefinition is the persisted shape of a logical server. The runtime
// manager materializes it into a ServerRuntime.
type ServerDefinition struct {
	ID          string       `json:"serverId" yaml:"serverId"`
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Tools       []ToolRef    `json:"tools" yaml:"tools"`
	Agents      []Agent      `json:"agents,omitempty" yaml:"agents,omitempty"`
	Permissions []Permission `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Autostart   bool         `json:"autostart,omitempty" yaml:"autostart,omitempty"`
}

// HasTool reports whether toolID is listed among the definition's tools.
func (d ServerDefinition) HasTool(toolID string) bool {
	for _, t := range d.Tools {
		if t.ID == toolID {
			return true
		}
	}
	return false
}

// ToolIDs returns the tool identifiers in declaration order.
func (d ServerDefinition) ToolIDs() []string {
	ids := make([]string, 0, len(d.Tools))
	for _, t := range d.Tools {
		ids = append(ids, t.ID)
	}
	return ids
}

// Clone returns a deep copy of the definition.
func (d ServerDefinition) Clone() ServerDefinition {
	d.Tools = slices.Clone(d.Tools)
	if d.Agents != nil {
		agents := make([]Agent, len(d.Agents))
		for i, a := range d.Agents {
			agents[i] = a.Clone()
		}
		d.Agents = agents
	}
	if d.Permissions != nil {
		perms := make([]Permission, len(d.Permissions))
		for i, p := range d.Permissions {
			p.ToolIDs = slices.Clone(p.ToolIDs)
			perms[i] = p
		}
		d.Permissions = perms
	}
	return d
}

// ServerRuntime is a live, stateful instance of a ServerDefinition.
type ServerRuntime struct {
	ID          string        `json:"serverId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Tools       []ToolRef     `json:"tools"`
	Agents      []Agent       `json:"agents"`
	Permissions []Permission  `json:"permissions"`
	Status      RuntimeStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// HasTool reports whether toolID is callable through this runtime.
func (r *ServerRuntime) HasTool(toolID string) bool {
	for _, t := range r.Tools {
		if t.ID == toolID {
			return true
		}
	}
	return false
}

// Agent returns the attached agent with the given id.
func (r *ServerRuntime) Agent(agentID string) (Agent, bool) {
	for _, a := range r.Agents {
		if a.ID == agentID {
			return a, true
		}
	}
	return Agent{}, false
}

// Definition converts the runtime back into its definition form.
func (r *ServerRuntime) Definition() ServerDefinition {
	return ServerDefinition{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Tools:       r.Tools,
		Agents:      r.Agents,
		Permissions: r.Permissions,
	}.Clone()
}

// Clone returns a deep copy so callers can never mutate manager state.
func (r *ServerRuntime) Clone() *ServerRuntime {
	if r == nil {
		return nil
	}
	def := r.Definition()
	return &ServerRuntime{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Tools:       def.Tools,
		Agents:      def.Agents,
		Permissions: def.Permissions,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// InvocationError is the recorded failure of an invocation.
type InvocationError struct {
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Invocation is one recorded call of a tool within a runtime. Exactly one of
// Output and Error is meaningful once CompletedAt is set.
type Invocation struct {
	ID          string           `json:"invocationId"`
	ServerID    string           `json:"serverId"`
	ToolID      string           `json:"toolId"`
	AgentID     string           `json:"agentId,omitempty"`
	ExecutionID string           `json:"executionId,omitempty"`
	Input       map[string]any   `json:"input,omitempty"`
	Output      any              `json:"output,omitempty"`
	Error       *InvocationError `json:"error,omitempty"`
	StartedAt   time.Time        `json:"startedAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	DurationMS  int64            `json:"durationMs"`
}

// Completed reports whether the invocation has been finalized.
func (i Invocation) Completed() bool {
	return i.CompletedAt != nil
}

// Succeeded reports whether the invocation completed without error.
func (i Invocation) Succeeded() bool {
	return i.Completed() && i.Error == nil
}

// MarshalJSON always writes "output" for a succeeded invocation, as null when
// the handler returned nothing, so a finalized record carries exactly one of
// output and error.
func (i Invocation) MarshalJSON() ([]byte, error) {
	type plain Invocation
	if !i.Succeeded() {
		return json.Marshal(plain(i))
	}
	return json.Marshal(struct {
		plain
		Output any `json:"output"`
	}{plain: plain(i), Output: i.Output})
}
