// Package graph describes tool graphs: nodes that each call one tool with a
// templated field map, and edges that constrain execution order.
package graph

import (
	"fmt"

	"github.com/piyushagarwal-55/flowforge/core"
	"github.com/piyushagarwal-55/flowforge/tool"
)

// Diagnostic represents a validation error or warning.
type Diagnostic struct {
	Code     string `json:"code"`           // e.g. "GR-001"
	Severity string `json:"severity"`       // "error" or "warning"
	Message  string `json:"message"`        // human-readable description
	Path     string `json:"path,omitempty"` // JSON path to offending field
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// HasErrors returns true if any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity diagnostics.
func Errors(diags []Diagnostic) []Diagnostic {
	var errs []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Warnings returns only the warning-severity diagnostics.
func Warnings(diags []Diagnostic) []Diagnostic {
	var warns []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityWarning {
			warns = append(warns, d)
		}
	}
	return warns
}

// Definition is a tool graph bound to the server whose runtime executes it.
type Definition struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	ServerID    string `json:"serverId,omitempty" yaml:"serverId,omitempty"`
	Nodes       []Node `json:"nodes" yaml:"nodes"`
	Edges       []Edge `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// Node is one step: a tool call whose Fields are resolved against the run's
// variables before the call.
type Node struct {
	ID     string         `json:"id" yaml:"id"`
	Tool   string         `json:"tool" yaml:"tool"`
	Name   string         `json:"name,omitempty" yaml:"name,omitempty"`
	Fields map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Label returns the node's display name, falling back to its id.
func (n Node) Label() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// Edge orders Source before Target.
type Edge struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// Validate checks structural integrity of the definition:
//   - GR-001: edge source/target reference existing nodes
//   - GR-002: orphan nodes (warning)
//   - GR-003: node has no tool id
//   - GR-004: cycle (warning; execution falls back to declaration order)
//   - GR-005: duplicate node IDs
//   - GR-006: node has no id
//   - GR-007: graph has no nodes
//
// Server-dependent rules are checked by ValidateWithServer.
func (d *Definition) Validate() []Diagnostic {
	var diags []Diagnostic

	if len(d.Nodes) == 0 {
		diags = append(diags, Diagnostic{
			Code:     "GR-007",
			Severity: SeverityError,
			Message:  "Graph has no nodes",
			Path:     "nodes",
		})
		return diags
	}

	nodeIDs := make(map[string]bool, len(d.Nodes))
	for i, node := range d.Nodes {
		if node.ID == "" {
			diags = append(diags, Diagnostic{
				Code:     "GR-006",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Node at index %d has no id", i),
				Path:     fmt.Sprintf("nodes[%d].id", i),
			})
			continue
		}
		if nodeIDs[node.ID] {
			diags = append(diags, Diagnostic{
				Code:     "GR-005",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Duplicate node ID %q", node.ID),
				Path:     fmt.Sprintf("nodes[%d].id", i),
			})
		}
		nodeIDs[node.ID] = true

		if node.Tool == "" {
			diags = append(diags, Diagnostic{
				Code:     "GR-003",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Node %q has no tool", node.ID),
				Path:     fmt.Sprintf("nodes[%d].tool", i),
			})
		}
	}

	for i, edge := range d.Edges {
		if !nodeIDs[edge.Source] {
			diags = append(diags, Diagnostic{
				Code:     "GR-001",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Edge source %q references unknown node", edge.Source),
				Path:     fmt.Sprintf("edges[%d].source", i),
			})
		}
		if !nodeIDs[edge.Target] {
			diags = append(diags, Diagnostic{
				Code:     "GR-001",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Edge target %q references unknown node", edge.Target),
				Path:     fmt.Sprintf("edges[%d].target", i),
			})
		}
	}

	if len(d.Nodes) > 1 && len(d.Edges) > 0 {
		hasInbound := make(map[string]bool)
		hasOutbound := make(map[string]bool)
		for _, edge := range d.Edges {
			hasOutbound[edge.Source] = true
			hasInbound[edge.Target] = true
		}
		for i, node := range d.Nodes {
			if !hasInbound[node.ID] && !hasOutbound[node.ID] {
				diags = append(diags, Diagnostic{
					Code:     "GR-002",
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("Node %q has no inbound or outbound edges", node.ID),
					Path:     fmt.Sprintf("nodes[%d]", i),
				})
			}
		}
	}

	// Only look for cycles once edges are known to be valid.
	if !hasEdgeRefErrors(diags) {
		if cycle := d.detectCycle(); cycle != "" {
			diags = append(diags, Diagnostic{
				Code:     "GR-004",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Graph contains a cycle, steps will run in declaration order: %s", cycle),
			})
		}
	}

	return diags
}

// ValidateWithServer runs structural validation plus checks against the
// server that will execute the graph:
//   - GR-008: node tool is not attached to the server
//   - GR-009: node tool is not in the registry
func (d *Definition) ValidateWithServer(def core.ServerDefinition, reg *tool.Registry) []Diagnostic {
	diags := d.Validate()

	for i, node := range d.Nodes {
		if node.Tool == "" {
			continue
		}
		if !def.HasTool(node.Tool) {
			diags = append(diags, Diagnostic{
				Code:     "GR-008",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Tool %q is not attached to server %q", node.Tool, def.ID),
				Path:     fmt.Sprintf("nodes[%d].tool", i),
			})
		}
		if reg != nil && !reg.Has(node.Tool) {
			diags = append(diags, Diagnostic{
				Code:     "GR-009",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Tool %q is not registered", node.Tool),
				Path:     fmt.Sprintf("nodes[%d].tool", i),
			})
		}
	}
	return diags
}

func hasEdgeRefErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Code == "GR-001" || d.Code == "GR-005" || d.Code == "GR-006" {
			return true
		}
	}
	return false
}

// detectCycle returns a description of the nodes left unordered by Kahn's
// algorithm, or "" when the graph is acyclic.
func (d *Definition) detectCycle() string {
	order, remaining := d.kahn()
	if len(order) == len(d.Nodes) {
		return ""
	}

	var cycleNodes []string
	for _, node := range d.Nodes {
		if remaining[node.ID] > 0 {
			cycleNodes = append(cycleNodes, node.ID)
		}
	}
	return fmt.Sprintf("nodes involved: %v", cycleNodes)
}
