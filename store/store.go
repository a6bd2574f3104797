// Package store persists server definitions and saved workflows. The runtime
// manager never touches storage itself; callers load definitions from a Store
// and materialize them, and save edits back before hot-reloading.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/piyushagarwal-55/flowforge/core"
	"github.com/piyushagarwal-55/flowforge/graph"
)

// Sentinel errors for store operations.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidID    = errors.New("id is required")
	ErrInvalidAgent = errors.New("invalid agent")
)

// Workflow is a saved tool graph bound to the server it runs against.
type Workflow struct {
	ID          string           `json:"id"`
	Name        string           `json:"name,omitempty"`
	Description string           `json:"description,omitempty"`
	ServerID    string           `json:"serverId"`
	Graph       graph.Definition `json:"graph"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// Store provides CRUD operations for server definitions and workflows. Get
// and Delete return an error wrapping ErrNotFound for unknown ids.
type Store interface {
	ListServers(ctx context.Context) ([]core.ServerDefinition, error)
	GetServer(ctx context.Context, id string) (core.ServerDefinition, error)
	PutServer(ctx context.Context, def core.ServerDefinition) error
	DeleteServer(ctx context.Context, id string) error

	ListWorkflows(ctx context.Context) ([]Workflow, error)
	GetWorkflow(ctx context.Context, id string) (Workflow, error)
	// PutWorkflow creates or replaces wf. CreatedAt is preserved across
	// replacements; UpdatedAt is set to the current time.
	PutWorkflow(ctx context.Context, wf Workflow) (Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	Close() error
}

// ValidateAgent checks that agent can be attached to a server built from def:
// it needs an id, and every tool it is allowed to call must be one of the
// server's tools.
func ValidateAgent(def core.ServerDefinition, agent core.Agent) error {
	if strings.TrimSpace(agent.ID) == "" {
		return fmt.Errorf("%w: agentId is required", ErrInvalidAgent)
	}
	var unknown []string
	for _, toolID := range agent.AllowedTools {
		if !def.HasTool(toolID) {
			unknown = append(unknown, toolID)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return fmt.Errorf("%w: tools not exposed by server %s: %s",
			ErrInvalidAgent, def.ID, strings.Join(unknown, ", "))
	}
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

func checkID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidID
	}
	return nil
}
