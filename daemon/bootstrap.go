package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/piyushagarwal-55/flowforge/core"
	"github.com/piyushagarwal-55/flowforge/graph"
	"github.com/piyushagarwal-55/flowforge/server"
	"github.com/piyushagarwal-55/flowforge/store"
)

// Applier materializes and removes server definitions, persisting them as it
// goes. *server.Server implements it.
type Applier interface {
	ApplyServer(ctx context.Context, def core.ServerDefinition) (*core.ServerRuntime, error)
	RemoveServer(ctx context.Context, id string) error
}

var _ Applier = (*server.Server)(nil)

// Bootstrap loads the starting state into the runtime manager: definitions
// already in the store, then inline config servers, then config workflows.
// Stored definitions that no longer apply (for example a tool that is no
// longer registered) are logged and skipped; config errors are returned.
func Bootstrap(ctx context.Context, cfg Config, st store.Store, applier Applier, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	stored, err := st.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("listing stored servers: %w", err)
	}
	for _, def := range stored {
		if _, err := applier.ApplyServer(ctx, def); err != nil {
			logger.Error("stored server definition skipped", "server_id", def.ID, "error", err)
		}
	}

	var errs []error
	for i, def := range cfg.Servers {
		if _, err := applier.ApplyServer(ctx, def); err != nil {
			errs = append(errs, fmt.Errorf("servers[%d] %q: %w", i, def.ID, err))
		}
	}

	for i, wfc := range cfg.Workflows {
		wf, err := loadWorkflow(wfc)
		if err != nil {
			errs = append(errs, fmt.Errorf("workflows[%d]: %w", i, err))
			continue
		}
		if _, err := st.PutWorkflow(ctx, wf); err != nil {
			errs = append(errs, fmt.Errorf("workflows[%d] %q: %w", i, wf.ID, err))
		}
	}

	logger.Info("bootstrap complete",
		"stored_servers", len(stored),
		"config_servers", len(cfg.Servers),
		"workflows", len(cfg.Workflows),
	)
	return errors.Join(errs...)
}

func loadWorkflow(wfc WorkflowConfig) (store.Workflow, error) {
	var def *graph.Definition
	switch {
	case wfc.Graph != nil:
		def = wfc.Graph
	case wfc.File != "":
		parsed, err := graph.ParseFile(wfc.File)
		if err != nil {
			return store.Workflow{}, err
		}
		def = parsed
	default:
		return store.Workflow{}, errors.New("graph or file is required")
	}

	wf := store.Workflow{
		ID:          wfc.ID,
		Name:        wfc.Name,
		Description: wfc.Description,
		ServerID:    wfc.ServerID,
		Graph:       *def,
	}
	if wf.ID == "" {
		wf.ID = def.ID
	}
	if wf.Name == "" {
		wf.Name = def.Name
	}
	if wf.ServerID == "" {
		wf.ServerID = def.ServerID
	}
	if wf.ServerID == "" {
		return store.Workflow{}, fmt.Errorf("workflow %q: server is required", wf.ID)
	}
	if diags := def.Validate(); graph.HasErrors(diags) {
		return store.Workflow{}, fmt.Errorf("workflow %q: %s", wf.ID, graph.Errors(diags)[0].Message)
	}
	return wf, nil
}
