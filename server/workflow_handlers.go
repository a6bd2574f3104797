package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/piyushagarwal-55/flowforge/engine"
	"github.com/piyushagarwal-55/flowforge/graph"
	"github.com/piyushagarwal-55/flowforge/store"
)

// ExecutionIDHeader names the run's execution id on run responses so
// clients can subscribe to its log stream.
const ExecutionIDHeader = "X-Execution-ID"

// RunRequest is the body of a workflow run.
type RunRequest struct {
	Input       map[string]any `json:"input,omitempty"`
	ExecutionID string         `json:"executionId,omitempty"`
}

// ExecuteRequest is the body of an ad hoc graph execution.
type ExecuteRequest struct {
	Graph       graph.Definition `json:"graph"`
	Input       map[string]any   `json:"input,omitempty"`
	ExecutionID string           `json:"executionId,omitempty"`
}

// handleListWorkflows returns all workflows.
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.store.ListWorkflows(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, workflows)
}

// handleGetWorkflow returns a single workflow by ID.
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wf, err := s.store.GetWorkflow(r.Context(), id)
	if err != nil {
		writeStoreError(w, "workflow", id, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// handleCreateWorkflow validates and saves a workflow. Posting an existing id
// replaces it.
func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf store.Workflow
	if !decodeBody(w, r, &wf) {
		return
	}
	if wf.ServerID == "" {
		wf.ServerID = wf.Graph.ServerID
	}
	wf.Graph.ServerID = wf.ServerID
	if wf.ID == "" {
		wf.ID = wf.Graph.ID
	}
	if wf.Name == "" {
		wf.Name = wf.Graph.Name
	}
	if strings.TrimSpace(wf.ServerID) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "serverId is required")
		return
	}
	if diags := s.validateGraph(&wf.Graph, wf.ServerID); graph.HasErrors(diags) {
		writeErrorDetails(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "graph validation failed", graph.Errors(diags))
		return
	}

	saved, err := s.store.PutWorkflow(r.Context(), wf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// handleDeleteWorkflow deletes a workflow.
func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteWorkflow(r.Context(), id); err != nil {
		writeStoreError(w, "workflow", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunWorkflow runs a saved workflow against its server.
func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req RunRequest
	if !decodeBody(w, r, &req) {
		return
	}
	wf, err := s.store.GetWorkflow(r.Context(), id)
	if err != nil {
		writeStoreError(w, "workflow", id, err)
		return
	}
	result, err := s.engine.Run(r.Context(), &wf.Graph, engine.Request{
		ServerID:    wf.ServerID,
		Input:       req.Input,
		Headers:     requestHeaders(r),
		ExecutionID: req.ExecutionID,
	})
	writeRunResult(w, result, err)
}

// handleExecuteGraph runs an ad hoc graph against a server without saving it.
func (s *Server) handleExecuteGraph(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("id")
	if _, ok := s.manager.GetRuntime(serverID); !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("server %q not found", serverID))
		return
	}
	var req ExecuteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Graph.ServerID = serverID
	if diags := s.validateGraph(&req.Graph, serverID); graph.HasErrors(diags) {
		writeErrorDetails(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "graph validation failed", graph.Errors(diags))
		return
	}
	result, err := s.engine.Run(r.Context(), &req.Graph, engine.Request{
		ServerID:    serverID,
		Input:       req.Input,
		Headers:     requestHeaders(r),
		ExecutionID: req.ExecutionID,
	})
	writeRunResult(w, result, err)
}

// RunWorkflow runs a saved workflow outside of an HTTP request. The
// scheduler uses it.
func (s *Server) RunWorkflow(ctx context.Context, workflowID string, input map[string]any) (*engine.Result, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return s.engine.Run(ctx, &wf.Graph, engine.Request{ServerID: wf.ServerID, Input: input})
}

// validateGraph checks structure, plus tool attachment when the server is
// live.
func (s *Server) validateGraph(def *graph.Definition, serverID string) []graph.Diagnostic {
	rt, ok := s.manager.GetRuntime(serverID)
	if !ok {
		return def.Validate()
	}
	return def.ValidateWithServer(rt.Definition(), s.manager.Registry())
}

// writeRunResult writes a respond step's body verbatim with its status, the
// aggregate result otherwise, and 422 naming the failed step on failure.
func writeRunResult(w http.ResponseWriter, result *engine.Result, err error) {
	if result != nil {
		w.Header().Set(ExecutionIDHeader, result.ExecutionID)
	}

	var stepErr *engine.StepError
	switch {
	case err == nil && result.Response != nil:
		writeJSON(w, result.Response.Status, result.Response.Body)
	case err == nil:
		writeJSON(w, http.StatusOK, result.Body())
	case errors.As(err, &stepErr) && result != nil && result.Failure != nil:
		f := result.Failure
		details := map[string]any{
			"step":          f.Step,
			"node_id":       f.NodeID,
			"tool":          f.ToolID,
			"name":          f.Name,
			"message":       f.Message,
			"stepsExecuted": result.StepsExecuted,
			"executionId":   result.ExecutionID,
		}
		if f.Code != "" {
			details["code"] = f.Code
		}
		if len(f.Details) > 0 {
			details["details"] = f.Details
		}
		writeErrorDetails(w, http.StatusUnprocessableEntity, "STEP_FAILED", stepErr.Error(), details)
	case errors.Is(err, engine.ErrEmptyGraph):
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "CANCELED", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "RUNTIME_ERROR", err.Error())
	}
}

func writeStoreError(w http.ResponseWriter, kind, id string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s %q not found", kind, id))
		return
	}
	writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
}
