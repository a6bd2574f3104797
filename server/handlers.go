package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/piyushagarwal-55/flowforge/core"
	"github.com/piyushagarwal-55/flowforge/store"
	"github.com/piyushagarwal-55/flowforge/tool"
)

// ErrUnknownTool is returned when a server definition names a tool the
// registry does not know.
var ErrUnknownTool = errors.New("unknown tool")

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"stats":  s.manager.Stats(),
		"events": s.events.Size(),
	})
}

// handleListTools returns every registered tool, sorted by id.
func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	tools := s.manager.Registry().List()
	slices.SortFunc(tools, func(a, b tool.Tool) int { return strings.Compare(a.ID, b.ID) })
	writeJSON(w, http.StatusOK, tools)
}

// handleListServers returns all live runtimes.
func (s *Server) handleListServers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.ListRuntimes())
}

// handleGetServer returns one runtime.
func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rt, ok := s.manager.GetRuntime(id)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("server %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

// handleCreateServer persists a new definition and materializes it.
func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var def core.ServerDefinition
	if !decodeBody(w, r, &def) {
		return
	}
	if _, exists := s.manager.GetRuntime(strings.TrimSpace(def.ID)); exists {
		writeError(w, http.StatusConflict, "CONFLICT", fmt.Sprintf("server %q already exists", def.ID))
		return
	}
	rt, err := s.ApplyServer(r.Context(), def)
	if err != nil {
		writeApplyError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

// handleUpdateServer replaces a definition and hot-reloads its runtime.
func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.manager.GetRuntime(id); !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("server %q not found", id))
		return
	}
	var def core.ServerDefinition
	if !decodeBody(w, r, &def) {
		return
	}
	def.ID = id
	rt, err := s.ApplyServer(r.Context(), def)
	if err != nil {
		writeApplyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

// handleDeleteServer removes a runtime and its persisted definition.
func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.RemoveServer(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("server %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartServer(w http.ResponseWriter, r *http.Request) {
	s.transitionServer(w, r.PathValue("id"), s.manager.StartRuntime)
}

func (s *Server) handleStopServer(w http.ResponseWriter, r *http.Request) {
	s.transitionServer(w, r.PathValue("id"), s.manager.StopRuntime)
}

func (s *Server) transitionServer(w http.ResponseWriter, id string, transition func(string) bool) {
	if !transition(id) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("server %q not found", id))
		return
	}
	rt, _ := s.manager.GetRuntime(id)
	writeJSON(w, http.StatusOK, rt)
}

// handleAttachAgent validates an agent against the server's tools, attaches
// it and persists the updated definition. The attachment is undone when the
// definition cannot be persisted.
func (s *Server) handleAttachAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rt, ok := s.manager.GetRuntime(id)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("server %q not found", id))
		return
	}
	var agent core.Agent
	if !decodeBody(w, r, &agent) {
		return
	}
	agent.ID = strings.TrimSpace(agent.ID)
	if err := store.ValidateAgent(rt.Definition(), agent); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		return
	}
	if !s.manager.AttachAgent(id, agent) {
		writeError(w, http.StatusConflict, "CONFLICT", fmt.Sprintf("agent %q is already attached to server %q", agent.ID, id))
		return
	}
	if err := s.persistRuntime(r.Context(), id); err != nil {
		s.manager.DetachAgent(id, agent.ID)
		s.logger.Error("attach agent not persisted, rolled back", "server_id", id, "agent_id", agent.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	rt, _ = s.manager.GetRuntime(id)
	writeJSON(w, http.StatusCreated, rt)
}

// handleDetachAgent removes an agent and persists the updated definition,
// re-attaching the agent when persistence fails.
func (s *Server) handleDetachAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	agentID := r.PathValue("agent_id")
	var agent core.Agent
	rt, ok := s.manager.GetRuntime(id)
	if ok {
		agent, ok = rt.Agent(agentID)
	}
	if !ok || !s.manager.DetachAgent(id, agentID) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("agent %q is not attached to server %q", agentID, id))
		return
	}
	if err := s.persistRuntime(r.Context(), id); err != nil {
		s.manager.AttachAgent(id, agent)
		s.logger.Error("detach agent not persisted, rolled back", "server_id", id, "agent_id", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApplyServer normalizes def, persists it and materializes it in the runtime
// manager. A runtime that was running before the reload, or a definition
// marked autostart, is started again.
func (s *Server) ApplyServer(ctx context.Context, def core.ServerDefinition) (*core.ServerRuntime, error) {
	def, err := s.normalizeServer(def)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutServer(ctx, def); err != nil {
		return nil, fmt.Errorf("persist server %s: %w", def.ID, err)
	}

	prev, existed := s.manager.GetRuntime(def.ID)
	wasRunning := existed && prev.Status == core.StatusRunning

	s.manager.CreateRuntime(def)
	if wasRunning || def.Autostart {
		s.manager.StartRuntime(def.ID)
	}
	s.logger.Info("server applied",
		"server_id", def.ID,
		"tools", len(def.Tools),
		"agents", len(def.Agents),
		"reloaded", existed)

	rt, _ := s.manager.GetRuntime(def.ID)
	return rt, nil
}

// RemoveServer deletes the runtime and the persisted definition. It returns
// an error wrapping store.ErrNotFound when neither exists.
func (s *Server) RemoveServer(ctx context.Context, id string) error {
	removed := s.manager.DeleteRuntime(id)
	if s.mcp != nil {
		s.mcp.Forget(id)
	}
	err := s.store.DeleteServer(ctx, id)
	if errors.Is(err, store.ErrNotFound) && removed {
		err = nil
	}
	if err == nil {
		s.logger.Info("server removed", "server_id", id)
	}
	return err
}

// normalizeServer fills tool snapshots from the registry and validates ids
// and agents.
func (s *Server) normalizeServer(def core.ServerDefinition) (core.ServerDefinition, error) {
	def = def.Clone()
	def.ID = strings.TrimSpace(def.ID)
	if def.ID == "" {
		return def, fmt.Errorf("server: %w", store.ErrInvalidID)
	}
	if def.Name == "" {
		def.Name = def.ID
	}

	seen := make(map[string]bool, len(def.Tools))
	tools := make([]core.ToolRef, 0, len(def.Tools))
	for _, ref := range def.Tools {
		t, ok := s.manager.Registry().Get(ref.ID)
		if !ok {
			return def, fmt.Errorf("%w: %q", ErrUnknownTool, ref.ID)
		}
		if seen[ref.ID] {
			continue
		}
		seen[ref.ID] = true
		snapshot := t.Ref()
		if ref.Name != "" {
			snapshot.Name = ref.Name
		}
		if ref.Description != "" {
			snapshot.Description = ref.Description
		}
		tools = append(tools, snapshot)
	}
	def.Tools = tools

	agents := make(map[string]bool, len(def.Agents))
	for i, agent := range def.Agents {
		agent.ID = strings.TrimSpace(agent.ID)
		if err := store.ValidateAgent(def, agent); err != nil {
			return def, err
		}
		if agents[agent.ID] {
			return def, fmt.Errorf("%w: agent %q listed twice", store.ErrInvalidAgent, agent.ID)
		}
		agents[agent.ID] = true
		def.Agents[i] = agent
	}
	return def, nil
}

// persistRuntime saves the runtime's current definition, keeping the stored
// autostart flag.
func (s *Server) persistRuntime(ctx context.Context, id string) error {
	rt, ok := s.manager.GetRuntime(id)
	if !ok {
		return fmt.Errorf("server %q: %w", id, store.ErrNotFound)
	}
	def := rt.Definition()
	if stored, err := s.store.GetServer(ctx, id); err == nil {
		def.Autostart = stored.Autostart
	}
	return s.store.PutServer(ctx, def)
}

func writeApplyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidID), errors.Is(err, store.ErrInvalidAgent), errors.Is(err, ErrUnknownTool):
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
	}
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched. It
// writes the error response and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if isMaxBytesError(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds size limit")
			return false
		}
		writeError(w, http.StatusBadRequest, "READ_ERROR", err.Error())
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return false
	}
	return true
}

// isMaxBytesError checks if the error is from http.MaxBytesReader.
func isMaxBytesError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}
