package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/piyushagarwal-55/flowforge/bus"
	"github.com/piyushagarwal-55/flowforge/core"
	"github.com/piyushagarwal-55/flowforge/mcpserver"
	"github.com/piyushagarwal-55/flowforge/runtime"
	"github.com/piyushagarwal-55/flowforge/tool"
)

const defaultEventLimit = 100

// handleInvokeTool calls one tool directly. The body is the tool input and
// the calling agent comes from the X-Agent-ID header, which is required
// unless anonymous invocation is enabled.
func (s *Server) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("id")
	toolID := r.PathValue("tool_id")

	agentID := strings.TrimSpace(r.Header.Get(mcpserver.AgentHeader))
	if agentID == "" && !s.anonymous {
		writeError(w, http.StatusUnauthorized, "AGENT_REQUIRED", mcpserver.AgentHeader+" header is required")
		return
	}

	input := map[string]any{}
	if !decodeBody(w, r, &input) {
		return
	}
	if input == nil {
		input = map[string]any{}
	}

	cc := tool.NewCallContext(nil, requestHeaders(r), "")

	output, err := s.manager.InvokeTool(r.Context(), serverID, toolID, input, cc, agentID)
	if err != nil {
		writeInvokeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "output": output})
}

// writeInvokeError maps an InvokeTool error onto a status code.
func writeInvokeError(w http.ResponseWriter, err error) {
	switch runtime.Classify(err) {
	case runtime.KindPermissionDenied:
		var pd *runtime.PermissionDeniedError
		var details map[string]any
		if errors.As(err, &pd) {
			details = map[string]any{"agentId": pd.AgentID, "toolId": pd.ToolID, "serverId": pd.ServerID}
		}
		writeErrorDetails(w, http.StatusForbidden, "PERMISSION_DENIED", err.Error(), details)
	case runtime.KindNotFound:
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case runtime.KindToolNotFound:
		writeError(w, http.StatusNotFound, "TOOL_NOT_FOUND", err.Error())
	case runtime.KindNotRunning:
		writeError(w, http.StatusConflict, "NOT_RUNNING", err.Error())
	case runtime.KindToolNotRegistered:
		writeError(w, http.StatusConflict, "TOOL_NOT_REGISTERED", err.Error())
	default:
		code, message, details := tool.Describe(err)
		if code == "" {
			code = tool.ErrorCodeInvocationFailed
		}
		writeErrorDetails(w, http.StatusInternalServerError, code, message, details)
	}
}

func (s *Server) handleServerInvocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Invocations(r.PathValue("id")))
}

// handleListInvocations returns the ledger, optionally filtered by
// ?server_id= and ?execution_id=.
func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	invs := s.manager.Invocations(r.URL.Query().Get("server_id"))
	if executionID := r.URL.Query().Get("execution_id"); executionID != "" {
		filtered := make([]core.Invocation, 0, len(invs))
		for _, inv := range invs {
			if inv.ExecutionID == executionID {
				filtered = append(filtered, inv)
			}
		}
		invs = filtered
	}
	writeJSON(w, http.StatusOK, invs)
}

func (s *Server) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("invocation_id")
	inv, ok := s.manager.Invocation(id)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("invocation %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// handleListEvents queries the runtime event sink, newest first.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultEventLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	filter := bus.EventFilter{
		Type:     core.EventType(q.Get("type")),
		ServerID: q.Get("server_id"),
		AgentID:  q.Get("agent_id"),
		ToolID:   q.Get("tool_id"),
	}
	writeJSON(w, http.StatusOK, s.events.Query(filter, limit))
}

// requestHeaders flattens request headers for tool call contexts. Names are
// lower-cased.
func requestHeaders(r *http.Request) map[string]string {
	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		headers[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return headers
}
