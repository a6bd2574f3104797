// Package mcpserver exposes running server runtimes over the Model Context
// Protocol. Each runtime becomes an MCP server whose tools are the runtime's
// attached tools; every call goes through the runtime manager, so the
// permission checks, ledger and events of direct invocation all apply.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/piyushagarwal-55/flowforge/core"
	"github.com/piyushagarwal-55/flowforge/runtime"
	"github.com/piyushagarwal-55/flowforge/tool"
)

// AgentHeader carries the calling agent's id. Requests without it are
// rejected unless the bridge allows anonymous callers.
const AgentHeader = "X-Agent-ID"

// Version is reported in the MCP initialize handshake.
const Version = "1.0.0"

// Invoker is the slice of the runtime manager the bridge needs.
type Invoker interface {
	GetRuntime(serverID string) (*core.ServerRuntime, bool)
	InvokeTool(ctx context.Context, serverID, toolID string, input map[string]any, cc *tool.CallContext, agentID string) (any, error)
}

var _ Invoker = (*runtime.Manager)(nil)

type ctxKey int

const (
	agentKey ctxKey = iota
	headersKey
)

// Bridge serves /mcp/{server_id}. MCP servers are built lazily per runtime
// and their tool lists are refreshed whenever the runtime is replaced.
type Bridge struct {
	invoker   Invoker
	logger    *slog.Logger
	anonymous bool

	mu      sync.Mutex
	servers map[string]*bridgeEntry
}

type bridgeEntry struct {
	mcp       *server.MCPServer
	http      *server.StreamableHTTPServer
	updatedAt time.Time
}

// Option configures a Bridge.
type Option func(*Bridge)

// AllowAnonymous admits requests without an AgentHeader. Their tool calls run
// as the trusted internal caller and skip permission checks.
func AllowAnonymous() Option {
	return func(b *Bridge) { b.anonymous = true }
}

// NewBridge creates a Bridge over invoker.
func NewBridge(invoker Invoker, logger *slog.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		invoker: invoker,
		logger:  logger,
		servers: make(map[string]*bridgeEntry),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ServeHTTP implements http.Handler. It expects a "server_id" path value.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("server_id")
	if serverID == "" {
		http.Error(w, "missing server_id", http.StatusBadRequest)
		return
	}

	rt, ok := b.invoker.GetRuntime(serverID)
	if !ok {
		http.Error(w, fmt.Sprintf("server %q not found", serverID), http.StatusNotFound)
		return
	}
	if rt.Status != core.StatusRunning {
		http.Error(w, fmt.Sprintf("server %q is %s", serverID, rt.Status), http.StatusConflict)
		return
	}
	if !b.anonymous && strings.TrimSpace(r.Header.Get(AgentHeader)) == "" {
		http.Error(w, AgentHeader+" header is required", http.StatusUnauthorized)
		return
	}

	b.entry(rt).http.ServeHTTP(w, r)
}

// Forget drops the cached MCP server for serverID.
func (b *Bridge) Forget(serverID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.servers, serverID)
}

func (b *Bridge) entry(rt *core.ServerRuntime) *bridgeEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.servers[rt.ID]
	if !ok {
		mcpServer := server.NewMCPServer(
			"flowforge-"+rt.ID,
			Version,
			server.WithToolCapabilities(true),
		)
		e = &bridgeEntry{
			mcp: mcpServer,
			http: server.NewStreamableHTTPServer(mcpServer,
				server.WithHTTPContextFunc(requestContext),
			),
		}
		b.servers[rt.ID] = e
	}
	if !ok || !e.updatedAt.Equal(rt.UpdatedAt) {
		e.mcp.SetTools(b.serverTools(rt)...)
		e.updatedAt = rt.UpdatedAt
		b.logger.Debug("mcp tools refreshed", "server_id", rt.ID, "tools", len(rt.Tools))
	}
	return e
}

func (b *Bridge) serverTools(rt *core.ServerRuntime) []server.ServerTool {
	tools := make([]server.ServerTool, 0, len(rt.Tools))
	for _, ref := range rt.Tools {
		tools = append(tools, server.ServerTool{
			Tool: mcp.Tool{
				Name:        ref.ID,
				Description: ref.Description,
				InputSchema: inputSchema(ref.InputSchema),
			},
			Handler: b.toolHandler(rt.ID, ref.ID),
		})
	}
	return tools
}

func (b *Bridge) toolHandler(serverID, toolID string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		if args == nil {
			args = make(map[string]any)
		}

		agentID, _ := ctx.Value(agentKey).(string)
		headers, _ := ctx.Value(headersKey).(map[string]string)
		cc := tool.NewCallContext(nil, headers, "")

		output, err := b.invoker.InvokeTool(ctx, serverID, toolID, args, cc, agentID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(output)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode output: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

// requestContext copies the agent id and request headers into the context
// handed to tool handlers.
func requestContext(ctx context.Context, r *http.Request) context.Context {
	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		headers[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	ctx = context.WithValue(ctx, headersKey, headers)
	return context.WithValue(ctx, agentKey, strings.TrimSpace(r.Header.Get(AgentHeader)))
}

func inputSchema(s *core.Schema) mcp.ToolInputSchema {
	out := mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}}
	if s == nil {
		return out
	}
	doc := s.JSONSchema()
	if props, ok := doc["properties"].(map[string]any); ok {
		out.Properties = props
	}
	if required, ok := doc["required"].([]string); ok {
		out.Required = required
	}
	return out
}
