// Package server is the FlowForge HTTP API: server definitions and their
// runtimes, agent attachment, direct tool invocation, saved workflows and
// their runs, runtime events, the invocation ledger and live execution logs.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/piyushagarwal-55/flowforge/bus"
	"github.com/piyushagarwal-55/flowforge/engine"
	"github.com/piyushagarwal-55/flowforge/mcpserver"
	"github.com/piyushagarwal-55/flowforge/runtime"
	"github.com/piyushagarwal-55/flowforge/sse"
	"github.com/piyushagarwal-55/flowforge/store"
)

// ServerConfig configures a Server instance.
type ServerConfig struct {
	// Manager owns the live runtimes. Required.
	Manager *runtime.Manager

	// Engine runs workflows. Required.
	Engine *engine.Engine

	// Store persists server definitions and workflows. Required.
	Store store.Store

	// Events is the runtime event sink queried by /api/events.
	Events *bus.RingBuffer

	// Bus and LogStore back the execution log streams. Streams are not
	// mounted when either is nil.
	Bus      bus.LogBus
	LogStore bus.LogStore

	// MCP is mounted at /mcp/{server_id} when set.
	MCP *mcpserver.Bridge

	// AllowAnonymous lets direct tool invocations without an X-Agent-ID
	// header run as the trusted internal caller. Off by default.
	AllowAnonymous bool

	CORSOrigin string
	MaxBody    int64
	Logger     *slog.Logger
}

// Server is the FlowForge HTTP API server.
type Server struct {
	manager    *runtime.Manager
	engine     *engine.Engine
	store      store.Store
	events     *bus.RingBuffer
	bus        bus.LogBus
	logStore   bus.LogStore
	mcp        *mcpserver.Bridge
	scheduler  *Scheduler
	upgrader   websocket.Upgrader
	corsOrigin string
	maxBody    int64
	anonymous  bool
	logger     *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	events := cfg.Events
	if events == nil {
		events = bus.NewRingBuffer(bus.DefaultRingCapacity)
	}
	return &Server{
		manager:  cfg.Manager,
		engine:   cfg.Engine,
		store:    cfg.Store,
		events:   events,
		bus:      cfg.Bus,
		logStore: cfg.LogStore,
		mcp:      cfg.MCP,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		corsOrigin: corsOrigin,
		maxBody:    maxBody,
		anonymous:  cfg.AllowAnonymous,
		logger:     logger,
	}
}

// SetScheduler exposes sch under /api/schedules.
func (s *Server) SetScheduler(sch *Scheduler) {
	s.scheduler = sch
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts the API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/tools", s.handleListTools)

	mux.HandleFunc("GET /api/servers", s.handleListServers)
	mux.HandleFunc("POST /api/servers", s.handleCreateServer)
	mux.HandleFunc("GET /api/servers/{id}", s.handleGetServer)
	mux.HandleFunc("PUT /api/servers/{id}", s.handleUpdateServer)
	mux.HandleFunc("DELETE /api/servers/{id}", s.handleDeleteServer)
	mux.HandleFunc("POST /api/servers/{id}/start", s.handleStartServer)
	mux.HandleFunc("POST /api/servers/{id}/stop", s.handleStopServer)
	mux.HandleFunc("POST /api/servers/{id}/agents", s.handleAttachAgent)
	mux.HandleFunc("DELETE /api/servers/{id}/agents/{agent_id}", s.handleDetachAgent)
	mux.HandleFunc("POST /api/servers/{id}/tools/{tool_id}/invoke", s.handleInvokeTool)
	mux.HandleFunc("GET /api/servers/{id}/invocations", s.handleServerInvocations)
	mux.HandleFunc("POST /api/servers/{id}/execute", s.handleExecuteGraph)

	mux.HandleFunc("GET /api/invocations", s.handleListInvocations)
	mux.HandleFunc("GET /api/invocations/{invocation_id}", s.handleGetInvocation)
	mux.HandleFunc("GET /api/events", s.handleListEvents)

	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("POST /api/workflows", s.handleCreateWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("DELETE /api/workflows/{id}", s.handleDeleteWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}/run", s.handleRunWorkflow)
	mux.HandleFunc("GET /api/schedules", s.handleListSchedules)

	if s.bus != nil && s.logStore != nil {
		mux.Handle("GET /api/executions/{execution_id}/events", sse.NewHandler(sse.Config{Store: s.logStore, Bus: s.bus, Logger: s.logger}))
		mux.HandleFunc("GET /api/executions/{execution_id}/ws", s.handleExecutionSocket)
	}
	if s.mcp != nil {
		mux.Handle("/mcp/{server_id}", s.mcp)
	}
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Agent-ID, Mcp-Session-Id")
		w.Header().Set("Access-Control-Expose-Headers", "X-Execution-ID, Mcp-Session-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the standard error envelope.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: apiErrorBody{Code: code, Message: message}})
}

func writeErrorDetails(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, apiError{Error: apiErrorBody{Code: code, Message: message, Details: details}})
}
