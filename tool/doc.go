// Package tool defines the tool registry and the handler contract shared by
// the runtime manager and the execution engine.
//
// The package is split by concern:
//   - tool: the Tool value, the Handler signature and the per-call CallContext
//   - registry: the process catalog mapping tool ids to tools
//   - validate: JSON-schema validation of tool inputs
//   - error: structured tool errors carrying machine-readable details
//   - builtins: the stock tools registered by the daemon
//
// A tool id says how a tool behaves; which tools may run on a server is
// decided by that server's tool list, not by this package.
package tool
