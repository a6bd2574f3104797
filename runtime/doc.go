// Package runtime manages live server runtimes and is the single gate for
// tool invocation.
//
// A Manager materializes server definitions into runtimes, tracks their
// lifecycle, attaches agents, enforces per-agent permissions and keeps an
// invocation ledger. Every call runs the same precondition chain (runtime
// exists, runtime running, agent permitted, tool registered, tool attached to
// the server) before the handler is reached, and every outcome is recorded in
// the ledger, the event sink and the telemetry collaborator.
package runtime
