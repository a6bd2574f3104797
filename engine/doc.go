// Package engine runs tool graphs against a server runtime.
//
// A run orders the graph's nodes topologically (falling back to declaration
// order when the edges do not admit one), seeds a shared vars map with the
// input payload, then invokes each node's tool in turn through the runtime
// manager. Steps run strictly one after another and the first failure stops
// the run.
package engine
