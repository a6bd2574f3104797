package cli

import (
	"errors"
	"io/fs"
	"os"
	"slices"

	"github.com/piyushagarwal-55/flowforge/core"
	"github.com/piyushagarwal-55/flowforge/daemon"
	"github.com/piyushagarwal-55/flowforge/graph"
	"github.com/piyushagarwal-55/flowforge/tool"
)

// localServerID names the server synthesized for a graph run without a
// --server definition.
const localServerID = "local"

func loadGraph(path string) (*graph.Definition, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, exitError(exitFileNotFound, "file not found: %s", path)
	}
	def, err := graph.ParseFile(path)
	if err != nil {
		return nil, exitError(exitValidation, "%v", err)
	}
	return def, nil
}

// loadServerForGraph reads the --server definition, or synthesizes one that
// exposes every tool the graph uses.
func loadServerForGraph(path string, def *graph.Definition) (core.ServerDefinition, error) {
	if path == "" {
		id := def.ServerID
		if id == "" {
			id = localServerID
		}
		server := core.ServerDefinition{ID: id, Name: id}
		for _, node := range def.Nodes {
			if node.Tool != "" && !server.HasTool(node.Tool) {
				server.Tools = append(server.Tools, core.ToolRef{ID: node.Tool})
			}
		}
		return server, nil
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return core.ServerDefinition{}, exitError(exitFileNotFound, "file not found: %s", path)
	}
	server, err := daemon.LoadServerDefinition(path)
	if err != nil {
		return core.ServerDefinition{}, exitError(exitValidation, "%v", err)
	}
	return server, nil
}

// snapshotTools fills tool refs from the registry, as the HTTP API does when
// a server is created.
func snapshotTools(def core.ServerDefinition, reg *tool.Registry) core.ServerDefinition {
	def = def.Clone()
	for i, ref := range def.Tools {
		if t, ok := reg.Get(ref.ID); ok {
			def.Tools[i] = t.Ref()
		}
	}
	return def
}

func sortedDiagnostics(diags []graph.Diagnostic) []graph.Diagnostic {
	out := slices.Clone(diags)
	slices.SortStableFunc(out, func(a, b graph.Diagnostic) int {
		if a.Severity == b.Severity {
			return 0
		}
		if a.Severity == graph.SeverityError {
			return -1
		}
		return 1
	})
	return out
}
