package daemon

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/piyushagarwal-55/flowforge/core"
	"github.com/piyushagarwal-55/flowforge/graph"
	"github.com/piyushagarwal-55/flowforge/store"
)

func TestBootstrap_AppliesStoredThenConfigServers(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	if err := st.PutServer(ctx, core.ServerDefinition{ID: "stored", Name: "Stored"}); err != nil {
		t.Fatalf("PutServer() error = %v", err)
	}
	if err := st.PutServer(ctx, core.ServerDefinition{ID: "stale"}); err != nil {
		t.Fatalf("PutServer() error = %v", err)
	}

	applier := newFakeApplier()
	applier.reject["stale"] = true

	cfg := DefaultConfig()
	cfg.Servers = []core.ServerDefinition{{ID: "inline", Autostart: true}}

	if err := Bootstrap(ctx, cfg, st, applier, nil); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	got := applier.appliedIDs()
	if !slices.Equal(got, []string{"stored", "inline"}) {
		t.Fatalf("applied = %v, want [stored inline]", got)
	}
	inline, _ := applier.lastApplied("inline")
	if !inline.Autostart {
		t.Fatal("inline server lost autostart")
	}
}

func TestBootstrap_ConfigServerErrorIsReturned(t *testing.T) {
	applier := newFakeApplier()
	applier.reject["bad"] = true

	cfg := DefaultConfig()
	cfg.Servers = []core.ServerDefinition{{ID: "bad"}, {ID: "good"}}

	err := Bootstrap(context.Background(), cfg, store.NewMemoryStore(), applier, nil)
	if err == nil || !strings.Contains(err.Error(), `"bad"`) {
		t.Fatalf("Bootstrap() error = %v, want error naming bad", err)
	}
	if got := applier.appliedIDs(); !slices.Equal(got, []string{"good"}) {
		t.Fatalf("applied = %v, want [good]", got)
	}
}

func TestBootstrap_SavesWorkflows(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	graphPath := filepath.Join(dir, "signup.yaml")
	graphYAML := `
name: Signup
serverId: auth
nodes:
  - id: in
    tool: input
  - id: reply
    tool: respond
edges:
  - source: in
    target: reply
`
	if err := os.WriteFile(graphPath, []byte(graphYAML), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg := DefaultConfig()
	cfg.Workflows = []WorkflowConfig{
		{File: graphPath},
		{ID: "inline", ServerID: "auth", Graph: &graph.Definition{Nodes: []graph.Node{{ID: "in", Tool: "input"}}}},
	}

	st := store.NewMemoryStore()
	if err := Bootstrap(ctx, cfg, st, newFakeApplier(), nil); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	wf, err := st.GetWorkflow(ctx, "signup")
	if err != nil {
		t.Fatalf("GetWorkflow(signup) error = %v", err)
	}
	if wf.Name != "Signup" || wf.ServerID != "auth" || len(wf.Graph.Nodes) != 2 {
		t.Fatalf("workflow = %+v", wf)
	}
	if _, err := st.GetWorkflow(ctx, "inline"); err != nil {
		t.Fatalf("GetWorkflow(inline) error = %v", err)
	}
}

func TestBootstrap_WorkflowWithoutServerFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workflows = []WorkflowConfig{{ID: "orphan", Graph: &graph.Definition{Nodes: []graph.Node{{ID: "in", Tool: "input"}}}}}

	err := Bootstrap(context.Background(), cfg, store.NewMemoryStore(), newFakeApplier(), nil)
	if err == nil || !strings.Contains(err.Error(), "server is required") {
		t.Fatalf("Bootstrap() error = %v, want server is required", err)
	}
}
