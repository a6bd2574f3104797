package graph

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParse_JSONWithComments(t *testing.T) {
	data := []byte(`{
		// signup flow
		"id": "signup",
		"serverId": "auth",
		"nodes": [
			{"id": "in", "tool": "input"},
			{"id": "save", "tool": "db.insert", "fields": {"collection": "users", "document": {"email": "input.email"}}},
		],
		"edges": [{"source": "in", "target": "save"}],
	}`)

	def, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if def.ID != "signup" || def.ServerID != "auth" {
		t.Errorf("id/server = %q/%q", def.ID, def.ServerID)
	}
	if len(def.Nodes) != 2 || len(def.Edges) != 1 {
		t.Fatalf("nodes/edges = %d/%d, want 2/1", len(def.Nodes), len(def.Edges))
	}
	doc, ok := def.Nodes[1].Fields["document"].(map[string]any)
	if !ok || doc["email"] != "input.email" {
		t.Errorf("fields.document = %v", def.Nodes[1].Fields["document"])
	}
}

func TestParse_YAML(t *testing.T) {
	data := []byte(`
id: greet
serverId: demo
nodes:
  - id: render
    tool: template.render
    fields:
      template: "Hello {{.input.name}}"
      outputVar: greeting
  - id: reply
    tool: respond
    fields:
      status: 200
      body: "{{greeting}}"
edges:
  - source: render
    target: reply
`)

	def, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(def.Nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(def.Nodes))
	}
	if def.Nodes[1].Fields["status"] != 200 {
		t.Errorf("status = %#v, want 200", def.Nodes[1].Fields["status"])
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse([]byte("   ")); err == nil {
		t.Error("expected error for empty input")
	}
	if _, err := Parse([]byte(`{"nodes": [`)); err == nil {
		t.Error("expected error for truncated json")
	}
}

func TestParseFile_DefaultsIDToFileName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "onboarding.yaml")
	if err := os.WriteFile(path, []byte("nodes:\n  - id: a\n    tool: input\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	def, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if def.ID != "onboarding" {
		t.Errorf("ID = %q, want onboarding", def.ID)
	}
}
