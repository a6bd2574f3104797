package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDiscoverConfigPathFrom_FirstMatchWins(t *testing.T) {
	cwd := t.TempDir()
	home := t.TempDir()

	projectConfig := filepath.Join(cwd, "flowforge.yaml")
	if err := os.WriteFile(projectConfig, []byte("http: {}"), 0o600); err != nil {
		t.Fatalf("WriteFile(project config) error = %v", err)
	}

	homeDir := filepath.Join(home, ".flowforge")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("MkdirAll(home config dir) error = %v", err)
	}
	homeConfig := filepath.Join(homeDir, "config.yaml")
	if err := os.WriteFile(homeConfig, []byte("http: {}"), 0o600); err != nil {
		t.Fatalf("WriteFile(home config) error = %v", err)
	}

	got, found, err := DiscoverConfigPathFrom("", cwd, home)
	if err != nil {
		t.Fatalf("DiscoverConfigPathFrom() error = %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if got != projectConfig {
		t.Fatalf("path = %q, want %q", got, projectConfig)
	}

	if err := os.Remove(projectConfig); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	got, found, err = DiscoverConfigPathFrom("", cwd, home)
	if err != nil || !found || got != homeConfig {
		t.Fatalf("DiscoverConfigPathFrom() = %q, %v, %v; want home config", got, found, err)
	}
}

func TestDiscoverConfigPathFrom_NothingFound(t *testing.T) {
	got, found, err := DiscoverConfigPathFrom("", t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("DiscoverConfigPathFrom() error = %v", err)
	}
	if found || got != "" {
		t.Fatalf("DiscoverConfigPathFrom() = %q, %v; want nothing", got, found)
	}
}

func TestDiscoverConfigPathFrom_ExplicitNotFound(t *testing.T) {
	_, found, err := DiscoverConfigPathFrom("/tmp/does-not-exist.yaml", t.TempDir(), t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
	if found {
		t.Fatal("found = true, want false")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.HTTP.Addr() != "127.0.0.1:8080" {
		t.Fatalf("Addr() = %q, want 127.0.0.1:8080", cfg.HTTP.Addr())
	}
	if cfg.Storage.Driver != DriverMemory {
		t.Fatalf("Storage.Driver = %q, want memory", cfg.Storage.Driver)
	}
	if cfg.Events.Capacity != 1000 {
		t.Fatalf("Events.Capacity = %d, want 1000", cfg.Events.Capacity)
	}
	if cfg.HTTP.AllowAnonymous {
		t.Fatal("HTTP.AllowAnonymous = true, want false by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadConfig_FullFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FLOWFORGE_TEST_DB", "data/flowforge.db")

	configYAML := `
http:
  host: 0.0.0.0
  port: 9090
  cors_origin: https://example.com
  allow_anonymous: true
storage:
  driver: SQLite
  dsn: ${FLOWFORGE_TEST_DB}
events:
  capacity: 50
ledger:
  max_invocations: 200
runtime:
  invoke_timeout: 30s
telemetry:
  enabled: true
  otlp_endpoint: http://localhost:4318/v1/traces
llm:
  provider: openai
  api_key_env: FLOWFORGE_TEST_KEY
  model: gpt-4o-mini
definitions_dir: ./servers
servers:
  - serverId: auth
    name: Auth
    autostart: true
    tools:
      - toolId: input
      - toolId: respond
    agents:
      - agentId: bot
        allowedTools: [input]
workflows:
  - id: signup
    server: auth
    file: graphs/signup.yaml
schedules:
  - workflow: signup
    cron: "*/5 * * * *"
    input:
      email: cron@example.com
`
	path := filepath.Join(dir, "flowforge.yaml")
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.HTTP.Addr() != "0.0.0.0:9090" {
		t.Fatalf("Addr() = %q", cfg.HTTP.Addr())
	}
	if !cfg.HTTP.AllowAnonymous {
		t.Fatal("HTTP.AllowAnonymous = false, want true")
	}
	if cfg.Storage.Driver != DriverSQLite {
		t.Fatalf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if want := filepath.Join(dir, "data", "flowforge.db"); cfg.Storage.DSN != want {
		t.Fatalf("Storage.DSN = %q, want %q", cfg.Storage.DSN, want)
	}
	if cfg.Runtime.InvokeTimeout != 30*time.Second {
		t.Fatalf("InvokeTimeout = %v, want 30s", cfg.Runtime.InvokeTimeout)
	}
	if cfg.Ledger.MaxInvocations != 200 || cfg.Events.Capacity != 50 {
		t.Fatalf("ledger/events = %d/%d", cfg.Ledger.MaxInvocations, cfg.Events.Capacity)
	}
	if cfg.Telemetry.ServiceName != "flowforge" || cfg.Telemetry.MaxInFlight != 64 {
		t.Fatalf("telemetry defaults not applied: %+v", cfg.Telemetry)
	}
	if cfg.DefinitionsDir != filepath.Join(dir, "servers") {
		t.Fatalf("DefinitionsDir = %q", cfg.DefinitionsDir)
	}

	if len(cfg.Servers) != 1 {
		t.Fatalf("len(Servers) = %d, want 1", len(cfg.Servers))
	}
	srv := cfg.Servers[0]
	if srv.ID != "auth" || !srv.Autostart || len(srv.Tools) != 2 || srv.Tools[1].ID != "respond" {
		t.Fatalf("server = %+v", srv)
	}
	if len(srv.Agents) != 1 || !srv.Agents[0].Allows("input") {
		t.Fatalf("agents = %+v", srv.Agents)
	}

	if len(cfg.Workflows) != 1 || cfg.Workflows[0].File != filepath.Join(dir, "graphs", "signup.yaml") {
		t.Fatalf("workflows = %+v", cfg.Workflows)
	}
	if len(cfg.Schedules) != 1 || cfg.Schedules[0].WorkflowID != "signup" || cfg.Schedules[0].Input["email"] != "cron@example.com" {
		t.Fatalf("schedules = %+v", cfg.Schedules)
	}

	t.Setenv("FLOWFORGE_TEST_KEY", "sk-test")
	if got := cfg.LLM.APIKey(); got != "sk-test" {
		t.Fatalf("APIKey() = %q, want sk-test", got)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
storage:
  driver: postgres
ledger:
  max_invocations: -1
workflows:
  - id: empty
`))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil, want errors")
	}
	for _, want := range []string{"requires dsn", "max_invocations", "graph or file"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Validate() error = %q, missing %q", err, want)
		}
	}

	cfg, _ = ParseConfig([]byte("storage:\n  driver: mongo\n"))
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "unsupported driver") {
		t.Fatalf("Validate() error = %v, want unsupported driver", err)
	}
}

func TestParseConfig_InvalidYAML(t *testing.T) {
	if _, err := ParseConfig([]byte("http: [")); err == nil {
		t.Fatal("ParseConfig() error = nil, want error")
	}
}
