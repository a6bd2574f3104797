package cli

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/piyushagarwal-55/flowforge/daemon"
)

const appConfigYAML = `storage:
  driver: sqlite
  dsn: flowforge.db
definitions_dir: ./servers
servers:
  - serverId: greeter
    name: Greeter
    autostart: true
    tools:
      - toolId: input
      - toolId: respond
workflows:
  - id: greet
    server: greeter
    graph:
      nodes:
        - id: in
          tool: input
          fields:
            required: [name]
        - id: reply
          tool: respond
          fields:
            body:
              greeting: "Hello {{input.name}}"
      edges:
        - source: in
          target: reply
schedules:
  - id: nightly
    workflow: greet
    cron: "0 3 * * *"
    input:
      name: Cron
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadServeConfig_FlagOverrides(t *testing.T) {
	path := writeTestFile(t, "flowforge.yaml", "http:\n  port: 9000\n")

	cmd := NewServeCmd()
	if err := cmd.ParseFlags([]string{"--config", path, "--host", "0.0.0.0", "--sqlite-path", "/tmp/ff.db"}); err != nil {
		t.Fatal(err)
	}
	cfg, loaded, err := loadServeConfig(cmd)
	if err != nil {
		t.Fatalf("loadServeConfig() error = %v", err)
	}
	if loaded != path {
		t.Errorf("loaded = %q, want %q", loaded, path)
	}
	if cfg.HTTP.Port != 9000 {
		t.Errorf("port = %d, want 9000 from file", cfg.HTTP.Port)
	}
	if cfg.HTTP.Host != "0.0.0.0" {
		t.Errorf("host = %q, want flag override", cfg.HTTP.Host)
	}
	if cfg.Storage.Driver != daemon.DriverSQLite || cfg.Storage.DSN != "/tmp/ff.db" {
		t.Errorf("storage = %+v, want sqlite at /tmp/ff.db", cfg.Storage)
	}
}

func TestLoadServeConfig_PortFlagWins(t *testing.T) {
	path := writeTestFile(t, "flowforge.yaml", "http:\n  port: 9000\n")

	cmd := NewServeCmd()
	if err := cmd.ParseFlags([]string{"--config", path, "-p", "9100"}); err != nil {
		t.Fatal(err)
	}
	cfg, _, err := loadServeConfig(cmd)
	if err != nil {
		t.Fatalf("loadServeConfig() error = %v", err)
	}
	if cfg.HTTP.Port != 9100 {
		t.Errorf("port = %d, want 9100", cfg.HTTP.Port)
	}
}

func TestLoadServeConfig_MissingExplicitFile(t *testing.T) {
	cmd := NewServeCmd()
	if err := cmd.ParseFlags([]string{"--config", "/nonexistent/flowforge.yaml"}); err != nil {
		t.Fatal(err)
	}
	_, _, err := loadServeConfig(cmd)
	if code := exitCode(t, err); code != exitFileNotFound {
		t.Fatalf("exit code = %d, want %d", code, exitFileNotFound)
	}
}

func TestLoadServeConfig_InvalidConfig(t *testing.T) {
	path := writeTestFile(t, "flowforge.yaml", "storage:\n  driver: mongo\n")

	cmd := NewServeCmd()
	if err := cmd.ParseFlags([]string{"--config", path}); err != nil {
		t.Fatal(err)
	}
	_, _, err := loadServeConfig(cmd)
	if code := exitCode(t, err); code != exitConfig {
		t.Fatalf("exit code = %d, want %d", code, exitConfig)
	}
}

func TestBuildApp_MemoryDriver(t *testing.T) {
	ctx := context.Background()
	a, err := buildApp(ctx, daemon.DefaultConfig(), appOptions{}, discardLogger())
	if err != nil {
		t.Fatalf("buildApp() error = %v", err)
	}
	defer func() { _ = a.close(ctx) }()

	if a.watcher != nil || a.scheduler != nil {
		t.Error("expected no watcher or scheduler without configuration")
	}

	ts := httptest.NewServer(a.server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestBuildApp_SQLiteWithConfiguredState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowforge.yaml")
	if err := os.WriteFile(path, []byte(appConfigYAML), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := daemon.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cfg, appOptions{SchedulePoll: time.Hour}, discardLogger())
	if err != nil {
		t.Fatalf("buildApp() error = %v", err)
	}
	defer func() { _ = a.close(ctx) }()

	if a.watcher == nil {
		t.Error("expected a definitions watcher")
	}
	if a.scheduler == nil {
		t.Error("expected a scheduler")
	}
	if _, err := os.Stat(filepath.Join(dir, "flowforge.db")); err != nil {
		t.Errorf("expected sqlite file next to config: %v", err)
	}

	rt, ok := a.manager.GetRuntime("greeter")
	if !ok {
		t.Fatal("configured server was not applied")
	}
	if rt.Status != "running" {
		t.Errorf("status = %q, want running", rt.Status)
	}

	ts := httptest.NewServer(a.server.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/workflows/greet/run", "application/json", strings.NewReader(`{"input":{"name":"Ada"}}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run status = %d, body = %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "Hello Ada") {
		t.Errorf("body = %s, want greeting", body)
	}
}
