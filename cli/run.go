package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/piyushagarwal-55/flowforge/bus"
	"github.com/piyushagarwal-55/flowforge/core"
	"github.com/piyushagarwal-55/flowforge/daemon"
	"github.com/piyushagarwal-55/flowforge/engine"
	"github.com/piyushagarwal-55/flowforge/graph"
	"github.com/piyushagarwal-55/flowforge/llmprovider"
	"github.com/piyushagarwal-55/flowforge/runtime"
	"github.com/piyushagarwal-55/flowforge/tool"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <graph>",
		Short: "Execute a graph once in-process",
		Long: `Execute a graph file against an in-process runtime and print the result.

Without --server, a server exposing every tool the graph uses is created.`,
		Args: cobra.ExactArgs(1),
		RunE: runRun,
	}

	cmd.Flags().String("server", "", "Server definition file (YAML or JSON)")
	cmd.Flags().String("input", "", "Input payload as inline JSON")
	cmd.Flags().String("input-file", "", "Read the input payload from a JSON file")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Maximum run duration")
	cmd.Flags().String("config", "", "Config file supplying LLM settings for ai.complete")
	cmd.Flags().Bool("stream", false, "Write execution log events to stderr as JSON lines")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	serverPath, _ := flags.GetString("server")
	inputJSON, _ := flags.GetString("input")
	inputFile, _ := flags.GetString("input-file")
	timeout, _ := flags.GetDuration("timeout")
	configPath, _ := flags.GetString("config")
	stream, _ := flags.GetBool("stream")

	def, err := loadGraph(args[0])
	if err != nil {
		return err
	}
	input, err := readInput(inputJSON, inputFile)
	if err != nil {
		return err
	}
	serverDef, err := loadServerForGraph(serverPath, def)
	if err != nil {
		return err
	}
	completer, err := runCompleter(configPath)
	if err != nil {
		return err
	}

	logger := slog.Default()
	reg := tool.NewRegistry(logger)
	tool.RegisterBuiltins(reg, tool.BuiltinDeps{
		Records:   tool.NewMemoryRecordStore(),
		Completer: completer,
	})

	if diags := def.ValidateWithServer(serverDef, reg); graph.HasErrors(diags) {
		printDiagnosticsTable(cmd.ErrOrStderr(), sortedDiagnostics(diags))
		return exitError(exitValidation, "graph %q is invalid", def.ID)
	}

	var emitter core.LogEmitter
	if stream {
		emitter = jsonLinesEmitter(cmd.ErrOrStderr())
	}

	mgr := runtime.NewManager(runtime.ManagerConfig{
		Registry: reg,
		Sink:     bus.NewRingBuffer(bus.DefaultRingCapacity),
		Emitter:  emitter,
		Logger:   logger,
	})
	defer func() { _ = mgr.Close(context.Background()) }()

	serverID := mgr.CreateRuntime(snapshotTools(serverDef, reg))
	mgr.StartRuntime(serverID)

	eng := engine.New(engine.Config{Invoker: mgr, Emitter: emitter, Logger: logger})

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, runErr := eng.Run(ctx, def, engine.Request{ServerID: serverID, Input: input})
	if result != nil {
		if err := writeJSON(cmd.OutOrStdout(), result.Body()); err != nil {
			return exitError(exitRuntime, "writing result: %v", err)
		}
	}
	if runErr != nil {
		if errors.Is(runErr, context.DeadlineExceeded) {
			return exitError(exitTimeout, "run timed out after %s", timeout)
		}
		if te, ok := tool.AsToolError(runErr); ok && te.Code == tool.ErrorCodeTimeout {
			return exitError(exitTimeout, "%v", runErr)
		}
		return exitError(exitRuntime, "%v", runErr)
	}
	return nil
}

// readInput decodes the run input from --input or --input-file. An absent
// payload is an empty object.
func readInput(inline, path string) (map[string]any, error) {
	if inline != "" && path != "" {
		return nil, exitError(exitInputParse, "--input and --input-file are mutually exclusive")
	}

	data := []byte(inline)
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, exitError(exitFileNotFound, "file not found: %s", path)
			}
			return nil, exitError(exitInputParse, "reading input file: %v", err)
		}
		data = b
	}
	if strings.TrimSpace(string(data)) == "" {
		return map[string]any{}, nil
	}

	var input map[string]any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, exitError(exitInputParse, "input must be a JSON object: %v", err)
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, nil
}

func runCompleter(configPath string) (tool.Completer, error) {
	if configPath == "" {
		return nil, nil
	}
	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}
	if cfg.LLM.Provider == "" {
		return nil, nil
	}
	completer, err := llmprovider.NewCompleter(llmprovider.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey(),
		Model:    cfg.LLM.Model,
	})
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}
	return completer, nil
}

func jsonLinesEmitter(w io.Writer) core.LogEmitter {
	enc := json.NewEncoder(w)
	return core.LogEmitterFunc(func(_ string, event core.LogEvent) {
		_ = enc.Encode(event)
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}
