package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/piyushagarwal-55/flowforge/graph"
	"github.com/piyushagarwal-55/flowforge/tool"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <graph>",
		Short: "Validate a graph file without executing it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("server", "", "Server definition file to check tool attachment against")
	cmd.Flags().String("format", "table", "Output format: table | json")
	cmd.Flags().Bool("strict", false, "Treat warnings as errors")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	serverPath, _ := cmd.Flags().GetString("server")
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")

	def, err := loadGraph(args[0])
	if err != nil {
		return err
	}

	var diags []graph.Diagnostic
	if serverPath != "" {
		server, err := loadServerForGraph(serverPath, def)
		if err != nil {
			return err
		}
		reg := tool.NewRegistry(nil)
		tool.RegisterBuiltins(reg, tool.BuiltinDeps{})
		diags = def.ValidateWithServer(server, reg)
	} else {
		diags = def.Validate()
	}
	diags = sortedDiagnostics(diags)

	out := cmd.OutOrStdout()
	if format == "json" {
		printDiagnosticsJSON(out, diags)
	} else {
		printDiagnosticsTable(out, diags)
	}

	errCount := len(graph.Errors(diags))
	warnCount := len(graph.Warnings(diags))
	if errCount > 0 || (strict && warnCount > 0) {
		return exitError(exitValidation, "validation failed: %d error(s), %d warning(s)", errCount, warnCount)
	}
	return nil
}

func printDiagnosticsTable(w io.Writer, diags []graph.Diagnostic) {
	if len(diags) == 0 {
		fmt.Fprintln(w, text.FgGreen.Sprint("Graph is valid."))
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"SEVERITY", "CODE", "PATH", "MESSAGE"})
	for _, d := range diags {
		severity := text.FgYellow.Sprint(d.Severity)
		if d.Severity == graph.SeverityError {
			severity = text.FgRed.Sprint(d.Severity)
		}
		t.AppendRow(table.Row{severity, d.Code, d.Path, d.Message})
	}
	t.Render()

	fmt.Fprintf(w, "%d error(s), %d warning(s)\n", len(graph.Errors(diags)), len(graph.Warnings(diags)))
}

func printDiagnosticsJSON(w io.Writer, diags []graph.Diagnostic) {
	if diags == nil {
		diags = []graph.Diagnostic{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]any{
		"valid":       !graph.HasErrors(diags),
		"diagnostics": diags,
	})
}
