package cli

import (
	"encoding/json"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/piyushagarwal-55/flowforge/tool"
)

// NewToolsCmd creates the "tools" subcommand.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the built-in tools",
		Args:  cobra.NoArgs,
		RunE:  runTools,
	}
	cmd.Flags().String("format", "table", "Output format: table | json")
	return cmd
}

func runTools(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	tools := tool.Builtins(tool.BuiltinDeps{})
	out := cmd.OutOrStdout()

	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(tools)
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"TOOL", "NAME", "REQUIRED", "DESCRIPTION"})
	for _, tl := range tools {
		var required string
		if tl.InputSchema != nil {
			required = strings.Join(tl.InputSchema.Required, ", ")
		}
		t.AppendRow(table.Row{tl.ID, tl.Name, required, tl.Description})
	}
	t.Render()
	return nil
}
