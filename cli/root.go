// Package cli implements the flowforge command line: serve, run, validate
// and tools.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// NewRootCmd assembles the flowforge command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "flowforge",
		Short: "FlowForge tool runtime CLI",
		Long:  "FlowForge hosts logical tool servers, enforces per-agent permissions and runs tool graphs.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			configureLogging(cmd)
		},
	}

	root.PersistentFlags().Bool("verbose", false, "Enable verbose/debug logging")
	root.PersistentFlags().Bool("quiet", false, "Suppress all output except errors")
	root.PersistentFlags().Bool("no-color", false, "Disable colored output")

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("flowforge version %s\n", version))

	root.AddCommand(NewServeCmd())
	root.AddCommand(NewRunCmd())
	root.AddCommand(NewValidateCmd())
	root.AddCommand(NewToolsCmd())
	return root
}

func configureLogging(cmd *cobra.Command) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		text.DisableColors()
	}

	level := slog.LevelInfo
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
