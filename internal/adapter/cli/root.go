package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
)

// ServerRunner defines the dependency required to run the serve path.
type ServerRunner func(ctx context.Context, configPath, addr string) error

// Arguments encapsulates IO writers injected from the host process.
type Arguments struct {
	OutWriter io.Writer
	ErrWriter io.Writer
}

// Dependencies captures the collaborators for the CLI.
type Dependencies struct {
	RunServer ServerRunner
	Args      Arguments
	Version   string
}

// NewRootCommand constructs the root Cobra command. The root command
// starts the webhook server; there are no subcommands yet.
func NewRootCommand(deps Dependencies) *cobra.Command {
	versionString := deps.Version
	if versionString == "" {
		versionString = "v0.0.0"
	}

	var configPath string
	var addr string

	root := &cobra.Command{
		Use:     "openreview",
		Short:   "GitHub webhook code review service backed by a local LLM",
		Version: versionString,
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.RunServer(cmd.Context(), configPath, addr)
		},
	}
	root.SilenceUsage = true
	root.SilenceErrors = true

	if deps.Args.OutWriter != nil {
		root.SetOut(deps.Args.OutWriter)
	}
	if deps.Args.ErrWriter != nil {
		root.SetErr(deps.Args.ErrWriter)
	}

	root.Flags().StringVar(&configPath, "config", "", "path to a directory containing openreview.yaml")
	root.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr from config")

	return root
}
