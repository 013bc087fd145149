package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/anvil/internal/config"
	"github.com/roach88/anvil/internal/graph"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(_ *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workspace>",
		Short: "Validate workspace manifests and the project graph",
		Long: `Load the workspace's CUE project manifests and verify the dependency
graph: every dependency must exist, project names must be unique, and the
graph must be acyclic.

Example:
  anvil validate ./workspace`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(args[0], cmd)
		},
	}

	return cmd
}

func runValidate(workspace string, cmd *cobra.Command) error {
	defs, err := config.LoadWorkspace(workspace)
	if err != nil {
		return err
	}

	dag, err := config.AssembleGraph(defs)
	if err != nil {
		return err
	}

	projects := graph.Projects(dag)
	cmd.Printf("workspace ok: %d project(s)\n", len(projects))
	for _, p := range projects {
		cmd.Printf("  %s\n", p.ID())
	}
	return nil
}
