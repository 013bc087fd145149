package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/anvil/internal/journal"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent build runs from the journal",
		Long: `List the most recent build runs recorded in the build journal,
newest first.

Example:
  anvil history --db .anvil/journal.db
  anvil history --db .anvil/journal.db --limit 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", ".anvil/journal.db", "path to the build journal")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum runs to list")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	j, err := journal.Open(opts.Database)
	if err != nil {
		return err
	}
	defer j.Close()

	runs, err := j.ListRuns(cmd.Context(), opts.Limit)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		cmd.Println("no runs recorded")
		return nil
	}

	for _, r := range runs {
		mode := "sequential"
		if r.Pipeline {
			mode = "pipelined"
		}
		outcome := r.Outcome
		if outcome == "" {
			outcome = "running"
		}
		cmd.Printf("%s  %-10s %-10s client=%s started=%s\n",
			r.Token, outcome, mode, r.ClientID, r.StartedAt)
	}
	return nil
}
