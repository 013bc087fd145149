package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/anvil/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <run-token>",
		Short: "Dump one run's compile events in emission order",
		Long: `Print every compile event recorded for a build run, grouped by project
and ordered by the producer's emission sequence.

Example:
  anvil trace --db .anvil/journal.db 018f2c3a-...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", ".anvil/journal.db", "path to the build journal")

	return cmd
}

func runTrace(opts *TraceOptions, token string, cmd *cobra.Command) error {
	j, err := journal.Open(opts.Database)
	if err != nil {
		return err
	}
	defer j.Close()

	events, err := j.ReadEvents(cmd.Context(), token)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		cmd.Printf("no events recorded for run %s\n", token)
		return nil
	}

	current := ""
	for _, ev := range events {
		if ev.Project != current {
			current = ev.Project
			cmd.Printf("%s:\n", current)
		}
		if ev.Detail != "" {
			cmd.Printf("  %4d  %-24s %s\n", ev.Seq, ev.Kind, ev.Detail)
		} else {
			cmd.Printf("  %4d  %s\n", ev.Seq, ev.Kind)
		}
	}
	return nil
}
