package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ralphctl/coordinator/internal/cliclient"
	rstrings "github.com/ralphctl/coordinator/pkg/strings"
)

var getCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Show one run's status",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	run, err := newClient().GetRun(cmd.Context(), args[0])
	if err != nil {
		return wrapNotFound(err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run:       %s\n", run.ID)
	fmt.Fprintf(out, "status:    %s\n", run.Status)
	fmt.Fprintf(out, "repo:      %s\n", run.RepoURL)
	if run.Branch != "" {
		fmt.Fprintf(out, "branch:    %s\n", run.Branch)
	}
	fmt.Fprintf(out, "task:      %s\n", rstrings.TruncateDescription(run.Task, 120))
	fmt.Fprintf(out, "started:   %s\n", run.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
	if !run.EndedAt.IsZero() {
		fmt.Fprintf(out, "ended:     %s\n", run.EndedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	fmt.Fprintln(out)

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Provider", "Status", "Iterations", "Events", "Error"})
	for _, provider := range run.Providers {
		state := run.States[provider]
		if state == nil {
			continue
		}
		t.AppendRow(table.Row{state.Provider, state.Status, state.IterationCount, state.EventCount, rstrings.TruncateDescription(state.Error, 60)})
	}
	t.Render()
	return nil
}

// wrapNotFound marks an error returned for an unknown run ID so Execute
// can map it to ExitCodeNotFound instead of a generic failure.
func wrapNotFound(err error) error {
	if err != nil && cliclient.IsNotFound(err) {
		return &notFoundError{err: err}
	}
	return err
}
