package cmd

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	rstrings "github.com/ralphctl/coordinator/pkg/strings"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every run the Coordinator currently holds",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	runs, err := newClient().ListRuns(cmd.Context())
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Run", "Status", "Repo", "Providers", "Started"})
	for _, run := range runs {
		t.AppendRow(table.Row{
			run.ID, run.Status, rstrings.TruncateDescription(run.RepoURL, 40),
			len(run.Providers), run.StartedAt.Format("15:04:05"),
		})
	}
	t.Render()
	return nil
}
