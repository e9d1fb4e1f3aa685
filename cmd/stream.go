package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var streamCmd = &cobra.Command{
	Use:   "stream <run-id>",
	Short: "Follow a run's event stream",
	Long: `Replays every event recorded for the run so far, then blocks printing new
events as they arrive. Exits when the run reaches a terminal status and the
server ends the stream, or when the command is interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)
}

func runStream(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var streamErr error
	events, err := newClient().StreamRun(ctx, args[0], func(err error) { streamErr = err })
	if err != nil {
		return wrapNotFound(err)
	}

	for ev := range events {
		if ev.Type == "ping" {
			continue
		}
		if ev.Provider != "" {
			fmt.Fprintf(out, "[%s] %s %s\n", ev.Provider, ev.Type, string(ev.Data))
		} else {
			fmt.Fprintf(out, "%s %s\n", ev.Type, string(ev.Data))
		}
	}
	return streamErr
}
