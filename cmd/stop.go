package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop <run-id>",
	Short: "Stop a run, destroying every provider's sandbox",
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	result, err := newClient().StopRun(cmd.Context(), args[0])
	if err != nil {
		return wrapNotFound(err)
	}

	out := cmd.OutOrStdout()
	if result.Success {
		fmt.Fprintf(out, "run %s stopped\n", args[0])
	} else {
		fmt.Fprintf(out, "run %s stop completed with errors:\n", args[0])
	}
	for _, p := range result.Providers {
		if p.Error != "" {
			fmt.Fprintf(out, "  %s: %s\n", p.Provider, p.Error)
		}
	}
	return nil
}
