package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// versionCheckTimeout bounds how long 'ralphctl version' waits on the
// Control API before reporting it unreachable.
const versionCheckTimeout = 3 * time.Second

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ralphctl CLI version and the Coordinator's reachability",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ralphctl version %s\n", rootCmd.Version)

		ctx, cancel := context.WithTimeout(cmd.Context(), versionCheckTimeout)
		defer cancel()

		if err := newClient().Healthz(ctx); err != nil {
			fmt.Fprintf(out, "coordinator: unreachable (%v)\n", err)
			return
		}
		fmt.Fprintln(out, "coordinator: reachable")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
