package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeNotFound indicates the requested run does not exist.
	ExitCodeNotFound = 2
)

// rootCmd is the entry point when ralphctl is invoked without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "ralphctl",
	Short: "Drive and inspect multi-provider agent runs",
	Long: `ralphctl talks to a Run Coordinator's Control API: start a run across
one or more sandbox providers, watch its event stream, and stop it early.`,
	SilenceUsage: true,
}

var endpoint string

func init() {
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "",
		"Run Coordinator Control API endpoint (env: RALPHCTL_ENDPOINT, default: http://localhost:8420)")
}

// SetVersion injects the build-time version into the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI; it is called once from main.main.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "ralphctl version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

func getExitCode(err error) int {
	if _, ok := err.(*notFoundError); ok {
		return ExitCodeNotFound
	}
	return ExitCodeError
}

// notFoundError marks an error as "the requested run doesn't exist", for
// a more specific exit code than a generic command failure.
type notFoundError struct{ err error }

func (e *notFoundError) Error() string { return e.err.Error() }
func (e *notFoundError) Unwrap() error { return e.err }
