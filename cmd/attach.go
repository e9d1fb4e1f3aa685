package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/ralphctl/coordinator/internal/cliclient"
)

var attachCmd = &cobra.Command{
	Use:   "attach <run-id>",
	Short: "Open an interactive session on a run: live event tail plus status/stop commands",
	Long: `Starts tailing the run's event stream in the background while a small
prompt accepts commands:

  status   print the run's current metadata and per-provider states
  stop     stop the run
  quit     detach (the run keeps going; events stop printing)`,
	Args: cobra.ExactArgs(1),
	RunE: runAttach,
}

func init() {
	rootCmd.AddCommand(attachCmd)
}

// attachSession holds the state a single 'attach' invocation needs to
// thread between its background event tail and its command loop.
type attachSession struct {
	client *cliclient.Client
	runID  string
	out    io.Writer
}

func runAttach(cmd *cobra.Command, args []string) error {
	runID := args[0]
	s := &attachSession{client: newClient(), runID: runID, out: cmd.OutOrStdout()}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var streamErr error
	events, err := s.client.StreamRun(ctx, runID, func(err error) { streamErr = err })
	if err != nil {
		return wrapNotFound(err)
	}

	go func() {
		for ev := range events {
			if ev.Type == "ping" {
				continue
			}
			fmt.Fprintf(s.out, "\r\033[K")
			if ev.Provider != "" {
				fmt.Fprintf(s.out, "[%s] %s %s\n", ev.Provider, ev.Type, string(ev.Data))
			} else {
				fmt.Fprintf(s.out, "%s %s\n", ev.Type, string(ev.Data))
			}
		}
	}()

	historyFile := filepath.Join(os.TempDir(), ".ralphctl_attach_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("run %s> ", runID),
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("create readline instance: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(s.out, "attached to run %s. Type 'quit' to detach, 'help' for commands.\n", runID)

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				continue
			}
		} else if err == io.EOF {
			return streamErr
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		switch strings.TrimSpace(line) {
		case "":
			continue
		case "quit", "exit":
			return streamErr
		case "help", "?":
			fmt.Fprintln(s.out, "status  print run metadata and provider states")
			fmt.Fprintln(s.out, "stop    stop the run")
			fmt.Fprintln(s.out, "quit    detach from the run")
		case "status":
			s.printStatus(ctx)
		case "stop":
			s.stop(ctx)
		default:
			fmt.Fprintf(s.out, "unknown command: %q (try 'help')\n", line)
		}
	}
}

func (s *attachSession) printStatus(ctx context.Context) {
	run, err := s.client.GetRun(ctx, s.runID)
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "run:    %s\n", run.ID)
	fmt.Fprintf(s.out, "repo:   %s\n", run.RepoURL)
	fmt.Fprintf(s.out, "status: %s\n", run.Status)
	for _, provider := range run.Providers {
		state := run.States[provider]
		if state == nil {
			continue
		}
		fmt.Fprintf(s.out, "  %-10s %s\n", provider, state.Status)
	}
}

func (s *attachSession) stop(ctx context.Context) {
	result, err := s.client.StopRun(ctx, s.runID)
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return
	}
	if result.Success {
		fmt.Fprintln(s.out, "stopped")
		return
	}
	for _, p := range result.Providers {
		if p.Error != "" {
			fmt.Fprintf(s.out, "  %s: %s\n", p.Provider, p.Error)
		}
	}
}
