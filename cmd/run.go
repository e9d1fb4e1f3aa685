package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/ralphctl/coordinator/internal/cliclient"
)

var (
	runRepo          string
	runBranch        string
	runTask          string
	runProviders     []string
	runUserID        string
	runLabels        []string
	runMaxIterations int
	runIdleTimeout   time.Duration
	runUseSSE        bool
	runNoSSE         bool
	runQuiet         bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a run across one or more providers",
	Long: `Starts a run: the Coordinator clones --repo, prepares a sandbox for each
--provider, and drives each to completion in parallel. Returns as soon as
preparation succeeds or fails for every provider; iteration continues
asynchronously - use 'ralphctl stream' to follow it.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runRepo, "repo", "", "Repository to clone (required)")
	runCmd.Flags().StringVar(&runBranch, "branch", "", "Git ref to check out")
	runCmd.Flags().StringVar(&runTask, "task", "", "Task description for the agent (required)")
	runCmd.Flags().StringArrayVar(&runProviders, "provider", nil, "Sandbox provider to run against (repeatable, required)")
	runCmd.Flags().StringVar(&runUserID, "user-id", "", "Identifier to attribute this run to")
	runCmd.Flags().StringArrayVar(&runLabels, "label", nil, "key=value label (repeatable)")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "Cap on iterations per provider (default: Coordinator default)")
	runCmd.Flags().DurationVar(&runIdleTimeout, "idle-timeout", 0, "Abort a provider's iteration loop after this much silence")
	runCmd.Flags().BoolVar(&runUseSSE, "sse", false, "Force the SSE-driven iteration engine")
	runCmd.Flags().BoolVar(&runNoSSE, "no-sse", false, "Force the blocking-chat iteration engine")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress the progress spinner")
	_ = runCmd.MarkFlagRequired("repo")
	_ = runCmd.MarkFlagRequired("task")
}

func parseLabels(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	labels := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --label %q: expected key=value", p)
		}
		labels[k] = v
	}
	return labels, nil
}

// startRunWithSpinner calls StartRun, showing a progress spinner on stderr
// while preparation runs across every provider unless --quiet was given.
func startRunWithSpinner(cmd *cobra.Command, req cliclient.StartRunRequest) (cliclient.StartRunResult, error) {
	if runQuiet {
		return newClient().StartRun(cmd.Context(), req)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " preparing sandboxes..."
	s.Start()
	defer s.Stop()

	result, err := newClient().StartRun(cmd.Context(), req)
	if err != nil {
		s.FinalMSG = text.Colors{text.FgRed}.Sprint("failed to start run") + "\n"
	}
	return result, err
}

func runRun(cmd *cobra.Command, args []string) error {
	if len(runProviders) == 0 {
		return fmt.Errorf("at least one --provider is required")
	}
	if runUseSSE && runNoSSE {
		return fmt.Errorf("--sse and --no-sse are mutually exclusive")
	}

	labels, err := parseLabels(runLabels)
	if err != nil {
		return err
	}

	req := cliclient.StartRunRequest{
		RepoURL: runRepo, Branch: runBranch, Task: runTask,
		Providers: runProviders, UserID: runUserID, Labels: labels,
	}
	if runMaxIterations > 0 || runIdleTimeout > 0 || runUseSSE || runNoSSE {
		cfg := &cliclient.RunConfig{MaxIterations: runMaxIterations}
		if runIdleTimeout > 0 {
			cfg.IdleTimeoutMs = runIdleTimeout.Milliseconds()
		}
		if runUseSSE {
			t := true
			cfg.UseSSE = &t
		}
		if runNoSSE {
			f := false
			cfg.UseSSE = &f
		}
		req.Config = cfg
	}

	result, err := startRunWithSpinner(cmd, req)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s started\n\n", result.RunID)

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Provider", "Sandbox", "Success", "Error"})
	for _, p := range result.Providers {
		status := text.Colors{text.FgGreen}.Sprint("ok")
		if !p.Success {
			status = text.Colors{text.FgRed}.Sprint("failed")
		}
		t.AppendRow(table.Row{p.Provider, p.SandboxID, status, p.Error})
	}
	t.Render()
	return nil
}
