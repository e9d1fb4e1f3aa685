package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ralphctl/coordinator/internal/driver"
	"github.com/ralphctl/coordinator/internal/events"
	"github.com/ralphctl/coordinator/pkg/logging"
)

const pipelineSubsystem = "Pipeline"

const sandboxRepoDir = "/workspace/repo"

// Pipeline drives one provider's sandbox from nothing to a running,
// reachable agent server, emitting a typed progress event after every
// step and recording its own step history for later diagnosis.
type Pipeline struct {
	Gateway *driver.Gateway
	Bus     *events.Bus

	// AgentRuntimeInstallCmd is the command used to install the agent
	// runtime inside the sandbox once dependencies are in place (e.g.
	// `npm install -g @opencode/cli`). It is provider-agnostic: every
	// provider's sandbox image is assumed to expose a POSIX shell.
	AgentRuntimeInstallCmd []string

	// AgentServerStartCmd launches the agent server; it must background
	// itself (the pipeline does not wait for it to exit).
	AgentServerStartCmd []string

	// AgentServerPort is the port inside the sandbox the agent server
	// listens on, used to resolve a reachable URL via GetProcessURLs.
	AgentServerPort int
}

func (p *Pipeline) emit(runID, provider string, step Step, message string) {
	p.Bus.Publish(events.AgentEvent{
		RunID:    runID,
		Provider: provider,
		Kind:     events.KindPipelineProgress,
		Data:     events.PipelineProgressData{Step: string(step), Message: message},
	})
}

// Run executes every step in Steps order for spec, returning the
// resolved agent URL and sandbox ID on success. On failure it returns the
// step history gathered so far alongside the error, so the caller
// (Run Coordinator) can surface which step failed and why.
func (p *Pipeline) Run(ctx context.Context, spec Spec) (Result, error) {
	result := Result{}
	var history []StepRecord

	record := func(step Step, started time.Time, message string, failed bool, logTail string) {
		tail := truncateTail(logTail)
		history = append(history, StepRecord{
			Step:      step,
			Message:   message,
			StartedAt: started,
			EndedAt:   time.Now(),
			Failed:    failed,
			LogTail:   tail,
		})
		if tail != "" {
			p.Bus.Publish(events.AgentEvent{
				RunID:    spec.RunID,
				Provider: spec.Provider,
				Kind:     events.KindOutput,
				Data:     events.OutputData{Step: string(step), Text: tail},
			})
		}
	}

	fail := func(step Step, started time.Time, err error, logTail string) (Result, error) {
		record(step, started, err.Error(), true, logTail)
		result.StepHistory = history
		p.emit(spec.RunID, spec.Provider, step, "failed: "+err.Error())
		return result, fmt.Errorf("pipeline step %s: %w", step, err)
	}

	// step: create_sandbox
	started := time.Now()
	p.emit(spec.RunID, spec.Provider, StepCreateSandbox, "creating sandbox")
	sb, err := p.Gateway.Create(ctx, driver.CreateSpec{
		RunID: spec.RunID, Provider: spec.Provider, Image: spec.Image,
		Env: spec.Env, Labels: spec.Labels,
	})
	if err != nil {
		return fail(StepCreateSandbox, started, err, "")
	}
	result.SandboxID = sb.ID
	record(StepCreateSandbox, started, "sandbox "+sb.ID+" created", false, "")
	p.emit(spec.RunID, spec.Provider, StepCreateSandbox, "sandbox created")

	// step: install_tooling (git, curl — assumed present in reference
	// images; here we just verify with a cheap probe so a missing tool
	// fails fast with a clear message instead of deep inside clone_repo).
	started = time.Now()
	p.emit(spec.RunID, spec.Provider, StepInstallTooling, "verifying base tooling")
	probe, err := p.Gateway.Run(ctx, spec.Provider, sb.ID, []string{"sh", "-c", "command -v git && command -v curl"})
	if err != nil || probe.ExitCode != 0 {
		return fail(StepInstallTooling, started, fmt.Errorf("git/curl not available in sandbox: %s", probe.Stderr), probe.Stderr)
	}
	record(StepInstallTooling, started, "git/curl present", false, "")
	p.emit(spec.RunID, spec.Provider, StepInstallTooling, "base tooling present")

	// step: clone_repo
	started = time.Now()
	parsed, err := ParseRepoURL(spec.RepoURL)
	if err != nil {
		return fail(StepCloneRepo, started, err, "")
	}
	p.emit(spec.RunID, spec.Provider, StepCloneRepo, "cloning "+parsed.CloneURL)
	cloneCmd := []string{"git", "clone", "--depth", "1"}
	ref := parsed.Ref
	if ref == "" {
		ref = spec.GitRef
	}
	if ref != "" {
		cloneCmd = append(cloneCmd, "--branch", ref)
	}
	cloneCmd = append(cloneCmd, parsed.CloneURL, sandboxRepoDir)
	res, err := p.Gateway.Run(ctx, spec.Provider, sb.ID, cloneCmd)
	if err != nil || res.ExitCode != 0 {
		return fail(StepCloneRepo, started, fmt.Errorf("git clone failed: %s", res.Stderr), res.Stderr)
	}
	record(StepCloneRepo, started, "cloned "+parsed.CloneURL, false, res.Stdout)
	p.emit(spec.RunID, spec.Provider, StepCloneRepo, "repo cloned")

	// step: detect_project
	started = time.Now()
	p.emit(spec.RunID, spec.Provider, StepDetectProject, "detecting project type")
	projectType, plan, err := detectProject(ctx, p.Gateway, spec.Provider, sb.ID, sandboxRepoDir)
	if err != nil {
		return fail(StepDetectProject, started, err, "")
	}
	result.ProjectType = string(projectType)
	record(StepDetectProject, started, "detected "+string(projectType), false, "")
	p.emit(spec.RunID, spec.Provider, StepDetectProject, "project type: "+string(projectType))

	// step: install_deps
	started = time.Now()
	if plan == nil {
		p.Bus.Publish(events.AgentEvent{
			RunID: spec.RunID, Provider: spec.Provider, Kind: events.KindInstallProgress,
			Data: events.InstallProgressData{Message: "no recognized dependency manifest; skipping install"},
		})
		record(StepInstallDeps, started, "no dependency manifest found", false, "")
	} else {
		result.InstallTool = plan.tool
		p.Bus.Publish(events.AgentEvent{
			RunID: spec.RunID, Provider: spec.Provider, Kind: events.KindInstallProgress,
			Data: events.InstallProgressData{Tool: plan.tool, Message: "running " + plan.tool},
		})
		cmd := append([]string{"sh", "-c", "cd " + sandboxRepoDir + " && " + joinCmd(plan.cmd)})
		res, err := p.Gateway.Run(ctx, spec.Provider, sb.ID, cmd)
		if err != nil || res.ExitCode != 0 {
			return fail(StepInstallDeps, started, fmt.Errorf("%s failed: %s", plan.tool, res.Stderr), res.Stderr)
		}
		record(StepInstallDeps, started, plan.tool+" install complete", false, res.Stdout)
	}
	p.emit(spec.RunID, spec.Provider, StepInstallDeps, "dependency install complete")

	// step: install_agent_runtime
	started = time.Now()
	p.emit(spec.RunID, spec.Provider, StepInstallAgentRuntime, "installing agent runtime")
	res, err = p.Gateway.Run(ctx, spec.Provider, sb.ID, p.AgentRuntimeInstallCmd)
	if err != nil || res.ExitCode != 0 {
		return fail(StepInstallAgentRuntime, started, fmt.Errorf("agent runtime install failed: %s", res.Stderr), res.Stderr)
	}
	record(StepInstallAgentRuntime, started, "agent runtime installed", false, res.Stdout)
	p.emit(spec.RunID, spec.Provider, StepInstallAgentRuntime, "agent runtime installed")

	// step: write_config
	started = time.Now()
	p.emit(spec.RunID, spec.Provider, StepWriteConfig, "writing agent configuration")
	cfg := AgentConfig{Permission: DefaultAgentPermissions()}
	if err := writeAgentConfig(ctx, p.Gateway, spec.Provider, sb.ID, sandboxRepoDir, cfg); err != nil {
		return fail(StepWriteConfig, started, err, "")
	}
	record(StepWriteConfig, started, "wrote "+agentConfigPath, false, "")
	p.emit(spec.RunID, spec.Provider, StepWriteConfig, "agent configuration written")

	// step: start_agent_server
	started = time.Now()
	p.emit(spec.RunID, spec.Provider, StepStartAgentServer, "starting agent server")
	startCmd := []string{"sh", "-c", "cd " + sandboxRepoDir + " && nohup " + joinCmd(p.AgentServerStartCmd) + " > /tmp/agent-server.log 2>&1 &"}
	if _, err := p.Gateway.Run(ctx, spec.Provider, sb.ID, startCmd); err != nil {
		return fail(StepStartAgentServer, started, fmt.Errorf("starting agent server: %w", err), "")
	}
	record(StepStartAgentServer, started, "agent server start command issued", false, "")
	p.emit(spec.RunID, spec.Provider, StepStartAgentServer, "agent server started")

	// step: resolve_url
	started = time.Now()
	p.emit(spec.RunID, spec.Provider, StepResolveURL, "resolving agent server URL")
	urls, err := p.Gateway.GetProcessURLs(ctx, spec.Provider, sb.ID)
	if err != nil {
		return fail(StepResolveURL, started, err, "")
	}
	agentURL := ""
	for _, u := range urls {
		if u.Port == p.AgentServerPort {
			agentURL = u.URL
			break
		}
	}
	if agentURL == "" && len(urls) > 0 {
		agentURL = urls[0].URL
	}
	if agentURL == "" {
		return fail(StepResolveURL, started, fmt.Errorf("no process URL resolved for port %d", p.AgentServerPort), "")
	}
	result.AgentURL = agentURL
	record(StepResolveURL, started, "resolved "+agentURL, false, "")
	p.emit(spec.RunID, spec.Provider, StepResolveURL, "agent server reachable at "+agentURL)

	result.StepHistory = history
	logging.Info(pipelineSubsystem, "provider %s ready for run %s at %s", spec.Provider, spec.RunID, agentURL)
	return result, nil
}

func joinCmd(cmd []string) string {
	out := ""
	for i, c := range cmd {
		if i > 0 {
			out += " "
		}
		out += c
	}
	return out
}
