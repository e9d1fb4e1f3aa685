// Package pipeline implements the Preparation Pipeline: the sequence of
// steps the Run Coordinator drives, once per provider, to take a freshly
// created sandbox to a running, reachable agent server.
package pipeline

import "time"

// Step names one stage of the pipeline, in execution order.
type Step string

const (
	StepCreateSandbox     Step = "create_sandbox"
	StepInstallTooling    Step = "install_tooling"
	StepCloneRepo         Step = "clone_repo"
	StepDetectProject     Step = "detect_project"
	StepInstallDeps       Step = "install_deps"
	StepInstallAgentRuntime Step = "install_agent_runtime"
	StepWriteConfig       Step = "write_config"
	StepStartAgentServer  Step = "start_agent_server"
	StepResolveURL        Step = "resolve_url"
)

// Steps is every pipeline step, in the order the Pipeline executes them.
var Steps = []Step{
	StepCreateSandbox,
	StepInstallTooling,
	StepCloneRepo,
	StepDetectProject,
	StepInstallDeps,
	StepInstallAgentRuntime,
	StepWriteConfig,
	StepStartAgentServer,
	StepResolveURL,
}

// Spec describes what the pipeline should prepare for one provider.
type Spec struct {
	RunID      string
	Provider   string
	Image      string
	RepoURL    string
	GitRef     string
	Env        map[string]string
	Labels     map[string]string
	AgentImage string // agent runtime package/version spec, provider-agnostic
}

// StepRecord is one entry of a provider run's step history, surfaced by
// GET /run/{id} so a failed step is diagnosable without re-running.
type StepRecord struct {
	Step      Step      `json:"step"`
	Message   string    `json:"message,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitempty"`
	Failed    bool      `json:"failed"`
	// LogTail holds the last bytes of captured stdout/stderr for this
	// step's shell invocation, bounded to avoid unbounded memory growth
	// for a chatty install command.
	LogTail string `json:"logTail,omitempty"`
}

const stepLogTailLimit = 4096

func truncateTail(s string) string {
	if len(s) <= stepLogTailLimit {
		return s
	}
	return s[len(s)-stepLogTailLimit:]
}

// Result is what a completed pipeline run produces for the Run Coordinator.
type Result struct {
	SandboxID  string
	AgentURL   string
	ProjectType string
	InstallTool string
	StepHistory []StepRecord
}
