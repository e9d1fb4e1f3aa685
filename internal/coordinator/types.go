package coordinator

import (
	"time"

	"github.com/ralphctl/coordinator/internal/pipeline"
)

// ProviderStatus is one ProviderRunState's position in its lifecycle DAG:
// idle -> cloning -> installing -> running -> {completed|failed}, with
// failed reachable from any non-terminal state. paused is reserved for a
// future suspension feature and is never set by this package today.
type ProviderStatus string

const (
	ProviderIdle       ProviderStatus = "idle"
	ProviderCloning    ProviderStatus = "cloning"
	ProviderInstalling ProviderStatus = "installing"
	ProviderRunning    ProviderStatus = "running"
	ProviderPaused     ProviderStatus = "paused"
	ProviderCompleted  ProviderStatus = "completed"
	ProviderFailed     ProviderStatus = "failed"
)

func (s ProviderStatus) Terminal() bool {
	return s == ProviderCompleted || s == ProviderFailed
}

// RunStatus is the aggregate status of a Run, derived from its
// per-provider states.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ProviderRunState is the mutable state of one provider's slot within a
// Run. It is written exclusively by that provider's own pipeline/iteration
// fiber; the Coordinator and Event Bus consumers only ever read it through
// a snapshot taken under the Run's lock.
type ProviderRunState struct {
	Provider       string                `json:"provider"`
	Status         ProviderStatus        `json:"status"`
	SandboxID      string                `json:"sandboxId,omitempty"`
	WorkspaceDir   string                `json:"workspaceDir,omitempty"`
	AgentURL       string                `json:"agentUrl,omitempty"`
	SessionID      string                `json:"sessionId,omitempty"`
	Error          string                `json:"error,omitempty"`
	EventCount     int                   `json:"eventCount"`
	StepHistory    []pipeline.StepRecord `json:"stepHistory,omitempty"`
	IterationCount int                   `json:"iterationCount"`
	CompletionNote string                `json:"completionNote,omitempty"`

	// UpdatedAt is the last time this provider's Status changed. The
	// janitor uses it to detect a provider stuck non-terminal past a
	// grace period (a crashed process, an orphaned sandbox) with nobody
	// left to call stopRun.
	UpdatedAt time.Time `json:"updatedAt"`

	// dbSandboxID and dbRalphID are the Persistence Store's row
	// identifiers for this provider's sandbox and run record, set once
	// Coordinator has created them. Empty when Persistence is nil or a
	// create call failed. Never exposed over the Control API.
	dbSandboxID string
	dbRalphID   string
}

// Run is one user-initiated orchestration instance spanning every
// requested provider.
type Run struct {
	ID        string                       `json:"id"`
	RepoURL   string                       `json:"repoUrl"`
	Branch    string                       `json:"branch"`
	Task      string                       `json:"task"`
	Providers []string                     `json:"providers"`
	States    map[string]*ProviderRunState `json:"states"`
	Status    RunStatus                    `json:"status"`
	StartedAt time.Time                    `json:"startedAt"`
	EndedAt   time.Time                    `json:"endedAt,omitempty"`
	UserID    string                       `json:"userId,omitempty"`
	Labels    map[string]string            `json:"labels,omitempty"`
}

// RunConfig parameterizes one startRun call; the zero value is filled in
// with defaults by Coordinator.StartRun.
type RunConfig struct {
	MaxIterations int
	IdleTimeout   time.Duration
	// UseSSE selects the SSE-driven Iteration Engine variant (the
	// default) over the blocking-chat fallback.
	UseSSE *bool
}

const (
	defaultMaxIterations = 10
	defaultIdleTimeout   = 2 * time.Minute
)

func (c RunConfig) useSSE() bool {
	if c.UseSSE == nil {
		return true
	}
	return *c.UseSSE
}

func (c RunConfig) maxIterations() int {
	if c.MaxIterations <= 0 {
		return defaultMaxIterations
	}
	return c.MaxIterations
}

func (c RunConfig) idleTimeout() time.Duration {
	if c.IdleTimeout <= 0 {
		return defaultIdleTimeout
	}
	return c.IdleTimeout
}

// StartRunRequest is the input to Coordinator.StartRun.
type StartRunRequest struct {
	RepoURL   string
	Branch    string
	Task      string
	Providers []string
	Config    RunConfig
	UserID    string
	Labels    map[string]string
}

// ProviderResult reports one provider's outcome from StartRun, returned
// once preparation has finished (or failed) for that provider; the
// iteration loop itself continues asynchronously after StartRun returns.
type ProviderResult struct {
	Provider  string `json:"provider"`
	SandboxID string `json:"sandboxId,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// StartRunResult is StartRun's return value.
type StartRunResult struct {
	RunID     string           `json:"runId"`
	Providers []ProviderResult `json:"providers"`
}

// StopResult is StopRun's return value.
type StopResult struct {
	Success   bool             `json:"success"`
	Providers []ProviderResult `json:"providers"`
}

// snapshot copies r under its lock-holder's discipline (callers must hold
// the Run's mutex, or be the Coordinator on a Run it owns exclusively
// during construction) into a value safe to hand to an unrelated reader.
func (r *Run) snapshot() Run {
	statesCopy := make(map[string]*ProviderRunState, len(r.States))
	for k, v := range r.States {
		stateCopy := *v
		stateCopy.StepHistory = append([]pipeline.StepRecord(nil), v.StepHistory...)
		statesCopy[k] = &stateCopy
	}
	out := *r
	out.States = statesCopy
	out.Providers = append([]string(nil), r.Providers...)
	return out
}
