// Package events implements the Run Coordinator's Event Bus: a per-run,
// append-only, replayable stream of AgentEvents with live fan-out to
// subscribers.
package events

import "time"

// Kind identifies the shape of an AgentEvent's Data payload.
type Kind string

const (
	KindRunStatus        Kind = "run_status"
	KindProviderStatus   Kind = "provider_status"
	KindPipelineProgress Kind = "pipeline_progress"
	KindInstallProgress  Kind = "install_progress"
	KindOutput           Kind = "output"
	KindThought          Kind = "thought"
	KindToolCall         Kind = "tool_call"
	KindToolResult       Kind = "tool_result"
	KindAgentSystem      Kind = "agent_system"
	KindOpencodeReady    Kind = "opencode_ready"
	KindComplete         Kind = "complete"
	KindRalphIteration   Kind = "ralph_iteration"
	KindIterationEnd     Kind = "iteration_end"
	KindRalphComplete    Kind = "ralph_complete"
	KindError            Kind = "error"
	KindPing             Kind = "ping"
)

// AgentEvent is the single unified event type flowing through the bus.
// Data holds one of the typed payload structs below, selected by Kind; it is
// never a raw map once it has crossed the Agent Client boundary.
type AgentEvent struct {
	ID        string    `json:"id"`
	RunID     string    `json:"runId"`
	Provider  string    `json:"provider,omitempty"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// RunStatusData reports a change in the run's aggregate status.
type RunStatusData struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// ProviderStatusData reports a change in one provider's status.
type ProviderStatusData struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// PipelineProgressData reports advancement through the Preparation Pipeline.
type PipelineProgressData struct {
	Step    string `json:"step"`
	Message string `json:"message,omitempty"`
}

// InstallProgressData reports dependency-install tool detection/progress.
type InstallProgressData struct {
	Tool    string `json:"tool,omitempty"`
	Message string `json:"message"`
}

// AgentMessageData carries accumulated or delta text from the agent,
// published under KindThought for an assistant-role part (or, for the
// blocking engine, a whole finalized reply).
type AgentMessageData struct {
	Role  string `json:"role"`
	Delta string `json:"delta,omitempty"`
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final"`
}

// AgentToolCallData reports a tool invocation the agent made.
type AgentToolCallData struct {
	ID       string         `json:"id"`
	ToolName string         `json:"toolName"`
	Args     map[string]any `json:"args,omitempty"`
}

// AgentToolResultData reports the result of a tool invocation.
type AgentToolResultData struct {
	ID      string `json:"id"`
	Result  any    `json:"result,omitempty"`
	IsError bool   `json:"isError"`
}

// AgentSystemData carries transport/session bookkeeping notices
// (step-start, step-finish, reasoning) that don't fit the other kinds.
type AgentSystemData struct {
	Subtype string `json:"subtype"`
	Message string `json:"message,omitempty"`
}

// AgentReadyData reports that a provider's agent server passed its health
// probe and is ready to accept sessions.
type AgentReadyData struct {
	URL string `json:"url"`
}

// OutputData carries a captured tail of stdout/stderr from one Preparation
// Pipeline step's shell invocation.
type OutputData struct {
	Step string `json:"step"`
	Text string `json:"text"`
}

// IterationData marks the start of one iteration-engine round
// (KindRalphIteration) or the end of one (KindIterationEnd, internal
// bookkeeping only - not part of the externally documented vocabulary).
type IterationData struct {
	Index         int    `json:"iteration"`
	MaxIterations int    `json:"maxIterations,omitempty"`
	Note          string `json:"note,omitempty"`
}

// CompletionData reports how an Iteration Engine run ended: Marker is set
// only when Reason is completion_marker; Reason is always one of the
// iteration.Outcome values.
type CompletionData struct {
	Marker string `json:"marker,omitempty"`
	Reason string `json:"reason"`
}

// ErrorData carries a terminal or recoverable error for the run/provider.
type ErrorData struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
