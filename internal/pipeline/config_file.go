package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ralphctl/coordinator/internal/driver"
)

// AgentPermissionConfig is the permission map written to
// .opencode/opencode.json inside the sandbox. It is marshalled from this
// typed struct rather than built by string templating, so the
// question/plan_enter/plan_exit deny invariant cannot be silently dropped
// by a future edit to the config-writing code.
type AgentPermissionConfig struct {
	Question  string `json:"question"`
	PlanEnter string `json:"plan_enter"`
	PlanExit  string `json:"plan_exit"`
}

// AgentConfig is the full contents of .opencode/opencode.json.
type AgentConfig struct {
	Permission AgentPermissionConfig `json:"permission"`
	Model      string                `json:"model,omitempty"`
}

// DefaultAgentPermissions denies every interactive-approval path: a
// sandboxed agent running unattended has no one to answer a question or
// approve entering/exiting plan mode, so all three must fail closed rather
// than hang the iteration waiting on input that will never arrive.
func DefaultAgentPermissions() AgentPermissionConfig {
	return AgentPermissionConfig{
		Question:  "deny",
		PlanEnter: "deny",
		PlanExit:  "deny",
	}
}

const agentConfigPath = ".opencode/opencode.json"

func writeAgentConfig(ctx context.Context, gw *driver.Gateway, provider, sandboxID, repoDir string, cfg AgentConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling agent config: %w", err)
	}

	dir := repoDir + "/.opencode"
	if err := gw.Mkdir(ctx, provider, sandboxID, dir); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	path := repoDir + "/" + agentConfigPath
	if err := gw.WriteFile(ctx, provider, sandboxID, path, data); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
