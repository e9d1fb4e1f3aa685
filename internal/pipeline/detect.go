package pipeline

import (
	"context"

	"github.com/ralphctl/coordinator/internal/driver"
)

// ProjectType is the dependency ecosystem detected in a cloned repo.
type ProjectType string

const (
	ProjectNode   ProjectType = "node"
	ProjectPython ProjectType = "python"
	ProjectRust   ProjectType = "rust"
	ProjectGo     ProjectType = "go"
	ProjectUnknown ProjectType = "unknown"
)

// installPlan names the tool to use and the command to run for one
// (ProjectType, lockfile) combination.
type installPlan struct {
	tool string
	cmd  []string
}

// detectProject inspects the repo root for the marker files that identify
// its ecosystem, and (for Node) its package manager, returning both the
// ProjectType and the concrete install plan. A repo layout matching none
// of the known markers is ProjectUnknown with a nil plan: the caller emits
// a no-op install_progress event rather than failing the pipeline, since
// "no dependencies to install" is a legitimate outcome.
func detectProject(ctx context.Context, gw *driver.Gateway, provider, sandboxID, repoDir string) (ProjectType, *installPlan, error) {
	has := func(name string) bool {
		_, err := gw.ReadFile(ctx, provider, sandboxID, repoDir+"/"+name)
		return err == nil
	}

	switch {
	case has("pnpm-lock.yaml"):
		return ProjectNode, &installPlan{tool: "pnpm", cmd: []string{"pnpm", "install"}}, nil
	case has("yarn.lock"):
		return ProjectNode, &installPlan{tool: "yarn", cmd: []string{"yarn", "install"}}, nil
	case has("bun.lockb"):
		return ProjectNode, &installPlan{tool: "bun", cmd: []string{"bun", "install"}}, nil
	case has("package.json"):
		return ProjectNode, &installPlan{tool: "npm", cmd: []string{"npm", "install"}}, nil
	case has("requirements.txt"):
		return ProjectPython, &installPlan{tool: "pip", cmd: []string{"pip", "install", "-r", "requirements.txt"}}, nil
	case has("pyproject.toml"):
		return ProjectPython, &installPlan{tool: "pip", cmd: []string{"pip", "install", "."}}, nil
	case has("Cargo.toml"):
		return ProjectRust, &installPlan{tool: "cargo", cmd: []string{"cargo", "build"}}, nil
	case has("go.mod"):
		return ProjectGo, &installPlan{tool: "go", cmd: []string{"go", "mod", "download"}}, nil
	default:
		return ProjectUnknown, nil, nil
	}
}
