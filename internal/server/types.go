package server

import (
	"time"

	"github.com/ralphctl/coordinator/internal/coordinator"
)

// startRunRequest is the wire shape of POST /run's body. It mirrors
// coordinator.StartRunRequest but uses millisecond durations on the wire,
// matching the rest of the Control API's JSON conventions.
type startRunRequest struct {
	RepoURL   string            `json:"repoUrl"`
	Branch    string            `json:"branch,omitempty"`
	Task      string            `json:"task"`
	Providers []string          `json:"providers"`
	Config    *runConfigRequest `json:"config,omitempty"`
	UserID    string            `json:"userId,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

type runConfigRequest struct {
	MaxIterations int   `json:"maxIterations,omitempty"`
	IdleTimeoutMs int64 `json:"idleTimeoutMs,omitempty"`
	UseSSE        *bool `json:"useSSE,omitempty"`
}

func (r startRunRequest) toCoordinator() coordinator.StartRunRequest {
	req := coordinator.StartRunRequest{
		RepoURL:   r.RepoURL,
		Branch:    r.Branch,
		Task:      r.Task,
		Providers: r.Providers,
		UserID:    r.UserID,
		Labels:    r.Labels,
	}
	if r.Config != nil {
		req.Config = coordinator.RunConfig{
			MaxIterations: r.Config.MaxIterations,
			UseSSE:        r.Config.UseSSE,
		}
		if r.Config.IdleTimeoutMs > 0 {
			req.Config.IdleTimeout = time.Duration(r.Config.IdleTimeoutMs) * time.Millisecond
		}
	}
	return req
}

// providerInfo reports one provider tag's availability for GET /providers.
type providerInfo struct {
	Provider   string `json:"provider"`
	Configured bool   `json:"configured"`
}

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error string `json:"error"`
}
