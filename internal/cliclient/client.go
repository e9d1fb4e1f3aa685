// Package cliclient is a thin HTTP client over the Control API, used by
// cmd/ so every CLI command and the Control API server agree on exactly
// one wire format (internal/server's JSON types, mirrored here rather
// than imported since they're unexported on the server side).
package cliclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultEndpoint is used when no endpoint is configured via flag or
// environment variable.
const DefaultEndpoint = "http://localhost:8420"

// EndpointEnvVar overrides DefaultEndpoint when set.
const EndpointEnvVar = "RALPHCTL_ENDPOINT"

// Client talks to one Run Coordinator Control API instance.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New builds a Client against baseURL. An empty baseURL falls back to
// DefaultEndpoint.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultEndpoint
	}
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// RunConfig mirrors internal/server's runConfigRequest wire shape.
type RunConfig struct {
	MaxIterations int   `json:"maxIterations,omitempty"`
	IdleTimeoutMs int64 `json:"idleTimeoutMs,omitempty"`
	UseSSE        *bool `json:"useSSE,omitempty"`
}

// StartRunRequest mirrors internal/server's startRunRequest wire shape.
type StartRunRequest struct {
	RepoURL   string            `json:"repoUrl"`
	Branch    string            `json:"branch,omitempty"`
	Task      string            `json:"task"`
	Providers []string          `json:"providers"`
	Config    *RunConfig        `json:"config,omitempty"`
	UserID    string            `json:"userId,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// ProviderResult mirrors coordinator.ProviderResult.
type ProviderResult struct {
	Provider  string `json:"provider"`
	SandboxID string `json:"sandboxId,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// StartRunResult mirrors coordinator.StartRunResult.
type StartRunResult struct {
	RunID     string           `json:"runId"`
	Providers []ProviderResult `json:"providers"`
}

// StopResult mirrors coordinator.StopResult.
type StopResult struct {
	Success   bool             `json:"success"`
	Providers []ProviderResult `json:"providers"`
}

// ProviderRunState mirrors coordinator.ProviderRunState.
type ProviderRunState struct {
	Provider       string    `json:"provider"`
	Status         string    `json:"status"`
	SandboxID      string    `json:"sandboxId,omitempty"`
	WorkspaceDir   string    `json:"workspaceDir,omitempty"`
	AgentURL       string    `json:"agentUrl,omitempty"`
	SessionID      string    `json:"sessionId,omitempty"`
	Error          string    `json:"error,omitempty"`
	EventCount     int       `json:"eventCount"`
	IterationCount int       `json:"iterationCount"`
	CompletionNote string    `json:"completionNote,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Run mirrors coordinator.Run.
type Run struct {
	ID        string                       `json:"id"`
	RepoURL   string                       `json:"repoUrl"`
	Branch    string                       `json:"branch"`
	Task      string                       `json:"task"`
	Providers []string                     `json:"providers"`
	States    map[string]*ProviderRunState `json:"states"`
	Status    string                       `json:"status"`
	StartedAt time.Time                    `json:"startedAt"`
	EndedAt   time.Time                    `json:"endedAt,omitempty"`
	UserID    string                       `json:"userId,omitempty"`
	Labels    map[string]string            `json:"labels,omitempty"`
}

// ProviderInfo mirrors internal/server's providerInfo.
type ProviderInfo struct {
	Provider   string `json:"provider"`
	Configured bool   `json:"configured"`
}

// Event is one frame of a run's event stream, as framed by
// internal/server's SSE handler.
type Event struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Provider  string          `json:"provider,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// apiError is returned by every non-2xx Control API response.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("control API returned %d: %s", e.status, strings.TrimSpace(e.body))
}

// Status returns the HTTP status code a Control API call failed with.
func (e *apiError) Status() int { return e.status }

// IsNotFound reports whether err is an apiError for a 404 response.
func IsNotFound(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &apiError{status: resp.StatusCode, body: string(respBody)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StartRun issues POST /run.
func (c *Client) StartRun(ctx context.Context, req StartRunRequest) (StartRunResult, error) {
	var result StartRunResult
	err := c.do(ctx, http.MethodPost, "/run", req, &result)
	return result, err
}

// GetRun issues GET /run/{id}.
func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	var run Run
	err := c.do(ctx, http.MethodGet, "/run/"+runID, nil, &run)
	return run, err
}

// StopRun issues POST /run/{id}/stop.
func (c *Client) StopRun(ctx context.Context, runID string) (StopResult, error) {
	var result StopResult
	err := c.do(ctx, http.MethodPost, "/run/"+runID+"/stop", nil, &result)
	return result, err
}

// ListRuns issues GET /runs.
func (c *Client) ListRuns(ctx context.Context) ([]Run, error) {
	var runs []Run
	err := c.do(ctx, http.MethodGet, "/runs", nil, &runs)
	return runs, err
}

// Providers issues GET /providers.
func (c *Client) Providers(ctx context.Context) ([]ProviderInfo, error) {
	var infos []ProviderInfo
	err := c.do(ctx, http.MethodGet, "/providers", nil, &infos)
	return infos, err
}

// Healthz issues GET /healthz, returning nil only on a 2xx response.
func (c *Client) Healthz(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// StreamRun opens GET /run/{id}/stream and sends every decoded frame to
// the returned channel until ctx is cancelled or the server closes the
// connection. The channel is closed when streaming ends; onErr, if
// non-nil, is called only when streaming ends with an error, and is not
// called on a clean close.
func (c *Client) StreamRun(ctx context.Context, runID string, onErr func(error)) (<-chan Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/run/"+runID+"/stream", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET /run/%s/stream: %w", runID, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, &apiError{status: resp.StatusCode, body: string(body)}
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var dataLines []string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "data: "):
				dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
			case line == "" && len(dataLines) > 0:
				var ev Event
				if err := json.Unmarshal([]byte(strings.Join(dataLines, "\n")), &ev); err == nil {
					select {
					case out <- ev:
					case <-ctx.Done():
						if onErr != nil {
							onErr(ctx.Err())
						}
						return
					}
				}
				dataLines = nil
			}
		}
		if err := scanner.Err(); err != nil && onErr != nil {
			onErr(err)
		}
	}()
	return out, nil
}
