package iteration

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/google/uuid"

	"github.com/ralphctl/coordinator/internal/agentclient"
	"github.com/ralphctl/coordinator/internal/events"
	"github.com/ralphctl/coordinator/pkg/logging"
)

const engineSubsystem = "Iteration"

// Outcome reports how an Iteration Engine run ended.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completion_marker"
	OutcomeMaxIterations Outcome = "max_iterations"
	OutcomeIdleTimeout   Outcome = "idle_timeout"
	OutcomeAborted       Outcome = "aborted"
	OutcomeError         Outcome = "error"
)

// Config parameterizes either Iteration Engine variant.
type Config struct {
	RunID    string
	Provider string

	Agent *agentclient.Client
	Bus   *events.Bus

	// PromptTemplate is rendered with text/template + sprig once per
	// iteration to build the message sent to the agent. It receives a
	// promptData value with fields Iteration (1-based) and Marker (the
	// completion marker the agent must emit when finished).
	PromptTemplate string

	MaxIterations     int
	IdleTimeout       time.Duration
	SessionRetryDelay time.Duration
}

type promptData struct {
	Iteration int
	Marker    string
}

// Engine is the contract both Iteration Engine variants satisfy.
type Engine interface {
	// Run drives iterations to completion, idle timeout, or ctx
	// cancellation, returning how the run ended.
	Run(ctx context.Context) (Outcome, error)
}

func buildPrompt(tmplSrc string, data promptData) (string, error) {
	tmpl, err := template.New("prompt").Funcs(sprig.TxtFuncMap()).Parse(tmplSrc)
	if err != nil {
		return "", fmt.Errorf("parsing prompt template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering prompt template: %w", err)
	}
	return buf.String(), nil
}

// newMarkerSuffix returns a fresh 8-character lowercase alphanumeric
// suffix for one run's completion marker, derived from a UUID so
// collisions across concurrent runs are vanishingly unlikely without
// needing a global counter.
func newMarkerSuffix() string {
	id := uuid.NewString()
	compact := make([]byte, 0, 8)
	for _, r := range id {
		if len(compact) == 8 {
			break
		}
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') {
			compact = append(compact, byte(r))
		}
	}
	for len(compact) < 8 {
		compact = append(compact, '0')
	}
	return string(compact)
}

func (c *Config) emit(kind events.Kind, data any) {
	c.Bus.Publish(events.AgentEvent{RunID: c.RunID, Provider: c.Provider, Kind: kind, Data: data})
}

func (c *Config) logf(format string, args ...any) {
	logging.Debug(engineSubsystem, "[%s/%s] "+format, append([]any{c.RunID, c.Provider}, args...)...)
}

// createSessionWithRetry creates an agent session, retrying exactly once
// after SessionRetryDelay through scheduleOnce so the wait is cancellable
// by ctx rather than a bare time.Sleep. Shared by both Engine variants.
func (c *Config) createSessionWithRetry(ctx context.Context) (string, error) {
	sessionID, err := c.Agent.CreateSession(ctx)
	if err == nil {
		return sessionID, nil
	}

	delay := c.SessionRetryDelay
	if delay <= 0 {
		delay = 3 * time.Second
	}
	c.logf("session create failed (%v), retrying once after %s", err, delay)

	type result struct {
		id  string
		err error
	}
	resultCh := make(chan result, 1)
	scheduleOnce(ctx, delay, func() {
		id, retryErr := c.Agent.CreateSession(ctx)
		resultCh <- result{id, retryErr}
	})

	select {
	case r := <-resultCh:
		if r.err != nil {
			return "", fmt.Errorf("session create failed after retry: %w", r.err)
		}
		return r.id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
