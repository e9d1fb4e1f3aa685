package iteration

import (
	"context"
	"fmt"
	"time"

	"github.com/ralphctl/coordinator/internal/agentclient"
	"github.com/ralphctl/coordinator/internal/events"
)

// SSEEngine drives iterations by sending each prompt asynchronously and
// watching the agent server's translated event stream for the response
// and completion signal, rather than blocking on one request/response
// pair. This is the default Iteration Engine variant: it surfaces
// intermediate tool-call/tool-result/reasoning activity as it happens
// instead of only a final message per round, and it can detect an idle
// agent server (no events at all) independently of whether any individual
// chat call would have returned.
type SSEEngine struct {
	cfg Config
}

// NewSSEEngine returns an SSEEngine for cfg.
func NewSSEEngine(cfg Config) *SSEEngine {
	return &SSEEngine{cfg: cfg}
}

func (e *SSEEngine) Run(ctx context.Context) (Outcome, error) {
	sessionID, err := e.cfg.createSessionWithRetry(ctx)
	if err != nil {
		e.cfg.emit(events.KindError, events.ErrorData{Kind: "session_create_failed", Message: err.Error()})
		return OutcomeError, err
	}

	sub, err := e.cfg.Agent.SubscribeEvents(ctx, sessionID)
	if err != nil {
		e.cfg.emit(events.KindError, events.ErrorData{Kind: "subscribe_failed", Message: err.Error()})
		return OutcomeError, fmt.Errorf("subscribing to agent events: %w", err)
	}
	defer sub.Close()

	idleTimeout := e.cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 2 * time.Minute
	}

	maxIterations := e.cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 1
	}

	// The completion marker is generated once per run, not per iteration:
	// it is the agent's standing instruction for the whole task, and
	// regenerating it every iteration would mean a marker emitted in
	// response to iteration 1's prompt could never match iteration 2's
	// expectation.
	suffix := newMarkerSuffix()
	marker := NewExpectedMarker(suffix)

	for i := 1; i <= maxIterations; i++ {
		select {
		case <-ctx.Done():
			return OutcomeAborted, ctx.Err()
		default:
		}

		prompt, err := buildPrompt(e.cfg.PromptTemplate, promptData{Iteration: i, Marker: marker})
		if err != nil {
			return OutcomeError, err
		}

		e.cfg.emit(events.KindRalphIteration, events.IterationData{Index: i, MaxIterations: maxIterations})
		e.cfg.logf("sending iteration %d prompt (session %s)", i, sessionID)

		if err := e.cfg.Agent.SendMessageAsync(ctx, sessionID, prompt); err != nil {
			e.cfg.emit(events.KindError, events.ErrorData{Kind: "send_failed", Message: err.Error()})
			return OutcomeError, fmt.Errorf("iteration %d send failed: %w", i, err)
		}

		outcome, done, err := e.waitForRound(ctx, sub, idleTimeout, i, suffix)
		if done {
			return outcome, err
		}
	}

	e.cfg.emit(events.KindRalphComplete, events.CompletionData{Reason: string(OutcomeMaxIterations)})
	return OutcomeMaxIterations, nil
}

// waitForRound consumes translated events until either a completion
// marker is observed in accumulated assistant text, the agent server
// signals it has gone idle without a marker (round ends, loop continues
// to the next iteration), the event stream goes quiet for idleTimeout, or
// ctx is cancelled. done reports whether Run should return immediately
// with (outcome, err); when done is false the caller proceeds to the next
// iteration.
func (e *SSEEngine) waitForRound(ctx context.Context, sub *agentclient.Subscription, idleTimeout time.Duration, iteration int, markerSuffix string) (Outcome, bool, error) {
	var accumulated string
	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return OutcomeAborted, true, ctx.Err()

		case <-idle.C:
			e.cfg.emit(events.KindRalphComplete, events.CompletionData{Reason: string(OutcomeIdleTimeout)})
			return OutcomeIdleTimeout, true, nil

		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					e.cfg.emit(events.KindError, events.ErrorData{Kind: "stream_closed", Message: err.Error()})
					return OutcomeError, true, err
				}
				e.cfg.emit(events.KindRalphComplete, events.CompletionData{Reason: string(OutcomeIdleTimeout)})
				return OutcomeIdleTimeout, true, nil
			}

			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(idleTimeout)

			ev.RunID = e.cfg.RunID
			ev.Provider = e.cfg.Provider
			e.cfg.Bus.Publish(ev)

			switch data := ev.Data.(type) {
			case events.AgentMessageData:
				if data.Text != "" {
					accumulated = data.Text
				} else if data.Delta != "" {
					accumulated += data.Delta
				}
				if found, ok := DetectMarker(markerSuffix, accumulated); ok {
					e.cfg.emit(events.KindRalphComplete, events.CompletionData{Marker: found, Reason: string(OutcomeCompleted)})
					e.cfg.emit(events.KindIterationEnd, events.IterationData{Index: iteration, Note: "completed"})
					return OutcomeCompleted, true, nil
				}

			case events.IterationData:
				if data.Note == "idle" {
					e.cfg.emit(events.KindIterationEnd, events.IterationData{Index: iteration, Note: "no marker observed"})
					return OutcomeIdleTimeout, false, nil
				}

			case events.ErrorData:
				return OutcomeError, true, fmt.Errorf("agent reported error: %s", data.Message)
			}
		}
	}
}
