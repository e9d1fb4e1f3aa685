package iteration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ralphctl/coordinator/internal/events"
)

// interIterationDelay is the brief pause between chat rounds when no
// completion marker was observed, giving a fast-responding agent server
// room to settle rather than hammering it back-to-back.
const interIterationDelay = 250 * time.Millisecond

// maxIterationWallClock bounds how long a single iteration's chat call is
// allowed to run as part of the engine's global budget: maxIterations times
// this is the hard ceiling on the whole run, a backstop against a chat call
// that never returns.
const maxIterationWallClock = 180 * time.Second

// errIterationBudgetExceeded distinguishes the global wall-clock budget
// expiring from an external abort (stopRun, process shutdown) when both
// surface as the same ctx cancelling.
var errIterationBudgetExceeded = errors.New("global iteration budget exceeded")

// BlockingEngine drives iterations with one synchronous chat request per
// round: send the prompt, wait for the full response, check it for a
// completion marker, repeat. Simpler and more portable than the SSE
// variant, at the cost of not surfacing intermediate tool-call/streaming
// activity as separate events - the whole response arrives as one
// thought event per round.
type BlockingEngine struct {
	cfg Config
}

// NewBlockingEngine returns a BlockingEngine for cfg.
func NewBlockingEngine(cfg Config) *BlockingEngine {
	return &BlockingEngine{cfg: cfg}
}

func (e *BlockingEngine) Run(ctx context.Context) (Outcome, error) {
	sessionID, err := e.cfg.createSessionWithRetry(ctx)
	if err != nil {
		e.cfg.emit(events.KindError, events.ErrorData{Kind: "session_create_failed", Message: err.Error()})
		return OutcomeError, err
	}

	maxIterations := e.cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 1
	}

	// Global wall-clock backstop: maxIterations x 180s for the whole run,
	// not per chat call, so a server that answers slowly but keeps making
	// progress isn't cut off mid-iteration.
	budget := time.Duration(maxIterations) * maxIterationWallClock
	ctx, cancel := context.WithTimeoutCause(ctx, budget, errIterationBudgetExceeded)
	defer cancel()

	// The completion marker is generated once per run, not per iteration -
	// see the matching comment in SSEEngine.Run.
	suffix := newMarkerSuffix()
	marker := NewExpectedMarker(suffix)

	for i := 1; i <= maxIterations; i++ {
		select {
		case <-ctx.Done():
			return e.contextOutcome(ctx)
		default:
		}

		prompt, err := buildPrompt(e.cfg.PromptTemplate, promptData{Iteration: i, Marker: marker})
		if err != nil {
			return OutcomeError, err
		}

		e.cfg.emit(events.KindRalphIteration, events.IterationData{Index: i, MaxIterations: maxIterations})
		e.cfg.logf("sending iteration %d prompt (session %s)", i, sessionID)

		reply, err := e.cfg.Agent.Chat(ctx, sessionID, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return e.contextOutcome(ctx)
			}
			e.cfg.emit(events.KindError, events.ErrorData{Kind: "chat_failed", Message: err.Error()})
			return OutcomeError, fmt.Errorf("iteration %d chat failed: %w", i, err)
		}

		e.cfg.emit(events.KindThought, events.AgentMessageData{Role: "assistant", Text: reply, Final: true})

		if found, ok := DetectMarker(suffix, reply); ok {
			e.cfg.emit(events.KindRalphComplete, events.CompletionData{Marker: found, Reason: string(OutcomeCompleted)})
			e.cfg.emit(events.KindIterationEnd, events.IterationData{Index: i, Note: "completed"})
			return OutcomeCompleted, nil
		}

		e.cfg.emit(events.KindIterationEnd, events.IterationData{Index: i, Note: "no marker observed"})

		if i < maxIterations {
			select {
			case <-time.After(interIterationDelay):
			case <-ctx.Done():
				return e.contextOutcome(ctx)
			}
		}
	}

	e.cfg.emit(events.KindRalphComplete, events.CompletionData{Reason: string(OutcomeMaxIterations)})
	return OutcomeMaxIterations, nil
}

// contextOutcome reports why ctx ended: the global iteration budget
// expiring is a terminal error distinct from an external abort (stopRun,
// process shutdown), even though both cancel the same context.
func (e *BlockingEngine) contextOutcome(ctx context.Context) (Outcome, error) {
	if errors.Is(context.Cause(ctx), errIterationBudgetExceeded) {
		e.cfg.emit(events.KindError, events.ErrorData{Kind: "iteration_timeout", Message: errIterationBudgetExceeded.Error()})
		return OutcomeError, errIterationBudgetExceeded
	}
	return OutcomeAborted, ctx.Err()
}
