package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ralphctl/coordinator/internal/agentclient"
	"github.com/ralphctl/coordinator/internal/config"
	"github.com/ralphctl/coordinator/internal/driver"
	"github.com/ralphctl/coordinator/internal/events"
	"github.com/ralphctl/coordinator/internal/iteration"
	"github.com/ralphctl/coordinator/internal/metrics"
	"github.com/ralphctl/coordinator/internal/pipeline"
	"github.com/ralphctl/coordinator/pkg/logging"
)

const coordinatorSubsystem = "Coordinator"

// defaultPromptTemplate is used when Config.PromptTemplate is unset.
const defaultPromptTemplate = `Task: {{.Iteration}}

{{if eq .Iteration 1}}Begin working on the task described in prompt.md.{{else}}Continue the task. Review what you've done so far and keep going.{{end}}

When the task is completely finished, and only then, output the following on its own line and nothing else on that line:
{{.Marker}}

Do not mention or format that marker anywhere except as your genuine final output - never inside an example, a code block, or a quote.`

// Config parameterizes a Coordinator for the process it runs in.
type Config struct {
	Gateway     *driver.Gateway
	Bus         *events.Bus
	Persistence Persistence // optional; nil is a valid no-op

	// ProviderImages resolves a provider tag to the default sandbox base
	// image the Preparation Pipeline should request for it. A nil
	// resolver is valid: no image is requested and each driver uses its
	// own default image. *config.ProviderTable implements this with hot-reload
	// support; StaticImages wraps a plain map for tests and simple
	// deployments.
	ProviderImages ProviderImageResolver

	// Credentials supplies the per-provider secrets injected into each
	// sandbox's environment. The zero value is valid and injects nothing.
	Credentials config.Credentials

	AgentRuntimeInstallCmd []string
	AgentServerStartCmd    []string
	AgentServerPort        int
	PromptTemplate         string
}

// ProviderImageResolver resolves a provider tag to its default sandbox
// base image, returning "" when it has no opinion for that provider.
type ProviderImageResolver interface {
	Image(provider string) string
}

// StaticImages adapts a plain map to ProviderImageResolver.
type StaticImages map[string]string

func (s StaticImages) Image(provider string) string { return s[provider] }

// runEntry bundles a Run with the bookkeeping the Coordinator needs that
// must never be visible to callers of GetRun: per-provider cancellation
// and a lock serializing writes to the Run and its ProviderRunStates.
type runEntry struct {
	mu      sync.RWMutex
	run     *Run
	cancels map[string]context.CancelFunc
	done    map[string]chan struct{}
}

// Coordinator owns the process-wide runs registry. It is the sole writer
// of every Run and ProviderRunState it manages; this state is never held
// at package scope, only in a Coordinator value the caller constructs and
// injects into the server/CLI layers.
type Coordinator struct {
	cfg Config

	mu   sync.RWMutex
	runs map[string]*runEntry
}

// New constructs a Coordinator. cfg.Gateway and cfg.Bus must be non-nil.
func New(cfg Config) *Coordinator {
	return &Coordinator{
		cfg:  cfg,
		runs: make(map[string]*runEntry),
	}
}

func newRunID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString())
}

// StartRun validates req, allocates a Run, and launches one Preparation
// Pipeline per requested provider concurrently via errgroup (bounded to
// one goroutine per provider, no cancellation of siblings on a single
// provider's failure - partial failure is a first-class outcome). It
// returns once every provider's pipeline has finished (succeeded or
// failed); the Iteration Engine for providers that succeeded keeps
// running asynchronously after StartRun returns.
func (c *Coordinator) StartRun(ctx context.Context, req StartRunRequest) (StartRunResult, error) {
	if req.RepoURL == "" {
		return StartRunResult{}, newError(ErrKindValidation, "", fmt.Errorf("repoUrl is required"))
	}
	if req.Task == "" {
		return StartRunResult{}, newError(ErrKindValidation, "", fmt.Errorf("task is required"))
	}
	if len(req.Providers) == 0 {
		return StartRunResult{}, newError(ErrKindValidation, "", fmt.Errorf("at least one provider is required"))
	}
	if _, err := pipeline.ParseRepoURL(req.RepoURL); err != nil {
		return StartRunResult{}, newError(ErrKindValidation, "", fmt.Errorf("invalid repoUrl: %w", err))
	}

	branch := req.Branch
	if branch == "" {
		branch = "main"
	}

	run := &Run{
		ID:        newRunID(),
		RepoURL:   req.RepoURL,
		Branch:    branch,
		Task:      req.Task,
		Providers: append([]string(nil), req.Providers...),
		States:    make(map[string]*ProviderRunState, len(req.Providers)),
		Status:    RunRunning,
		StartedAt: time.Now(),
		UserID:    req.UserID,
		Labels:    req.Labels,
	}
	for _, p := range req.Providers {
		run.States[p] = &ProviderRunState{Provider: p, Status: ProviderIdle, UpdatedAt: run.StartedAt}
	}

	entry := &runEntry{run: run, cancels: make(map[string]context.CancelFunc), done: make(map[string]chan struct{})}
	c.mu.Lock()
	c.runs[run.ID] = entry
	c.mu.Unlock()
	metrics.RecordRunStarted()

	c.cfg.Bus.Publish(events.AgentEvent{RunID: run.ID, Kind: events.KindRunStatus, Data: events.RunStatusData{Status: string(RunRunning)}})

	results := make([]ProviderResult, len(req.Providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, provider := range req.Providers {
		i, provider := i, provider
		g.Go(func() error {
			results[i] = c.runProvider(gctx, entry, provider, req.Config)
			return nil
		})
	}
	_ = g.Wait() // per-provider errors are captured in results, never aborts siblings

	c.recomputeStatus(entry)

	return StartRunResult{RunID: run.ID, Providers: results}, nil
}

// runProvider drives one provider's Preparation Pipeline to completion,
// then (on success) hands off to the Iteration Engine in its own
// goroutine so StartRun can return as soon as preparation is done for
// every provider rather than waiting for iteration to finish too.
func (c *Coordinator) runProvider(ctx context.Context, entry *runEntry, provider string, cfg RunConfig) ProviderResult {
	runID := entry.run.ID

	providerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	entry.mu.Lock()
	entry.cancels[provider] = cancel
	entry.done[provider] = done
	entry.mu.Unlock()

	go c.persistProviderEvents(entry, provider, done)

	var image string
	if c.cfg.ProviderImages != nil {
		image = c.cfg.ProviderImages.Image(provider)
	}

	p := &pipeline.Pipeline{
		Gateway:                c.cfg.Gateway,
		Bus:                    c.cfg.Bus,
		AgentRuntimeInstallCmd: c.cfg.AgentRuntimeInstallCmd,
		AgentServerStartCmd:    c.cfg.AgentServerStartCmd,
		AgentServerPort:        c.cfg.AgentServerPort,
	}

	c.setProviderStatus(entry, provider, ProviderCloning, "")

	result, err := p.Run(ctx, pipeline.Spec{
		RunID: runID, Provider: provider, Image: image,
		RepoURL: entry.run.RepoURL, GitRef: entry.run.Branch, Labels: entry.run.Labels,
		Env: c.cfg.Credentials.Env(provider),
	})

	entry.mu.Lock()
	state := entry.run.States[provider]
	state.SandboxID = result.SandboxID
	state.AgentURL = result.AgentURL
	state.StepHistory = result.StepHistory
	entry.mu.Unlock()

	if err != nil {
		close(done)
		c.setProviderStatus(entry, provider, ProviderFailed, err.Error())
		logging.Error(coordinatorSubsystem, "run %s provider %s preparation failed: %v", runID, provider, err)
		return ProviderResult{Provider: provider, SandboxID: result.SandboxID, Success: false, Error: err.Error()}
	}

	if c.cfg.Persistence != nil {
		dbSandboxID, perr := c.cfg.Persistence.CreateSandbox(ctx, entry.run.UserID, result.SandboxID, provider, entry.run.RepoURL)
		if perr != nil {
			logging.Warn(coordinatorSubsystem, "persistence CreateSandbox for run %s provider %s failed: %v", runID, provider, perr)
		} else {
			entry.mu.Lock()
			state.dbSandboxID = dbSandboxID
			entry.mu.Unlock()
			if aerr := c.cfg.Persistence.AttachURL(ctx, dbSandboxID, result.AgentURL); aerr != nil {
				logging.Warn(coordinatorSubsystem, "persistence AttachURL for run %s provider %s failed: %v", runID, provider, aerr)
			}
		}
	}

	c.setProviderStatus(entry, provider, ProviderInstalling, "")

	agent := agentclient.New(result.AgentURL)
	if healthErr := agent.Health(ctx); healthErr != nil {
		close(done)
		wrapped := newError(ErrKindAgentUnhealthy, provider, healthErr)
		c.setProviderStatus(entry, provider, ProviderFailed, wrapped.Error())
		c.cfg.Bus.Publish(events.AgentEvent{RunID: runID, Provider: provider, Kind: events.KindError,
			Data: events.ErrorData{Kind: string(ErrKindAgentUnhealthy), Message: healthErr.Error()}})
		return ProviderResult{Provider: provider, SandboxID: result.SandboxID, Success: false, Error: wrapped.Error()}
	}

	c.cfg.Bus.Publish(events.AgentEvent{RunID: runID, Provider: provider, Kind: events.KindOpencodeReady,
		Data: events.AgentReadyData{URL: result.AgentURL}})

	if c.cfg.Persistence != nil {
		entry.mu.RLock()
		dbSandboxID := state.dbSandboxID
		entry.mu.RUnlock()
		if dbSandboxID != "" {
			dbRalphID, perr := c.cfg.Persistence.CreateRalph(ctx, entry.run.UserID, dbSandboxID, entry.run.Task)
			if perr != nil {
				logging.Warn(coordinatorSubsystem, "persistence CreateRalph for run %s provider %s failed: %v", runID, provider, perr)
			} else {
				entry.mu.Lock()
				state.dbRalphID = dbRalphID
				entry.mu.Unlock()
			}
		}
	}

	c.setProviderStatus(entry, provider, ProviderRunning, "")

	go c.runIteration(providerCtx, entry, provider, agent, cfg, done)

	return ProviderResult{Provider: provider, SandboxID: result.SandboxID, Success: true}
}

// runIteration drives the Iteration Engine for one already-prepared
// provider and records its outcome once it terminates. It runs in its own
// goroutine, independent of StartRun's return.
func (c *Coordinator) runIteration(ctx context.Context, entry *runEntry, provider string, agent *agentclient.Client, cfg RunConfig, done chan struct{}) {
	defer close(done)

	promptTemplate := c.cfg.PromptTemplate
	if promptTemplate == "" {
		promptTemplate = defaultPromptTemplate
	}

	engineCfg := iteration.Config{
		RunID: entry.run.ID, Provider: provider,
		Agent: agent, Bus: c.cfg.Bus,
		PromptTemplate: promptTemplate,
		MaxIterations:  cfg.maxIterations(),
		IdleTimeout:    cfg.idleTimeout(),
	}

	var engine iteration.Engine
	if cfg.useSSE() {
		engine = iteration.NewSSEEngine(engineCfg)
	} else {
		engine = iteration.NewBlockingEngine(engineCfg)
	}

	outcome, err := engine.Run(ctx)

	status := ProviderCompleted
	note := string(outcome)
	if err != nil || outcome == iteration.OutcomeError || outcome == iteration.OutcomeAborted {
		status = ProviderFailed
		if err != nil {
			note = err.Error()
		}
	}

	entry.mu.Lock()
	state := entry.run.States[provider]
	state.CompletionNote = note
	entry.mu.Unlock()

	c.setProviderStatus(entry, provider, status, note)

	if c.cfg.Persistence != nil {
		entry.mu.RLock()
		dbRalphID := state.dbRalphID
		iterations := state.IterationCount
		entry.mu.RUnlock()
		if dbRalphID != "" {
			persistErr := c.cfg.Persistence.UpdateRalphStatus(context.Background(), dbRalphID, string(status), &iterations)
			if persistErr != nil {
				logging.Warn(coordinatorSubsystem, "persistence update for run %s provider %s failed: %v", entry.run.ID, provider, persistErr)
			}
		}
	}
}

// persistProviderEvents tallies completed iterations into the provider's
// ProviderRunState, records each iteration's wall-clock duration, and -
// when Persistence is configured - forwards every event published for
// provider to AddAgentEvent. It runs until done closes. Events published
// before CreateRalph has recorded a dbRalphID for this provider are
// dropped rather than queued - best-effort.
func (c *Coordinator) persistProviderEvents(entry *runEntry, provider string, done <-chan struct{}) {
	sub := c.cfg.Bus.Subscribe(entry.run.ID)
	defer sub.Unsubscribe()

	var iterationStarted time.Time

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Provider != provider {
				continue
			}
			switch ev.Kind {
			case events.KindRalphIteration:
				iterationStarted = ev.Timestamp
			case events.KindIterationEnd:
				// The SSE engine republishes the agent's own idle signal as
				// an unnumbered iteration_end before emitting its numbered
				// one; only numbered ends close a round.
				if d, ok := ev.Data.(events.IterationData); ok && d.Index == 0 {
					break
				}
				entry.mu.Lock()
				entry.run.States[provider].IterationCount++
				entry.mu.Unlock()
				if !iterationStarted.IsZero() {
					metrics.RecordIterationDuration(provider, ev.Timestamp.Sub(iterationStarted))
					iterationStarted = time.Time{}
				}
			}
			if c.cfg.Persistence == nil {
				continue
			}
			entry.mu.RLock()
			dbRalphID := entry.run.States[provider].dbRalphID
			entry.mu.RUnlock()
			if dbRalphID == "" {
				continue
			}
			if err := c.cfg.Persistence.AddAgentEvent(context.Background(), dbRalphID, string(ev.Kind), ev.Data); err != nil {
				logging.Warn(coordinatorSubsystem, "persistence AddAgentEvent for run %s provider %s failed: %v", entry.run.ID, provider, err)
			}
		}
	}
}

func (c *Coordinator) setProviderStatus(entry *runEntry, provider string, status ProviderStatus, reason string) {
	entry.mu.Lock()
	state := entry.run.States[provider]
	state.Status = status
	state.UpdatedAt = time.Now()
	if reason != "" {
		state.Error = reason
	}
	entry.mu.Unlock()

	c.cfg.Bus.Publish(events.AgentEvent{
		RunID: entry.run.ID, Provider: provider, Kind: events.KindProviderStatus,
		Data: events.ProviderStatusData{Status: string(status), Reason: reason},
	})

	c.recomputeStatus(entry)
}

// emitProviderStatusEvent re-publishes provider's current status without
// mutating it, used by StopRun to guarantee a final status event per
// provider even when that provider had already reached a terminal state
// before stop was requested.
func (c *Coordinator) emitProviderStatusEvent(entry *runEntry, provider string) {
	entry.mu.RLock()
	state := entry.run.States[provider]
	status, reason := state.Status, state.Error
	entry.mu.RUnlock()

	c.cfg.Bus.Publish(events.AgentEvent{
		RunID: entry.run.ID, Provider: provider, Kind: events.KindProviderStatus,
		Data: events.ProviderStatusData{Status: string(status), Reason: reason},
	})
}

// recomputeStatus derives the Run's aggregate status from its per-provider
// states: running if any state is non-terminal, else completed if at
// least one succeeded, else failed.
func (c *Coordinator) recomputeStatus(entry *runEntry) {
	entry.mu.Lock()
	anyNonTerminal := false
	anySucceeded := false
	for _, s := range entry.run.States {
		if !s.Status.Terminal() {
			anyNonTerminal = true
		}
		if s.Status == ProviderCompleted {
			anySucceeded = true
		}
	}
	prev := entry.run.Status
	var next RunStatus
	switch {
	case anyNonTerminal:
		next = RunRunning
	case anySucceeded:
		next = RunCompleted
	default:
		next = RunFailed
	}
	entry.run.Status = next
	if next != RunRunning && entry.run.EndedAt.IsZero() {
		entry.run.EndedAt = time.Now()
	}
	entry.mu.Unlock()

	if next != prev {
		c.cfg.Bus.Publish(events.AgentEvent{RunID: entry.run.ID, Kind: events.KindRunStatus, Data: events.RunStatusData{Status: string(next)}})
		if next != RunRunning {
			metrics.RecordRunFinished(string(next))
		}
	}
}

// GetRun returns a point-in-time snapshot of runID's state.
func (c *Coordinator) GetRun(runID string) (Run, error) {
	c.mu.RLock()
	entry, ok := c.runs[runID]
	c.mu.RUnlock()
	if !ok {
		return Run{}, ErrRunNotFound
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.run.snapshot(), nil
}

// ListRuns returns a point-in-time snapshot of every run the Coordinator
// currently holds in memory, terminal or not. Callers that only want
// non-terminal runs (the janitor) filter on Run.Status themselves.
func (c *Coordinator) ListRuns() []Run {
	c.mu.RLock()
	entries := make([]*runEntry, 0, len(c.runs))
	for _, entry := range c.runs {
		entries = append(entries, entry)
	}
	c.mu.RUnlock()

	runs := make([]Run, len(entries))
	for i, entry := range entries {
		entry.mu.RLock()
		runs[i] = entry.run.snapshot()
		entry.mu.RUnlock()
	}
	return runs
}

// StreamRun subscribes to runID's event bus, returning the subscriber the
// caller uses for replay-then-live delivery (the stream front-end in
// internal/server calls this first, then History, and skips live events
// the replay already covered - see events.Bus.Subscribe's contract).
func (c *Coordinator) StreamRun(runID string) (*events.Subscriber, error) {
	c.mu.RLock()
	_, ok := c.runs[runID]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrRunNotFound
	}
	return c.cfg.Bus.Subscribe(runID), nil
}

// History returns the replay portion of runID's event stream.
func (c *Coordinator) History(runID string) ([]events.AgentEvent, error) {
	c.mu.RLock()
	_, ok := c.runs[runID]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrRunNotFound
	}
	return c.cfg.Bus.History(runID), nil
}

// Providers reports every provider tag the Driver Gateway holds a
// configured driver for.
func (c *Coordinator) Providers() []string {
	return c.cfg.Gateway.Providers()
}

// StopRun cancels every provider's iteration fiber, waits for cancellation
// to settle, then destroys every per-provider sandbox concurrently and
// marks the run terminal. Every call issues Destroy for each provider
// that has a sandbox, including when the run is already terminal or was
// stopped before; a provider already in a terminal state keeps its status.
func (c *Coordinator) StopRun(ctx context.Context, runID string) (StopResult, error) {
	c.mu.RLock()
	entry, ok := c.runs[runID]
	c.mu.RUnlock()
	if !ok {
		return StopResult{}, ErrRunNotFound
	}

	entry.mu.RLock()
	providers := append([]string(nil), entry.run.Providers...)
	cancels := make(map[string]context.CancelFunc, len(entry.cancels))
	for p, cancel := range entry.cancels {
		cancels[p] = cancel
	}
	dones := make(map[string]chan struct{}, len(entry.done))
	for p, ch := range entry.done {
		dones[p] = ch
	}
	entry.mu.RUnlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, ch := range dones {
		select {
		case <-ch:
		case <-time.After(10 * time.Second):
		}
	}

	results := make([]ProviderResult, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, provider := range providers {
		i, provider := i, provider
		g.Go(func() error {
			entry.mu.RLock()
			state := entry.run.States[provider]
			sandboxID := state.SandboxID
			alreadyTerminal := state.Status.Terminal()
			entry.mu.RUnlock()

			if sandboxID == "" {
				if alreadyTerminal {
					c.emitProviderStatusEvent(entry, provider)
				} else {
					c.setProviderStatus(entry, provider, ProviderFailed, "stopped before a sandbox was created")
				}
				results[i] = ProviderResult{Provider: provider, Success: true}
				return nil
			}

			if err := c.cfg.Gateway.Destroy(gctx, provider, sandboxID); err != nil {
				if !alreadyTerminal {
					c.setProviderStatus(entry, provider, ProviderFailed, "stop: destroy failed: "+err.Error())
				}
				results[i] = ProviderResult{Provider: provider, SandboxID: sandboxID, Success: false, Error: err.Error()}
				return nil
			}

			// A provider that had already reached a terminal state (it
			// completed or failed on its own) keeps that status - stop
			// only destroys its now-idle sandbox and re-emits a final
			// status event. A provider that was still running is
			// force-terminated here.
			if alreadyTerminal {
				c.emitProviderStatusEvent(entry, provider)
			} else {
				c.setProviderStatus(entry, provider, ProviderFailed, "stopped")
			}
			results[i] = ProviderResult{Provider: provider, SandboxID: sandboxID, Success: true}
			return nil
		})
	}
	_ = g.Wait()

	c.recomputeStatus(entry)
	return StopResult{Success: true, Providers: results}, nil
}
