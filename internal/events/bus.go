package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/ralphctl/coordinator/internal/metrics"
	"github.com/ralphctl/coordinator/pkg/logging"
)

const busSubsystem = "EventBus"

// subscriberBuffer is the channel depth given to every subscriber. It mirrors
// the orchestrator's state-change channel sizing: large enough to absorb a
// burst without the publisher blocking, small enough that a truly stuck
// subscriber is detected (and dropped from) quickly.
const subscriberBuffer = 256

// Subscriber receives a live copy of every event published for a run after
// the point it subscribed. It never sees events published before Subscribe
// returned; callers that also want history should Subscribe first, then
// call History.
type Subscriber struct {
	ch   chan AgentEvent
	bus  *Bus
	runID string
}

// Events returns the channel this subscriber receives events on. The channel
// is closed when Unsubscribe is called or the run is removed from the bus.
func (s *Subscriber) Events() <-chan AgentEvent {
	return s.ch
}

// Unsubscribe detaches this subscriber from the bus and closes its channel.
func (s *Subscriber) Unsubscribe() {
	s.bus.unsubscribe(s.runID, s)
}

type runLog struct {
	mu          sync.RWMutex
	history     []AgentEvent
	subscribers map[*Subscriber]struct{}
	nextSeq     int
}

// Bus is the process-wide Event Bus. One Bus instance is owned by the
// Coordinator; per-run state lives in an internal map keyed by run ID.
type Bus struct {
	mu   sync.RWMutex
	runs map[string]*runLog

	// persist, when set, is invoked asynchronously after every published
	// event that is not a ping. Errors are logged and otherwise ignored:
	// persistence failures must never affect delivery to live subscribers.
	persist func(AgentEvent)
}

// New creates an empty Event Bus. persist may be nil.
func New(persist func(AgentEvent)) *Bus {
	return &Bus{
		runs:    make(map[string]*runLog),
		persist: persist,
	}
}

func (b *Bus) logFor(runID string) *runLog {
	b.mu.RLock()
	rl, ok := b.runs[runID]
	b.mu.RUnlock()
	if ok {
		return rl
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if rl, ok = b.runs[runID]; ok {
		return rl
	}
	rl = &runLog{subscribers: make(map[*Subscriber]struct{})}
	b.runs[runID] = rl
	return rl
}

// Publish appends event to the run's history (unless it is a ping) and
// fans it out to every current subscriber without blocking on any of them.
// Publish is synchronous with respect to history append and subscriber
// notification, and asynchronous with respect to persistence. Callers
// need not set ID or Timestamp - Publish stamps both (ID unique within
// the run, monotonically increasing in publish order) if left zero.
func (b *Bus) Publish(event AgentEvent) {
	metrics.RecordEventPublished(string(event.Kind))

	rl := b.logFor(event.RunID)

	rl.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		rl.nextSeq++
		event.ID = fmt.Sprintf("%s-%d", event.RunID, rl.nextSeq)
	}
	if event.Kind != KindPing {
		rl.history = append(rl.history, event)
	}
	subs := make([]*Subscriber, 0, len(rl.subscribers))
	for s := range rl.subscribers {
		subs = append(subs, s)
	}
	rl.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- event:
		default:
			logging.Debug(busSubsystem, "subscriber for run %s is slow, dropping event kind=%s", event.RunID, event.Kind)
		}
	}

	if event.Kind != KindPing && b.persist != nil {
		go b.persist(event)
	}
}

// History returns a snapshot of every non-ping event published for runID so
// far, in publish order.
func (b *Bus) History(runID string) []AgentEvent {
	rl := b.logFor(runID)
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	out := make([]AgentEvent, len(rl.history))
	copy(out, rl.history)
	return out
}

// Subscribe registers a new subscriber for runID and returns it. The
// subscriber only observes events published after this call returns;
// callers wanting replay-then-live-tail semantics should Subscribe first
// and then snapshot History. An event published in between shows up in
// both, and the consumer drops the live copy by event ID (as the SSE front
// end does). The reverse order loses every event published between the
// two calls.
func (b *Bus) Subscribe(runID string) *Subscriber {
	rl := b.logFor(runID)
	sub := &Subscriber{ch: make(chan AgentEvent, subscriberBuffer), bus: b, runID: runID}

	rl.mu.Lock()
	rl.subscribers[sub] = struct{}{}
	rl.mu.Unlock()
	metrics.IncActiveSubscribers()

	return sub
}

func (b *Bus) unsubscribe(runID string, sub *Subscriber) {
	b.mu.RLock()
	rl, ok := b.runs[runID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	rl.mu.Lock()
	_, present := rl.subscribers[sub]
	if present {
		delete(rl.subscribers, sub)
		close(sub.ch)
	}
	rl.mu.Unlock()
	if present {
		metrics.DecActiveSubscribers()
	}
}

// Forget drops all history and subscribers for runID. Subscribers are
// closed first so no goroutine blocks reading from a channel that will
// never receive again. Nothing in this module calls Forget: the janitor
// and StopRun leave a run's history on the bus, so replay stays available
// for the life of the process.
func (b *Bus) Forget(runID string) {
	b.mu.Lock()
	rl, ok := b.runs[runID]
	if ok {
		delete(b.runs, runID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	rl.mu.Lock()
	n := len(rl.subscribers)
	for s := range rl.subscribers {
		close(s.ch)
	}
	rl.subscribers = nil
	rl.mu.Unlock()
	for i := 0; i < n; i++ {
		metrics.DecActiveSubscribers()
	}
}
