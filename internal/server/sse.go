package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ralphctl/coordinator/internal/coordinator"
	"github.com/ralphctl/coordinator/internal/events"
	"github.com/ralphctl/coordinator/pkg/logging"
)

// pingInterval is the keep-alive cadence for the event stream: a
// heartbeat every 30s, out-of-band, never stored in history.
const pingInterval = 30 * time.Second

// streamFrame is the wire shape of one record on GET /run/{id}/stream:
// {id, type, timestamp, provider, data}.
type streamFrame struct {
	ID        string      `json:"id,omitempty"`
	Type      events.Kind `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Provider  string      `json:"provider,omitempty"`
	Data      any         `json:"data,omitempty"`
}

// handleStreamRun serves a replay-then-live event stream for one run:
// history first (in publish order), then every subsequently published
// event, with a ping frame every pingInterval to keep intermediaries from
// closing an idle connection. It subscribes before taking the history
// snapshot and skips live events the replay already sent, so no event is
// lost or sent twice. The handler returns once the client disconnects,
// the run's subscription closes, or the run reaches a terminal status.
func (s *Server) handleStreamRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	sub, err := s.coord.StreamRun(runID)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	defer sub.Unsubscribe()
	history, err := s.coord.History(runID)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	replayed := make(map[string]bool, len(history))
	ended := false
	for _, ev := range history {
		replayed[ev.ID] = true
		ended = runEnded(ev, ended)
		if !writeFrame(w, ev) {
			return
		}
	}
	flusher.Flush()
	if ended {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if replayed[ev.ID] {
				continue
			}
			if !writeFrame(w, ev) {
				return
			}
			flusher.Flush()
			if runEnded(ev, false) {
				return
			}
		case <-ticker.C:
			if !writeFrame(w, events.AgentEvent{Kind: events.KindPing, Timestamp: time.Now()}) {
				return
			}
			flusher.Flush()
		}
	}
}

// runEnded reports whether ev is a run_status event with a terminal
// status; for any other kind of event it returns prev unchanged.
func runEnded(ev events.AgentEvent, prev bool) bool {
	if d, ok := ev.Data.(events.RunStatusData); ok && ev.Kind == events.KindRunStatus {
		return d.Status != string(coordinator.RunRunning)
	}
	return prev
}

// writeFrame writes one SSE record for ev and reports whether the write
// succeeded; a write failure means the client disconnected.
func writeFrame(w http.ResponseWriter, ev events.AgentEvent) bool {
	frame := streamFrame{ID: ev.ID, Type: ev.Kind, Timestamp: ev.Timestamp, Provider: ev.Provider, Data: ev.Data}
	payload, err := json.Marshal(frame)
	if err != nil {
		logging.Warn(serverSubsystem, "failed to marshal stream frame: %v", err)
		return true
	}
	if ev.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", ev.ID); err != nil {
			return false
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload); err != nil {
		return false
	}
	return true
}
