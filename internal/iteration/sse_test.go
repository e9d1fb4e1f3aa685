package iteration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/ralphctl/coordinator/internal/agentclient"
	"github.com/ralphctl/coordinator/internal/events"
)

var markerInPrompt = regexp.MustCompile(`<promise>DONE_[a-z0-9]{8}</promise>`)

func TestSSEEngine_CompletesOnMarkerInStream(t *testing.T) {
	markerSeen := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/session" && r.Method == http.MethodPost:
			fmt.Fprint(w, `{"sessionId":"sess-1"}`)
		case r.URL.Path == "/session/sess-1/message/async":
			body, _ := io.ReadAll(r.Body)
			var chat struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(body, &chat)
			markerSeen <- markerInPrompt.FindString(chat.Message)
			w.WriteHeader(http.StatusAccepted)
		case r.URL.Path == "/events":
			w.Header().Set("Content-Type", "text/event-stream")
			flusher := w.(http.Flusher)
			fmt.Fprintf(w, "data: %s\n\n", `{"type":"message.updated","sessionID":"sess-1","properties":{"info":{"id":"m1","role":"assistant"}}}`)
			flusher.Flush()
			fmt.Fprintf(w, "data: %s\n\n", `{"type":"message.part.updated","sessionID":"sess-1","properties":{"part":{"type":"text","messageID":"m1","text":"working..."}}}`)
			flusher.Flush()
			marker := <-markerSeen
			frame := fmt.Sprintf(`{"type":"message.part.updated","sessionID":"sess-1","properties":{"part":{"type":"text","messageID":"m1","text":"done now\n%s"}}}`, marker)
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
			time.Sleep(50 * time.Millisecond)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	bus := events.New(nil)
	cfg := Config{
		RunID: "run-1", Provider: "prov",
		Agent: agentclient.New(srv.URL), Bus: bus,
		PromptTemplate: "go {{.Marker}}", MaxIterations: 3,
		IdleTimeout: 2 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	outcome, err := NewSSEEngine(cfg).Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("got outcome %q, want %q", outcome, OutcomeCompleted)
	}

	var sawToolNoise, sawCompletion bool
	for _, ev := range bus.History("run-1") {
		switch ev.Kind {
		case events.KindThought:
			sawToolNoise = true
		case events.KindRalphComplete:
			sawCompletion = true
		}
	}
	if !sawToolNoise {
		t.Fatal("expected thought events to be republished onto the run's bus")
	}
	if !sawCompletion {
		t.Fatal("expected a completion event once the marker was observed")
	}
}

func TestSSEEngine_IdleTimeoutWhenStreamGoesQuiet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/session" && r.Method == http.MethodPost:
			fmt.Fprint(w, `{"sessionId":"sess-1"}`)
		case r.URL.Path == "/session/sess-1/message/async":
			w.WriteHeader(http.StatusAccepted)
		case r.URL.Path == "/events":
			w.Header().Set("Content-Type", "text/event-stream")
			time.Sleep(300 * time.Millisecond)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := Config{
		RunID: "run-2", Provider: "prov",
		Agent: agentclient.New(srv.URL), Bus: events.New(nil),
		PromptTemplate: "go", MaxIterations: 1,
		IdleTimeout: 50 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	outcome, err := NewSSEEngine(cfg).Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if outcome != OutcomeIdleTimeout {
		t.Fatalf("got outcome %q, want %q", outcome, OutcomeIdleTimeout)
	}
}
