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

func TestBlockingEngine_CompletesWhenMarkerObserved(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/session" && r.Method == http.MethodPost:
			fmt.Fprint(w, `{"sessionId":"sess-1"}`)
		case r.URL.Path == "/session/sess-1/message":
			calls++
			if calls < 2 {
				fmt.Fprint(w, `{"text":"still working on it"}`)
				return
			}
			body, _ := io.ReadAll(r.Body)
			var chat struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(body, &chat)
			marker := regexp.MustCompile(`<promise>DONE_[a-z0-9]{8}</promise>`).FindString(chat.Message)
			fmt.Fprintf(w, `{"text":"all set\n%s"}`, marker)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	bus := events.New(nil)
	cfg := Config{
		RunID: "run-1", Provider: "prov",
		Agent: agentclient.New(srv.URL), Bus: bus,
		PromptTemplate: "iteration {{.Iteration}}, marker {{.Marker}}",
		MaxIterations:  5,
	}
	engine := NewBlockingEngine(cfg)

	outcome, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("got outcome %q, want %q", outcome, OutcomeCompleted)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 chat calls before completion, got %d", calls)
	}

	history := bus.History("run-1")
	var sawCompletion bool
	for _, ev := range history {
		if ev.Kind == events.KindRalphComplete {
			sawCompletion = true
		}
	}
	if !sawCompletion {
		t.Fatal("expected a completion event in the run's history")
	}
}

func TestBlockingEngine_ExhaustsIterationsWithoutMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/session" && r.Method == http.MethodPost:
			fmt.Fprint(w, `{"sessionId":"sess-1"}`)
		case r.URL.Path == "/session/sess-1/message":
			fmt.Fprint(w, `{"text":"nope, still not done"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := Config{
		RunID: "run-2", Provider: "prov",
		Agent: agentclient.New(srv.URL), Bus: events.New(nil),
		PromptTemplate: "go",
		MaxIterations:  3,
	}
	outcome, err := NewBlockingEngine(cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if outcome != OutcomeMaxIterations {
		t.Fatalf("got outcome %q, want %q", outcome, OutcomeMaxIterations)
	}
}

func TestBlockingEngine_AbortsOnContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sessionId":"sess-1"}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{
		RunID: "run-3", Provider: "prov",
		Agent: agentclient.New(srv.URL), Bus: events.New(nil),
		PromptTemplate: "go", MaxIterations: 5,
		SessionRetryDelay: time.Millisecond,
	}
	outcome, err := NewBlockingEngine(cfg).Run(ctx)
	if outcome != OutcomeAborted && err == nil {
		t.Fatalf("expected an aborted outcome or error for a cancelled context, got outcome=%q err=%v", outcome, err)
	}
}
