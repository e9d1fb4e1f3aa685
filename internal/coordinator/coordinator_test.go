package coordinator

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

	"github.com/ralphctl/coordinator/internal/driver"
	"github.com/ralphctl/coordinator/internal/events"
	"github.com/ralphctl/coordinator/internal/persistence"
)

// promptMarker finds the completion marker the Iteration Engine embeds in
// each prompt, so the fake agent can echo it back.
var promptMarker = regexp.MustCompile(`<promise>DONE_[a-z0-9]{8}</promise>`)

// fakeAgentServer is a minimal stand-in for a real agent server: it
// accepts session creation and a blocking chat call that immediately
// returns a completion marker, so the Iteration Engine finishes in one
// round without any real sandbox or agent runtime involved.
func fakeAgentServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/health":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/session" && r.Method == http.MethodPost:
			fmt.Fprint(w, `{"sessionId":"sess-1"}`)
		case r.URL.Path == "/session/sess-1/message":
			body, _ := io.ReadAll(r.Body)
			var chat struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(body, &chat)
			fmt.Fprintf(w, `{"text":"done\n%s"}`, promptMarker.FindString(chat.Message))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// pinnedURLDriver wraps MockDriver so GetProcessURLs resolves to a fixed
// URL (the fake agent server) instead of MockDriver's hardcoded default,
// letting each test point a provider at its own httptest server.
type pinnedURLDriver struct {
	*driver.MockDriver
	url string
}

func (p *pinnedURLDriver) GetProcessURLs(ctx context.Context, sandboxID string) ([]driver.ProcessURL, error) {
	return []driver.ProcessURL{{Port: 4096, URL: p.url}}, nil
}

func newTestCoordinator(t *testing.T, providerURLs map[string]string) (*Coordinator, *events.Bus) {
	t.Helper()
	gw := driver.NewGateway(driver.GatewayConfig{})
	for provider, url := range providerURLs {
		gw.Register(provider, &pinnedURLDriver{MockDriver: driver.NewMockDriver(), url: url})
	}

	bus := events.New(nil)
	c := New(Config{
		Gateway:                gw,
		Bus:                    bus,
		AgentRuntimeInstallCmd: []string{"npm", "install", "-g", "@opencode/cli"},
		AgentServerStartCmd:    []string{"opencode", "serve"},
		AgentServerPort:        4096,
		PromptTemplate:         "go. marker: {{.Marker}}",
	})
	return c, bus
}

func waitForTerminal(t *testing.T, c *Coordinator, runID string, timeout time.Duration) Run {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		run, err := c.GetRun(runID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.Status != RunRunning {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not reach a terminal status within %s", runID, timeout)
	return Run{}
}

func TestStartRun_HappyPathBothProvidersComplete(t *testing.T) {
	srvA := fakeAgentServer(t)
	srvB := fakeAgentServer(t)
	c, _ := newTestCoordinator(t, map[string]string{"modal": srvA.URL, "docker": srvB.URL})

	useSSE := false
	result, err := c.StartRun(context.Background(), StartRunRequest{
		RepoURL: "octocat/Hello-World", Task: "echo hi",
		Providers: []string{"modal", "docker"},
		Config:    RunConfig{MaxIterations: 1, UseSSE: &useSSE},
	})
	if err != nil {
		t.Fatalf("StartRun returned error: %v", err)
	}
	if len(result.Providers) != 2 {
		t.Fatalf("expected 2 provider results, got %d", len(result.Providers))
	}
	for _, pr := range result.Providers {
		if !pr.Success {
			t.Fatalf("provider %s: expected preparation success, got error %q", pr.Provider, pr.Error)
		}
	}

	run := waitForTerminal(t, c, result.RunID, 5*time.Second)
	if run.Status != RunCompleted {
		t.Fatalf("got run status %q, want %q", run.Status, RunCompleted)
	}
	for _, p := range []string{"modal", "docker"} {
		if run.States[p].Status != ProviderCompleted {
			t.Fatalf("provider %s: got status %q, want %q", p, run.States[p].Status, ProviderCompleted)
		}
	}
}

func TestStartRun_PartialFailureStillCompletesRun(t *testing.T) {
	srvB := fakeAgentServer(t)
	c, _ := newTestCoordinator(t, map[string]string{"broken": "http://127.0.0.1:1", "docker": srvB.URL})

	useSSE := false
	result, err := c.StartRun(context.Background(), StartRunRequest{
		RepoURL: "octocat/Hello-World", Task: "echo hi",
		Providers: []string{"broken", "docker"},
		Config:    RunConfig{MaxIterations: 1, UseSSE: &useSSE},
	})
	if err != nil {
		t.Fatalf("StartRun returned error: %v", err)
	}

	var brokenResult, dockerResult *ProviderResult
	for i := range result.Providers {
		switch result.Providers[i].Provider {
		case "broken":
			brokenResult = &result.Providers[i]
		case "docker":
			dockerResult = &result.Providers[i]
		}
	}
	if brokenResult == nil || brokenResult.Success {
		t.Fatalf("expected the broken provider's preparation to fail, got %+v", brokenResult)
	}
	if dockerResult == nil || !dockerResult.Success {
		t.Fatalf("expected the docker provider's preparation to succeed, got %+v", dockerResult)
	}

	run := waitForTerminal(t, c, result.RunID, 5*time.Second)
	if run.Status != RunCompleted {
		t.Fatalf("got run status %q, want %q (one provider succeeded)", run.Status, RunCompleted)
	}
	if run.States["broken"].Status != ProviderFailed {
		t.Fatalf("broken provider: got status %q, want %q", run.States["broken"].Status, ProviderFailed)
	}
}

func TestStartRun_ValidationRejectsEmptyProviders(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	_, err := c.StartRun(context.Background(), StartRunRequest{RepoURL: "a/b", Task: "x"})
	if err == nil {
		t.Fatal("expected a validation error for an empty provider list")
	}
	coordErr, ok := err.(*CoordinatorError)
	if !ok {
		t.Fatalf("expected a *CoordinatorError, got %T: %v", err, err)
	}
	if coordErr.Kind != ErrKindValidation {
		t.Fatalf("got error kind %q, want %q", coordErr.Kind, ErrKindValidation)
	}
}

func TestStopRun_DestroysSandboxesAndMarksTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/health":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/session" && r.Method == http.MethodPost:
			fmt.Fprint(w, `{"sessionId":"sess-1"}`)
		case r.URL.Path == "/session/sess-1/message":
			// Never completes on its own - the test calls StopRun while
			// this provider is still iterating.
			fmt.Fprint(w, `{"text":"still working"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, bus := newTestCoordinator(t, map[string]string{"docker": srv.URL})

	useSSE := false
	result, err := c.StartRun(context.Background(), StartRunRequest{
		RepoURL: "octocat/Hello-World", Task: "echo hi",
		Providers: []string{"docker"},
		Config:    RunConfig{MaxIterations: 1000, UseSSE: &useSSE},
	})
	if err != nil {
		t.Fatalf("StartRun returned error: %v", err)
	}

	// Give the iteration fiber a moment to actually start looping.
	time.Sleep(50 * time.Millisecond)

	stopResult, err := c.StopRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("StopRun returned error: %v", err)
	}
	if !stopResult.Success {
		t.Fatal("expected StopRun to report success")
	}
	for _, pr := range stopResult.Providers {
		if !pr.Success {
			t.Fatalf("provider %s: expected destroy success, got error %q", pr.Provider, pr.Error)
		}
	}

	run := waitForTerminal(t, c, result.RunID, 2*time.Second)
	if run.Status == RunRunning {
		t.Fatal("expected a terminal run status after StopRun")
	}

	var sawFinalProviderStatus bool
	for _, ev := range bus.History(result.RunID) {
		if ev.Kind == events.KindProviderStatus {
			sawFinalProviderStatus = true
		}
	}
	if !sawFinalProviderStatus {
		t.Fatal("expected at least one provider_status event in history")
	}
}

func TestStartRun_PersistsSandboxRalphAndEvents(t *testing.T) {
	srv := fakeAgentServer(t)
	gw := driver.NewGateway(driver.GatewayConfig{})
	gw.Register("docker", &pinnedURLDriver{MockDriver: driver.NewMockDriver(), url: srv.URL})

	store, err := persistence.Open("")
	if err != nil {
		t.Fatalf("persistence.Open: %v", err)
	}
	defer store.Close()

	bus := events.New(nil)
	c := New(Config{
		Gateway:                gw,
		Bus:                    bus,
		Persistence:            store,
		AgentRuntimeInstallCmd: []string{"npm", "install", "-g", "@opencode/cli"},
		AgentServerStartCmd:    []string{"opencode", "serve"},
		AgentServerPort:        4096,
		PromptTemplate:         "go. marker: {{.Marker}}",
	})

	useSSE := false
	result, err := c.StartRun(context.Background(), StartRunRequest{
		RepoURL: "octocat/Hello-World", Task: "echo hi",
		Providers: []string{"docker"}, UserID: "user-1",
		Config: RunConfig{MaxIterations: 1, UseSSE: &useSSE},
	})
	if err != nil {
		t.Fatalf("StartRun returned error: %v", err)
	}

	run := waitForTerminal(t, c, result.RunID, 5*time.Second)
	if run.Status != RunCompleted {
		t.Fatalf("got run status %q, want %q", run.Status, RunCompleted)
	}

	var sandboxCount int
	row := store.DB().QueryRow(`SELECT COUNT(*) FROM sandboxes WHERE user_id = 'user-1'`)
	if err := row.Scan(&sandboxCount); err != nil {
		t.Fatalf("query sandboxes: %v", err)
	}
	if sandboxCount != 1 {
		t.Fatalf("got %d sandbox rows, want 1", sandboxCount)
	}

	var ralphStatus string
	row = store.DB().QueryRow(`SELECT status FROM ralphs WHERE user_id = 'user-1'`)
	if err := row.Scan(&ralphStatus); err != nil {
		t.Fatalf("query ralphs: %v", err)
	}
	if ralphStatus != string(ProviderCompleted) {
		t.Fatalf("got ralph status %q, want %q", ralphStatus, ProviderCompleted)
	}

	var eventCount int
	row = store.DB().QueryRow(`SELECT COUNT(*) FROM agent_events`)
	if err := row.Scan(&eventCount); err != nil {
		t.Fatalf("query agent_events: %v", err)
	}
	if eventCount == 0 {
		t.Fatal("expected at least one persisted agent event")
	}
}

func TestGetRun_UnknownRunIDReturnsNotFound(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	_, err := c.GetRun("does-not-exist")
	if err != ErrRunNotFound {
		t.Fatalf("got %v, want ErrRunNotFound", err)
	}
}
