package cliclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_StartRunAndGetRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/run":
			var req StartRunRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "octocat/Hello-World", req.RepoURL)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(StartRunResult{RunID: "run-1", Providers: []ProviderResult{{Provider: "docker", Success: true}}})
		case r.Method == http.MethodGet && r.URL.Path == "/run/run-1":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(Run{ID: "run-1", Status: "running"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.StartRun(context.Background(), StartRunRequest{RepoURL: "octocat/Hello-World", Task: "echo hi", Providers: []string{"docker"}})
	require.NoError(t, err)
	assert.Equal(t, "run-1", result.RunID)

	run, err := c.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "running", run.Status)
}

func TestClient_GetRunNotFoundReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "run not found"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestClient_StreamRunDecodesSSEFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("event: runStatus\ndata: {\"type\":\"runStatus\",\"provider\":\"docker\"}\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := c.StreamRun(ctx, "run-1", nil)
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, "runStatus", ev.Type)
	assert.Equal(t, "docker", ev.Provider)
}
