package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/ralphctl/coordinator/internal/cliclient"
)

func startTestRun(t *testing.T) string {
	t.Helper()

	result, err := newClient().StartRun(context.Background(), cliclient.StartRunRequest{
		RepoURL:   "octocat/Hello-World",
		Task:      "echo hi",
		Providers: []string{"docker"},
		UserID:    "user-1",
		Config:    &cliclient.RunConfig{MaxIterations: 1},
	})
	if err != nil {
		t.Fatalf("starting run: %v", err)
	}
	return result.RunID
}

func TestGetCommandPrintsRunStatus(t *testing.T) {
	newTestControlAPI(t)
	runID := startTestRun(t)

	var out bytes.Buffer
	getCmd.SetOut(&out)
	defer getCmd.SetOut(nil)

	if err := runGet(getCmd, []string{runID}); err != nil {
		t.Fatalf("runGet: %v", err)
	}

	output := out.String()
	if !strings.Contains(output, runID) {
		t.Errorf("expected output to mention run id %q, got %q", runID, output)
	}
	if !strings.Contains(output, "docker") {
		t.Errorf("expected output to mention the docker provider, got %q", output)
	}
}

func TestGetCommandWrapsNotFoundAsNotFoundError(t *testing.T) {
	newTestControlAPI(t)

	var out bytes.Buffer
	getCmd.SetOut(&out)
	defer getCmd.SetOut(nil)

	err := runGet(getCmd, []string{"does-not-exist"})
	if err == nil {
		t.Fatal("expected an error for an unknown run id")
	}
	if _, ok := err.(*notFoundError); !ok {
		t.Errorf("expected *notFoundError, got %T: %v", err, err)
	}
}
