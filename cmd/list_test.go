package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestListCommandListsStartedRuns(t *testing.T) {
	newTestControlAPI(t)
	runID := startTestRun(t)

	var out bytes.Buffer
	listCmd.SetOut(&out)
	defer listCmd.SetOut(nil)

	if err := runList(listCmd, nil); err != nil {
		t.Fatalf("runList: %v", err)
	}

	output := out.String()
	if !strings.Contains(output, runID) {
		t.Errorf("expected output to list run %q, got %q", runID, output)
	}
}

func TestListCommandEmptyWhenNoRuns(t *testing.T) {
	newTestControlAPI(t)

	var out bytes.Buffer
	listCmd.SetOut(&out)
	defer listCmd.SetOut(nil)

	if err := runList(listCmd, nil); err != nil {
		t.Fatalf("runList: %v", err)
	}
}
