package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestStopCommandStopsARun(t *testing.T) {
	newTestControlAPI(t)
	runID := startTestRun(t)

	var out bytes.Buffer
	stopCmd.SetOut(&out)
	defer stopCmd.SetOut(nil)

	if err := runStop(stopCmd, []string{runID}); err != nil {
		t.Fatalf("runStop: %v", err)
	}
	if !strings.Contains(out.String(), runID) {
		t.Errorf("expected output to mention run id %q, got %q", runID, out.String())
	}
}

func TestStopCommandWrapsNotFound(t *testing.T) {
	newTestControlAPI(t)

	var out bytes.Buffer
	stopCmd.SetOut(&out)
	defer stopCmd.SetOut(nil)

	err := runStop(stopCmd, []string{"does-not-exist"})
	if err == nil {
		t.Fatal("expected an error for an unknown run id")
	}
	if _, ok := err.(*notFoundError); !ok {
		t.Errorf("expected *notFoundError, got %T: %v", err, err)
	}
}
