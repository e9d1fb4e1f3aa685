package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestVersionCommandReachable(t *testing.T) {
	newTestControlAPI(t)

	SetVersion("1.2.3-test")
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.SetContext(context.Background())
	defer versionCmd.SetOut(nil)

	versionCmd.Run(versionCmd, nil)

	output := out.String()
	if !strings.Contains(output, "1.2.3-test") {
		t.Errorf("expected output to contain the version, got %q", output)
	}
	if !strings.Contains(output, "reachable") {
		t.Errorf("expected output to report the coordinator as reachable, got %q", output)
	}
}

func TestVersionCommandUnreachable(t *testing.T) {
	endpoint = "http://127.0.0.1:1"
	defer func() { endpoint = "" }()

	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.SetContext(context.Background())
	defer versionCmd.SetOut(nil)

	versionCmd.Run(versionCmd, nil)

	if !strings.Contains(out.String(), "unreachable") {
		t.Errorf("expected output to report the coordinator as unreachable, got %q", out.String())
	}
}
