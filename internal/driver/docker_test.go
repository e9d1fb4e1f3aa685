package driver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	execCommandContext = mockExecCommandContext
}

func mockExecCommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	cs := []string{"-test.run=TestDockerHelperProcess", "--", name}
	cs = append(cs, args...)
	cmd := exec.CommandContext(ctx, os.Args[0], cs...)
	cmd.Env = []string{"GO_WANT_DOCKER_HELPER=1"}
	return cmd
}

// TestDockerHelperProcess is not a real test; it is exec'd as a subprocess
// by mockExecCommandContext to stand in for the docker CLI.
func TestDockerHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_DOCKER_HELPER") != "1" {
		return
	}

	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) == 0 {
		os.Exit(2)
	}
	cmd, args := args[0], args[1:]
	if cmd != "docker" {
		fmt.Fprintf(os.Stderr, "unexpected command: %s\n", cmd)
		os.Exit(1)
	}
	if len(args) == 0 {
		os.Exit(1)
	}

	switch args[0] {
	case "run":
		fmt.Println("abc123def456")
		os.Exit(0)
	case "rm":
		os.Exit(0)
	case "inspect":
		fmt.Println("true")
		os.Exit(0)
	case "exec":
		fmt.Println("ok")
		os.Exit(0)
	case "port":
		fmt.Println("8080/tcp -> 0.0.0.0:32768")
		os.Exit(0)
	default:
		os.Exit(1)
	}
}

func TestDockerDriver_CreateDestroy(t *testing.T) {
	d := &DockerDriver{image: "ghcr.io/example/agent:latest"}

	sb, err := d.Create(context.Background(), CreateSpec{RunID: "run-1", Provider: "docker"})
	require.NoError(t, err)
	assert.Equal(t, "abc123def456", sb.ID)
	assert.Equal(t, "running", sb.Status)

	assert.NoError(t, d.Destroy(context.Background(), sb.ID))
}

func TestDockerDriver_Status(t *testing.T) {
	d := &DockerDriver{image: "x"}
	sb, err := d.Status(context.Background(), "abc123def456")
	require.NoError(t, err)
	assert.Equal(t, "running", sb.Status)
}

func TestDockerDriver_GetProcessURLs(t *testing.T) {
	d := &DockerDriver{image: "x"}
	urls, err := d.GetProcessURLs(context.Background(), "abc123def456")
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.Equal(t, 8080, urls[0].Port)
	assert.Equal(t, "http://127.0.0.1:32768", urls[0].URL)
}

func TestDockerDriver_RunCodeUnsupported(t *testing.T) {
	d := &DockerDriver{image: "x"}
	_, err := d.RunCode(context.Background(), "abc123def456", "python", "print(1)")
	var capErr *CapabilityUnsupported
	assert.ErrorAs(t, err, &capErr)
}
