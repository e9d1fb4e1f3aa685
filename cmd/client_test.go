package cmd

import (
	"testing"

	"github.com/ralphctl/coordinator/internal/cliclient"
)

func TestNewClientDefaultsWhenUnset(t *testing.T) {
	endpoint = ""
	t.Setenv(cliclient.EndpointEnvVar, "")

	c := newClient()
	if c.BaseURL != cliclient.DefaultEndpoint {
		t.Errorf("expected default endpoint %q, got %q", cliclient.DefaultEndpoint, c.BaseURL)
	}
}

func TestNewClientUsesEnvVar(t *testing.T) {
	endpoint = ""
	t.Setenv(cliclient.EndpointEnvVar, "http://coordinator.internal:9000")

	c := newClient()
	if c.BaseURL != "http://coordinator.internal:9000" {
		t.Errorf("expected env-provided endpoint, got %q", c.BaseURL)
	}
}

func TestNewClientFlagTakesPriority(t *testing.T) {
	endpoint = "http://flag-endpoint:1234"
	t.Setenv(cliclient.EndpointEnvVar, "http://env-endpoint:5678")
	defer func() { endpoint = "" }()

	c := newClient()
	if c.BaseURL != "http://flag-endpoint:1234" {
		t.Errorf("expected flag endpoint to win, got %q", c.BaseURL)
	}
}
