package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ralphctl/coordinator/internal/config"
	"github.com/ralphctl/coordinator/internal/coordinator"
	"github.com/ralphctl/coordinator/internal/driver"
	"github.com/ralphctl/coordinator/internal/events"
	"github.com/ralphctl/coordinator/internal/iteration"
	"github.com/ralphctl/coordinator/internal/server"
)

// pinnedURLDriver wraps MockDriver so GetProcessURLs resolves to a fixed
// URL instead of MockDriver's hardcoded default.
type pinnedURLDriver struct {
	*driver.MockDriver
	url string
}

func (p *pinnedURLDriver) GetProcessURLs(ctx context.Context, sandboxID string) ([]driver.ProcessURL, error) {
	return []driver.ProcessURL{{Port: 4096, URL: p.url}}, nil
}

// newTestControlAPI spins up a real Control API (with an in-process fake
// agent server) and points the CLI's --endpoint flag at it, resetting it
// when the test ends.
func newTestControlAPI(t *testing.T) *httptest.Server {
	t.Helper()

	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/health":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/session" && r.Method == http.MethodPost:
			fmt.Fprint(w, `{"sessionId":"sess-1"}`)
		case r.URL.Path == "/session/sess-1/message":
			fmt.Fprintf(w, `{"text":"done\n%s"}`, iteration.NewExpectedMarker("abcdefgh"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(agent.Close)

	gw := driver.NewGateway(driver.GatewayConfig{})
	gw.Register("docker", &pinnedURLDriver{MockDriver: driver.NewMockDriver(), url: agent.URL})

	coord := coordinator.New(coordinator.Config{
		Gateway:                gw,
		Bus:                    events.New(nil),
		AgentRuntimeInstallCmd: []string{"npm", "install", "-g", "@opencode/cli"},
		AgentServerStartCmd:    []string{"opencode", "serve"},
		AgentServerPort:        4096,
		PromptTemplate:         "go. marker: {{.Marker}}",
	})

	srv := httptest.NewServer(server.New(coord, config.Credentials{AnthropicAPIKey: "sk-ant-test"}))
	t.Cleanup(srv.Close)

	oldEndpoint := endpoint
	endpoint = srv.URL
	t.Cleanup(func() { endpoint = oldEndpoint })

	return srv
}
