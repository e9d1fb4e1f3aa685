package cmd

import (
	"os"

	"github.com/ralphctl/coordinator/internal/cliclient"
)

// newClient builds a Control API client from the --endpoint flag, falling
// back to RALPHCTL_ENDPOINT and finally cliclient.DefaultEndpoint.
func newClient() *cliclient.Client {
	addr := endpoint
	if addr == "" {
		addr = os.Getenv(cliclient.EndpointEnvVar)
	}
	return cliclient.New(addr)
}
