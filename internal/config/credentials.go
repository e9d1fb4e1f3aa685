package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/ralphctl/coordinator/pkg/logging"
)

const credentialsSubsystem = "Config"

// Credentials holds the secrets the Preparation Pipeline injects into a
// provider's sandbox environment. Every field is optional: a provider that
// needs none of them (the mock driver, a self-hosted agent image with
// baked-in auth) simply sees an empty map for its prefix.
type Credentials struct {
	GitHubToken     string `env:"RALPHCTL_GITHUB_TOKEN"`
	AnthropicAPIKey string `env:"RALPHCTL_ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `env:"RALPHCTL_OPENAI_API_KEY"`
	DockerHost      string `env:"RALPHCTL_DOCKER_HOST"`
}

// Load reads an optional .env file (if present, never an error otherwise)
// and then decodes Credentials from the process environment. Credentials
// is deliberately tolerant of missing values: a sandbox driver that
// doesn't need a given key simply never sees it set.
func Load(envFile string) (Credentials, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		logging.Warn(credentialsSubsystem, "failed to load %s: %v", envFile, err)
	}

	var creds Credentials
	if err := envdecode.Decode(&creds); err != nil {
		// envdecode errors when none of its tagged fields are present in
		// the environment; that just means every credential is unset,
		// which is a valid (if agentless) configuration, not a failure.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return Credentials{}, fmt.Errorf("decode credentials from environment: %w", err)
		}
	}
	return creds, nil
}

// Env renders the credentials a provider's sandbox should receive as the
// flat environment map the Preparation Pipeline passes down through
// pipeline.Spec.Env / driver.CreateSpec.Env. Only non-empty values are
// included so a driver never sees an explicit empty override.
func (c Credentials) Env(provider string) map[string]string {
	out := make(map[string]string, 4)
	if c.AnthropicAPIKey != "" {
		out["ANTHROPIC_API_KEY"] = c.AnthropicAPIKey
	}
	if c.OpenAIAPIKey != "" {
		out["OPENAI_API_KEY"] = c.OpenAIAPIKey
	}
	if c.GitHubToken != "" {
		out["GITHUB_TOKEN"] = c.GitHubToken
	}
	if provider == "docker" && c.DockerHost != "" {
		out["DOCKER_HOST"] = c.DockerHost
	}

	logging.Audit(logging.AuditEvent{
		Action:  "credential_resolution",
		Outcome: "success",
		Target:  provider,
		Details: fmt.Sprintf("%d credential(s) resolved", len(out)),
	})
	return out
}
