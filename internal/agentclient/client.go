// Package agentclient implements the Agent Client: an HTTP client for the
// agent server's health/createSession/chat endpoints plus an SSE-based
// event subscription that translates the agent server's wire events into
// events.AgentEvent. The agent server's own protocol internals are out of
// scope beyond this interface; this package only speaks its HTTP+SSE
// surface.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ralphctl/coordinator/pkg/logging"
)

const clientSubsystem = "Agent"

// Client talks to one running agent server instance over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client for the agent server reachable at baseURL (e.g. the
// URL the Preparation Pipeline resolved for a sandbox's agent process).
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Health reports whether the agent server is reachable and ready.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent health check returned %d", resp.StatusCode)
	}
	return nil
}

// CreateSessionResponse is the agent server's response to createSession.
type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// CreateSession asks the agent server to start a new session and returns
// its session ID.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	logging.Debug(clientSubsystem, "requesting new session from %s", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("createSession request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("createSession returned %d: %s", resp.StatusCode, string(body))
	}

	var out CreateSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding createSession response: %w", err)
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("agent server returned empty session id")
	}
	logging.Debug(clientSubsystem, "created session %s", logging.TruncateSessionID(out.SessionID))
	return out.SessionID, nil
}

// chatRequest is the body sent to POST /session/{id}/message.
type chatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the agent server's synchronous reply (blocking variant).
type ChatResponse struct {
	Text string `json:"text"`
}

// Chat sends a message to sessionID and blocks until the agent server
// returns its full response. Used by the blocking-chat Iteration Engine
// variant; the SSE variant instead uses SendMessageAsync + SubscribeEvents.
func (c *Client) Chat(ctx context.Context, sessionID, message string) (string, error) {
	body, err := json.Marshal(chatRequest{Message: message})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/session/%s/message", c.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	return out.Text, nil
}

// SendMessageAsync submits a message to sessionID without waiting for a
// reply; the response arrives as events over SubscribeEvents. Used by the
// SSE-driven Iteration Engine variant.
func (c *Client) SendMessageAsync(ctx context.Context, sessionID, message string) error {
	body, err := json.Marshal(chatRequest{Message: message})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/session/%s/message/async", c.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("async chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("async chat returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// openEventStream opens the agent server's SSE endpoint and returns the
// raw response body for the caller to scan. The caller owns closing it.
func (c *Client) openEventStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening agent event stream failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("agent event stream returned %d", resp.StatusCode)
	}
	return resp.Body, nil
}
