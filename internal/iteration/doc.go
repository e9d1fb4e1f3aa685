// Package iteration implements the Iteration Engine: it drives repeated
// prompt/response rounds against one provider's agent server until a
// completion marker is observed, an idle timeout elapses, or the run is
// aborted. Two variants share the Config/Engine contract in engine.go:
// the blocking-chat engine (one synchronous request/response per round,
// BlockingEngine) and the SSE-driven engine (default, SSEEngine), which
// sends a message asynchronously and watches the agent server's event
// stream for the response and completion signal.
package iteration
