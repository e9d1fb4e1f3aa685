// Package agentclient implements the Agent Client component of the Run
// Coordinator.
//
// # Core Components
//
// Client: talks HTTP to one running agent server instance - health,
// createSession, chat (blocking), sendMessageAsync + subscribeEvents (the
// async/SSE pair the SSE-driven Iteration Engine variant uses).
//
// Subscription: wraps the SSE connection opened by SubscribeEvents,
// scanning `data:` frames with a bufio.Reader and translating each JSON
// payload into zero (for transport noise), one, or - when a message.updated
// releases text parts queued for that message - several events.AgentEvent.
// Malformed frames are retried once through a JSON-repair pass before being
// dropped, so one truncated chunk from the agent server does not abort an
// entire iteration.
//
// # Session Filtering
//
// Every translated event whose payload carries a sessionID field is
// compared against the session the Subscription was opened for; a mismatch
// means another concurrent session's output reached this connection, and
// it is silently discarded rather than surfaced to the Iteration Engine.
package agentclient
