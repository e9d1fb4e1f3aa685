package agentclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"

	"github.com/ralphctl/coordinator/internal/events"
	"github.com/ralphctl/coordinator/pkg/logging"
)

// Subscription is a live translation of one agent server's SSE event
// stream into events.AgentEvent, filtered to a single session. Callers
// range over Events() until it closes (stream ended or ctx cancelled) and
// check Err() afterward.
type Subscription struct {
	events chan events.AgentEvent
	cancel context.CancelFunc
	errCh  chan error
	roles  *messageRoles
}

// messageRoles tracks each message's role as message.updated events
// arrive, so message.part.updated text parts - which carry no role of
// their own - can be attributed correctly. Parts that arrive before
// their message's role is known are queued and released (or discarded)
// once the role resolves, per the session protocol's documented
// ordering: "parts may arrive before the message role is known".
type messageRoles struct {
	role   map[string]string
	queued map[string][]queuedText
}

type queuedText struct {
	text string
	ts   time.Time
}

func newMessageRoles() *messageRoles {
	return &messageRoles{
		role:   make(map[string]string),
		queued: make(map[string][]queuedText),
	}
}

// resolve records messageID's role and releases any parts that were
// queued while it was unknown. Parts belonging to a non-assistant
// message (e.g. the user echo of the prompt) are discarded rather than
// surfaced, so they can never be mistaken for the agent's own output.
func (m *messageRoles) resolve(messageID, role string) []events.AgentEvent {
	m.role[messageID] = role
	queued := m.queued[messageID]
	delete(m.queued, messageID)

	if role != "assistant" {
		return nil
	}
	out := make([]events.AgentEvent, 0, len(queued))
	for _, q := range queued {
		out = append(out, events.AgentEvent{Kind: events.KindThought, Timestamp: q.ts, Data: events.AgentMessageData{
			Role: role,
			Text: q.text,
		}})
	}
	return out
}

// text handles one message.part.updated text part: emitted immediately
// if messageID's role is already known to be assistant, discarded
// immediately if known to be anything else, or queued until resolve is
// called for messageID.
func (m *messageRoles) text(messageID, text string, ts time.Time) []events.AgentEvent {
	role, known := m.role[messageID]
	if !known {
		m.queued[messageID] = append(m.queued[messageID], queuedText{text: text, ts: ts})
		return nil
	}
	if role != "assistant" {
		return nil
	}
	return []events.AgentEvent{{Kind: events.KindThought, Timestamp: ts, Data: events.AgentMessageData{
		Role: role,
		Text: text,
	}}}
}

// Events returns the channel of translated events for this subscription.
func (s *Subscription) Events() <-chan events.AgentEvent { return s.events }

// Err returns the terminal error, if the stream ended abnormally. Only
// meaningful after Events() has been drained/closed.
func (s *Subscription) Err() error {
	select {
	case err := <-s.errCh:
		return err
	default:
		return nil
	}
}

// Close stops reading the event stream and releases its connection.
func (s *Subscription) Close() { s.cancel() }

// SubscribeEvents opens the agent server's SSE endpoint and streams
// translated events for sessionID until ctx is cancelled or the
// connection ends. Events for any other session ID are discarded, per the
// session-filtering discipline shared with the Iteration Engine.
func (c *Client) SubscribeEvents(ctx context.Context, sessionID string) (*Subscription, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	body, err := c.openEventStream(streamCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	sub := &Subscription{
		events: make(chan events.AgentEvent, 256),
		cancel: cancel,
		errCh:  make(chan error, 1),
		roles:  newMessageRoles(),
	}

	go sub.pump(streamCtx, body, sessionID)

	return sub, nil
}

func (s *Subscription) pump(ctx context.Context, body io.ReadCloser, sessionID string) {
	defer close(s.events)
	defer body.Close()

	reader := bufio.NewReader(body)
	var dataLines []string

	flush := func() {
		if len(dataLines) == 0 {
			return
		}
		payload := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]

		for _, ev := range translate(s.roles, payload, sessionID) {
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}

	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		switch {
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data:"))
		case line == "":
			flush()
		}

		if err != nil {
			flush()
			if err != io.EOF {
				select {
				case s.errCh <- fmt.Errorf("reading agent event stream: %w", err):
				default:
				}
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// translate turns one agent-server SSE `data:` payload into zero or more
// events.AgentEvent. It returns nothing for payloads that carry no useful
// information for the Iteration Engine (transport noise, events belonging
// to a different session), and it can return more than one event when a
// message.updated resolves a message's role and releases text parts that
// had been queued waiting for it.
func translate(roles *messageRoles, payload, sessionID string) []events.AgentEvent {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}

	raw := gjson.Parse(payload)
	if !gjson.Valid(payload) || !raw.IsObject() {
		repaired, err := jsonrepair.JSONRepair(payload)
		if err != nil {
			logging.Debug(sseSubsystem, "dropping unparsable agent event payload: %v", err)
			return nil
		}
		raw = gjson.Parse(repaired)
		if !raw.IsObject() {
			return nil
		}
	}

	eventType := raw.Get("type").String()
	if sid := raw.Get("sessionID").String(); sid != "" && sid != sessionID {
		return nil
	}

	now := time.Now()

	switch {
	case eventType == "server.connected", eventType == "server.heartbeat", eventType == "session.idle":
		return nil

	case eventType == "message.updated":
		messageID := raw.Get("properties.info.id").String()
		role := raw.Get("properties.info.role").String()
		if messageID == "" || role == "" {
			return nil
		}
		return roles.resolve(messageID, role)

	case eventType == "message.part.updated":
		return translatePartUpdated(roles, raw, now)

	case eventType == "session.status":
		statusType := raw.Get("properties.status.type").String()
		if statusType == "idle" {
			return []events.AgentEvent{{Kind: events.KindIterationEnd, Timestamp: now, Data: events.IterationData{Note: "idle"}}}
		}
		return []events.AgentEvent{{Kind: events.KindAgentSystem, Timestamp: now, Data: events.AgentSystemData{Subtype: statusType}}}

	case eventType == "session.error":
		return []events.AgentEvent{{Kind: events.KindError, Timestamp: now, Data: events.ErrorData{
			Kind:    "agent_error",
			Message: raw.Get("properties.message").String(),
		}}}

	case strings.HasSuffix(eventType, ".disposed"):
		return []events.AgentEvent{{Kind: events.KindComplete, Timestamp: now, Data: events.AgentSystemData{Subtype: eventType}}}

	default:
		return []events.AgentEvent{{Kind: events.KindAgentSystem, Timestamp: now, Data: events.AgentSystemData{Subtype: eventType}}}
	}
}

const sseSubsystem = "Agent.sse"

func translatePartUpdated(roles *messageRoles, raw gjson.Result, now time.Time) []events.AgentEvent {
	part := raw.Get("properties.part")
	partType := part.Get("type").String()

	switch partType {
	case "text":
		messageID := part.Get("messageID").String()
		return roles.text(messageID, part.Get("text").String(), now)

	case "tool-invocation":
		var args map[string]any
		if a := part.Get("args"); a.IsObject() {
			_ = json.Unmarshal([]byte(a.Raw), &args)
		}
		return []events.AgentEvent{{Kind: events.KindToolCall, Timestamp: now, Data: events.AgentToolCallData{
			ID:       part.Get("id").String(),
			ToolName: part.Get("toolName").String(),
			Args:     args,
		}}}

	case "tool-result":
		return []events.AgentEvent{{Kind: events.KindToolResult, Timestamp: now, Data: events.AgentToolResultData{
			ID:      part.Get("id").String(),
			Result:  part.Get("result").Value(),
			IsError: part.Get("isError").Bool(),
		}}}

	case "step-start", "step-finish", "reasoning":
		return []events.AgentEvent{{Kind: events.KindAgentSystem, Timestamp: now, Data: events.AgentSystemData{Subtype: partType}}}

	default:
		return nil
	}
}
