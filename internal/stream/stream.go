// Package stream publishes incremental turn output — text deltas, thinking
// deltas, and tool-call progress — to whatever transport is watching a
// session, decoupled from the Orchestrator's synchronous Respond call so a
// UI can render tokens as they arrive instead of waiting for the full turn.
package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lemonflow/flowforge/internal/model"
)

// EventType discriminates the kind of incremental update published to a
// session's stream.
type EventType string

const (
	EventText       EventType = "text_delta"
	EventThinking   EventType = "thinking_delta"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventTurnDone   EventType = "turn_done"
)

// Event is one increment of turn output.
type Event struct {
	Type      EventType       `json:"type"`
	RunID     string          `json:"run_id"`
	SessionID string          `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Sink publishes turn-output events for a session. cmd/agentd publishes to
// it (a turn_done event after each chat turn) as a side channel alongside
// the synchronous reply, so a caller that only needs the final reply never
// has to touch it; the Orchestrator itself does not publish to it.
type Sink interface {
	Publish(ctx context.Context, sessionID string, evt Event) error
	Close() error
}

// NoopSink discards every event, used when no live transport is attached
// to a session (batch/offline use, or tests).
type NoopSink struct{}

func (NoopSink) Publish(context.Context, string, Event) error { return nil }
func (NoopSink) Close() error                                 { return nil }

// ChunkPayload marshals a model.Chunk's text/thinking delta into an Event
// payload.
func ChunkPayload(c model.Chunk) json.RawMessage {
	var body struct {
		Text     string `json:"text,omitempty"`
		Thinking string `json:"thinking,omitempty"`
	}
	body.Text = c.Message
	body.Thinking = c.Thinking
	raw, err := json.Marshal(body)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
