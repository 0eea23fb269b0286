package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
)

// PulseSink publishes session events onto a Pulse stream named after the
// session, so any number of subscribers (an SSE bridge, a websocket
// gateway) can tail a session's turn output without the Orchestrator
// knowing about transport fan-out.
//
// One underlying Pulse stream handle is cached per session id since
// opening a stream has real setup cost and a session typically emits many
// events across a turn.
type PulseSink struct {
	redis *redis.Client

	mu      sync.Mutex
	streams map[string]*streaming.Stream
}

// NewPulseSink constructs a Sink backed by Pulse streams over redisClient.
func NewPulseSink(redisClient *redis.Client) *PulseSink {
	return &PulseSink{redis: redisClient, streams: make(map[string]*streaming.Stream)}
}

func (s *PulseSink) streamFor(sessionID string) (*streaming.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if str, ok := s.streams[sessionID]; ok {
		return str, nil
	}
	str, err := streaming.NewStream("session/"+sessionID, s.redis)
	if err != nil {
		return nil, fmt.Errorf("stream: open pulse stream for session %q: %w", sessionID, err)
	}
	s.streams[sessionID] = str
	return str, nil
}

func (s *PulseSink) Publish(ctx context.Context, sessionID string, evt Event) error {
	str, err := s.streamFor(sessionID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("stream: encode event: %w", err)
	}
	if _, err := str.Add(ctx, string(evt.Type), raw); err != nil {
		return fmt.Errorf("stream: publish event: %w", err)
	}
	return nil
}

func (s *PulseSink) Close() error {
	return nil
}
