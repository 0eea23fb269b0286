package stream

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonflow/flowforge/internal/model"
)

func TestNoopSinkDiscardsEvents(t *testing.T) {
	sink := NoopSink{}
	err := sink.Publish(context.Background(), "s1", Event{Type: EventText})
	require.NoError(t, err)
	require.NoError(t, sink.Close())
}

func TestChunkPayloadMarshalsTextWithoutThinking(t *testing.T) {
	raw := ChunkPayload(model.Chunk{Type: model.ChunkTypeText, Message: "hello"})
	var body map[string]string
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "hello", body["text"])
	_, hasThinking := body["thinking"]
	assert.False(t, hasThinking)
}

func TestChunkPayloadOmitsEmptyFields(t *testing.T) {
	raw := ChunkPayload(model.Chunk{Type: model.ChunkTypeThinking, Thinking: "reasoning..."})
	var body map[string]string
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "reasoning...", body["thinking"])
	_, hasText := body["text"]
	assert.False(t, hasText)
}
