package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/lemonflow/flowforge/internal/model"
	"github.com/lemonflow/flowforge/internal/tools"
)

// anthropicStreamer adapts an Anthropic Messages streaming stream to the
// model.Streamer interface.
type anthropicStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu   sync.RWMutex
	metadata map[string]string

	toolNameMap map[string]tools.Ident
}

func newAnthropicStreamer(stream *ssestream.Stream[sdk.MessageStreamEventUnion], nameMap map[string]tools.Ident) model.Streamer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &anthropicStreamer{
		ctx:         ctx,
		cancel:      cancel,
		stream:      stream,
		chunks:      make(chan model.Chunk, 32),
		toolNameMap: nameMap,
	}
	go s.run()
	return s
}

func (s *anthropicStreamer) Recv() (model.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return model.Chunk{}, err
		}
		return model.Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		s.setErr(err)
		return model.Chunk{}, err
	}
}

func (s *anthropicStreamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *anthropicStreamer) Metadata() map[string]string {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	out := make(map[string]string, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

func (s *anthropicStreamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	processor := newAnthropicChunkProcessor(s.emitChunk, s.toolNameMap)

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(err)
			} else {
				s.setErr(nil)
			}
			return
		}
		if err := processor.Handle(s.stream.Current()); err != nil {
			s.setErr(err)
			return
		}
	}
}

func (s *anthropicStreamer) emitChunk(chunk model.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}

func (s *anthropicStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *anthropicStreamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

// anthropicChunkProcessor converts Anthropic streaming events into model.Chunks.
type anthropicChunkProcessor struct {
	emit func(model.Chunk) error

	toolBlocks     map[int]*toolBuffer
	thinkingBlocks map[int]*strings.Builder

	toolNameMap map[string]tools.Ident

	stopReason string
}

func newAnthropicChunkProcessor(emit func(model.Chunk) error, nameMap map[string]tools.Ident) *anthropicChunkProcessor {
	return &anthropicChunkProcessor{
		emit:           emit,
		toolBlocks:     make(map[int]*toolBuffer),
		thinkingBlocks: make(map[int]*strings.Builder),
		toolNameMap:    nameMap,
	}
}

func (p *anthropicChunkProcessor) Handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		p.toolBlocks = make(map[int]*toolBuffer)
		p.thinkingBlocks = make(map[int]*strings.Builder)
		p.stopReason = ""
		return nil
	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			if toolUse.ID == "" || toolUse.Name == "" {
				return errors.New("anthropic stream: tool use block missing id or name")
			}
			name := tools.Ident(toolUse.Name)
			if canonical, ok := p.toolNameMap[toolUse.Name]; ok {
				name = canonical
			}
			p.toolBlocks[idx] = &toolBuffer{name: name, id: toolUse.ID}
		}
		return nil
	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil
			}
			return p.emit(model.Chunk{Type: model.ChunkTypeText, Message: delta.Text})
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return nil
			}
			tb := p.toolBlocks[idx]
			if tb == nil {
				return nil
			}
			tb.fragments = append(tb.fragments, delta.PartialJSON)
			return p.emit(model.Chunk{
				Type: model.ChunkTypeToolCallDelta,
				ToolCallDelta: &model.ToolCallDelta{
					Name:  tb.name,
					ID:    tb.id,
					Delta: delta.PartialJSON,
				},
			})
		case sdk.ThinkingDelta:
			if delta.Thinking == "" {
				return nil
			}
			tb := p.thinkingBlocks[idx]
			if tb == nil {
				tb = &strings.Builder{}
				p.thinkingBlocks[idx] = tb
			}
			tb.WriteString(delta.Thinking)
			return p.emit(model.Chunk{Type: model.ChunkTypeThinking, Thinking: delta.Thinking})
		default:
			return nil
		}
	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		delete(p.thinkingBlocks, idx)
		if tb := p.toolBlocks[idx]; tb != nil {
			payload := decodeToolPayload(tb.finalInput())
			delete(p.toolBlocks, idx)
			return p.emit(model.Chunk{
				Type:     model.ChunkTypeToolCall,
				ToolCall: &model.ToolCall{Name: tb.name, Payload: payload, ID: tb.id},
			})
		}
		return nil
	case sdk.MessageDeltaEvent:
		p.stopReason = string(ev.Delta.StopReason)
		usage := model.TokenUsage{
			InputTokens:      int(ev.Usage.InputTokens),
			OutputTokens:     int(ev.Usage.OutputTokens),
			TotalTokens:      int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
			CacheReadTokens:  int(ev.Usage.CacheReadInputTokens),
			CacheWriteTokens: int(ev.Usage.CacheCreationInputTokens),
		}
		return p.emit(model.Chunk{Type: model.ChunkTypeUsage, UsageDelta: &usage})
	case sdk.MessageStopEvent:
		chunk := model.Chunk{Type: model.ChunkTypeStop}
		switch p.stopReason {
		case "tool_use":
			chunk.StopReason = model.StopReasonToolUse
		case "max_tokens":
			chunk.StopReason = model.StopReasonMaxTokens
		case "stop_sequence":
			chunk.StopReason = model.StopReasonStopSeq
		default:
			chunk.StopReason = model.StopReasonEndTurn
		}
		p.toolBlocks = make(map[int]*toolBuffer)
		p.thinkingBlocks = make(map[int]*strings.Builder)
		return p.emit(chunk)
	}
	return nil
}

type toolBuffer struct {
	name      tools.Ident
	id        string
	fragments []string
}

func (tb *toolBuffer) finalInput() string {
	if len(tb.fragments) == 0 {
		return "{}"
	}
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return "{}"
	}
	return joined
}

func decodeToolPayload(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = "{}"
	}
	return json.RawMessage(trimmed)
}
