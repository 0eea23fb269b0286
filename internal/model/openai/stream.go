package openai

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/lemonflow/flowforge/internal/model"
	"github.com/lemonflow/flowforge/internal/tools"
)

type openAIStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.ChatCompletionChunk]

	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	toolNameMap map[string]tools.Ident
}

func newOpenAIStreamer(stream *ssestream.Stream[sdk.ChatCompletionChunk], nameMap map[string]tools.Ident) model.Streamer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &openAIStreamer{ctx: ctx, cancel: cancel, stream: stream, chunks: make(chan model.Chunk, 32), toolNameMap: nameMap}
	go s.run()
	return s
}

func (s *openAIStreamer) Recv() (model.Chunk, error) {
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

func (s *openAIStreamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *openAIStreamer) Metadata() map[string]string { return nil }

func (s *openAIStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *openAIStreamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

type toolCallBuffer struct {
	name tools.Ident
	id   string
	args string
}

func (s *openAIStreamer) run() {
	defer close(s.chunks)
	defer s.stream.Close()

	toolCalls := make(map[int64]*toolCallBuffer)

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
				s.flushToolCalls(toolCalls)
				s.setErr(nil)
			}
			return
		}
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			if err := s.emit(model.Chunk{Type: model.ChunkTypeText, Message: choice.Delta.Content}); err != nil {
				s.setErr(err)
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := tc.Index
			tb := toolCalls[idx]
			if tb == nil {
				name := tools.Ident(tc.Function.Name)
				if canonical, ok := s.toolNameMap[tc.Function.Name]; ok {
					name = canonical
				}
				tb = &toolCallBuffer{name: name, id: tc.ID}
				toolCalls[idx] = tb
			}
			if tc.Function.Arguments != "" {
				tb.args += tc.Function.Arguments
				if err := s.emit(model.Chunk{
					Type:          model.ChunkTypeToolCallDelta,
					ToolCallDelta: &model.ToolCallDelta{Name: tb.name, ID: tb.id, Delta: tc.Function.Arguments},
				}); err != nil {
					s.setErr(err)
					return
				}
			}
		}
		if choice.FinishReason != "" {
			s.flushToolCalls(toolCalls)
			stopReason := model.StopReasonEndTurn
			switch choice.FinishReason {
			case "tool_calls":
				stopReason = model.StopReasonToolUse
			case "length":
				stopReason = model.StopReasonMaxTokens
			}
			if err := s.emit(model.Chunk{Type: model.ChunkTypeStop, StopReason: stopReason}); err != nil {
				s.setErr(err)
				return
			}
		}
		if chunk.Usage.TotalTokens != 0 {
			usage := model.TokenUsage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
				TotalTokens:  int(chunk.Usage.TotalTokens),
			}
			if err := s.emit(model.Chunk{Type: model.ChunkTypeUsage, UsageDelta: &usage}); err != nil {
				s.setErr(err)
				return
			}
		}
	}
}

func (s *openAIStreamer) flushToolCalls(toolCalls map[int64]*toolCallBuffer) {
	for idx, tb := range toolCalls {
		payload := json.RawMessage(tb.args)
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}
		_ = s.emit(model.Chunk{
			Type:     model.ChunkTypeToolCall,
			ToolCall: &model.ToolCall{Name: tb.name, Payload: payload, ID: tb.id},
		})
		delete(toolCalls, idx)
	}
}

func (s *openAIStreamer) emit(chunk model.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}
