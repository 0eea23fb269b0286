package bedrock

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/lemonflow/flowforge/internal/model"
	"github.com/lemonflow/flowforge/internal/tools"
)

type bedrockStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	out    *bedrockruntime.ConverseStreamOutput

	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	toolNameMap map[string]tools.Ident
}

func newBedrockStreamer(out *bedrockruntime.ConverseStreamOutput, nameMap map[string]tools.Ident) model.Streamer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &bedrockStreamer{ctx: ctx, cancel: cancel, out: out, chunks: make(chan model.Chunk, 32), toolNameMap: nameMap}
	go s.run()
	return s
}

func (s *bedrockStreamer) Recv() (model.Chunk, error) {
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

func (s *bedrockStreamer) Close() error {
	s.cancel()
	if s.out == nil {
		return nil
	}
	return s.out.GetStream().Close()
}

func (s *bedrockStreamer) Metadata() map[string]string { return nil }

func (s *bedrockStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *bedrockStreamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

func (s *bedrockStreamer) run() {
	defer close(s.chunks)

	stream := s.out.GetStream()
	defer stream.Close()

	var toolName tools.Ident
	var toolID string
	var toolInput strings.Builder

	events := stream.Events()
	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		case event, ok := <-events:
			if !ok {
				if err := stream.Err(); err != nil {
					s.setErr(err)
				} else {
					s.setErr(nil)
				}
				return
			}
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					name := tools.Ident(aws.ToString(toolUse.Value.Name))
					if canonical, ok := s.toolNameMap[string(name)]; ok {
						name = canonical
					}
					toolName = name
					toolID = aws.ToString(toolUse.Value.ToolUseId)
					toolInput.Reset()
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						if err := s.emit(model.Chunk{Type: model.ChunkTypeText, Message: delta.Value}); err != nil {
							s.setErr(err)
							return
						}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						frag := *delta.Value.Input
						toolInput.WriteString(frag)
						if err := s.emit(model.Chunk{
							Type: model.ChunkTypeToolCallDelta,
							ToolCallDelta: &model.ToolCallDelta{Name: toolName, ID: toolID, Delta: frag},
						}); err != nil {
							s.setErr(err)
							return
						}
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if toolID != "" {
					payload := json.RawMessage(toolInput.String())
					if len(payload) == 0 {
						payload = json.RawMessage("{}")
					}
					if err := s.emit(model.Chunk{
						Type:     model.ChunkTypeToolCall,
						ToolCall: &model.ToolCall{Name: toolName, Payload: payload, ID: toolID},
					}); err != nil {
						s.setErr(err)
						return
					}
					toolID = ""
					toolInput.Reset()
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				chunk := model.Chunk{Type: model.ChunkTypeStop}
				switch ev.Value.StopReason {
				case types.StopReasonToolUse:
					chunk.StopReason = model.StopReasonToolUse
				case types.StopReasonMaxTokens:
					chunk.StopReason = model.StopReasonMaxTokens
				case types.StopReasonStopSequence:
					chunk.StopReason = model.StopReasonStopSeq
				default:
					chunk.StopReason = model.StopReasonEndTurn
				}
				if err := s.emit(chunk); err != nil {
					s.setErr(err)
					return
				}
			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					usage := model.TokenUsage{
						InputTokens:  int(aws.ToInt32(ev.Value.Usage.InputTokens)),
						OutputTokens: int(aws.ToInt32(ev.Value.Usage.OutputTokens)),
						TotalTokens:  int(aws.ToInt32(ev.Value.Usage.TotalTokens)),
					}
					if err := s.emit(model.Chunk{Type: model.ChunkTypeUsage, UsageDelta: &usage}); err != nil {
						s.setErr(err)
						return
					}
				}
			}
		}
	}
}

func (s *bedrockStreamer) emit(chunk model.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}
