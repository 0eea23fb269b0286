package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonflow/flowforge/internal/conversation"
	"github.com/lemonflow/flowforge/internal/model"
	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/tools"
)

type scriptedClient struct {
	responses []*model.Response
	calls     int
}

func (c *scriptedClient) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	if c.calls >= len(c.responses) {
		return &model.Response{Content: []model.Part{model.TextPart{Text: "done"}}, StopReason: model.StopReasonEndTurn}, nil
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func (c *scriptedClient) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

type echoTool struct{}

func (echoTool) Spec() *tools.ToolSpec {
	return &tools.ToolSpec{Name: "workflow.get_current_workflow"}
}

func (echoTool) Execute(ctx context.Context, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	return &toolregistry.ToolResultMessage{Result: json.RawMessage(`{"ok":true}`)}, nil
}

func newOrchestrator(t *testing.T, client model.Client, maxToolCalls int) *Orchestrator {
	t.Helper()
	registry := toolregistry.New()
	require.NoError(t, registry.Register(echoTool{}))
	return New(Deps{
		Model:         client,
		Registry:      registry,
		Conversations: conversation.NewInMemoryStore(),
		SystemPrompt:  "system prompt",
		MaxToolCalls:  maxToolCalls,
	})
}

func TestRespondReturnsFinalTextWithNoToolCalls(t *testing.T) {
	client := &scriptedClient{responses: []*model.Response{
		{Content: []model.Part{model.TextPart{Text: "hello there"}}, StopReason: model.StopReasonEndTurn},
	}}
	orch := newOrchestrator(t, client, 0)

	result, err := orch.Respond(context.Background(), "s1", "owner-1", "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello there", result.Reply)
	assert.Equal(t, 0, result.ToolCallCount)
	assert.False(t, result.BudgetExhausted)
}

func TestRespondExecutesToolCallsThenReturnsFinalReply(t *testing.T) {
	client := &scriptedClient{responses: []*model.Response{
		{
			Content:    []model.Part{model.ToolUsePart{ID: "call1", Name: "workflow.get_current_workflow", Payload: json.RawMessage(`{}`)}},
			ToolCalls:  []model.ToolCall{{ID: "call1", Name: "workflow.get_current_workflow", Payload: json.RawMessage(`{}`)}},
			StopReason: model.StopReasonToolUse,
		},
		{Content: []model.Part{model.TextPart{Text: "here is your workflow"}}, StopReason: model.StopReasonEndTurn},
	}}
	orch := newOrchestrator(t, client, 0)

	result, err := orch.Respond(context.Background(), "s1", "owner-1", "show me the workflow", nil)
	require.NoError(t, err)
	assert.Equal(t, "here is your workflow", result.Reply)
	assert.Equal(t, 1, result.ToolCallCount)
}

func TestRespondStopsAtToolCallBudget(t *testing.T) {
	call := model.ToolCall{ID: "call1", Name: "workflow.get_current_workflow", Payload: json.RawMessage(`{}`)}
	resp := &model.Response{
		Content:    []model.Part{model.ToolUsePart{ID: call.ID, Name: call.Name, Payload: call.Payload}},
		ToolCalls:  []model.ToolCall{call},
		StopReason: model.StopReasonToolUse,
	}
	client := &scriptedClient{responses: []*model.Response{resp, resp, resp}}
	orch := newOrchestrator(t, client, 1)

	result, err := orch.Respond(context.Background(), "s1", "owner-1", "go", nil)
	require.NoError(t, err)
	assert.True(t, result.BudgetExhausted)
}

func TestRespondPersistsConversationAcrossTurns(t *testing.T) {
	client := &scriptedClient{responses: []*model.Response{
		{Content: []model.Part{model.TextPart{Text: "first reply"}}, StopReason: model.StopReasonEndTurn},
	}}
	orch := newOrchestrator(t, client, 0)

	_, err := orch.Respond(context.Background(), "s1", "owner-1", "first message", nil)
	require.NoError(t, err)

	client.responses = append(client.responses, &model.Response{Content: []model.Part{model.TextPart{Text: "second reply"}}, StopReason: model.StopReasonEndTurn})
	result, err := orch.Respond(context.Background(), "s1", "owner-1", "second message", nil)
	require.NoError(t, err)

	assert.Equal(t, "second reply", result.Reply)
	require.Len(t, result.Conversation.Messages, 4)
}

// failingTool always reports a tool error, used to exercise the skip-cascade
// path when a batch contains more than one tool call.
type failingTool struct{}

func (failingTool) Spec() *tools.ToolSpec {
	return &tools.ToolSpec{Name: "workflow.always_fails"}
}

func (failingTool) Execute(ctx context.Context, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	return toolregistry.NewErrorResult(toolregistry.ErrCodeInternal, "boom"), nil
}

func newOrchestratorWithTools(t *testing.T, client model.Client, maxToolCalls int, extra ...toolregistry.Tool) *Orchestrator {
	t.Helper()
	registry := toolregistry.New()
	require.NoError(t, registry.Register(echoTool{}))
	for _, tool := range extra {
		require.NoError(t, registry.Register(tool))
	}
	return New(Deps{
		Model:         client,
		Registry:      registry,
		Conversations: conversation.NewInMemoryStore(),
		SystemPrompt:  "system prompt",
		MaxToolCalls:  maxToolCalls,
	})
}

func TestRespondSkipCascadeOnToolFailure(t *testing.T) {
	batch := &model.Response{
		Content: []model.Part{
			model.ToolUsePart{ID: "call1", Name: "workflow.always_fails", Payload: json.RawMessage(`{}`)},
			model.ToolUsePart{ID: "call2", Name: "workflow.get_current_workflow", Payload: json.RawMessage(`{}`)},
		},
		ToolCalls: []model.ToolCall{
			{ID: "call1", Name: "workflow.always_fails", Payload: json.RawMessage(`{}`)},
			{ID: "call2", Name: "workflow.get_current_workflow", Payload: json.RawMessage(`{}`)},
		},
		StopReason: model.StopReasonToolUse,
	}
	client := &scriptedClient{responses: []*model.Response{
		batch,
		{Content: []model.Part{model.TextPart{Text: "explained the failure"}}, StopReason: model.StopReasonEndTurn},
	}}
	orch := newOrchestratorWithTools(t, client, 0, failingTool{})

	result, err := orch.Respond(context.Background(), "s1", "owner-1", "run both", nil)
	require.NoError(t, err)
	assert.Equal(t, "explained the failure", result.Reply)

	var toolResultParts []model.ToolResultPart
	for _, msg := range result.Conversation.Messages {
		for _, p := range msg.Parts {
			if trp, ok := p.(model.ToolResultPart); ok {
				toolResultParts = append(toolResultParts, trp)
			}
		}
	}
	require.Len(t, toolResultParts, 2)
	assert.True(t, toolResultParts[0].IsError)
	assert.True(t, toolResultParts[1].IsError)
	assert.Contains(t, toolResultParts[1].Content, "skipped")
}

// loopingToolClient always answers with a tool call, never reaching a
// natural stop, to exercise the iteration ceiling.
type loopingToolClient struct{ calls int }

func (c *loopingToolClient) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	c.calls++
	call := model.ToolCall{ID: fmt.Sprintf("call%d", c.calls), Name: "workflow.get_current_workflow", Payload: json.RawMessage(`{}`)}
	return &model.Response{
		Content:    []model.Part{model.ToolUsePart{ID: call.ID, Name: call.Name, Payload: call.Payload}},
		ToolCalls:  []model.ToolCall{call},
		StopReason: model.StopReasonToolUse,
	}, nil
}

func (c *loopingToolClient) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func TestRespondAbortsAtFiftyTurnCeilingByDefault(t *testing.T) {
	client := &loopingToolClient{}
	orch := newOrchestrator(t, client, 0)

	result, err := orch.Respond(context.Background(), "s1", "owner-1", "go forever", nil)
	require.NoError(t, err)
	assert.True(t, result.BudgetExhausted)
	assert.LessOrEqual(t, client.calls, defaultMaxToolCalls)
	assert.Equal(t, defaultMaxToolCalls, result.ToolCallCount)
}

func TestRespondCancelledBeforeStartPersistsOnlyUserMessage(t *testing.T) {
	client := &scriptedClient{responses: []*model.Response{
		{Content: []model.Part{model.TextPart{Text: "should not be reached"}}, StopReason: model.StopReasonEndTurn},
	}}
	orch := newOrchestrator(t, client, 0)
	token := NewCancelToken()
	token.Cancel()

	result, err := orch.Respond(context.Background(), "s1", "owner-1", "hello", nil, WithCancelToken(token))
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	require.Len(t, result.Conversation.Messages, 1)
	assert.Equal(t, 0, client.calls)
}

// capturingClient records every request it is asked to complete, so tests
// can inspect what history was actually sent to the model.
type capturingClient struct {
	requests  []model.Request
	responses []*model.Response
}

func (c *capturingClient) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	c.requests = append(c.requests, req)
	idx := len(c.requests) - 1
	if idx < len(c.responses) {
		return c.responses[idx], nil
	}
	return &model.Response{Content: []model.Part{model.TextPart{Text: "done"}}, StopReason: model.StopReasonEndTurn}, nil
}

func (c *capturingClient) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func TestRespondTruncatesHistoryToWindow(t *testing.T) {
	client := &capturingClient{}
	orch := newOrchestrator(t, client, 0)

	for i := 0; i < 15; i++ {
		client.responses = append(client.responses, &model.Response{
			Content:    []model.Part{model.TextPart{Text: fmt.Sprintf("reply %d", i)}},
			StopReason: model.StopReasonEndTurn,
		})
		_, err := orch.Respond(context.Background(), "s1", "owner-1", fmt.Sprintf("message %d", i), nil)
		require.NoError(t, err)
	}

	// 15 turns of one user + one assistant message each leaves 30 stored
	// messages, well past the 20-message window.
	lastReq := client.requests[len(client.requests)-1]
	assert.LessOrEqual(t, len(lastReq.Messages), historyWindow+1)
	for _, msg := range lastReq.Messages {
		for _, p := range msg.Parts {
			if tp, ok := p.(model.TextPart); ok {
				assert.NotEqual(t, "message 0", tp.Text)
			}
		}
	}
}

func TestRespondStreamsFinalTextWhenStreamingUnsupported(t *testing.T) {
	client := &scriptedClient{responses: []*model.Response{
		{Content: []model.Part{model.TextPart{Text: "short reply"}}, StopReason: model.StopReasonEndTurn},
	}}
	orch := newOrchestrator(t, client, 0)

	var collected strings.Builder
	result, err := orch.Respond(context.Background(), "s1", "owner-1", "hi", nil, WithStreamCB(func(delta string) {
		collected.WriteString(delta)
	}))
	require.NoError(t, err)
	assert.Equal(t, "short reply", result.Reply)
	assert.Equal(t, "short reply", collected.String())
}

func TestRespondEmitsToolBatchCompleteEvent(t *testing.T) {
	client := &scriptedClient{responses: []*model.Response{
		{
			Content:    []model.Part{model.ToolUsePart{ID: "call1", Name: "workflow.get_current_workflow", Payload: json.RawMessage(`{}`)}},
			ToolCalls:  []model.ToolCall{{ID: "call1", Name: "workflow.get_current_workflow", Payload: json.RawMessage(`{}`)}},
			StopReason: model.StopReasonToolUse,
		},
		{Content: []model.Part{model.TextPart{Text: "ok"}}, StopReason: model.StopReasonEndTurn},
	}}
	orch := newOrchestrator(t, client, 0)

	var events []ToolEvent
	_, err := orch.Respond(context.Background(), "s1", "owner-1", "go", nil, WithToolEventCB(func(ev ToolEvent) {
		events = append(events, ev)
	}))
	require.NoError(t, err)

	var sawBatchComplete bool
	for _, ev := range events {
		if ev.Kind == ToolEventBatchComplete {
			sawBatchComplete = true
		}
	}
	assert.True(t, sawBatchComplete)
}
