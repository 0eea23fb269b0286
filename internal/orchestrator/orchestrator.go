// Package orchestrator runs the bounded tool-calling loop that turns a
// user's turn into zero or more tool calls against the workflow-editing
// registry and a final assistant reply.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/lemonflow/flowforge/internal/conversation"
	"github.com/lemonflow/flowforge/internal/model"
	"github.com/lemonflow/flowforge/internal/telemetry"
	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/toolregistry/analyze"
	"github.com/lemonflow/flowforge/internal/tools"
)

// defaultMaxToolCalls bounds a single turn's tool-calling loop. Testable
// Property 8 requires respond to return within 50 LLM turns regardless of
// model behaviour, so the loop's own iteration ceiling matches that bound
// rather than an arbitrary smaller one; callers can still lower it via
// Deps.MaxToolCalls for a tighter per-deployment budget.
const defaultMaxToolCalls = 50

// historyWindow is the number of most recent messages kept when building the
// prompt for each model call. A production implementation should replace
// this with a token-budget-aware window, but 20 is kept as the floor.
const historyWindow = 20

// streamChunkSize is how many characters of a non-streamed final reply are
// handed to a StreamCB at a time, so callers that only care about a single
// delta callback still see incremental output.
const streamChunkSize = 800

// Deps are the Orchestrator's wired dependencies.
type Deps struct {
	Model         model.Client
	Registry      *toolregistry.Registry
	Conversations conversation.Store
	SystemPrompt  string
	MaxToolCalls  int
	Logger        telemetry.Logger
}

// Orchestrator drives one conversational turn at a time: read the
// conversation, call the model, execute any requested tools, feed their
// results back, and repeat until the model stops asking for tools or the
// turn's tool-call budget is exhausted.
type Orchestrator struct {
	deps Deps
}

// New constructs an Orchestrator from its dependencies, applying defaults
// for unset optional fields.
func New(deps Deps) *Orchestrator {
	if deps.MaxToolCalls <= 0 {
		deps.MaxToolCalls = defaultMaxToolCalls
	}
	if deps.Logger == nil {
		deps.Logger = telemetry.NoopLogger{}
	}
	return &Orchestrator{deps: deps}
}

// CancelToken is a cooperative, trippable cancellation signal distinct from
// ctx: it is checked between tool calls and between streamed deltas, so a
// caller can abort a turn already in flight without tearing down the
// request context the Conversation/Workflow stores are using.
type CancelToken struct {
	tripped atomic.Bool
}

// NewCancelToken returns a token that starts untripped.
func NewCancelToken() *CancelToken { return &CancelToken{} }

// Cancel trips the token. Safe to call from any goroutine, any number of
// times.
func (c *CancelToken) Cancel() { c.tripped.Store(true) }

// Cancelled reports whether Cancel has been called.
func (c *CancelToken) Cancelled() bool { return c != nil && c.tripped.Load() }

// StreamCB receives each incremental text delta as the model streams its
// reply.
type StreamCB func(delta string)

// ToolEventKind discriminates the events a ToolEventCB observes.
type ToolEventKind string

const (
	ToolEventStart          ToolEventKind = "tool_call_start"
	ToolEventResult         ToolEventKind = "tool_call_result"
	ToolEventBatchComplete  ToolEventKind = "tool_batch_complete"
)

// ToolEvent is one observable step of the tool-dispatch loop, surfaced so a
// caller (typically a UI) can render progress without waiting for the whole
// turn to finish.
type ToolEvent struct {
	Kind       ToolEventKind
	ToolName   tools.Ident
	ToolCallID string
	Success    bool
	Skipped    bool
}

// ToolEventCB receives each ToolEvent as the loop produces it.
type ToolEventCB func(ToolEvent)

// RespondOptions are the optional controls on top of Respond's required
// (sessionID, ownerID, userText, images) arguments.
type RespondOptions struct {
	StreamCB    StreamCB
	ToolEventCB ToolEventCB
	CancelToken *CancelToken
	// AllowTools disables tool-calling for this turn when set to false; the
	// model is still consulted but with no tool catalogue attached, for
	// callers that want a plain-text answer without risking an edit.
	AllowTools *bool
}

// RespondOption mutates a RespondOptions in place; Respond applies them in
// order before running the turn.
type RespondOption func(*RespondOptions)

func WithStreamCB(cb StreamCB) RespondOption         { return func(o *RespondOptions) { o.StreamCB = cb } }
func WithToolEventCB(cb ToolEventCB) RespondOption   { return func(o *RespondOptions) { o.ToolEventCB = cb } }
func WithCancelToken(t *CancelToken) RespondOption   { return func(o *RespondOptions) { o.CancelToken = t } }
func WithToolsDisabled() RespondOption {
	return func(o *RespondOptions) { disallow := false; o.AllowTools = &disallow }
}

func (o RespondOptions) allowTools() bool {
	return o.AllowTools == nil || *o.AllowTools
}

func (o RespondOptions) emitStream(delta string) {
	if o.StreamCB != nil && delta != "" {
		o.StreamCB(delta)
	}
}

func (o RespondOptions) emitToolEvent(ev ToolEvent) {
	if o.ToolEventCB != nil {
		o.ToolEventCB(ev)
	}
}

func (o RespondOptions) cancelled() bool {
	return o.CancelToken.Cancelled()
}

// TurnResult is what Respond hands back to the transport layer: the
// assistant's final text, the updated conversation, and whether the tool
// budget was exhausted before the model reached a natural stop.
type TurnResult struct {
	Conversation    *conversation.Conversation
	Reply           string
	ToolCallCount   int
	BudgetExhausted bool
	Cancelled       bool
}

// ToolResult is run_tool's return shape: the same envelope the Orchestrator
// folds into a provider tool-result message, named to match the public
// contract tool dispatch is specified against.
type ToolResult struct {
	Name    tools.Ident
	Data    json.RawMessage
	Success bool
	Message string
	Error   *toolregistry.ToolError
}

// RunTool dispatches a single named tool call against the Registry. When
// cancelToken has already tripped it returns a cancelled result without
// dispatching, so a caller driving tools directly (outside of Respond's
// loop) gets the same cooperative cancellation guarantee; a cancellation
// that arrives after dispatch does not change the returned result.
func (o *Orchestrator) RunTool(ctx context.Context, name tools.Ident, args json.RawMessage, session *toolregistry.SessionState, cancelToken *CancelToken) *ToolResult {
	if cancelToken.Cancelled() {
		return &ToolResult{Name: name, Error: &toolregistry.ToolError{Code: toolregistry.ErrCodeInternal, Message: "cancelled"}}
	}
	result := o.deps.Registry.Execute(ctx, name, args, session)
	return toRunToolResult(name, result)
}

func toRunToolResult(name tools.Ident, result *toolregistry.ToolResultMessage) *ToolResult {
	if result == nil {
		return &ToolResult{Name: name, Success: true, Data: json.RawMessage(`{}`)}
	}
	if result.Error != nil {
		return &ToolResult{Name: name, Success: false, Error: result.Error, Message: result.Error.Message}
	}
	return &ToolResult{Name: name, Success: true, Data: result.Result}
}

// WorkflowProvider resolves the pulled-based state sync_workflow and
// sync_workflow_analysis read from: typically the conversation store's
// attached-workflow-id lookup, reconciled against the canvas layer.
type WorkflowProvider interface {
	CurrentWorkflow(ctx context.Context, sessionID string) (json.RawMessage, error)
	CurrentAnalysis(ctx context.Context, sessionID string) (json.RawMessage, error)
}

// SyncWorkflow pulls the current workflow state for sessionID from
// provider, for callers (e.g. a canvas UI) that poll rather than wait on a
// turn's reply to learn about edits committed mid-loop.
func (o *Orchestrator) SyncWorkflow(ctx context.Context, provider WorkflowProvider, sessionID string) (json.RawMessage, error) {
	return provider.CurrentWorkflow(ctx, sessionID)
}

// SyncWorkflowAnalysis pulls the current image-analysis state for sessionID
// from provider.
func (o *Orchestrator) SyncWorkflowAnalysis(ctx context.Context, provider WorkflowProvider, sessionID string) (json.RawMessage, error) {
	return provider.CurrentAnalysis(ctx, sessionID)
}

// Respond runs one full turn for sessionID: appends userText (and any
// attached images) to the conversation, then loops model-completion →
// tool-execution until the model stops requesting tools, the tool-call
// budget is exhausted, or opts' CancelToken trips.
func (o *Orchestrator) Respond(ctx context.Context, sessionID, ownerID, userText string, images []model.ImagePart, opts ...RespondOption) (*TurnResult, error) {
	var options RespondOptions
	for _, apply := range opts {
		apply(&options)
	}

	conv, err := o.deps.Conversations.GetOrCreate(ctx, sessionID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load conversation: %w", err)
	}

	userParts := []model.Part{model.TextPart{Text: userText}}
	for _, img := range images {
		userParts = append(userParts, img)
	}
	turnMessages := []model.Message{{Role: model.RoleUser, Parts: userParts}}

	if options.cancelled() {
		updated, err := o.deps.Conversations.Append(ctx, sessionID, turnMessages)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: persist conversation: %w", err)
		}
		return &TurnResult{Conversation: updated, Cancelled: true}, nil
	}

	session := &toolregistry.SessionState{SessionID: sessionID, OwnerID: ownerID, Values: map[string]any{}}
	analyze.SetPendingImages(session, images)

	var toolDefs []model.ToolDefinition
	if options.allowTools() {
		toolDefs = toolDefinitions(o.deps.Registry)
	}

	toolCalls := 0
	budgetExhausted := false
	var reply string
	var partialStreamed string

	for iteration := 0; ; iteration++ {
		if iteration >= o.deps.MaxToolCalls {
			budgetExhausted = true
			reply = "I've reached this turn's tool-call limit; let's continue in the next message."
			break
		}

		history := append(append([]model.Message(nil), conv.Messages...), turnMessages...)
		history = truncateHistory(history, historyWindow)
		req := model.Request{
			RunID:      sessionID,
			ModelClass: model.ModelClassDefault,
			Messages:   withSystemPrompt(o.deps.SystemPrompt, history),
			Tools:      toolDefs,
			ToolChoice: model.ToolChoice{Mode: model.ToolChoiceAuto},
			Stream:     options.StreamCB != nil,
		}

		resp, streamed, cancelled, err := o.callModel(ctx, req, options)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: model completion: %w", err)
		}
		if cancelled {
			assistantMsg := model.Message{Role: model.RoleAssistant, Parts: resp.Content}
			turnMessages = append(turnMessages, assistantMsg)
			updated, err := o.deps.Conversations.Append(ctx, sessionID, turnMessages)
			if err != nil {
				return nil, fmt.Errorf("orchestrator: persist conversation: %w", err)
			}
			return &TurnResult{Conversation: updated, Reply: streamed, ToolCallCount: toolCalls, Cancelled: true}, nil
		}

		assistantMsg := model.Message{Role: model.RoleAssistant, Parts: resp.Content}
		turnMessages = append(turnMessages, assistantMsg)

		if len(resp.ToolCalls) == 0 || resp.StopReason != model.StopReasonToolUse {
			reply = firstText(resp.Content)
			partialStreamed = streamed
			break
		}

		if toolCalls+len(resp.ToolCalls) > o.deps.MaxToolCalls {
			budgetExhausted = true
			reply = "I've reached this turn's tool-call limit; let's continue in the next message."
			break
		}

		resultParts, anyFailed := o.dispatchToolBatch(ctx, resp.ToolCalls, session, options)
		toolCalls += len(resp.ToolCalls)
		turnMessages = append(turnMessages, model.Message{Role: model.RoleUser, Parts: resultParts})
		options.emitToolEvent(ToolEvent{Kind: ToolEventBatchComplete})
		turnMessages = append(turnMessages, model.Message{Role: model.RoleSystem, Parts: []model.Part{model.TextPart{Text: loopFramingMessage(anyFailed)}}})

		if options.cancelled() {
			budgetExhausted = false
			reply = firstText(resp.Content)
			break
		}
	}

	if options.StreamCB != nil && partialStreamed == "" && reply != "" {
		emitInChunks(options, reply)
	}

	updated, err := o.deps.Conversations.Append(ctx, sessionID, turnMessages)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: persist conversation: %w", err)
	}

	return &TurnResult{
		Conversation:    updated,
		Reply:           reply,
		ToolCallCount:   toolCalls,
		BudgetExhausted: budgetExhausted,
	}, nil
}

// dispatchToolBatch executes resp.ToolCalls in order. Once one call fails,
// every subsequent call in the batch is skipped rather than executed, and a
// synthetic failure result is injected for it so the model sees a
// consistent, complete tool-result set for the batch it issued.
func (o *Orchestrator) dispatchToolBatch(ctx context.Context, calls []model.ToolCall, session *toolregistry.SessionState, options RespondOptions) ([]model.Part, bool) {
	resultParts := make([]model.Part, 0, len(calls))
	failed := false
	for _, call := range calls {
		if options.cancelled() {
			break
		}
		options.emitToolEvent(ToolEvent{Kind: ToolEventStart, ToolName: call.Name, ToolCallID: call.ID})

		if failed {
			skipped := toolregistry.NewErrorResult(toolregistry.ErrCodeInternal, "skipped: a prior tool call in this batch failed")
			resultParts = append(resultParts, toolResultPart(call.ID, skipped))
			options.emitToolEvent(ToolEvent{Kind: ToolEventResult, ToolName: call.Name, ToolCallID: call.ID, Skipped: true})
			continue
		}

		payload := call.Payload
		if len(payload) == 0 || !json.Valid(payload) {
			payload = json.RawMessage(`{}`)
		}
		result := o.deps.Registry.Execute(ctx, call.Name, payload, session)
		resultParts = append(resultParts, toolResultPart(call.ID, result))
		success := result == nil || result.Error == nil
		if !success {
			failed = true
		}
		options.emitToolEvent(ToolEvent{Kind: ToolEventResult, ToolName: call.Name, ToolCallID: call.ID, Success: success})
	}
	return resultParts, failed
}

func loopFramingMessage(anyFailed bool) string {
	if anyFailed {
		return "One or more tool calls in the last batch failed. Explain the failure to the user in plain text and suggest next steps; do not retry blindly."
	}
	return "Respond in plain text, summarising what was done, what it found, and any remaining doubts."
}

// callModel runs one completion, preferring the streaming path when the
// caller supplied a StreamCB. It returns the completed response, the text
// actually streamed out (empty if nothing streamed), and whether the turn
// was cancelled mid-stream.
func (o *Orchestrator) callModel(ctx context.Context, req model.Request, options RespondOptions) (*model.Response, string, bool, error) {
	if !req.Stream {
		resp, err := o.deps.Model.Complete(ctx, req)
		return resp, "", false, err
	}

	stream, err := o.deps.Model.Stream(ctx, req)
	if errors.Is(err, model.ErrStreamingUnsupported) {
		resp, cerr := o.deps.Model.Complete(ctx, req)
		return resp, "", false, cerr
	}
	if err != nil {
		return nil, "", false, err
	}
	defer stream.Close()

	var (
		text        strings.Builder
		toolCalls   []model.ToolCall
		toolBuffers = map[string]*strings.Builder{}
		toolNames   = map[string]tools.Ident{}
		stopReason  model.StopReason
	)

	for {
		if options.cancelled() {
			return &model.Response{Content: []model.Part{model.TextPart{Text: text.String()}}, StopReason: model.StopReasonEndTurn}, text.String(), true, nil
		}
		chunk, err := stream.Recv()
		if err != nil {
			break
		}
		switch chunk.Type {
		case model.ChunkTypeText:
			text.WriteString(chunk.Message)
			options.emitStream(chunk.Message)
		case model.ChunkTypeToolCallDelta:
			if chunk.ToolCallDelta == nil {
				continue
			}
			id := chunk.ToolCallDelta.ID
			if toolBuffers[id] == nil {
				toolBuffers[id] = &strings.Builder{}
				toolNames[id] = chunk.ToolCallDelta.Name
			}
			toolBuffers[id].WriteString(chunk.ToolCallDelta.Delta)
		case model.ChunkTypeToolCall:
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
		case model.ChunkTypeStop:
			stopReason = chunk.StopReason
		}
	}

	seen := make(map[string]bool, len(toolCalls))
	for _, call := range toolCalls {
		seen[call.ID] = true
	}
	for id, buf := range toolBuffers {
		if buf.Len() == 0 || seen[id] {
			continue
		}
		toolCalls = append(toolCalls, model.ToolCall{ID: id, Name: toolNames[id], Payload: json.RawMessage(buf.String())})
	}

	content := []model.Part{model.TextPart{Text: text.String()}}
	for _, call := range toolCalls {
		content = append(content, model.ToolUsePart{ID: call.ID, Name: call.Name, Payload: call.Payload})
	}
	if stopReason == "" {
		if len(toolCalls) > 0 {
			stopReason = model.StopReasonToolUse
		} else {
			stopReason = model.StopReasonEndTurn
		}
	}

	return &model.Response{Content: content, ToolCalls: toolCalls, StopReason: stopReason}, text.String(), false, nil
}

func emitInChunks(options RespondOptions, text string) {
	for len(text) > 0 {
		n := streamChunkSize
		if n > len(text) {
			n = len(text)
		}
		options.emitStream(text[:n])
		text = text[n:]
	}
}

// truncateHistory keeps only the most recent n messages, a context-window
// guard ahead of a future token-budget-aware window.
func truncateHistory(history []model.Message, n int) []model.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func withSystemPrompt(prompt string, history []model.Message) []model.Message {
	if prompt == "" {
		return history
	}
	out := make([]model.Message, 0, len(history)+1)
	out = append(out, model.Message{Role: model.RoleSystem, Parts: []model.Part{model.TextPart{Text: prompt}}})
	out = append(out, history...)
	return out
}

func toolDefinitions(reg *toolregistry.Registry) []model.ToolDefinition {
	specs := reg.Definitions()
	defs := make([]model.ToolDefinition, 0, len(specs))
	for _, spec := range specs {
		defs = append(defs, model.ToolDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: parameterSchemaJSON(spec),
		})
	}
	return defs
}

// parameterSchemaJSON renders a tool's declared Parameters as the JSON
// Schema document model.ToolDefinition.InputSchema expects, independent of
// the Registry's own compiled jsonschema.Schema used for request
// validation.
func parameterSchemaJSON(spec *tools.ToolSpec) json.RawMessage {
	properties := make(map[string]any, len(spec.Parameters))
	var required []string
	for _, p := range spec.Parameters {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			enum := make([]any, len(p.Enum))
			for i, v := range p.Enum {
				enum[i] = v
			}
			prop["enum"] = enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	doc := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		doc["required"] = required
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

func firstText(parts []model.Part) string {
	for _, p := range parts {
		if t, ok := p.(model.TextPart); ok {
			return t.Text
		}
	}
	return ""
}

func toolResultPart(toolCallID string, result *toolregistry.ToolResultMessage) model.Part {
	if result == nil {
		return model.ToolResultPart{ToolUseID: toolCallID, Content: "{}"}
	}
	if result.Error != nil {
		raw, _ := json.Marshal(result.Error)
		return model.ToolResultPart{ToolUseID: toolCallID, Content: string(raw), IsError: true}
	}
	return model.ToolResultPart{ToolUseID: toolCallID, Content: string(result.Result)}
}
