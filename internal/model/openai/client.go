// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API via github.com/openai/openai-go.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/lemonflow/flowforge/internal/model"
	"github.com/lemonflow/flowforge/internal/tools"
)

// ChatClient captures the subset of the OpenAI SDK used by this adapter.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
	NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
}

// Options configures the OpenAI adapter.
type Options struct {
	DefaultModel string
	HighModel    string
	SmallModel   string
	MaxTokens    int
	Temperature  float64
}

// Client implements model.Client on top of OpenAI chat completions.
type Client struct {
	chat         ChatClient
	defaultModel string
	highModel    string
	smallModel   string
	maxTok       int
	temp         float64
}

// New builds an OpenAI-backed model client.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{
		chat:         chat,
		defaultModel: opts.DefaultModel,
		highModel:    opts.HighModel,
		smallModel:   opts.SmallModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, Options{DefaultModel: defaultModel, MaxTokens: 4096})
}

func (c *Client) resolveModelID(req model.Request) string {
	if req.Model != "" {
		return req.Model
	}
	switch req.ModelClass {
	case model.ModelClassHighReasoning:
		if c.highModel != "" {
			return c.highModel
		}
	case model.ModelClassSmall:
		if c.smallModel != "" {
			return c.smallModel
		}
	}
	return c.defaultModel
}

func (c *Client) prepareRequest(req model.Request) (*sdk.ChatCompletionNewParams, map[string]tools.Ident, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("openai: messages are required")
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, nil, err
	}
	toolDefs, nameMap, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.resolveModelID(req)),
		Messages: msgs,
	}
	if len(toolDefs) > 0 {
		params.Tools = toolDefs
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(maxTokens))
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = c.temp
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	if req.ToolChoice.Mode != model.ToolChoiceAuto {
		tc, err := encodeToolChoice(req.ToolChoice)
		if err != nil {
			return nil, nil, err
		}
		params.ToolChoice = tc
	}
	return &params, nameMap, nil
}

// Complete issues a non-streaming chat completion request.
func (c *Client) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai chat.completions.new: %w", err)
	}
	return translateResponse(resp, nameMap)
}

// Stream invokes the streaming chat completion endpoint.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.chat.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai chat.completions.new stream: %w", err)
	}
	return newOpenAIStreamer(stream, nameMap), nil
}

func encodeMessages(msgs []model.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		var text string
		var toolCalls []sdk.ChatCompletionMessageToolCallParam
		var toolResultID, toolResultContent string
		var isToolResult bool
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				text += v.Text
			case model.ToolUsePart:
				toolCalls = append(toolCalls, sdk.ChatCompletionMessageToolCallParam{
					ID: v.ID,
					Function: sdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      string(v.Name),
						Arguments: string(v.Payload),
					},
				})
			case model.ToolResultPart:
				isToolResult = true
				toolResultID = v.ToolUseID
				toolResultContent = v.Content
			}
		}
		switch {
		case isToolResult:
			out = append(out, sdk.ToolMessage(toolResultContent, toolResultID))
		case m.Role == model.RoleSystem:
			out = append(out, sdk.SystemMessage(text))
		case m.Role == model.RoleAssistant:
			msg := sdk.ChatCompletionAssistantMessageParam{}
			if text != "" {
				msg.Content.OfString = sdk.String(text)
			}
			if len(toolCalls) > 0 {
				msg.ToolCalls = toolCalls
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &msg})
		case m.Role == model.RoleUser:
			out = append(out, sdk.UserMessage(text))
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}
	return out, nil
}

func encodeTools(defs []model.ToolDefinition) ([]sdk.ChatCompletionToolUnionParam, map[string]tools.Ident, error) {
	if len(defs) == 0 {
		return nil, nil, nil
	}
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(defs))
	nameMap := make(map[string]tools.Ident, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		var params map[string]any
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &params); err != nil {
				return nil, nil, fmt.Errorf("openai: tool %q schema: %w", def.Name, err)
			}
		}
		nameMap[string(def.Name)] = def.Name
		out = append(out, sdk.ChatCompletionFunctionTool(sdk.FunctionDefinitionParam{
			Name:        string(def.Name),
			Description: sdk.String(def.Description),
			Parameters:  params,
		}))
	}
	return out, nameMap, nil
}

func encodeToolChoice(choice model.ToolChoice) (sdk.ChatCompletionToolChoiceOptionUnionParam, error) {
	switch choice.Mode {
	case model.ToolChoiceNone:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("none")}, nil
	case model.ToolChoiceAny:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("required")}, nil
	case model.ToolChoiceTool:
		if choice.Name == "" {
			return sdk.ChatCompletionToolChoiceOptionUnionParam{}, errors.New("openai: tool choice mode tool requires a tool name")
		}
		return sdk.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &sdk.ChatCompletionNamedToolChoiceParam{
				Function: sdk.ChatCompletionNamedToolChoiceFunctionParam{Name: string(choice.Name)},
			},
		}, nil
	default:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{}, nil
	}
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

func translateResponse(resp *sdk.ChatCompletion, nameMap map[string]tools.Ident) (*model.Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	choice := resp.Choices[0]
	out := &model.Response{}
	if choice.Message.Content != "" {
		out.Content = append(out.Content, model.TextPart{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		name := tools.Ident(tc.Function.Name)
		if canonical, ok := nameMap[tc.Function.Name]; ok {
			name = canonical
		}
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			Name:    name,
			Payload: json.RawMessage(tc.Function.Arguments),
			ID:      tc.ID,
		})
	}
	out.Usage = model.TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	switch choice.FinishReason {
	case "tool_calls":
		out.StopReason = model.StopReasonToolUse
	case "length":
		out.StopReason = model.StopReasonMaxTokens
	case "stop":
		out.StopReason = model.StopReasonEndTurn
	default:
		out.StopReason = model.StopReasonEndTurn
	}
	return out, nil
}
