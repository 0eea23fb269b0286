// Package anthropic provides a model.Client implementation backed by the
// Anthropic Claude Messages API. It translates runtime requests into
// anthropic.Message calls using github.com/anthropics/anthropic-sdk-go and maps
// responses (text, tools, usage) back into the generic model structures.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/lemonflow/flowforge/internal/model"
	"github.com/lemonflow/flowforge/internal/tools"
)

// MessagesClient captures the subset of the Anthropic SDK client used by the
// adapter, letting tests substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures optional Anthropic adapter behavior.
type Options struct {
	DefaultModel string
	HighModel    string
	SmallModel   string
	MaxTokens    int
	Temperature  float64
}

// Client implements model.Client on top of Anthropic Claude Messages.
type Client struct {
	msg          MessagesClient
	defaultModel string
	highModel    string
	smallModel   string
	maxTok       int
	temp         float64
}

// New builds an Anthropic-backed model client from a Messages client and
// configuration options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		highModel:    opts.HighModel,
		smallModel:   opts.SmallModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel, MaxTokens: 4096})
}

// Complete issues a non-streaming Messages.New request.
func (c *Client) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateResponse(msg, nameMap)
}

// Stream invokes Messages.NewStreaming and adapts events into model.Chunks.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("anthropic messages.new stream: %w", err)
	}
	return newAnthropicStreamer(stream, nameMap), nil
}

func (c *Client) prepareRequest(req model.Request) (*sdk.MessageNewParams, map[string]tools.Ident, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("anthropic: messages are required")
	}
	modelID := c.resolveModelID(req)
	if modelID == "" {
		return nil, nil, errors.New("anthropic: model identifier is required")
	}
	toolList, canonToSan, sanToCanon, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	msgs, system, err := encodeMessages(req.Messages, canonToSan)
	if err != nil {
		return nil, nil, err
	}
	maxTokens := c.effectiveMaxTokens(req.MaxTokens)
	if maxTokens <= 0 {
		return nil, nil, errors.New("anthropic: max_tokens must be positive")
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(toolList) > 0 {
		params.Tools = toolList
	}
	if t := c.effectiveTemperature(req.Temperature); t > 0 {
		params.Temperature = sdk.Float(t)
	}
	if req.Thinking.Enable {
		budget := req.Thinking.BudgetTokens
		if budget < 1024 {
			return nil, nil, fmt.Errorf("anthropic: thinking budget %d must be >= 1024", budget)
		}
		if int64(budget) >= int64(maxTokens) {
			return nil, nil, fmt.Errorf("anthropic: thinking budget %d must be less than max_tokens %d", budget, maxTokens)
		}
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(int64(budget))
	}
	if req.ToolChoice.Mode != model.ToolChoiceAuto {
		tc, err := encodeToolChoice(req.ToolChoice, canonToSan, req.Tools)
		if err != nil {
			return nil, nil, err
		}
		params.ToolChoice = tc
	}
	return &params, sanToCanon, nil
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

func (c *Client) effectiveMaxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return c.maxTok
}

func (c *Client) effectiveTemperature(requested float64) float64 {
	if requested > 0 {
		return requested
	}
	return c.temp
}

func encodeMessages(msgs []model.Message, nameMap map[string]string) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, len(msgs))

	for _, m := range msgs {
		if m.Role == model.RoleSystem {
			for _, p := range m.Parts {
				if v, ok := p.(model.TextPart); ok && v.Text != "" {
					system = append(system, sdk.TextBlockParam{Text: v.Text})
				}
			}
			continue
		}

		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case model.ImagePart:
				blocks = append(blocks, sdk.NewImageBlockBase64(v.MediaType, base64.StdEncoding.EncodeToString(v.Data)))
			case model.ToolUsePart:
				if v.Name == "" {
					return nil, nil, errors.New("anthropic: tool_use part missing name")
				}
				sanitized, ok := nameMap[string(v.Name)]
				if !ok || sanitized == "" {
					return nil, nil, fmt.Errorf("anthropic: tool_use references %q which is not in the current tool configuration", v.Name)
				}
				var input any
				_ = json.Unmarshal(v.Payload, &input)
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, input, sanitized))
			case model.ToolResultPart:
				blocks = append(blocks, sdk.NewToolResultBlock(v.ToolUseID, v.Content, v.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case model.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case model.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(defs []model.ToolDefinition) ([]sdk.ToolUnionParam, map[string]string, map[string]tools.Ident, error) {
	if len(defs) == 0 {
		return nil, nil, nil, nil
	}
	toolList := make([]sdk.ToolUnionParam, 0, len(defs))
	canonToSan := make(map[string]string, len(defs))
	sanToCanon := make(map[string]tools.Ident, len(defs))

	for _, def := range defs {
		canonical := string(def.Name)
		if canonical == "" {
			continue
		}
		sanitized := sanitizeToolName(canonical)
		if prev, ok := sanToCanon[sanitized]; ok && string(prev) != canonical {
			return nil, nil, nil, fmt.Errorf("anthropic: tool name %q sanitizes to %q which collides with %q", canonical, sanitized, prev)
		}
		sanToCanon[sanitized] = def.Name
		canonToSan[canonical] = sanitized
		if def.Description == "" {
			return nil, nil, nil, fmt.Errorf("anthropic: tool %q is missing description", canonical)
		}
		schema, err := toolInputSchema(def.InputSchema)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("anthropic: tool %q schema: %w", canonical, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, sanitized)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		toolList = append(toolList, u)
	}
	return toolList, canonToSan, sanToCanon, nil
}

func toolInputSchema(schema json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	if len(schema) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(schema, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func encodeToolChoice(choice model.ToolChoice, canonToSan map[string]string, defs []model.ToolDefinition) (sdk.ToolChoiceUnionParam, error) {
	switch choice.Mode {
	case model.ToolChoiceNone:
		none := sdk.NewToolChoiceNoneParam()
		return sdk.ToolChoiceUnionParam{OfNone: &none}, nil
	case model.ToolChoiceAny:
		return sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}, nil
	case model.ToolChoiceTool:
		if choice.Name == "" {
			return sdk.ToolChoiceUnionParam{}, errors.New("anthropic: tool choice mode tool requires a tool name")
		}
		if !hasToolDefinition(defs, choice.Name) {
			return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropic: tool choice name %q does not match any tool", choice.Name)
		}
		sanitized, ok := canonToSan[string(choice.Name)]
		if !ok || sanitized == "" {
			return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropic: tool choice name %q does not match any tool", choice.Name)
		}
		return sdk.ToolChoiceParamOfTool(sanitized), nil
	default:
		return sdk.ToolChoiceUnionParam{}, nil
	}
}

func hasToolDefinition(defs []model.ToolDefinition, name tools.Ident) bool {
	for _, def := range defs {
		if def.Name == name {
			return true
		}
	}
	return false
}

// sanitizeToolName maps a canonical "toolset.tool" identifier to the
// characters Anthropic allows in a tool name by replacing disallowed runes.
func sanitizeToolName(in string) string {
	base := in
	if idx := strings.LastIndex(in, "."); idx >= 0 && idx+1 < len(in) {
		base = in[idx+1:]
	}
	if isProviderSafeToolName(base) {
		return base
	}
	out := make([]rune, 0, len(base))
	for _, r := range base {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

func isProviderSafeToolName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

func translateResponse(msg *sdk.Message, nameMap map[string]tools.Ident) (*model.Response, error) {
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}
	resp := &model.Response{}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			resp.Content = append(resp.Content, model.TextPart{Text: block.Text})
		case "tool_use":
			name := tools.Ident(block.Name)
			if canonical, ok := nameMap[block.Name]; ok {
				name = canonical
			}
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
				Name:    name,
				Payload: json.RawMessage(block.Input),
				ID:      block.ID,
			})
		}
	}
	if u := msg.Usage; u.InputTokens != 0 || u.OutputTokens != 0 || u.CacheReadInputTokens != 0 || u.CacheCreationInputTokens != 0 {
		resp.Usage = model.TokenUsage{
			InputTokens:      int(u.InputTokens),
			OutputTokens:     int(u.OutputTokens),
			TotalTokens:      int(u.InputTokens + u.OutputTokens),
			CacheReadTokens:  int(u.CacheReadInputTokens),
			CacheWriteTokens: int(u.CacheCreationInputTokens),
		}
	}
	switch msg.StopReason {
	case "tool_use":
		resp.StopReason = model.StopReasonToolUse
	case "max_tokens":
		resp.StopReason = model.StopReasonMaxTokens
	case "stop_sequence":
		resp.StopReason = model.StopReasonStopSeq
	default:
		resp.StopReason = model.StopReasonEndTurn
	}
	return resp, nil
}
