// Package bedrock provides a model.Client implementation backed by the AWS
// Bedrock Converse API, used to reach Anthropic, Meta, and other foundation
// models hosted on Bedrock through a single SDK surface.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/lemonflow/flowforge/internal/model"
	"github.com/lemonflow/flowforge/internal/tools"
)

// ConverseAPI captures the subset of the Bedrock runtime client used here.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the Bedrock adapter.
type Options struct {
	DefaultModel string
	HighModel    string
	SmallModel   string
	MaxTokens    int
	Temperature  float64
}

// Client implements model.Client on top of the Bedrock Converse API.
type Client struct {
	api          ConverseAPI
	defaultModel string
	highModel    string
	smallModel   string
	maxTok       int
	temp         float64
}

// New builds a Bedrock-backed model client.
func New(api ConverseAPI, opts Options) (*Client, error) {
	if api == nil {
		return nil, errors.New("bedrock client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{
		api:          api,
		defaultModel: opts.DefaultModel,
		highModel:    opts.HighModel,
		smallModel:   opts.SmallModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
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

func (c *Client) prepareRequest(req model.Request) (*bedrockruntime.ConverseInput, map[string]tools.Ident, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("bedrock: messages are required")
	}
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	in := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.resolveModelID(req)),
		Messages: msgs,
	}
	if len(system) > 0 {
		in.System = system
	}
	if maxTokens > 0 {
		in.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokens))}
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = c.temp
	}
	if temp > 0 {
		if in.InferenceConfig == nil {
			in.InferenceConfig = &types.InferenceConfiguration{}
		}
		in.InferenceConfig.Temperature = aws.Float32(float32(temp))
	}
	var nameMap map[string]tools.Ident
	if len(req.Tools) > 0 {
		toolCfg, m, err := encodeTools(req.Tools)
		if err != nil {
			return nil, nil, err
		}
		in.ToolConfig = toolCfg
		nameMap = m
	}
	return in, nameMap, nil
}

// Complete issues a non-streaming Converse request.
func (c *Client) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	in, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	out, err := c.api.Converse(ctx, in)
	if err != nil {
		if isThrottled(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("bedrock converse: %w", err)
	}
	return translateOutput(out, nameMap)
}

// Stream invokes ConverseStream and adapts events into model.Chunks.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	in, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	streamIn := &bedrockruntime.ConverseStreamInput{
		ModelId:         in.ModelId,
		Messages:        in.Messages,
		System:          in.System,
		InferenceConfig: in.InferenceConfig,
		ToolConfig:      in.ToolConfig,
	}
	out, err := c.api.ConverseStream(ctx, streamIn)
	if err != nil {
		if isThrottled(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("bedrock converse stream: %w", err)
	}
	return newBedrockStreamer(out, nameMap), nil
}

func encodeMessages(msgs []model.Message) ([]types.Message, []types.SystemContentBlock, error) {
	out := make([]types.Message, 0, len(msgs))
	var system []types.SystemContentBlock
	for _, m := range msgs {
		if m.Role == model.RoleSystem {
			for _, p := range m.Parts {
				if v, ok := p.(model.TextPart); ok && v.Text != "" {
					system = append(system, &types.SystemContentBlockMemberText{Value: v.Text})
				}
			}
			continue
		}
		var content []types.ContentBlock
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					content = append(content, &types.ContentBlockMemberText{Value: v.Text})
				}
			case model.ImagePart:
				format, ok := imageFormat(v.MediaType)
				if !ok {
					return nil, nil, fmt.Errorf("bedrock: unsupported image media type %q", v.MediaType)
				}
				content = append(content, &types.ContentBlockMemberImage{
					Value: types.ImageBlock{Format: format, Source: &types.ImageSourceMemberBytes{Value: v.Data}},
				})
			case model.ToolUsePart:
				var input any
				_ = json.Unmarshal(v.Payload, &input)
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(v.ID),
						Name:      aws.String(string(v.Name)),
						Input:     document.NewLazyDocument(input),
					},
				})
			case model.ToolResultPart:
				content = append(content, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(v.ToolUseID),
						Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: v.Content}},
						Status:    toolResultStatus(v.IsError),
					},
				})
			}
		}
		if len(content) == 0 {
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == model.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{Role: role, Content: content})
	}
	if len(out) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return out, system, nil
}

func toolResultStatus(isError bool) types.ToolResultStatus {
	if isError {
		return types.ToolResultStatusError
	}
	return types.ToolResultStatusSuccess
}

func imageFormat(mediaType string) (types.ImageFormat, bool) {
	switch strings.ToLower(mediaType) {
	case "image/png":
		return types.ImageFormatPng, true
	case "image/jpeg", "image/jpg":
		return types.ImageFormatJpeg, true
	case "image/gif":
		return types.ImageFormatGif, true
	case "image/webp":
		return types.ImageFormatWebp, true
	default:
		return "", false
	}
}

func encodeTools(defs []model.ToolDefinition) (*types.ToolConfiguration, map[string]tools.Ident, error) {
	nameMap := make(map[string]tools.Ident, len(defs))
	specs := make([]types.Tool, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		var schemaDoc any
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &schemaDoc); err != nil {
				return nil, nil, fmt.Errorf("bedrock: tool %q schema: %w", def.Name, err)
			}
		}
		nameMap[string(def.Name)] = def.Name
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(string(def.Name)),
				Description: aws.String(def.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaDoc)},
			},
		})
	}
	if len(specs) == 0 {
		return nil, nil, nil
	}
	return &types.ToolConfiguration{Tools: specs}, nameMap, nil
}

func translateOutput(out *bedrockruntime.ConverseOutput, nameMap map[string]tools.Ident) (*model.Response, error) {
	resp := &model.Response{}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return resp, nil
	}
	for _, block := range msg.Value.Content {
		switch v := block.(type) {
		case *types.ContentBlockMemberText:
			resp.Content = append(resp.Content, model.TextPart{Text: v.Value})
		case *types.ContentBlockMemberToolUse:
			name := tools.Ident(aws.ToString(v.Value.Name))
			if canonical, ok := nameMap[string(name)]; ok {
				name = canonical
			}
			payload, _ := json.Marshal(v.Value.Input)
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
				Name:    name,
				Payload: payload,
				ID:      aws.ToString(v.Value.ToolUseId),
			})
		}
	}
	if out.Usage != nil {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	switch out.StopReason {
	case types.StopReasonToolUse:
		resp.StopReason = model.StopReasonToolUse
	case types.StopReasonMaxTokens:
		resp.StopReason = model.StopReasonMaxTokens
	case types.StopReasonStopSequence:
		resp.StopReason = model.StopReasonStopSeq
	default:
		resp.StopReason = model.StopReasonEndTurn
	}
	return resp, nil
}

func isThrottled(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException":
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "throttl")
}
