// Package model abstracts over LLM providers (Anthropic, OpenAI, Bedrock)
// behind a single request/response vocabulary so the Orchestrator and
// Subagent never depend on a provider SDK directly.
package model

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/lemonflow/flowforge/internal/tools"
)

// Part is the marker interface implemented by every message content block.
type Part interface{ isPart() }

// TextPart is a plain text content block.
type TextPart struct {
	Text string
}

// ImagePart carries raw (already decoded) image bytes with a media type, used for
// flowchart screenshots and photos handed to the Subagent.
type ImagePart struct {
	MediaType string
	Data      []byte
}

// DocumentPart carries an inline document (e.g. a PDF export of a flowchart).
type DocumentPart struct {
	MediaType string
	Data      []byte
	Name      string
}

// CitationsPart carries source citations attached to a preceding text block.
type CitationsPart struct {
	Citations []string
}

// ThinkingPart carries extended-thinking content emitted by reasoning models.
type ThinkingPart struct {
	Text      string
	Signature string
}

// ToolUsePart represents a model-issued tool call within a message.
type ToolUsePart struct {
	ID      string
	Name    tools.Ident
	Payload json.RawMessage
}

// ToolResultPart represents the result of a tool call fed back to the model.
type ToolResultPart struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// CacheCheckpointPart marks a point after which preceding content should be
// cached by providers that support prompt caching.
type CacheCheckpointPart struct{}

func (TextPart) isPart()            {}
func (ImagePart) isPart()           {}
func (DocumentPart) isPart()        {}
func (CitationsPart) isPart()       {}
func (ThinkingPart) isPart()        {}
func (ToolUsePart) isPart()         {}
func (ToolResultPart) isPart()      {}
func (CacheCheckpointPart) isPart() {}

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn in a conversation, made up of one or more Parts.
type Message struct {
	Role  Role
	Parts []Part
	Meta  map[string]any
}

// ToolDefinition describes a tool made available to the model for a single
// completion request, independent of the Tool Registry's own bookkeeping.
type ToolDefinition struct {
	Name        tools.Ident
	Description string
	InputSchema json.RawMessage
}

// ToolCall is a fully-formed tool invocation decoded from a completed or
// streamed response.
type ToolCall struct {
	Name    tools.Ident
	Payload json.RawMessage
	ID      string
}

// ToolCallDelta is an incremental fragment of a tool call's JSON payload
// arriving over a stream; fragments for the same ID are concatenated and
// parsed once a Chunk of type ChunkTypeStop or a terminal tool-call chunk
// arrives.
type ToolCallDelta struct {
	Name  tools.Ident
	ID    string
	Delta string
}

// ToolChoiceMode controls whether and how the model must call a tool.
type ToolChoiceMode int

const (
	ToolChoiceAuto ToolChoiceMode = iota
	ToolChoiceNone
	ToolChoiceAny
	ToolChoiceTool
)

// ToolChoice pairs a ToolChoiceMode with the specific tool name required
// when Mode is ToolChoiceTool.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name tools.Ident
}

// TokenUsage reports token accounting for a single completion, including
// prompt-cache read/write counts where the provider supports caching.
type TokenUsage struct {
	InputTokens     int
	OutputTokens    int
	TotalTokens     int
	CacheReadTokens int
	CacheWriteTokens int
}

// ModelClass selects a provider-specific model tier without hardcoding a
// model name in calling code.
type ModelClass string

const (
	ModelClassHighReasoning ModelClass = "high_reasoning"
	ModelClassDefault       ModelClass = "default"
	ModelClassSmall         ModelClass = "small"
)

// ThinkingOptions configures extended-thinking / reasoning behavior for
// providers that support it.
type ThinkingOptions struct {
	Enable      bool
	Interleaved bool
	BudgetTokens int
}

// CacheOptions requests prompt-cache checkpoints at standard boundaries.
type CacheOptions struct {
	AfterSystem bool
	AfterTools  bool
}

// Request is a single completion request.
type Request struct {
	RunID       string
	Model       string
	ModelClass  ModelClass
	Messages    []Message
	Temperature float64
	Tools       []ToolDefinition
	ToolChoice  ToolChoice
	MaxTokens   int
	Stream      bool
	Thinking    ThinkingOptions
	Cache       CacheOptions
}

// StopReason reports why a completion stopped generating.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonToolUse    StopReason = "tool_use"
	StopReasonMaxTokens  StopReason = "max_tokens"
	StopReasonStopSeq    StopReason = "stop_sequence"
)

// Response is a complete (non-streamed) model completion.
type Response struct {
	Content    []Part
	ToolCalls  []ToolCall
	Usage      TokenUsage
	StopReason StopReason
}

// ChunkType discriminates the payload carried by a streamed Chunk.
type ChunkType int

const (
	ChunkTypeText ChunkType = iota
	ChunkTypeToolCall
	ChunkTypeToolCallDelta
	ChunkTypeThinking
	ChunkTypeUsage
	ChunkTypeStop
)

// Chunk is one increment of a streamed completion.
type Chunk struct {
	Type          ChunkType
	Message       string
	Thinking      string
	ToolCall      *ToolCall
	ToolCallDelta *ToolCallDelta
	UsageDelta    *TokenUsage
	StopReason    StopReason
}

// ErrStreamingUnsupported is returned by Client.Stream when the underlying
// provider/model combination cannot stream (e.g. some reasoning models).
var ErrStreamingUnsupported = errors.New("model: streaming unsupported for this request")

// ErrRateLimited is returned (or wrapped) by Client.Complete/Stream when the
// provider signals a rate limit; middleware.AdaptiveRateLimiter watches for
// this sentinel via errors.Is to back off.
var ErrRateLimited = errors.New("model: rate limited")

// Streamer yields Chunks for a single in-flight streamed completion.
type Streamer interface {
	// Recv returns the next chunk, or io.EOF once the stream completes
	// normally.
	Recv() (Chunk, error)
	Close() error
	// Metadata returns provider-specific diagnostic metadata (e.g. the
	// request ID), valid only after the stream has closed or errored.
	Metadata() map[string]string
}

// Client is implemented once per provider (Anthropic, OpenAI, Bedrock) and
// wrapped by middleware such as the adaptive rate limiter.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) (Streamer, error)
}
