// Package toolregistry is the namespaced catalogue of workflow-editing
// operations: registration, JSON-schema argument validation, and dispatch
// by name, shared by both the direct in-process transport and the MCP
// remote transport.
package toolregistry

import (
	"encoding/json"

	"github.com/lemonflow/flowforge/internal/tools"
)

type (
	// ToolCallMeta is execution metadata threaded alongside a tool call so
	// providers can scope persistence and tracing without polluting tool
	// payload schemas.
	ToolCallMeta struct {
		RunID            string `json:"run_id"`
		SessionID        string `json:"session_id"`
		TurnID           string `json:"turn_id,omitempty"`
		ToolCallID       string `json:"tool_call_id,omitempty"`
		ParentToolCallID string `json:"parent_tool_call_id,omitempty"`

		// TraceParent carries the W3C Trace Context header across the MCP
		// transport boundary so a remote registry's spans nest under the
		// caller's trace.
		TraceParent string `json:"traceparent,omitempty"`
	}

	// ToolCallMessage is a wire envelope for a tool invocation. Neither the
	// SSE transport (which posts its own {id, tool, payload} body) nor
	// Registry.Execute (which takes the name and payload separately) uses it.
	ToolCallMessage struct {
		Tool    tools.Ident     `json:"tool"`
		Payload json.RawMessage `json:"payload"`
		Meta    *ToolCallMeta   `json:"meta,omitempty"`
	}

	// ToolResultMessage is the wire envelope for a tool's outcome. Result
	// carries the tool-specific success payload; Error is set instead on
	// failure. A mutating editing tool's Result includes the committed
	// post-state workflow under "workflow" so the Orchestrator can reconcile
	// state across transports; it carries no workflow_analysis fields.
	ToolResultMessage struct {
		Result     json.RawMessage    `json:"result,omitempty"`
		ServerData []*ServerDataItem  `json:"server_data,omitempty"`
		Error      *ToolError         `json:"error,omitempty"`
	}

	// ServerDataItem is server-only tool output published alongside the
	// canonical result JSON, never sent back to the model provider.
	ServerDataItem struct {
		Kind string          `json:"kind"`
		Data json.RawMessage `json:"data"`
	}

	// ToolError is a structured tool failure, with optional field-level
	// validation issues a caller can use to build a retry prompt.
	ToolError struct {
		Code    string             `json:"code"`
		Message string             `json:"message"`
		Issues  []*tools.FieldIssue `json:"issues,omitempty"`
	}
)

// NewErrorResult constructs a ToolResultMessage carrying a structured error.
func NewErrorResult(code, message string) *ToolResultMessage {
	return &ToolResultMessage{Error: &ToolError{Code: code, Message: message}}
}

// NewValidationErrorResult constructs a ToolResultMessage carrying field
// validation issues alongside a human-readable message.
func NewValidationErrorResult(message string, issues []*tools.FieldIssue) *ToolResultMessage {
	return &ToolResultMessage{Error: &ToolError{Code: "invalid_arguments", Message: message, Issues: issues}}
}

const (
	// ErrCodeUnknownTool is returned when Execute is called with a name that
	// is not registered under any canonical name or alias.
	ErrCodeUnknownTool = "unknown_tool"
	// ErrCodeInvalidArguments is returned when the tool payload fails JSON
	// schema validation against the tool's declared parameters.
	ErrCodeInvalidArguments = "invalid_arguments"
	// ErrCodeNotFound is returned when a tool references a workflow id that
	// does not exist.
	ErrCodeNotFound = "not_found"
	// ErrCodeForbidden is returned when a tool references a workflow id
	// that exists but is not owned by the acting user.
	ErrCodeForbidden = "forbidden"
	// ErrCodeValidationFailed is returned when the staged post-state fails
	// the workflow Validator.
	ErrCodeValidationFailed = "validation_failed"
	// ErrCodeInternal is returned for unexpected execution failures.
	ErrCodeInternal = "internal"
)
