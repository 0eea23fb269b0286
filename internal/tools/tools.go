// Package tools exposes the shared tool metadata and codec types used by the
// Tool Registry and its editing tools: a strong identifier type, JSON Schema
// backed parameter specs, and structured field-level validation issues.
package tools

import "encoding/json"

// Ident is the strong type for fully qualified tool identifiers (e.g.
// "workflow.add_node"). Use this type when referencing tools in maps or APIs
// to avoid accidentally mixing them with free-form strings.
type Ident string

func (i Ident) String() string { return string(i) }

// JSONCodec serializes and deserializes strongly typed values to and from JSON.
type JSONCodec[T any] struct {
	ToJSON   func(T) ([]byte, error)
	FromJSON func([]byte) (T, error)
}

// AnyJSONCodec is a pre-built codec for the `any` type, used by tools whose
// result shape is a dynamic map rather than a generated struct.
var AnyJSONCodec = JSONCodec[any]{
	ToJSON: json.Marshal,
	FromJSON: func(data []byte) (any, error) {
		if len(data) == 0 {
			return nil, nil
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	},
}

// TypeSpec describes the payload or result schema for a tool.
type TypeSpec struct {
	// Name is the Go identifier associated with the type.
	Name string
	// Schema is the JSON Schema document describing this type. The Registry
	// does not read it: it compiles each tool's argument schema from
	// ToolSpec.Parameters instead.
	Schema []byte
	// ExampleInput is a canonical example payload for the type; the Registry
	// does not read it.
	ExampleInput map[string]any
	// Codec serializes and deserializes values matching the type.
	Codec JSONCodec[any]
}

// Parameter describes one LLM-visible tool parameter, mirroring the function
// calling wire format: {name, type, description, required, enum?}.
type Parameter struct {
	Name        string
	Type        string // string|number|integer|boolean|array|object
	Description string
	Required    bool
	Enum        []string
}

// ToolSpec enumerates the metadata, parameter declarations, and JSON codecs
// for one registered tool.
type ToolSpec struct {
	// Name is the globally unique tool identifier.
	Name Ident
	// Toolset is the routing identifier used by the transport bridge (the
	// MCP suite name, or "direct" for in-process dispatch).
	Toolset string
	// Description is presented to the model to decide when to call the tool.
	Description string
	// Parameters is the ordered parameter declaration list.
	Parameters []Parameter
	// Aliases lists additional names under which this tool may be invoked,
	// for backward compatibility with renamed tools.
	Aliases []string
	// Payload describes the request schema for the tool.
	Payload TypeSpec
	// Result describes the response schema for the tool.
	Result TypeSpec
}

// FieldIssue represents a single validation issue for a payload. The
// Registry sets Constraint to "invalid_json" when the payload is not valid
// JSON and to "invalid_arguments" when it fails the tool's argument schema.
type FieldIssue struct {
	Field      string
	Constraint string
	Allowed    []string
	MinLen     *int
	MaxLen     *int
	Pattern    string
	Format     string
}
