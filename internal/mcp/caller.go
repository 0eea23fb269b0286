// Package mcp implements the transport bridge between the Orchestrator and
// the Tool Registry: a Caller interface with two implementations, direct
// in-process dispatch and a remote MCP (HTTP+SSE) client, selected by
// configuration rather than by the calling code.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/tools"
)

// Caller is the transport-agnostic boundary the Orchestrator calls through
// to execute a tool, whether the registry lives in-process or behind a
// remote MCP endpoint.
type Caller interface {
	Call(ctx context.Context, name tools.Ident, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error)
	// Definitions returns the tool-calling definitions to advertise to the
	// model provider.
	Definitions(ctx context.Context) ([]*tools.ToolSpec, error)
}

// DirectCaller dispatches straight into an in-process Registry, used when
// the Orchestrator and Tool Registry run in the same process.
type DirectCaller struct {
	Registry *toolregistry.Registry
}

// NewDirectCaller constructs a Caller backed by an in-process Registry.
func NewDirectCaller(reg *toolregistry.Registry) *DirectCaller {
	return &DirectCaller{Registry: reg}
}

func (c *DirectCaller) Call(ctx context.Context, name tools.Ident, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	return c.Registry.Execute(ctx, name, payload, session), nil
}

func (c *DirectCaller) Definitions(ctx context.Context) ([]*tools.ToolSpec, error) {
	return c.Registry.Definitions(), nil
}
