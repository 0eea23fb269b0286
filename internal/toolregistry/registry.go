package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/lemonflow/flowforge/internal/tools"
)

// SessionState is the per-conversation context passed to every tool
// execution. Tools that mutate a workflow read OwnerID to enforce
// ownership and may read/write arbitrary caller-scoped state (for example
// the Subagent's most recent analysis) through the Values map.
type SessionState struct {
	SessionID string
	OwnerID   string
	Values    map[string]any
}

// Tool is one operation in the catalogue. Execute receives the raw JSON
// payload (already schema-validated against Spec().Parameters) and the
// session state it was invoked under.
type Tool interface {
	Spec() *tools.ToolSpec
	Execute(ctx context.Context, payload json.RawMessage, session *SessionState) (*ToolResultMessage, error)
}

// Registry is the namespaced catalogue of tool-registry operations:
// insertion under a canonical name plus any aliases, schema validation of
// incoming arguments, and dispatch by name.
type Registry struct {
	mu        sync.RWMutex
	tools     map[tools.Ident]Tool
	schemas   map[tools.Ident]*jsonschema.Schema
	compiler  *jsonschema.Compiler
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		tools:    make(map[tools.Ident]Tool),
		schemas:  make(map[tools.Ident]*jsonschema.Schema),
		compiler: jsonschema.NewCompiler(),
	}
}

// Register inserts a tool under its canonical name and every alias
// declared in its spec. Registering a name or alias a second time
// overwrites the previous registration, matching the teacher catalogue's
// "last registration wins" convention for backward-compatible renames.
func (r *Registry) Register(t Tool) error {
	spec := t.Spec()
	if spec == nil || spec.Name == "" {
		return fmt.Errorf("toolregistry: tool has no name")
	}
	schema, err := compileParameterSchema(r.compiler, spec)
	if err != nil {
		return fmt.Errorf("toolregistry: compile schema for %q: %w", spec.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[spec.Name] = t
	r.schemas[spec.Name] = schema
	for _, alias := range spec.Aliases {
		r.tools[tools.Ident(alias)] = t
		r.schemas[tools.Ident(alias)] = schema
	}
	return nil
}

// Lookup returns the registered tool for name, following aliases.
func (r *Registry) Lookup(name tools.Ident) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the tool-calling definitions the Orchestrator passes
// to the model provider, one per canonical name (aliases are not
// separately exposed to the LLM). Sorted by name for deterministic
// ordering across calls.
func (r *Registry) Definitions() []*tools.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[tools.Ident]bool)
	out := make([]*tools.ToolSpec, 0, len(r.tools))
	for name, t := range r.tools {
		spec := t.Spec()
		if spec.Name != name {
			continue // skip alias entries; only the canonical name is exposed
		}
		if seen[spec.Name] {
			continue
		}
		seen[spec.Name] = true
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute validates args against the tool's declared parameter schema and
// dispatches to its Execute method. Unknown names fail with
// ErrCodeUnknownTool; schema violations fail with ErrCodeInvalidArguments
// and populated FieldIssues before the tool implementation ever runs.
func (r *Registry) Execute(ctx context.Context, name tools.Ident, args json.RawMessage, session *SessionState) *ToolResultMessage {
	r.mu.RLock()
	t, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return NewErrorResult(ErrCodeUnknownTool, fmt.Sprintf("unknown tool %q", name))
	}

	if schema != nil {
		if issues := validateAgainstSchema(schema, args); len(issues) > 0 {
			return NewValidationErrorResult(fmt.Sprintf("arguments for %q failed validation", name), issues)
		}
	}

	result, err := t.Execute(ctx, args, session)
	if err != nil {
		return NewErrorResult(ErrCodeInternal, err.Error())
	}
	if result == nil {
		result = &ToolResultMessage{Result: json.RawMessage(`{"success":true}`)}
	}
	return result
}

func compileParameterSchema(compiler *jsonschema.Compiler, spec *tools.ToolSpec) (*jsonschema.Schema, error) {
	if len(spec.Parameters) == 0 {
		return nil, nil
	}
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
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	url := "mem://" + string(spec.Name) + ".json"
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

func validateAgainstSchema(schema *jsonschema.Schema, args json.RawMessage) []*tools.FieldIssue {
	var decoded any
	if len(args) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(args, &decoded); err != nil {
		return []*tools.FieldIssue{{Field: "", Constraint: "invalid_json"}}
	}
	err := schema.Validate(decoded)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []*tools.FieldIssue{{Field: "", Constraint: "invalid_arguments"}}
	}
	return flattenValidationError(ve)
}

func flattenValidationError(ve *jsonschema.ValidationError) []*tools.FieldIssue {
	var issues []*tools.FieldIssue
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if e == nil {
			return
		}
		field := ""
		if len(e.InstanceLocation) > 0 {
			field = e.InstanceLocation[len(e.InstanceLocation)-1]
		}
		issues = append(issues, &tools.FieldIssue{Field: field, Constraint: "invalid_arguments"})
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return issues
}
