package toolregistry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonflow/flowforge/internal/tools"
)

type echoTool struct {
	name    tools.Ident
	aliases []string
	params  []tools.Parameter
}

func (t echoTool) Spec() *tools.ToolSpec {
	return &tools.ToolSpec{Name: t.name, Aliases: t.aliases, Parameters: t.params}
}

func (t echoTool) Execute(ctx context.Context, payload json.RawMessage, session *SessionState) (*ToolResultMessage, error) {
	return &ToolResultMessage{Result: payload}, nil
}

func TestRegisterAndLookupByAlias(t *testing.T) {
	r := New()
	tool := echoTool{name: "workflow.add_node", aliases: []string{"workflow.create_node"}}
	require.NoError(t, r.Register(tool))

	got, ok := r.Lookup("workflow.add_node")
	assert.True(t, ok)
	assert.Equal(t, tool, got)

	got, ok = r.Lookup("workflow.create_node")
	assert.True(t, ok, "alias should resolve to the same tool")
	assert.Equal(t, tool, got)

	_, ok = r.Lookup("workflow.unknown")
	assert.False(t, ok)
}

func TestDefinitionsExcludesAliasesAndSortsByName(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(echoTool{name: "workflow.modify_node"}))
	require.NoError(t, r.Register(echoTool{name: "workflow.add_node", aliases: []string{"workflow.create_node"}}))

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, tools.Ident("workflow.add_node"), defs[0].Name)
	assert.Equal(t, tools.Ident("workflow.modify_node"), defs[1].Name)
}

func TestExecuteUnknownToolReturnsStructuredError(t *testing.T) {
	r := New()
	result := r.Execute(context.Background(), "workflow.nope", nil, &SessionState{})
	require.NotNil(t, result.Error)
	assert.Equal(t, ErrCodeUnknownTool, result.Error.Code)
}

func TestExecuteValidatesArgumentsAgainstSchema(t *testing.T) {
	r := New()
	tool := echoTool{
		name: "workflow.set_workflow_output",
		params: []tools.Parameter{
			{Name: "workflow_id", Type: "string", Required: true},
			{Name: "output_type", Type: "string", Enum: []string{"string", "int"}, Required: true},
		},
	}
	require.NoError(t, r.Register(tool))

	result := r.Execute(context.Background(), "workflow.set_workflow_output", json.RawMessage(`{"output_type":"bogus"}`), &SessionState{})
	require.NotNil(t, result.Error)
	assert.Equal(t, ErrCodeInvalidArguments, result.Error.Code)
	assert.NotEmpty(t, result.Error.Issues)

	result = r.Execute(context.Background(), "workflow.set_workflow_output", json.RawMessage(`{"workflow_id":"wf_1","output_type":"int"}`), &SessionState{})
	assert.Nil(t, result.Error)
	assert.JSONEq(t, `{"workflow_id":"wf_1","output_type":"int"}`, string(result.Result))
}

func TestExecuteDefaultsResultWhenToolReturnsNil(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(nilResultTool{}))
	result := r.Execute(context.Background(), "workflow.noop", nil, &SessionState{})
	require.Nil(t, result.Error)
	assert.JSONEq(t, `{"success":true}`, string(result.Result))
}

type nilResultTool struct{}

func (nilResultTool) Spec() *tools.ToolSpec { return &tools.ToolSpec{Name: "workflow.noop"} }
func (nilResultTool) Execute(context.Context, json.RawMessage, *SessionState) (*ToolResultMessage, error) {
	return nil, nil
}
