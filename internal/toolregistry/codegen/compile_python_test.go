package codegen

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/workflow"
)

func newStoreWith(t *testing.T, w *workflow.Workflow) workflow.Store {
	t.Helper()
	store := workflow.NewInMemoryStore()
	_, err := store.Create(context.Background(), w)
	require.NoError(t, err)
	return store
}

func TestCompilePythonLinearWorkflow(t *testing.T) {
	w := &workflow.Workflow{
		ID:       "wf_1",
		OwnerID:  "owner-1",
		Metadata: workflow.Metadata{Name: "Greet"},
		Nodes: []workflow.Node{
			{ID: "start", Type: workflow.NodeStart, Label: "Start"},
			{ID: "end", Type: workflow.NodeEnd, Label: "Done", OutputType: workflow.OutputString, OutputTemplate: "hello"},
		},
		Edges: []workflow.Edge{{ID: workflow.EdgeID("start", "end"), From: "start", To: "end"}},
	}
	store := newStoreWith(t, w)
	validator := &workflow.Validator{Workflows: workflow.OwnedByAdapter{Store: store}}
	tool := NewCompilePython(store, validator)

	payload, _ := json.Marshal(compilePythonArgs{WorkflowID: "wf_1"})
	result, err := tool.Execute(context.Background(), payload, &toolregistry.SessionState{OwnerID: "owner-1"})
	require.NoError(t, err)
	require.Nil(t, result.Error)

	var out struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(result.Result, &out))
	assert.True(t, out.Success)
	assert.Contains(t, out.Code, "def greet(")
	assert.Contains(t, out.Code, "return f\"hello\"")
}

func TestCompilePythonDecisionBranch(t *testing.T) {
	v := workflow.Variable{ID: workflow.GenerateVariableID("age", workflow.TypeInt, workflow.SourceInput), Name: "age", Type: workflow.TypeInt, Source: workflow.SourceInput}
	w := &workflow.Workflow{
		ID:        "wf_1",
		OwnerID:   "owner-1",
		Metadata:  workflow.Metadata{Name: "Age gate"},
		Variables: []workflow.Variable{v},
		Nodes: []workflow.Node{
			{ID: "start", Type: workflow.NodeStart, Label: "Start"},
			{ID: "d", Type: workflow.NodeDecision, Label: "Old enough?", Condition: &workflow.Condition{InputID: v.ID, Comparator: "gte", Value: 18}},
			{ID: "yes", Type: workflow.NodeEnd, Label: "Yes", OutputType: workflow.OutputBool, OutputValue: true},
			{ID: "no", Type: workflow.NodeEnd, Label: "No", OutputType: workflow.OutputBool, OutputValue: false},
		},
		Edges: []workflow.Edge{
			{ID: workflow.EdgeID("start", "d"), From: "start", To: "d"},
			{ID: workflow.EdgeID("d", "yes"), From: "d", To: "yes", Label: workflow.LabelTrue},
			{ID: workflow.EdgeID("d", "no"), From: "d", To: "no", Label: workflow.LabelFalse},
		},
	}
	store := newStoreWith(t, w)
	validator := &workflow.Validator{Workflows: workflow.OwnedByAdapter{Store: store}}
	tool := NewCompilePython(store, validator)

	payload, _ := json.Marshal(compilePythonArgs{WorkflowID: "wf_1"})
	result, err := tool.Execute(context.Background(), payload, &toolregistry.SessionState{OwnerID: "owner-1"})
	require.NoError(t, err)
	require.Nil(t, result.Error)

	var out struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(result.Result, &out))
	assert.True(t, out.Success)
	assert.Contains(t, out.Code, "if age >= 18:")
	assert.Contains(t, out.Code, "else:")
}

func TestCompilePythonRejectsWrongOwner(t *testing.T) {
	w := &workflow.Workflow{
		ID:      "wf_1",
		OwnerID: "owner-1",
		Nodes:   []workflow.Node{{ID: "start", Type: workflow.NodeStart, Label: "Start"}},
	}
	store := newStoreWith(t, w)
	validator := &workflow.Validator{Workflows: workflow.OwnedByAdapter{Store: store}}
	tool := NewCompilePython(store, validator)

	payload, _ := json.Marshal(compilePythonArgs{WorkflowID: "wf_1"})
	result, err := tool.Execute(context.Background(), payload, &toolregistry.SessionState{OwnerID: "owner-2"})
	require.NoError(t, err)
	require.NotNil(t, result.Error)
	assert.Equal(t, toolregistry.ErrCodeForbidden, result.Error.Code)
}
