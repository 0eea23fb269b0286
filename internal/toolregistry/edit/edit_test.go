package edit

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/workflow"
)

const testOwner = "owner-1"

func newTestDeps(t *testing.T, w *workflow.Workflow) (Deps, workflow.Store) {
	t.Helper()
	store := workflow.NewInMemoryStore()
	_, err := store.Create(context.Background(), w)
	require.NoError(t, err)
	validator := &workflow.Validator{Workflows: workflow.OwnedByAdapter{Store: store}}
	return Deps{Store: store, Validator: validator}, store
}

func session() *toolregistry.SessionState {
	return &toolregistry.SessionState{SessionID: "s1", OwnerID: testOwner}
}

func execAndDecode(t *testing.T, result *toolregistry.ToolResultMessage, out any) {
	t.Helper()
	require.Nil(t, result.Error, "unexpected tool error: %+v", result.Error)
	require.NoError(t, json.Unmarshal(result.Result, out))
}

func TestAddNodeRejectsUnknownInputRef(t *testing.T) {
	deps, _ := newTestDeps(t, &workflow.Workflow{
		ID:      "wf_1",
		OwnerID: testOwner,
		Nodes:   []workflow.Node{{ID: "start", Type: workflow.NodeStart, Label: "Start"}},
	})
	tool := NewAddNode(deps)
	payload, _ := json.Marshal(addNodeArgs{WorkflowID: "wf_1", Type: "process", Label: "Step", InputRef: "missing"})

	result, err := tool.Execute(context.Background(), payload, session())
	require.NoError(t, err)
	require.NotNil(t, result.Error)
	assert.Equal(t, toolregistry.ErrCodeInvalidArguments, result.Error.Code)
}

func TestAddNodeSubprocessRegistersOutputVariable(t *testing.T) {
	deps, store := newTestDeps(t, &workflow.Workflow{
		ID:      "wf_1",
		OwnerID: testOwner,
		Nodes:   []workflow.Node{{ID: "start", Type: workflow.NodeStart, Label: "Start"}},
	})
	_, err := store.Create(context.Background(), &workflow.Workflow{ID: "wf_2", OwnerID: testOwner, Metadata: workflow.Metadata{OutputType: workflow.OutputString}})
	require.NoError(t, err)
	tool := NewAddNode(deps)
	payload, _ := json.Marshal(addNodeArgs{
		WorkflowID: "wf_1", Type: "subprocess", Label: "Call sub",
		SubworkflowID: "wf_2", OutputVariable: "approval result",
	})

	result, err := tool.Execute(context.Background(), payload, session())
	require.NoError(t, err)
	var out map[string]any
	execAndDecode(t, result, &out)

	committed, err := store.Get(context.Background(), "wf_1")
	require.NoError(t, err)
	require.Len(t, committed.Nodes, 2)
	v, ok := committed.VariableByName("approval result")
	require.True(t, ok, "subprocess output variable should be auto-registered")
	assert.Equal(t, workflow.TypeString, v.Type)
}

func TestAddNodeDecisionSetsCondition(t *testing.T) {
	v := workflow.Variable{ID: workflow.GenerateVariableID("bmi", workflow.TypeFloat, workflow.SourceInput), Name: "bmi", Type: workflow.TypeFloat, Source: workflow.SourceInput}
	deps, store := newTestDeps(t, &workflow.Workflow{
		ID:        "wf_1",
		OwnerID:   testOwner,
		Nodes:     []workflow.Node{{ID: "start", Type: workflow.NodeStart, Label: "Start"}},
		Variables: []workflow.Variable{v},
	})
	tool := NewAddNode(deps)
	cond := &workflow.Condition{InputID: v.ID, Comparator: "gte", Value: float64(30)}
	payload, _ := json.Marshal(addNodeArgs{WorkflowID: "wf_1", Type: "decision", Label: "Obese?", Condition: cond})

	result, err := tool.Execute(context.Background(), payload, session())
	require.NoError(t, err)
	require.Nil(t, result.Error, "unexpected tool error: %+v", result.Error)

	committed, err := store.Get(context.Background(), "wf_1")
	require.NoError(t, err)
	require.Len(t, committed.Nodes, 2)
	require.NotNil(t, committed.Nodes[1].Condition)
	assert.Equal(t, "gte", committed.Nodes[1].Condition.Comparator)
}

func TestAddNodeSubprocessThreadsInputMapping(t *testing.T) {
	deps, store := newTestDeps(t, &workflow.Workflow{
		ID:      "wf_1",
		OwnerID: testOwner,
		Nodes:   []workflow.Node{{ID: "start", Type: workflow.NodeStart, Label: "Start"}},
	})
	_, err := store.Create(context.Background(), &workflow.Workflow{ID: "wf_2", OwnerID: testOwner, Metadata: workflow.Metadata{OutputType: workflow.OutputString}})
	require.NoError(t, err)
	tool := NewAddNode(deps)
	payload, _ := json.Marshal(addNodeArgs{
		WorkflowID: "wf_1", Type: "subprocess", Label: "Call sub",
		SubworkflowID: "wf_2", OutputVariable: "BMI_Result",
		InputMapping: map[string]string{"BMI": "bmi"},
	})

	result, err := tool.Execute(context.Background(), payload, session())
	require.NoError(t, err)
	require.Nil(t, result.Error, "unexpected tool error: %+v", result.Error)

	committed, err := store.Get(context.Background(), "wf_1")
	require.NoError(t, err)
	require.Len(t, committed.Nodes, 2)
	assert.Equal(t, map[string]string{"BMI": "bmi"}, committed.Nodes[1].InputMapping)
}

func TestBatchEditWorkflowAddNodeSetsDecisionCondition(t *testing.T) {
	v := workflow.Variable{ID: workflow.GenerateVariableID("bmi", workflow.TypeFloat, workflow.SourceInput), Name: "bmi", Type: workflow.TypeFloat, Source: workflow.SourceInput}
	deps, store := newTestDeps(t, &workflow.Workflow{
		ID:        "wf_1",
		OwnerID:   testOwner,
		Nodes:     []workflow.Node{{ID: "start", Type: workflow.NodeStart, Label: "Start"}},
		Variables: []workflow.Variable{v},
	})
	tool := NewBatchEditWorkflow(deps)
	payload := []byte(fmt.Sprintf(`{
		"workflow_id": "wf_1",
		"operations": [
			{"op": "add_node", "temp_id": "tmp1", "type": "decision", "label": "Obese?", "condition": {"input_id": %q, "comparator": "gte", "value": 30}}
		]
	}`, v.ID))

	result, err := tool.Execute(context.Background(), payload, session())
	require.NoError(t, err)
	require.Nil(t, result.Error, "unexpected error: %+v", result.Error)

	committed, err := store.Get(context.Background(), "wf_1")
	require.NoError(t, err)
	require.Len(t, committed.Nodes, 2)
	require.NotNil(t, committed.Nodes[1].Condition)
	assert.Equal(t, "gte", committed.Nodes[1].Condition.Comparator)
}

func TestAddConnectionAutoAssignsBranchLabels(t *testing.T) {
	deps, store := newTestDeps(t, &workflow.Workflow{
		ID:      "wf_1",
		OwnerID: testOwner,
		Nodes: []workflow.Node{
			{ID: "d1", Type: workflow.NodeDecision, Label: "Check"},
			{ID: "e1", Type: workflow.NodeEnd, Label: "Yes"},
			{ID: "e2", Type: workflow.NodeEnd, Label: "No"},
		},
	})
	tool := NewAddConnection(deps)

	p1, _ := json.Marshal(addConnectionArgs{WorkflowID: "wf_1", From: "Check", To: "Yes"})
	result, err := tool.Execute(context.Background(), p1, session())
	require.NoError(t, err)
	require.Nil(t, result.Error)

	p2, _ := json.Marshal(addConnectionArgs{WorkflowID: "wf_1", From: "Check", To: "No"})
	result, err = tool.Execute(context.Background(), p2, session())
	require.NoError(t, err)
	require.Nil(t, result.Error)

	committed, err := store.Get(context.Background(), "wf_1")
	require.NoError(t, err)
	require.Len(t, committed.Edges, 2)
	labels := map[workflow.EdgeLabel]bool{committed.Edges[0].Label: true, committed.Edges[1].Label: true}
	assert.True(t, labels[workflow.LabelTrue])
	assert.True(t, labels[workflow.LabelFalse])

	// a third edge off the same decision must be rejected
	p3, _ := json.Marshal(addConnectionArgs{WorkflowID: "wf_1", From: "Check", To: "Yes"})
	result, err = tool.Execute(context.Background(), p3, session())
	require.NoError(t, err)
	require.NotNil(t, result.Error)
	assert.Equal(t, string(workflow.CodeDuplicateEdgeLabel), result.Error.Code)
}

func TestAddConnectionRejectsInvalidLabel(t *testing.T) {
	deps, _ := newTestDeps(t, &workflow.Workflow{
		ID:      "wf_1",
		OwnerID: testOwner,
		Nodes: []workflow.Node{
			{ID: "d1", Type: workflow.NodeDecision, Label: "Check"},
			{ID: "e1", Type: workflow.NodeEnd, Label: "Done"},
		},
	})
	tool := NewAddConnection(deps)
	payload, _ := json.Marshal(addConnectionArgs{WorkflowID: "wf_1", From: "Check", To: "Done", Label: "maybe"})

	result, err := tool.Execute(context.Background(), payload, session())
	require.NoError(t, err)
	require.NotNil(t, result.Error)
}

func TestModifyWorkflowVariableRetargetsDecisionConditions(t *testing.T) {
	v := workflow.Variable{
		ID:   workflow.GenerateVariableID("age", workflow.TypeInt, workflow.SourceInput),
		Name: "age",
		Type: workflow.TypeInt,
	}
	deps, store := newTestDeps(t, &workflow.Workflow{
		ID:      "wf_1",
		OwnerID: testOwner,
		Nodes: []workflow.Node{
			{ID: "d1", Type: workflow.NodeDecision, Label: "Old enough?", Condition: &workflow.Condition{InputID: v.ID, Comparator: "gte", Value: 18}},
		},
		Variables: []workflow.Variable{v},
	})
	tool := NewModifyWorkflowVariable(deps)
	newName := "customer_age"
	payload, _ := json.Marshal(modifyVariableArgs{WorkflowID: "wf_1", Name: "age", NewName: &newName})

	result, err := tool.Execute(context.Background(), payload, session())
	require.NoError(t, err)
	var out map[string]any
	execAndDecode(t, result, &out)
	assert.NotEmpty(t, out["warning"])

	committed, err := store.Get(context.Background(), "wf_1")
	require.NoError(t, err)
	newVar, ok := committed.VariableByName("customer_age")
	require.True(t, ok)
	assert.Equal(t, newVar.ID, committed.Nodes[0].Condition.InputID, "decision condition should follow the regenerated variable id")
}

func TestBatchEditWorkflowResolvesTempIDsAcrossOperations(t *testing.T) {
	deps, store := newTestDeps(t, &workflow.Workflow{
		ID:      "wf_1",
		OwnerID: testOwner,
		Nodes:   []workflow.Node{{ID: "start", Type: workflow.NodeStart, Label: "Start"}},
	})
	tool := NewBatchEditWorkflow(deps)
	payload := []byte(`{
		"workflow_id": "wf_1",
		"operations": [
			{"op": "add_node", "temp_id": "tmp1", "type": "process", "label": "Step 1", "x": 10, "y": 10},
			{"op": "add_connection", "from": "Start", "to": "tmp1"}
		]
	}`)

	result, err := tool.Execute(context.Background(), payload, session())
	require.NoError(t, err)
	require.Nil(t, result.Error, "unexpected error: %+v", result.Error)

	committed, err := store.Get(context.Background(), "wf_1")
	require.NoError(t, err)
	require.Len(t, committed.Nodes, 2)
	require.Len(t, committed.Edges, 1)
	assert.Equal(t, "start", committed.Edges[0].From)
}

func TestRemoveWorkflowVariableRequiresForceWhenReferenced(t *testing.T) {
	v := workflow.Variable{ID: workflow.GenerateVariableID("age", workflow.TypeInt, workflow.SourceInput), Name: "age", Type: workflow.TypeInt, Source: workflow.SourceInput}
	deps, _ := newTestDeps(t, &workflow.Workflow{
		ID:      "wf_1",
		OwnerID: testOwner,
		Nodes: []workflow.Node{
			{ID: "d1", Type: workflow.NodeDecision, Label: "Old enough?", Condition: &workflow.Condition{InputID: v.ID, Comparator: "gte", Value: 18}},
		},
		Variables: []workflow.Variable{v},
	})
	tool := NewRemoveWorkflowVariable(deps)
	payload, _ := json.Marshal(map[string]any{"workflow_id": "wf_1", "name": "age"})

	result, err := tool.Execute(context.Background(), payload, session())
	require.NoError(t, err)
	require.NotNil(t, result.Error)

	payload, _ = json.Marshal(map[string]any{"workflow_id": "wf_1", "name": "age", "force": true})
	result, err = tool.Execute(context.Background(), payload, session())
	require.NoError(t, err)
	require.Nil(t, result.Error)
}
