package library

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/workflow"
)

func TestCreateWorkflowInsertsOwnedDraft(t *testing.T) {
	store := workflow.NewInMemoryStore()
	tool := NewCreateWorkflow(store)
	payload, _ := json.Marshal(createWorkflowArgs{Name: "Loan approval", OutputType: "bool"})

	result, err := tool.Execute(context.Background(), payload, &toolregistry.SessionState{OwnerID: "owner-1"})
	require.NoError(t, err)
	require.Nil(t, result.Error)

	var out struct {
		WorkflowID string `json:"workflow_id"`
	}
	require.NoError(t, json.Unmarshal(result.Result, &out))
	require.NotEmpty(t, out.WorkflowID)

	stored, err := store.Get(context.Background(), out.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", stored.OwnerID)
	assert.True(t, stored.Metadata.IsDraft)
}

func TestCreateWorkflowRejectsUnknownOutputType(t *testing.T) {
	store := workflow.NewInMemoryStore()
	tool := NewCreateWorkflow(store)
	payload, _ := json.Marshal(createWorkflowArgs{Name: "x", OutputType: "tuple"})

	result, err := tool.Execute(context.Background(), payload, &toolregistry.SessionState{OwnerID: "owner-1"})
	require.NoError(t, err)
	require.NotNil(t, result.Error)
}

func TestSaveWorkflowToLibraryIsIdempotent(t *testing.T) {
	store := workflow.NewInMemoryStore()
	w, err := store.Create(context.Background(), &workflow.Workflow{
		ID:       "wf_1",
		OwnerID:  "owner-1",
		Metadata: workflow.Metadata{Name: "Draft", IsDraft: true},
	})
	require.NoError(t, err)
	_ = w

	tool := NewSaveWorkflowToLibrary(store)
	session := &toolregistry.SessionState{OwnerID: "owner-1"}
	payload, _ := json.Marshal(saveWorkflowArgs{WorkflowID: "wf_1"})

	result, err := tool.Execute(context.Background(), payload, session)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(result.Result, &out))
	assert.Equal(t, false, out["already_saved"])

	stored, err := store.Get(context.Background(), "wf_1")
	require.NoError(t, err)
	assert.False(t, stored.Metadata.IsDraft)

	result, err = tool.Execute(context.Background(), payload, session)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(result.Result, &out))
	assert.Equal(t, true, out["already_saved"])
}

func TestSaveWorkflowToLibraryRejectsWrongOwner(t *testing.T) {
	store := workflow.NewInMemoryStore()
	_, err := store.Create(context.Background(), &workflow.Workflow{ID: "wf_1", OwnerID: "owner-1", Metadata: workflow.Metadata{IsDraft: true}})
	require.NoError(t, err)

	tool := NewSaveWorkflowToLibrary(store)
	payload, _ := json.Marshal(saveWorkflowArgs{WorkflowID: "wf_1"})
	result, err := tool.Execute(context.Background(), payload, &toolregistry.SessionState{OwnerID: "owner-2"})
	require.NoError(t, err)
	require.NotNil(t, result.Error)
	assert.Equal(t, toolregistry.ErrCodeForbidden, result.Error.Code)
}

func TestListWorkflowsInLibraryFiltersDrafts(t *testing.T) {
	store := workflow.NewInMemoryStore()
	_, err := store.Create(context.Background(), &workflow.Workflow{ID: "wf_draft", OwnerID: "owner-1", Metadata: workflow.Metadata{Name: "Draft wf", IsDraft: true}})
	require.NoError(t, err)
	_, err = store.Create(context.Background(), &workflow.Workflow{ID: "wf_saved", OwnerID: "owner-1", Metadata: workflow.Metadata{Name: "Saved wf", IsDraft: false}})
	require.NoError(t, err)

	tool := NewListWorkflowsInLibrary(store)
	includeDrafts := false
	payload, _ := json.Marshal(listWorkflowsArgs{IncludeDrafts: &includeDrafts})

	result, err := tool.Execute(context.Background(), payload, &toolregistry.SessionState{OwnerID: "owner-1"})
	require.NoError(t, err)
	var out struct {
		Count     int              `json:"count"`
		Workflows []map[string]any `json:"workflows"`
	}
	require.NoError(t, json.Unmarshal(result.Result, &out))
	require.Equal(t, 1, out.Count)
	assert.Equal(t, "wf_saved", out.Workflows[0]["id"])
}

func TestListWorkflowsInLibraryRequiresSession(t *testing.T) {
	store := workflow.NewInMemoryStore()
	tool := NewListWorkflowsInLibrary(store)
	result, err := tool.Execute(context.Background(), nil, &toolregistry.SessionState{})
	require.NoError(t, err)
	require.NotNil(t, result.Error)
	assert.Equal(t, toolregistry.ErrCodeForbidden, result.Error.Code)
}
