package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonflow/flowforge/internal/model"
)

func TestGetOrCreateIsIdempotent(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "s1", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", first.OwnerID)

	second, err := store.GetOrCreate(ctx, "s1", "owner-2")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", second.OwnerID, "owner should not change on a repeat GetOrCreate")
}

func TestAppendAccumulatesMessages(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	_, err := store.GetOrCreate(ctx, "s1", "owner-1")
	require.NoError(t, err)

	_, err = store.Append(ctx, "s1", []model.Message{{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}}})
	require.NoError(t, err)
	updated, err := store.Append(ctx, "s1", []model.Message{{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: "hello"}}}})
	require.NoError(t, err)

	require.Len(t, updated.Messages, 2)
	assert.Equal(t, model.RoleUser, updated.Messages[0].Role)
	assert.Equal(t, model.RoleAssistant, updated.Messages[1].Role)
}

func TestCloneIsIndependentOfStoredState(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	conv, err := store.GetOrCreate(ctx, "s1", "owner-1")
	require.NoError(t, err)

	conv.Messages = append(conv.Messages, model.Message{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "mutated"}}})

	reGet, found, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, reGet.Messages, "mutating a cloned Conversation must not affect the stored copy")
}

func TestSetWorkflowIDPersists(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	_, err := store.GetOrCreate(ctx, "s1", "owner-1")
	require.NoError(t, err)

	updated, err := store.SetWorkflowID(ctx, "s1", "wf_1")
	require.NoError(t, err)
	assert.Equal(t, "wf_1", updated.WorkflowID)

	reGet, found, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "wf_1", reGet.WorkflowID)
}

func TestGetMissingSessionReturnsNotFound(t *testing.T) {
	store := NewInMemoryStore()
	_, found, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}
