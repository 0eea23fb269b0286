package annotate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonflow/flowforge/internal/toolregistry"
)

func TestStoreAppendDedupesNearbyQuestions(t *testing.T) {
	store := NewStore(t.TempDir())

	first, err := store.Append("diagram.png", Annotation{ID: "a1", Question: "what is this?", X: 10, Y: 10}, 10)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := store.Append("diagram.png", Annotation{ID: "a2", Question: "what is this?", X: 12, Y: 9}, 10)
	require.NoError(t, err)
	assert.Nil(t, second, "a nearby identical question should be deduped")

	third, err := store.Append("diagram.png", Annotation{ID: "a3", Question: "what is this?", X: 400, Y: 400}, 10)
	require.NoError(t, err)
	assert.NotNil(t, third, "a far-away pin with the same question should not be deduped")

	loaded, err := store.Load("diagram.png")
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func TestStoreLoadMissingSidecarReturnsEmpty(t *testing.T) {
	store := NewStore(t.TempDir())
	loaded, err := store.Load("nope.png")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestAddImageQuestionRequiresQuestionAndPath(t *testing.T) {
	tool := NewAddImageQuestion(NewStore(t.TempDir()))
	payload, _ := json.Marshal(addImageQuestionArgs{ImagePath: "diagram.png"})
	result, err := tool.Execute(context.Background(), payload, &toolregistry.SessionState{})
	require.NoError(t, err)
	require.NotNil(t, result.Error)
}

func TestAddImageQuestionPinsAndDedupes(t *testing.T) {
	tool := NewAddImageQuestion(NewStore(t.TempDir()))
	payload, _ := json.Marshal(addImageQuestionArgs{ImagePath: "diagram.png", X: 5, Y: 5, Question: "what does this box mean?"})

	result, err := tool.Execute(context.Background(), payload, &toolregistry.SessionState{})
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(result.Result, &out))
	assert.NotEmpty(t, out["annotation_id"])

	result, err = tool.Execute(context.Background(), payload, &toolregistry.SessionState{})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(result.Result, &out))
	assert.Equal(t, true, out["deduped"])
}
