package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Patient Age":    "patient_age",
		"  leading":      "leading",
		"trailing  ":     "trailing",
		"Total  Cost!!":  "total_cost",
		"already_snake":  "already_snake",
		"100% Confident": "100_confident",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slug(in), "Slug(%q)", in)
	}
}

func TestWorkflowCloneIsIndependent(t *testing.T) {
	min, max := 0.0, 10.0
	w := &Workflow{
		ID: "wf1",
		Nodes: []Node{
			{ID: "n1", Type: NodeDecision, Condition: &Condition{InputID: "v1", Comparator: "gte", Value: 1}},
			{ID: "n2", Type: NodeSubprocess, InputMapping: map[string]string{"a": "b"}},
		},
		Variables: []Variable{
			{ID: "v1", Name: "age", Type: TypeInt, Range: &Range{Min: &min, Max: &max}, EnumValues: []string{"a", "b"}},
		},
	}

	clone := w.Clone()
	clone.Nodes[0].Condition.Comparator = "lt"
	clone.Nodes[1].InputMapping["a"] = "changed"
	clone.Variables[0].Range.Max = &min
	clone.Variables[0].EnumValues[0] = "z"

	require.Equal(t, "gte", w.Nodes[0].Condition.Comparator)
	require.Equal(t, "b", w.Nodes[1].InputMapping["a"])
	require.Equal(t, 10.0, *w.Variables[0].Range.Max)
	require.Equal(t, "a", w.Variables[0].EnumValues[0])
}

func TestNodeByIDOrLabelResolvesEitherForm(t *testing.T) {
	w := &Workflow{
		Nodes: []Node{
			{ID: "n1", Label: "Start Here"},
		},
	}

	byID, err := w.NodeByIDOrLabel("n1")
	require.NoError(t, err)
	assert.Equal(t, "n1", byID.ID)

	byLabel, err := w.NodeByIDOrLabel("Start Here")
	require.NoError(t, err)
	assert.Equal(t, "n1", byLabel.ID)

	_, err = w.NodeByIDOrLabel("missing")
	assert.Error(t, err)
}

func TestVariableLookups(t *testing.T) {
	w := &Workflow{
		Variables: []Variable{
			{ID: "var_age_int", Name: "age", Type: TypeInt},
		},
	}
	byName, ok := w.VariableByName("age")
	require.True(t, ok)
	assert.Equal(t, "var_age_int", byName.ID)

	byID, ok := w.VariableByID("var_age_int")
	require.True(t, ok)
	assert.Equal(t, "age", byID.Name)

	_, ok = w.VariableByName("missing")
	assert.False(t, ok)
}

func TestEdgeID(t *testing.T) {
	assert.Equal(t, "a->b", EdgeID("a", "b"))
}
