package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hasCode(errs []*ValidationError, code ErrorCode) bool {
	for _, e := range errs {
		if e.Code == code {
			return true
		}
	}
	return false
}

func TestValidateStrictRequiresStartNode(t *testing.T) {
	w := &Workflow{
		Nodes: []Node{
			{ID: "n1", Type: NodeProcess},
			{ID: "n2", Type: NodeEnd},
		},
		Edges: []Edge{{ID: EdgeID("n1", "n2"), From: "n1", To: "n2"}},
	}
	v := &Validator{}

	errs := v.Validate(w, Lenient)
	assert.False(t, hasCode(errs, CodeMissingStartNode), "lenient mode should not require a start node")

	errs = v.Validate(w, Strict)
	assert.True(t, hasCode(errs, CodeMissingStartNode))
}

func TestValidateDetectsMultipleStartNodes(t *testing.T) {
	w := &Workflow{
		Nodes: []Node{
			{ID: "n1", Type: NodeStart},
			{ID: "n2", Type: NodeStart},
		},
	}
	v := &Validator{}
	errs := v.Validate(w, Lenient)
	assert.True(t, hasCode(errs, CodeMultipleStartNodes))
}

func TestValidateDetectsSelfLoop(t *testing.T) {
	w := &Workflow{
		Nodes: []Node{{ID: "n1", Type: NodeProcess}},
		Edges: []Edge{{ID: EdgeID("n1", "n1"), From: "n1", To: "n1"}},
	}
	v := &Validator{}
	errs := v.Validate(w, Lenient)
	require.True(t, hasCode(errs, CodeSelfLoop))
}

func TestValidateDetectsCycleWithPath(t *testing.T) {
	w := &Workflow{
		Nodes: []Node{
			{ID: "a", Type: NodeStart},
			{ID: "b", Type: NodeProcess},
			{ID: "c", Type: NodeProcess},
		},
		Edges: []Edge{
			{ID: EdgeID("a", "b"), From: "a", To: "b"},
			{ID: EdgeID("b", "c"), From: "b", To: "c"},
			{ID: EdgeID("c", "b"), From: "c", To: "b"},
		},
	}
	v := &Validator{}
	errs := v.Validate(w, Lenient)
	require.True(t, hasCode(errs, CodeCycleDetected))
	for _, e := range errs {
		if e.Code == CodeCycleDetected {
			assert.Contains(t, e.Message, "->")
		}
	}
}

func TestValidateDecisionBranchLabels(t *testing.T) {
	w := &Workflow{
		Nodes: []Node{
			{ID: "d", Type: NodeDecision, Condition: &Condition{InputID: "var_age_int", Comparator: "gte", Value: 18}},
			{ID: "t", Type: NodeEnd},
			{ID: "f", Type: NodeEnd},
		},
		Edges: []Edge{
			{ID: EdgeID("d", "t"), From: "d", To: "t", Label: LabelTrue},
			{ID: EdgeID("d", "f"), From: "d", To: "f", Label: LabelTrue},
		},
		Variables: []Variable{{ID: "var_age_int", Name: "age", Type: TypeInt, Source: SourceInput}},
	}
	v := &Validator{}
	errs := v.Validate(w, Lenient)
	assert.True(t, hasCode(errs, CodeDuplicateEdgeLabel))
}

func TestValidateStrictRequiresBothBranches(t *testing.T) {
	w := &Workflow{
		Nodes: []Node{
			{ID: "s", Type: NodeStart},
			{ID: "d", Type: NodeDecision, Condition: &Condition{InputID: "var_age_int", Comparator: "gte", Value: 18}},
			{ID: "t", Type: NodeEnd},
		},
		Edges: []Edge{
			{ID: EdgeID("s", "d"), From: "s", To: "d"},
			{ID: EdgeID("d", "t"), From: "d", To: "t", Label: LabelTrue},
		},
		Variables: []Variable{{ID: "var_age_int", Name: "age", Type: TypeInt, Source: SourceInput}},
	}
	v := &Validator{}
	assert.False(t, hasCode(v.Validate(w, Lenient), CodeMaxBranchesReached))
	assert.True(t, hasCode(v.Validate(w, Strict), CodeMaxBranchesReached))
}

func TestValidateConditionComparatorMustMatchVariableType(t *testing.T) {
	w := &Workflow{
		Nodes: []Node{
			{ID: "d", Type: NodeDecision, Condition: &Condition{InputID: "var_name_string", Comparator: "gte", Value: "x"}},
		},
		Variables: []Variable{{ID: "var_name_string", Name: "name", Type: TypeString, Source: SourceInput}},
	}
	v := &Validator{}
	errs := v.Validate(w, Lenient)
	assert.True(t, hasCode(errs, CodeInvalidCondition))
}

func TestValidateConditionUnknownVariable(t *testing.T) {
	w := &Workflow{
		Nodes: []Node{
			{ID: "d", Type: NodeDecision, Condition: &Condition{InputID: "var_missing", Comparator: "eq", Value: 1}},
		},
	}
	v := &Validator{}
	errs := v.Validate(w, Lenient)
	assert.True(t, hasCode(errs, CodeUnknownInputReference))
}

func TestValidateOutputTemplateUnknownVariable(t *testing.T) {
	w := &Workflow{
		Nodes: []Node{
			{ID: "s", Type: NodeStart},
			{ID: "e", Type: NodeEnd, OutputType: OutputString, OutputTemplate: "Result: {{missing_var}}"},
		},
		Edges: []Edge{{ID: EdgeID("s", "e"), From: "s", To: "e"}},
	}
	v := &Validator{}
	assert.False(t, hasCode(v.Validate(w, Lenient), CodeUnknownInputReference))
	assert.True(t, hasCode(v.Validate(w, Strict), CodeUnknownInputReference))
}

func TestGenerateVariableID(t *testing.T) {
	cases := []struct {
		name   string
		typ    VariableType
		source VariableSource
		want   string
	}{
		{"Patient Age", TypeFloat, SourceInput, "var_patient_age_float"},
		{"Credit Score", TypeInt, SourceSubprocess, "var_sub_credit_score_int"},
		{"Total  Cost!!", TypeFloat, SourceCalculated, "var_calc_total_cost_float"},
	}
	for _, tt := range cases {
		got := GenerateVariableID(tt.name, tt.typ, tt.source)
		assert.Equal(t, tt.want, got)
	}
}

func TestWorkflowNodeByIDOrLabelAmbiguous(t *testing.T) {
	w := &Workflow{
		Nodes: []Node{
			{ID: "n1", Type: NodeProcess, Label: "Check"},
			{ID: "n2", Type: NodeProcess, Label: "Check"},
		},
	}
	_, err := w.NodeByIDOrLabel("Check")
	require.Error(t, err)
}
