package edit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/tools"
	"github.com/lemonflow/flowforge/internal/workflow"
)

// ModifyNode implements workflow.modify_node: merges a partial set of field
// updates into an existing node, re-validating its decision condition or
// subprocess configuration when those fields are touched.
type ModifyNode struct{ Deps }

func NewModifyNode(deps Deps) *ModifyNode { return &ModifyNode{deps} }

func (t *ModifyNode) Spec() *tools.ToolSpec {
	return &tools.ToolSpec{
		Name:        "workflow.modify_node",
		Toolset:     "direct",
		Description: "Update fields on an existing node, identified by id or unique label.",
		Parameters: []tools.Parameter{
			{Name: "workflow_id", Type: "string", Required: true},
			{Name: "node_id", Type: "string", Required: true},
			{Name: "label", Type: "string"},
			{Name: "x", Type: "number"},
			{Name: "y", Type: "number"},
			{Name: "condition_input_id", Type: "string"},
			{Name: "condition_comparator", Type: "string"},
			{Name: "condition_value", Type: "string"},
			{Name: "subworkflow_id", Type: "string"},
			{Name: "output_variable", Type: "string"},
			{Name: "output_type", Type: "string"},
			{Name: "output_template", Type: "string"},
		},
	}
}

type modifyNodeArgs struct {
	WorkflowID          string  `json:"workflow_id"`
	NodeID              string  `json:"node_id"`
	Label               *string `json:"label"`
	X                   *float64 `json:"x"`
	Y                   *float64 `json:"y"`
	ConditionInputID    *string `json:"condition_input_id"`
	ConditionComparator *string `json:"condition_comparator"`
	ConditionValue      any     `json:"condition_value"`
	SubworkflowID       *string `json:"subworkflow_id"`
	OutputVariable      *string `json:"output_variable"`
	OutputType          *string `json:"output_type"`
	OutputTemplate      *string `json:"output_template"`
}

func (t *ModifyNode) Execute(ctx context.Context, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	var args modifyNodeArgs
	if err := decodeArgs(payload, &args); err != nil {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, err.Error()), nil
	}

	w, errResult := t.load(ctx, args.WorkflowID, session.OwnerID)
	if errResult != nil {
		return errResult, nil
	}
	candidate := w.Clone()

	n, err := candidate.NodeByIDOrLabel(args.NodeID)
	if err != nil {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, err.Error()), nil
	}

	var changes []string
	if args.Label != nil {
		n.Label = *args.Label
		changes = append(changes, "label")
	}
	if args.X != nil {
		n.X = *args.X
		changes = append(changes, "x")
	}
	if args.Y != nil {
		n.Y = *args.Y
		changes = append(changes, "y")
	}
	if args.ConditionInputID != nil || args.ConditionComparator != nil || args.ConditionValue != nil {
		cond := n.Condition
		if cond == nil {
			cond = &workflow.Condition{}
		} else {
			c := *cond
			cond = &c
		}
		if args.ConditionInputID != nil {
			cond.InputID = *args.ConditionInputID
		}
		if args.ConditionComparator != nil {
			cond.Comparator = *args.ConditionComparator
		}
		if args.ConditionValue != nil {
			cond.Value = args.ConditionValue
		}
		n.Condition = cond
		changes = append(changes, "condition")
	}
	if args.SubworkflowID != nil {
		n.SubworkflowID = *args.SubworkflowID
		changes = append(changes, "subworkflow_id")
	}
	if args.OutputVariable != nil {
		n.OutputVariable = *args.OutputVariable
		changes = append(changes, "output_variable")
	}
	if args.OutputType != nil {
		n.OutputType = workflow.OutputType(*args.OutputType)
		changes = append(changes, "output_type")
	}
	if args.OutputTemplate != nil {
		n.OutputTemplate = *args.OutputTemplate
		changes = append(changes, "output_template")
	}

	committed, errResult := t.commit(ctx, candidate, workflow.Lenient)
	if errResult != nil {
		return errResult, nil
	}
	return successResult(map[string]any{
		"success":  true,
		"message":  fmt.Sprintf("updated node %q (%s)", n.Label, joinOr(changes, "no fields")),
		"node_id":  n.ID,
		"workflow": committed,
	}), nil
}

func joinOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	out := items[0]
	for _, s := range items[1:] {
		out += ", " + s
	}
	return out
}
