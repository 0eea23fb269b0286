package edit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/tools"
	"github.com/lemonflow/flowforge/internal/workflow"
)

// AddConnection implements workflow.add_connection. For decision sources the
// branch label is auto-assigned: the first outgoing edge becomes "true", the
// second becomes "false", and a third is rejected outright rather than left
// for the validator to catch, since the model can correct course immediately
// instead of burning a turn on a doomed strict validation.
type AddConnection struct{ Deps }

func NewAddConnection(deps Deps) *AddConnection { return &AddConnection{deps} }

func (t *AddConnection) Spec() *tools.ToolSpec {
	return &tools.ToolSpec{
		Name:        "workflow.add_connection",
		Toolset:     "direct",
		Description: "Connect two nodes with a directed edge. Decision-node branch labels are auto-assigned true then false.",
		Parameters: []tools.Parameter{
			{Name: "workflow_id", Type: "string", Required: true},
			{Name: "from", Type: "string", Required: true},
			{Name: "to", Type: "string", Required: true},
			{Name: "label", Type: "string", Enum: []string{"true", "false"}},
		},
	}
}

type addConnectionArgs struct {
	WorkflowID string `json:"workflow_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	Label      string `json:"label"`
}

func (t *AddConnection) Execute(ctx context.Context, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	var args addConnectionArgs
	if err := decodeArgs(payload, &args); err != nil {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, err.Error()), nil
	}

	w, errResult := t.load(ctx, args.WorkflowID, session.OwnerID)
	if errResult != nil {
		return errResult, nil
	}
	candidate := w.Clone()

	from, err := candidate.NodeByIDOrLabel(args.From)
	if err != nil {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, err.Error()), nil
	}
	to, err := candidate.NodeByIDOrLabel(args.To)
	if err != nil {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, err.Error()), nil
	}

	label := workflow.EdgeLabel(strings.ToLower(strings.TrimSpace(args.Label)))

	if from.Type == workflow.NodeDecision {
		used := branchLabelsUsed(candidate, from.ID)
		if label == workflow.LabelNone {
			switch {
			case !used[workflow.LabelTrue]:
				label = workflow.LabelTrue
			case !used[workflow.LabelFalse]:
				label = workflow.LabelFalse
			default:
				return toolregistry.NewErrorResult(string(workflow.CodeDuplicateEdgeLabel), fmt.Sprintf("decision %q already has both true and false branches", from.Label)), nil
			}
		} else if label != workflow.LabelTrue && label != workflow.LabelFalse {
			return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, fmt.Sprintf("invalid branch label %q: must be true or false", args.Label)), nil
		} else if used[label] {
			return toolregistry.NewErrorResult(string(workflow.CodeDuplicateEdgeLabel), fmt.Sprintf("decision %q already has a %q branch", from.Label, label)), nil
		}
	} else {
		label = workflow.LabelNone
	}

	edge := workflow.Edge{ID: workflow.EdgeID(from.ID, to.ID), From: from.ID, To: to.ID, Label: label}
	candidate.Edges = append(candidate.Edges, edge)

	committed, errResult := t.commit(ctx, candidate, workflow.Lenient)
	if errResult != nil {
		return errResult, nil
	}
	return successResult(map[string]any{
		"success":  true,
		"message":  fmt.Sprintf("connected %q -> %q", from.Label, to.Label),
		"edge_id":  edge.ID,
		"workflow": committed,
	}), nil
}

func branchLabelsUsed(w *workflow.Workflow, decisionNodeID string) map[workflow.EdgeLabel]bool {
	used := make(map[workflow.EdgeLabel]bool, 2)
	for _, e := range w.Edges {
		if e.From == decisionNodeID {
			used[e.Label] = true
		}
	}
	return used
}
