package edit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/tools"
)

// GetCurrentWorkflow implements workflow.get_current_workflow: returns the
// full workflow state plus a human-readable summary the model can reason
// about without re-deriving node/edge relationships from raw JSON.
type GetCurrentWorkflow struct{ Deps }

func NewGetCurrentWorkflow(deps Deps) *GetCurrentWorkflow { return &GetCurrentWorkflow{deps} }

func (t *GetCurrentWorkflow) Spec() *tools.ToolSpec {
	return &tools.ToolSpec{
		Name:        "workflow.get_current_workflow",
		Toolset:     "direct",
		Description: "Fetch the current state of a workflow with a human-readable summary of its nodes, edges, and inputs.",
		Parameters: []tools.Parameter{
			{Name: "workflow_id", Type: "string", Required: true},
		},
	}
}

type getCurrentArgs struct {
	WorkflowID string `json:"workflow_id"`
}

func (t *GetCurrentWorkflow) Execute(ctx context.Context, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	var args getCurrentArgs
	if err := decodeArgs(payload, &args); err != nil {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, err.Error()), nil
	}

	w, errResult := t.load(ctx, args.WorkflowID, session.OwnerID)
	if errResult != nil {
		return errResult, nil
	}

	var nodeDescriptions, edgeDescriptions, inputDescriptions []string
	for _, n := range w.Nodes {
		nodeDescriptions = append(nodeDescriptions, fmt.Sprintf("%s [%s] %q at (%.0f, %.0f)", n.ID, n.Type, n.Label, n.X, n.Y))
	}
	for _, e := range w.Edges {
		if e.Label != "" {
			edgeDescriptions = append(edgeDescriptions, fmt.Sprintf("%s --%s--> %s", e.From, e.Label, e.To))
		} else {
			edgeDescriptions = append(edgeDescriptions, fmt.Sprintf("%s --> %s", e.From, e.To))
		}
	}
	for _, v := range w.Variables {
		inputDescriptions = append(inputDescriptions, fmt.Sprintf("%s (%s, %s): %s", v.Name, v.Type, v.Source, v.ID))
	}

	return successResult(map[string]any{
		"success":  true,
		"workflow": w,
		"node_count": len(w.Nodes),
		"edge_count": len(w.Edges),
		"summary": map[string]any{
			"node_descriptions":  nodeDescriptions,
			"edge_descriptions":  edgeDescriptions,
			"input_descriptions": inputDescriptions,
		},
	}), nil
}
