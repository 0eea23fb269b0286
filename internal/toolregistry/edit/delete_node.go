package edit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/tools"
	"github.com/lemonflow/flowforge/internal/workflow"
)

// DeleteNode implements workflow.delete_node: removes a node and every edge
// incident to it.
type DeleteNode struct{ Deps }

func NewDeleteNode(deps Deps) *DeleteNode { return &DeleteNode{deps} }

func (t *DeleteNode) Spec() *tools.ToolSpec {
	return &tools.ToolSpec{
		Name:        "workflow.delete_node",
		Toolset:     "direct",
		Description: "Delete a node and every edge touching it.",
		Parameters: []tools.Parameter{
			{Name: "workflow_id", Type: "string", Required: true},
			{Name: "node_id", Type: "string", Required: true},
		},
	}
}

type deleteNodeArgs struct {
	WorkflowID string `json:"workflow_id"`
	NodeID     string `json:"node_id"`
}

func (t *DeleteNode) Execute(ctx context.Context, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	var args deleteNodeArgs
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
	id := n.ID

	nodes := candidate.Nodes[:0]
	for _, existing := range candidate.Nodes {
		if existing.ID != id {
			nodes = append(nodes, existing)
		}
	}
	candidate.Nodes = nodes

	edges := candidate.Edges[:0]
	for _, e := range candidate.Edges {
		if e.From != id && e.To != id {
			edges = append(edges, e)
		}
	}
	candidate.Edges = edges

	committed, errResult := t.commit(ctx, candidate, workflow.Lenient)
	if errResult != nil {
		return errResult, nil
	}
	return successResult(map[string]any{
		"success":  true,
		"action":   "delete_node",
		"node_id":  id,
		"message":  fmt.Sprintf("deleted node %q and its incident edges", id),
		"workflow": committed,
	}), nil
}
