package edit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/tools"
	"github.com/lemonflow/flowforge/internal/workflow"
)

// DeleteConnection implements workflow.delete_connection: removes the edge
// matching an exact from/to pair, regardless of its label.
type DeleteConnection struct{ Deps }

func NewDeleteConnection(deps Deps) *DeleteConnection { return &DeleteConnection{deps} }

func (t *DeleteConnection) Spec() *tools.ToolSpec {
	return &tools.ToolSpec{
		Name:        "workflow.delete_connection",
		Toolset:     "direct",
		Description: "Remove the edge connecting two nodes.",
		Parameters: []tools.Parameter{
			{Name: "workflow_id", Type: "string", Required: true},
			{Name: "from", Type: "string", Required: true},
			{Name: "to", Type: "string", Required: true},
		},
	}
}

type deleteConnectionArgs struct {
	WorkflowID string `json:"workflow_id"`
	From       string `json:"from"`
	To         string `json:"to"`
}

func (t *DeleteConnection) Execute(ctx context.Context, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	var args deleteConnectionArgs
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

	found := false
	edges := candidate.Edges[:0]
	for _, e := range candidate.Edges {
		if e.From == from.ID && e.To == to.ID {
			found = true
			continue
		}
		edges = append(edges, e)
	}
	if !found {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, fmt.Sprintf("no edge from %q to %q", from.Label, to.Label)), nil
	}
	candidate.Edges = edges

	committed, errResult := t.commit(ctx, candidate, workflow.Lenient)
	if errResult != nil {
		return errResult, nil
	}
	return successResult(map[string]any{
		"success":  true,
		"message":  fmt.Sprintf("disconnected %q -> %q", from.Label, to.Label),
		"workflow": committed,
	}), nil
}
