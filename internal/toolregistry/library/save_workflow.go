package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/tools"
	"github.com/lemonflow/flowforge/internal/workflow"
)

// SaveWorkflowToLibrary implements workflow.save_workflow_to_library:
// flips a draft's is_draft flag, optionally updating descriptive metadata
// at the same time. Saving an already-saved workflow is an idempotent
// no-op.
type SaveWorkflowToLibrary struct{ Store workflow.Store }

func NewSaveWorkflowToLibrary(store workflow.Store) *SaveWorkflowToLibrary {
	return &SaveWorkflowToLibrary{Store: store}
}

func (t *SaveWorkflowToLibrary) Spec() *tools.ToolSpec {
	return &tools.ToolSpec{
		Name:        "workflow.save_workflow_to_library",
		Toolset:     "direct",
		Description: "Promote a draft workflow to saved, optionally updating its name, description, domain, or tags.",
		Parameters: []tools.Parameter{
			{Name: "workflow_id", Type: "string", Required: true},
			{Name: "name", Type: "string"},
			{Name: "description", Type: "string"},
			{Name: "domain", Type: "string"},
			{Name: "tags", Type: "array"},
		},
	}
}

type saveWorkflowArgs struct {
	WorkflowID  string   `json:"workflow_id"`
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Domain      *string  `json:"domain"`
	Tags        []string `json:"tags"`
}

func (t *SaveWorkflowToLibrary) Execute(ctx context.Context, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	var args saveWorkflowArgs
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &args); err != nil {
			return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, err.Error()), nil
		}
	}

	w, err := t.Store.Get(ctx, args.WorkflowID)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return toolregistry.NewErrorResult(toolregistry.ErrCodeNotFound, fmt.Sprintf("workflow %q not found", args.WorkflowID)), nil
		}
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInternal, err.Error()), nil
	}
	if w.OwnerID != session.OwnerID {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeForbidden, "workflow does not belong to the caller"), nil
	}

	if !w.Metadata.IsDraft {
		raw, _ := json.Marshal(map[string]any{"success": true, "already_saved": true, "workflow": w})
		return &toolregistry.ToolResultMessage{Result: raw}, nil
	}

	candidate := w.Clone()
	candidate.Metadata.IsDraft = false
	if args.Name != nil {
		candidate.Metadata.Name = *args.Name
	}
	if args.Description != nil {
		candidate.Metadata.Description = *args.Description
	}
	if args.Domain != nil {
		candidate.Metadata.Domain = *args.Domain
	}
	if args.Tags != nil {
		candidate.Metadata.Tags = args.Tags
	}

	committed, err := t.Store.CommitIfOwner(ctx, candidate)
	if err != nil {
		if errors.Is(err, workflow.ErrForbidden) {
			return toolregistry.NewErrorResult(toolregistry.ErrCodeForbidden, "workflow does not belong to the caller"), nil
		}
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInternal, err.Error()), nil
	}

	raw, err := json.Marshal(map[string]any{"success": true, "already_saved": false, "workflow": committed})
	if err != nil {
		return nil, err
	}
	return &toolregistry.ToolResultMessage{Result: raw}, nil
}
