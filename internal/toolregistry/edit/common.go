// Package edit implements the workflow-editing tool set: every tool in the
// stage/validate/commit family that mutates a stored Workflow.
package edit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/workflow"
)

// Deps are the dependencies every editing tool needs: the authoritative
// workflow store and the shared validator.
type Deps struct {
	Store     workflow.Store
	Validator *workflow.Validator
}

// load fetches workflowID and confirms ownership, translating store errors
// into the registry's structured error codes.
func (d Deps) load(ctx context.Context, workflowID, ownerID string) (*workflow.Workflow, *toolregistry.ToolResultMessage) {
	w, err := d.Store.Get(ctx, workflowID)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return nil, toolregistry.NewErrorResult(toolregistry.ErrCodeNotFound, fmt.Sprintf("workflow %q not found", workflowID))
		}
		return nil, toolregistry.NewErrorResult(toolregistry.ErrCodeInternal, err.Error())
	}
	if w.OwnerID != ownerID {
		return nil, toolregistry.NewErrorResult(toolregistry.ErrCodeForbidden, fmt.Sprintf("workflow %q does not belong to the caller", workflowID))
	}
	return w, nil
}

// commit validates the candidate state under mode and, on success,
// persists it via the store.
func (d Deps) commit(ctx context.Context, candidate *workflow.Workflow, mode workflow.Mode) (*workflow.Workflow, *toolregistry.ToolResultMessage) {
	if errs := d.Validator.Validate(candidate, mode); len(errs) > 0 {
		return nil, toolregistry.NewErrorResult(toolregistry.ErrCodeValidationFailed, formatValidationErrors(errs))
	}
	committed, err := d.Store.CommitIfOwner(ctx, candidate)
	if err != nil {
		if errors.Is(err, workflow.ErrForbidden) {
			return nil, toolregistry.NewErrorResult(toolregistry.ErrCodeForbidden, "workflow does not belong to the caller")
		}
		if errors.Is(err, workflow.ErrNotFound) {
			return nil, toolregistry.NewErrorResult(toolregistry.ErrCodeNotFound, "workflow not found")
		}
		return nil, toolregistry.NewErrorResult(toolregistry.ErrCodeInternal, err.Error())
	}
	return committed, nil
}

func formatValidationErrors(errs []*workflow.ValidationError) string {
	out := ""
	for i, e := range errs {
		if i > 0 {
			out += "; "
		}
		out += e.Error()
	}
	return out
}

// successResult marshals payload into a ToolResultMessage.Result, panicking
// only on a programmer error (payload must always be JSON-marshalable).
func successResult(payload any) *toolregistry.ToolResultMessage {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("toolregistry/edit: marshal result: %v", err))
	}
	return &toolregistry.ToolResultMessage{Result: raw}
}

func newNodeID() string {
	return "node_" + uuid.New().String()[:8]
}

var nodeColorByType = map[workflow.NodeType]string{
	workflow.NodeStart:      "teal",
	workflow.NodeDecision:   "amber",
	workflow.NodeEnd:        "green",
	workflow.NodeSubprocess: "rose",
	workflow.NodeProcess:    "slate",
}

func nodeColor(t workflow.NodeType) string {
	if c, ok := nodeColorByType[t]; ok {
		return c
	}
	return "slate"
}

// resolveNodeRef resolves a node reference that may be a real id, a
// previously-seen temp id (batch edits), or a unique label.
func resolveNodeRef(w *workflow.Workflow, ref string, tempIDs map[string]string) (string, error) {
	if real, ok := tempIDs[ref]; ok {
		return real, nil
	}
	n, err := w.NodeByIDOrLabel(ref)
	if err != nil {
		return "", err
	}
	return n.ID, nil
}

func decodeArgs(payload json.RawMessage, out any) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, out)
}
