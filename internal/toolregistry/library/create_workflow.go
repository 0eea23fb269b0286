// Package library implements the workflow-library tool set: creating draft
// workflows, promoting a draft to saved, and searching the caller's library.
package library

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/tools"
	"github.com/lemonflow/flowforge/internal/workflow"
)

var validWorkflowOutputTypes = map[string]workflow.OutputType{
	"string": workflow.OutputString,
	"int":    workflow.OutputInt,
	"float":  workflow.OutputFloat,
	"bool":   workflow.OutputBool,
	"json":   workflow.OutputJSON,
}

// CreateWorkflow implements workflow.create_workflow: inserts a brand-new
// empty draft owned by the acting user.
type CreateWorkflow struct{ Store workflow.Store }

func NewCreateWorkflow(store workflow.Store) *CreateWorkflow { return &CreateWorkflow{Store: store} }

func (t *CreateWorkflow) Spec() *tools.ToolSpec {
	return &tools.ToolSpec{
		Name:        "workflow.create_workflow",
		Toolset:     "direct",
		Description: "Create a new, empty draft workflow owned by the caller.",
		Parameters: []tools.Parameter{
			{Name: "name", Type: "string", Required: true},
			{Name: "output_type", Type: "string", Required: true, Enum: []string{"string", "int", "float", "bool", "json"}},
			{Name: "description", Type: "string"},
			{Name: "domain", Type: "string"},
		},
	}
}

type createWorkflowArgs struct {
	Name        string `json:"name"`
	OutputType  string `json:"output_type"`
	Description string `json:"description"`
	Domain      string `json:"domain"`
}

func (t *CreateWorkflow) Execute(ctx context.Context, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	var args createWorkflowArgs
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &args); err != nil {
			return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, err.Error()), nil
		}
	}
	if strings.TrimSpace(args.Name) == "" {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, "name must not be empty"), nil
	}
	outputType, ok := validWorkflowOutputTypes[args.OutputType]
	if !ok {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, fmt.Sprintf("unknown output_type %q", args.OutputType)), nil
	}
	if session == nil || session.OwnerID == "" {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeForbidden, "no authenticated user for this session"), nil
	}

	now := time.Now().UTC()
	w := &workflow.Workflow{
		ID:      "wf_" + uuid.New().String()[:8],
		OwnerID: session.OwnerID,
		Metadata: workflow.Metadata{
			Name:        args.Name,
			Description: args.Description,
			Domain:      args.Domain,
			OutputType:  outputType,
			IsDraft:     true,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}

	created, err := t.Store.Create(ctx, w)
	if err != nil {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInternal, err.Error()), nil
	}

	raw, err := json.Marshal(map[string]any{
		"success":     true,
		"workflow_id": created.ID,
		"workflow":    created,
	})
	if err != nil {
		return nil, err
	}
	return &toolregistry.ToolResultMessage{Result: raw}, nil
}
