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

var validOutputTypes = map[string]workflow.OutputType{
	"string": workflow.OutputString,
	"int":    workflow.OutputInt,
	"float":  workflow.OutputFloat,
	"bool":   workflow.OutputBool,
	"json":   workflow.OutputJSON,
}

// SetWorkflowOutput implements workflow.set_workflow_output: upserts a
// declared output by case-insensitive name match.
type SetWorkflowOutput struct{ Deps }

func NewSetWorkflowOutput(deps Deps) *SetWorkflowOutput { return &SetWorkflowOutput{deps} }

func (t *SetWorkflowOutput) Spec() *tools.ToolSpec {
	return &tools.ToolSpec{
		Name:        "workflow.set_workflow_output",
		Toolset:     "direct",
		Description: "Declare or update a named output of the workflow.",
		Parameters: []tools.Parameter{
			{Name: "workflow_id", Type: "string", Required: true},
			{Name: "name", Type: "string", Required: true},
			{Name: "type", Type: "string", Required: true, Enum: []string{"string", "int", "float", "bool", "json"}},
			{Name: "description", Type: "string"},
		},
	}
}

type setOutputArgs struct {
	WorkflowID  string `json:"workflow_id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

func (t *SetWorkflowOutput) Execute(ctx context.Context, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	var args setOutputArgs
	if err := decodeArgs(payload, &args); err != nil {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, err.Error()), nil
	}
	if strings.TrimSpace(args.Name) == "" {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, "name must not be empty"), nil
	}
	outputType, ok := validOutputTypes[args.Type]
	if !ok {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, fmt.Sprintf("unknown output type %q", args.Type)), nil
	}

	w, errResult := t.load(ctx, args.WorkflowID, session.OwnerID)
	if errResult != nil {
		return errResult, nil
	}
	candidate := w.Clone()

	target := strings.ToLower(strings.TrimSpace(args.Name))
	action := "set"
	updated := false
	for i := range candidate.Outputs {
		if strings.ToLower(candidate.Outputs[i].Name) == target {
			candidate.Outputs[i] = workflow.Output{Name: args.Name, Type: outputType, Description: args.Description}
			updated = true
			action = "updated"
			break
		}
	}
	if !updated {
		candidate.Outputs = append(candidate.Outputs, workflow.Output{Name: args.Name, Type: outputType, Description: args.Description})
	}

	committed, errResult := t.commit(ctx, candidate, workflow.Lenient)
	if errResult != nil {
		return errResult, nil
	}
	return successResult(map[string]any{
		"success":  true,
		"action":   action,
		"message":  fmt.Sprintf("%s output %q (%s)", action, args.Name, outputType),
		"workflow": committed,
	}), nil
}
