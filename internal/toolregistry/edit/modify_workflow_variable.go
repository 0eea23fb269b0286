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

// ModifyWorkflowVariable implements workflow.modify_workflow_variable
// (alias modify_workflow_input). Renaming or retyping a variable regenerates
// its deterministic id; since decision conditions reference variables by id,
// the response carries an explicit warning when that happens.
type ModifyWorkflowVariable struct{ Deps }

func NewModifyWorkflowVariable(deps Deps) *ModifyWorkflowVariable { return &ModifyWorkflowVariable{deps} }

func (t *ModifyWorkflowVariable) Spec() *tools.ToolSpec {
	return &tools.ToolSpec{
		Name:        "workflow.modify_workflow_variable",
		Toolset:     "direct",
		Description: "Update an existing workflow variable's name, type, description, enum values, or range.",
		Aliases:     []string{"workflow.modify_workflow_input"},
		Parameters: []tools.Parameter{
			{Name: "workflow_id", Type: "string", Required: true},
			{Name: "name", Type: "string", Required: true},
			{Name: "new_name", Type: "string"},
			{Name: "new_type", Type: "string", Enum: []string{"string", "number", "boolean", "enum"}},
			{Name: "description", Type: "string"},
			{Name: "enum_values", Type: "array"},
			{Name: "range_min", Type: "number"},
			{Name: "range_max", Type: "number"},
		},
	}
}

type modifyVariableArgs struct {
	WorkflowID  string    `json:"workflow_id"`
	Name        string    `json:"name"`
	NewName     *string   `json:"new_name"`
	NewType     *string   `json:"new_type"`
	Description *string   `json:"description"`
	EnumValues  *[]string `json:"enum_values"`
	RangeMin    *float64  `json:"range_min"`
	RangeMax    *float64  `json:"range_max"`
}

func (t *ModifyWorkflowVariable) Execute(ctx context.Context, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	var args modifyVariableArgs
	if err := decodeArgs(payload, &args); err != nil {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, err.Error()), nil
	}

	w, errResult := t.load(ctx, args.WorkflowID, session.OwnerID)
	if errResult != nil {
		return errResult, nil
	}
	candidate := w.Clone()

	variable, ok := findVariableCaseInsensitive(candidate, args.Name)
	if !ok {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, fmt.Sprintf("no variable named %q", args.Name)), nil
	}

	var changes []string
	oldID := variable.ID
	finalName := variable.Name
	finalType := variable.Type

	if args.NewName != nil && strings.TrimSpace(*args.NewName) != "" && *args.NewName != variable.Name {
		if other, exists := findVariableCaseInsensitive(candidate, *args.NewName); exists && other.ID != variable.ID {
			return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, fmt.Sprintf("a variable named %q already exists", *args.NewName)), nil
		}
		finalName = *args.NewName
		changes = append(changes, "name")
	}
	if args.NewType != nil {
		internalType, ok := userTypeToInternal[*args.NewType]
		if !ok {
			return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, fmt.Sprintf("unknown type %q", *args.NewType)), nil
		}
		if internalType == workflow.TypeEnum && len(variable.EnumValues) == 0 && (args.EnumValues == nil || len(*args.EnumValues) == 0) {
			return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, "enum type requires enum_values"), nil
		}
		finalType = internalType
		changes = append(changes, "type")
	}
	if args.Description != nil {
		variable.Description = *args.Description
		changes = append(changes, "description")
	}
	if args.EnumValues != nil {
		variable.EnumValues = *args.EnumValues
		changes = append(changes, "enum_values")
	}
	if args.RangeMin != nil || args.RangeMax != nil {
		if finalType != workflow.TypeInt && finalType != workflow.TypeFloat {
			return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, "range is only valid for number variables"), nil
		}
		variable.Range = &workflow.Range{Min: args.RangeMin, Max: args.RangeMax}
		changes = append(changes, "range")
	}

	var warning string
	if finalName != variable.Name || finalType != variable.Type {
		variable.Name = finalName
		variable.Type = finalType
		variable.ID = workflow.GenerateVariableID(finalName, finalType, variable.Source)
		if variable.ID != oldID {
			warning = fmt.Sprintf("variable id changed from %q to %q; decision nodes whose condition.input_id referenced the old id now reference the new id", oldID, variable.ID)
			retargetConditions(candidate, oldID, variable.ID)
		}
	}

	committed, errResult := t.commit(ctx, candidate, workflow.Lenient)
	if errResult != nil {
		return errResult, nil
	}
	result := map[string]any{
		"success":  true,
		"changes":  changes,
		"workflow": committed,
	}
	if warning != "" {
		result["warning"] = warning
	}
	return successResult(result), nil
}

func retargetConditions(w *workflow.Workflow, oldID, newID string) {
	for i := range w.Nodes {
		if w.Nodes[i].Condition != nil && w.Nodes[i].Condition.InputID == oldID {
			w.Nodes[i].Condition.InputID = newID
		}
	}
}
