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

// userTypeToInternal maps the LLM-facing type vocabulary to the internal
// VariableType the validator understands for comparator selection.
var userTypeToInternal = map[string]workflow.VariableType{
	"string":  workflow.TypeString,
	"number":  workflow.TypeFloat,
	"boolean": workflow.TypeBool,
	"enum":    workflow.TypeEnum,
}

// AddWorkflowVariable implements workflow.add_workflow_variable
// (alias add_workflow_input): declares a new named input.
type AddWorkflowVariable struct{ Deps }

func NewAddWorkflowVariable(deps Deps) *AddWorkflowVariable { return &AddWorkflowVariable{deps} }

func (t *AddWorkflowVariable) Spec() *tools.ToolSpec {
	return &tools.ToolSpec{
		Name:        "workflow.add_workflow_variable",
		Toolset:     "direct",
		Description: "Declare a new named input variable a workflow's decisions and templates can reference.",
		Aliases:     []string{"workflow.add_workflow_input"},
		Parameters: []tools.Parameter{
			{Name: "workflow_id", Type: "string", Required: true},
			{Name: "name", Type: "string", Required: true},
			{Name: "type", Type: "string", Required: true, Enum: []string{"string", "number", "boolean", "enum"}},
			{Name: "description", Type: "string"},
			{Name: "enum_values", Type: "array"},
			{Name: "range_min", Type: "number"},
			{Name: "range_max", Type: "number"},
		},
	}
}

type addVariableArgs struct {
	WorkflowID  string   `json:"workflow_id"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	EnumValues  []string `json:"enum_values"`
	RangeMin    *float64 `json:"range_min"`
	RangeMax    *float64 `json:"range_max"`
}

func (t *AddWorkflowVariable) Execute(ctx context.Context, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	var args addVariableArgs
	if err := decodeArgs(payload, &args); err != nil {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, err.Error()), nil
	}
	if strings.TrimSpace(args.Name) == "" {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, "name must not be empty"), nil
	}
	internalType, ok := userTypeToInternal[args.Type]
	if !ok {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, fmt.Sprintf("unknown type %q", args.Type)), nil
	}
	if internalType == workflow.TypeEnum && len(args.EnumValues) == 0 {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, "enum type requires enum_values"), nil
	}

	w, errResult := t.load(ctx, args.WorkflowID, session.OwnerID)
	if errResult != nil {
		return errResult, nil
	}
	candidate := w.Clone()

	if _, exists := findVariableCaseInsensitive(candidate, args.Name); exists {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, fmt.Sprintf("a variable named %q already exists", args.Name)), nil
	}

	if internalType == workflow.TypeFloat && args.RangeMin != nil && args.RangeMax != nil && isWholeNumber(*args.RangeMin) && isWholeNumber(*args.RangeMax) {
		internalType = workflow.TypeInt
	}

	variable := workflow.Variable{
		ID:          workflow.GenerateVariableID(args.Name, internalType, workflow.SourceInput),
		Name:        args.Name,
		Type:        internalType,
		Source:      workflow.SourceInput,
		Description: args.Description,
		EnumValues:  args.EnumValues,
	}
	if args.RangeMin != nil || args.RangeMax != nil {
		variable.Range = &workflow.Range{Min: args.RangeMin, Max: args.RangeMax}
	}
	candidate.Variables = append(candidate.Variables, variable)

	committed, errResult := t.commit(ctx, candidate, workflow.Lenient)
	if errResult != nil {
		return errResult, nil
	}
	return successResult(map[string]any{
		"success":     true,
		"message":     fmt.Sprintf("added input %q (%s)", variable.Name, variable.Type),
		"variable_id": variable.ID,
		"workflow":    committed,
	}), nil
}

func isWholeNumber(f float64) bool { return f == float64(int64(f)) }
