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

// RemoveWorkflowVariable implements workflow.remove_workflow_variable
// (alias remove_workflow_input). Refuses to remove a variable still
// referenced by a decision condition unless force is set, in which case the
// referencing conditions are cleared.
type RemoveWorkflowVariable struct{ Deps }

func NewRemoveWorkflowVariable(deps Deps) *RemoveWorkflowVariable { return &RemoveWorkflowVariable{deps} }

func (t *RemoveWorkflowVariable) Spec() *tools.ToolSpec {
	return &tools.ToolSpec{
		Name:        "workflow.remove_workflow_variable",
		Toolset:     "direct",
		Description: "Remove a declared input variable from a workflow.",
		Aliases:     []string{"workflow.remove_workflow_input"},
		Parameters: []tools.Parameter{
			{Name: "workflow_id", Type: "string", Required: true},
			{Name: "name", Type: "string", Required: true},
			{Name: "force", Type: "boolean"},
		},
	}
}

type removeVariableArgs struct {
	WorkflowID string `json:"workflow_id"`
	Name       string `json:"name"`
	Force      any    `json:"force"`
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "yes":
			return true
		}
	}
	return false
}

func (t *RemoveWorkflowVariable) Execute(ctx context.Context, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	var args removeVariableArgs
	if err := decodeArgs(payload, &args); err != nil {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, err.Error()), nil
	}

	w, errResult := t.load(ctx, args.WorkflowID, session.OwnerID)
	if errResult != nil {
		return errResult, nil
	}
	candidate := w.Clone()

	target := strings.ToLower(strings.TrimSpace(args.Name))
	var found *workflow.Variable
	idx := -1
	for i := range candidate.Variables {
		if candidate.Variables[i].Source == workflow.SourceInput && strings.ToLower(candidate.Variables[i].Name) == target {
			found = &candidate.Variables[i]
			idx = i
			break
		}
	}
	if found == nil {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, fmt.Sprintf("no input variable named %q", args.Name)), nil
	}

	var referencing []string
	for _, n := range candidate.Nodes {
		if n.Condition != nil && n.Condition.InputID == found.ID {
			referencing = append(referencing, n.Label)
		}
	}

	force := truthy(args.Force)
	if len(referencing) > 0 && !force {
		shown := referencing
		suffix := ""
		if len(shown) > 3 {
			suffix = fmt.Sprintf(" and %d more", len(shown)-3)
			shown = shown[:3]
		}
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, fmt.Sprintf(
			"variable %q is referenced by decision(s) %s%s; pass force=true to remove it and clear those conditions",
			args.Name, strings.Join(shown, ", "), suffix)), nil
	}

	affected := 0
	if force {
		for i := range candidate.Nodes {
			if candidate.Nodes[i].Condition != nil && candidate.Nodes[i].Condition.InputID == found.ID {
				candidate.Nodes[i].Condition = nil
				affected++
			}
		}
	}

	candidate.Variables = append(candidate.Variables[:idx], candidate.Variables[idx+1:]...)

	committed, errResult := t.commit(ctx, candidate, workflow.Lenient)
	if errResult != nil {
		return errResult, nil
	}
	result := map[string]any{
		"success":  true,
		"message":  fmt.Sprintf("removed input %q", args.Name),
		"workflow": committed,
	}
	if affected > 0 {
		result["affected_nodes"] = affected
	}
	return successResult(result), nil
}
