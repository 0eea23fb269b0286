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

// AddNode implements workflow.add_node: inserts a new node of the given type
// at the given canvas position, populating type-specific fields, rejecting
// an input_ref that names no declared variable, and registering a subprocess
// node's output variable when it does not yet exist.
type AddNode struct{ Deps }

func NewAddNode(deps Deps) *AddNode { return &AddNode{deps} }

func (t *AddNode) Spec() *tools.ToolSpec {
	return &tools.ToolSpec{
		Name:        "workflow.add_node",
		Toolset:     "direct",
		Description: "Add a new node to a workflow at the given canvas position.",
		Parameters: []tools.Parameter{
			{Name: "workflow_id", Type: "string", Required: true},
			{Name: "type", Type: "string", Required: true, Enum: []string{"start", "process", "decision", "subprocess", "end"}},
			{Name: "label", Type: "string", Required: true},
			{Name: "x", Type: "number", Required: true},
			{Name: "y", Type: "number", Required: true},
			{Name: "input_ref", Type: "string"},
			{Name: "condition", Type: "object"},
			{Name: "subworkflow_id", Type: "string"},
			{Name: "input_mapping", Type: "object"},
			{Name: "output_variable", Type: "string"},
			{Name: "output_type", Type: "string"},
			{Name: "output_template", Type: "string"},
		},
	}
}

type addNodeArgs struct {
	WorkflowID     string              `json:"workflow_id"`
	Type           string              `json:"type"`
	Label          string              `json:"label"`
	X              float64             `json:"x"`
	Y              float64             `json:"y"`
	InputRef       string              `json:"input_ref"`
	Condition      *workflow.Condition `json:"condition"`
	SubworkflowID  string              `json:"subworkflow_id"`
	InputMapping   map[string]string   `json:"input_mapping"`
	OutputVariable string              `json:"output_variable"`
	OutputType     string              `json:"output_type"`
	OutputTemplate string              `json:"output_template"`
}

func (t *AddNode) Execute(ctx context.Context, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	var args addNodeArgs
	if err := decodeArgs(payload, &args); err != nil {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, err.Error()), nil
	}

	w, errResult := t.load(ctx, args.WorkflowID, session.OwnerID)
	if errResult != nil {
		return errResult, nil
	}
	candidate := w.Clone()

	nodeType := workflow.NodeType(args.Type)
	n := workflow.Node{
		ID:    newNodeID(),
		Type:  nodeType,
		Label: args.Label,
		X:     args.X,
		Y:     args.Y,
		Color: nodeColor(nodeType),
	}

	if args.InputRef != "" {
		if _, ok := findVariableCaseInsensitive(candidate, args.InputRef); !ok {
			return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, fmt.Sprintf("input_ref %q does not match any declared workflow input", args.InputRef)), nil
		}
	}

	switch nodeType {
	case workflow.NodeDecision:
		n.Condition = args.Condition
	case workflow.NodeEnd:
		n.OutputType = workflow.OutputType(args.OutputType)
		n.OutputTemplate = args.OutputTemplate
	case workflow.NodeSubprocess:
		n.SubworkflowID = args.SubworkflowID
		n.InputMapping = args.InputMapping
		n.OutputVariable = args.OutputVariable
		if args.OutputVariable != "" {
			if _, ok := candidate.VariableByName(args.OutputVariable); !ok {
				varType := workflow.TypeString
				if sub, errResult := t.load(ctx, args.SubworkflowID, session.OwnerID); errResult == nil {
					varType = outputTypeToVariableType(sub.Metadata.OutputType)
				}
				candidate.Variables = append(candidate.Variables, workflow.Variable{
					ID:     workflow.GenerateVariableID(args.OutputVariable, varType, workflow.SourceSubprocess),
					Name:   args.OutputVariable,
					Type:   varType,
					Source: workflow.SourceSubprocess,
				})
			}
		}
	}

	candidate.Nodes = append(candidate.Nodes, n)

	committed, errResult := t.commit(ctx, candidate, workflow.Lenient)
	if errResult != nil {
		return errResult, nil
	}
	return successResult(map[string]any{
		"success":  true,
		"message":  fmt.Sprintf("added %s node %q", nodeType, n.Label),
		"node_id":  n.ID,
		"workflow": committed,
	}), nil
}

// outputTypeToVariableType maps a subworkflow's declared terminal output
// shape to the variable type its auto-registered subprocess output takes on
// in the calling workflow.
func outputTypeToVariableType(t workflow.OutputType) workflow.VariableType {
	switch t {
	case workflow.OutputInt:
		return workflow.TypeInt
	case workflow.OutputFloat:
		return workflow.TypeFloat
	case workflow.OutputBool:
		return workflow.TypeBool
	case workflow.OutputString, workflow.OutputJSON:
		return workflow.TypeString
	default:
		return workflow.TypeString
	}
}

func findVariableCaseInsensitive(w *workflow.Workflow, name string) (*workflow.Variable, bool) {
	target := strings.ToLower(strings.TrimSpace(name))
	for i := range w.Variables {
		if strings.ToLower(w.Variables[i].Name) == target {
			return &w.Variables[i], true
		}
	}
	return nil, false
}
