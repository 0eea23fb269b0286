package edit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/tools"
	"github.com/lemonflow/flowforge/internal/workflow"
)

// BatchEditWorkflow implements workflow.batch_edit_workflow: applies a
// sequence of add/modify/delete operations to a single staged copy and
// validates once at the end, all-or-nothing. Operations may reference nodes
// created earlier in the same batch by the temp id the caller supplied for
// that add_node operation.
type BatchEditWorkflow struct{ Deps }

func NewBatchEditWorkflow(deps Deps) *BatchEditWorkflow { return &BatchEditWorkflow{deps} }

func (t *BatchEditWorkflow) Spec() *tools.ToolSpec {
	return &tools.ToolSpec{
		Name:        "workflow.batch_edit_workflow",
		Toolset:     "direct",
		Description: "Apply a sequence of add_node/modify_node/delete_node/add_connection/delete_connection operations as a single transaction.",
		Parameters: []tools.Parameter{
			{Name: "workflow_id", Type: "string", Required: true},
			{Name: "operations", Type: "array", Required: true},
		},
	}
}

type batchOperation struct {
	Op             string              `json:"op"`
	TempID         string              `json:"temp_id"`
	Type           string              `json:"type"`
	Label          string              `json:"label"`
	X              float64             `json:"x"`
	Y              float64             `json:"y"`
	NodeID         string              `json:"node_id"`
	NewLabel       *string             `json:"new_label"`
	From           string              `json:"from"`
	To             string              `json:"to"`
	EdgeLabel      string              `json:"edge_label"`
	InputRef       string              `json:"input_ref"`
	Condition      *workflow.Condition `json:"condition"`
	SubworkflowID  string              `json:"subworkflow_id"`
	InputMapping   map[string]string   `json:"input_mapping"`
	OutputVariable string              `json:"output_variable"`
	OutputType     string              `json:"output_type"`
	OutputTemplate string              `json:"output_template"`
}

type batchEditArgs struct {
	WorkflowID string           `json:"workflow_id"`
	Operations []batchOperation `json:"operations"`
}

func (t *BatchEditWorkflow) Execute(ctx context.Context, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	var args batchEditArgs
	if err := decodeArgs(payload, &args); err != nil {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, err.Error()), nil
	}
	if len(args.Operations) == 0 {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, "operations must not be empty"), nil
	}

	w, errResult := t.load(ctx, args.WorkflowID, session.OwnerID)
	if errResult != nil {
		return errResult, nil
	}
	candidate := w.Clone()

	tempIDs := make(map[string]string)
	applied := make([]string, 0, len(args.Operations))

	for i, op := range args.Operations {
		if err := t.applyBatchOp(ctx, candidate, op, tempIDs, session.OwnerID); err != nil {
			return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, fmt.Sprintf("operation %d (%s) failed: %v", i, op.Op, err)), nil
		}
		applied = append(applied, op.Op)
	}

	committed, errResult := t.commit(ctx, candidate, workflow.Lenient)
	if errResult != nil {
		return errResult, nil
	}
	return successResult(map[string]any{
		"success":            true,
		"operation_count":    len(applied),
		"applied_operations": applied,
		"workflow":           committed,
	}), nil
}

func (t *BatchEditWorkflow) applyBatchOp(ctx context.Context, candidate *workflow.Workflow, op batchOperation, tempIDs map[string]string, ownerID string) error {
	switch op.Op {
	case "add_node":
		nodeType := workflow.NodeType(op.Type)
		n := workflow.Node{ID: newNodeID(), Type: nodeType, Label: op.Label, X: op.X, Y: op.Y, Color: nodeColor(nodeType)}
		switch nodeType {
		case workflow.NodeDecision:
			n.Condition = op.Condition
		case workflow.NodeEnd:
			n.OutputType = workflow.OutputType(op.OutputType)
			n.OutputTemplate = op.OutputTemplate
		case workflow.NodeSubprocess:
			n.SubworkflowID = op.SubworkflowID
			n.InputMapping = op.InputMapping
			n.OutputVariable = op.OutputVariable
			if op.OutputVariable != "" {
				if _, ok := candidate.VariableByName(op.OutputVariable); !ok {
					varType := workflow.TypeString
					if sub, errResult := t.load(ctx, op.SubworkflowID, ownerID); errResult == nil {
						varType = outputTypeToVariableType(sub.Metadata.OutputType)
					}
					candidate.Variables = append(candidate.Variables, workflow.Variable{
						ID:     workflow.GenerateVariableID(op.OutputVariable, varType, workflow.SourceSubprocess),
						Name:   op.OutputVariable,
						Type:   varType,
						Source: workflow.SourceSubprocess,
					})
				}
			}
		}
		candidate.Nodes = append(candidate.Nodes, n)
		if op.TempID != "" {
			tempIDs[op.TempID] = n.ID
		}
		return nil

	case "modify_node":
		id, err := resolveNodeRef(candidate, op.NodeID, tempIDs)
		if err != nil {
			return err
		}
		n, _ := candidate.NodeByID(id)
		if op.NewLabel != nil {
			n.Label = *op.NewLabel
		}
		return nil

	case "delete_node":
		id, err := resolveNodeRef(candidate, op.NodeID, tempIDs)
		if err != nil {
			return err
		}
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
		return nil

	case "add_connection":
		fromID, err := resolveNodeRef(candidate, op.From, tempIDs)
		if err != nil {
			return err
		}
		toID, err := resolveNodeRef(candidate, op.To, tempIDs)
		if err != nil {
			return err
		}
		candidate.Edges = append(candidate.Edges, workflow.Edge{
			ID:    workflow.EdgeID(fromID, toID),
			From:  fromID,
			To:    toID,
			Label: workflow.EdgeLabel(op.EdgeLabel),
		})
		return nil

	case "delete_connection":
		fromID, err := resolveNodeRef(candidate, op.From, tempIDs)
		if err != nil {
			return err
		}
		toID, err := resolveNodeRef(candidate, op.To, tempIDs)
		if err != nil {
			return err
		}
		edges := candidate.Edges[:0]
		for _, e := range candidate.Edges {
			if e.From != fromID || e.To != toID {
				edges = append(edges, e)
			}
		}
		candidate.Edges = edges
		return nil

	default:
		return fmt.Errorf("unknown operation type %q", op.Op)
	}
}
