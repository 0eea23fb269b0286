package workflow

import (
	"fmt"
	"strings"
)

// ErrorCode is a stable, match-able validation failure identifier.
type ErrorCode string

const (
	CodeNodeNotFound              ErrorCode = "NODE_NOT_FOUND"
	CodeInvalidNodeType           ErrorCode = "INVALID_NODE_TYPE"
	CodeMultipleStartNodes        ErrorCode = "MULTIPLE_START_NODES"
	CodeMissingStartNode          ErrorCode = "MISSING_START_NODE"
	CodeCycleDetected             ErrorCode = "CYCLE_DETECTED"
	CodeSelfLoop                  ErrorCode = "SELF_LOOP"
	CodeInvalidEdgeLabel          ErrorCode = "INVALID_EDGE_LABEL"
	CodeDuplicateEdgeLabel        ErrorCode = "DUPLICATE_EDGE_LABEL"
	CodeMaxBranchesReached        ErrorCode = "MAX_BRANCHES_REACHED"
	CodeInvalidCondition          ErrorCode = "INVALID_CONDITION"
	CodeUnknownInputReference     ErrorCode = "UNKNOWN_INPUT_REFERENCE"
	CodeSubprocessValidationFailed ErrorCode = "SUBPROCESS_VALIDATION_FAILED"
	CodeValidationFailed          ErrorCode = "VALIDATION_FAILED"
)

// ValidationError is one violated invariant, pointing at the offending
// entity by id so callers can surface it alongside the workflow.
type ValidationError struct {
	Code     ErrorCode
	Message  string
	EntityID string
}

func (e *ValidationError) Error() string { return string(e.Code) + ": " + e.Message }

// Mode selects which invariant subset the Validator enforces.
type Mode int

const (
	// Lenient enforces only structural integrity: referential edges, no
	// cycles, no self-loops, at most one start node, valid and non-duplicate
	// branch labels, resolvable subprocess references (when Workflows is
	// set), and condition validity for decisions that already carry a
	// condition. Suitable for mid-edit states.
	Lenient Mode = iota
	// Strict additionally requires completion invariants: exactly one
	// start node, every decision has both branches, and every variable
	// reference resolves.
	Strict
)

// comparatorsByType partitions valid condition comparators by the type of
// the variable a condition's input_id resolves to.
var numericComparators = map[string]bool{
	"eq": true, "neq": true, "lt": true, "lte": true, "gt": true, "gte": true, "within_range": true,
}

var comparatorsByType = map[VariableType]map[string]bool{
	TypeInt:    numericComparators,
	TypeFloat:  numericComparators,
	TypeNumber: numericComparators,
	TypeDate:   {"date_eq": true, "date_before": true, "date_after": true, "date_between": true},
	TypeString: {"str_eq": true, "str_neq": true, "str_contains": true, "str_starts_with": true, "str_ends_with": true},
	TypeEnum:   {"enum_eq": true, "enum_neq": true},
	TypeBool:   {"is_true": true, "is_false": true},
}

// Validator checks a candidate workflow against the fixed invariant set,
// deterministically and without side effects.
type Validator struct {
	// Workflows resolves subprocess subworkflow_id references to confirm
	// they exist and are owned by the same user. Nil disables that check.
	Workflows OwnerLookup
}

// OwnerLookup resolves whether a workflow id exists and is owned by
// ownerID, used to validate subprocess node references.
type OwnerLookup interface {
	OwnedBy(workflowID, ownerID string) (bool, error)
}

// Validate checks w under mode and returns every violation found; an empty
// slice means the workflow is valid for that mode.
func (v *Validator) Validate(w *Workflow, mode Mode) []*ValidationError {
	var errs []*ValidationError

	nodeIndex := make(map[string]*Node, len(w.Nodes))
	for i := range w.Nodes {
		n := &w.Nodes[i]
		if _, dup := nodeIndex[n.ID]; dup {
			errs = append(errs, &ValidationError{Code: CodeValidationFailed, Message: fmt.Sprintf("duplicate node id %q", n.ID), EntityID: n.ID})
			continue
		}
		nodeIndex[n.ID] = n
		if !validNodeType(n.Type) {
			errs = append(errs, &ValidationError{Code: CodeInvalidNodeType, Message: fmt.Sprintf("node %q has invalid type %q", n.ID, n.Type), EntityID: n.ID})
		}
	}

	errs = append(errs, v.validateStartNodes(w, mode)...)
	errs = append(errs, v.validateEdges(w, nodeIndex)...)
	errs = append(errs, v.validateBranches(w, nodeIndex, mode)...)
	errs = append(errs, v.validateCycles(w)...)
	errs = append(errs, v.validateConditions(w, mode)...)
	errs = append(errs, v.validateSubprocesses(w, mode)...)
	if mode == Strict {
		errs = append(errs, v.validateOutputTemplates(w)...)
	}
	return errs
}

func validNodeType(t NodeType) bool {
	switch t {
	case NodeStart, NodeProcess, NodeDecision, NodeSubprocess, NodeEnd:
		return true
	default:
		return false
	}
}

func (v *Validator) validateStartNodes(w *Workflow, mode Mode) []*ValidationError {
	var starts []string
	for _, n := range w.Nodes {
		if n.Type == NodeStart {
			starts = append(starts, n.ID)
		}
	}
	var errs []*ValidationError
	if len(starts) > 1 {
		errs = append(errs, &ValidationError{Code: CodeMultipleStartNodes, Message: fmt.Sprintf("workflow has %d start nodes: %s", len(starts), strings.Join(starts, ", "))})
	}
	if mode == Strict && len(starts) == 0 {
		errs = append(errs, &ValidationError{Code: CodeMissingStartNode, Message: "workflow has no start node"})
	}
	return errs
}

func (v *Validator) validateEdges(w *Workflow, nodeIndex map[string]*Node) []*ValidationError {
	var errs []*ValidationError
	for _, e := range w.Edges {
		if e.From == e.To {
			errs = append(errs, &ValidationError{Code: CodeSelfLoop, Message: fmt.Sprintf("node %q has a self-loop", e.From), EntityID: e.From})
			continue
		}
		if _, ok := nodeIndex[e.From]; !ok {
			errs = append(errs, &ValidationError{Code: CodeNodeNotFound, Message: fmt.Sprintf("edge references unknown source node %q", e.From), EntityID: e.From})
		}
		if _, ok := nodeIndex[e.To]; !ok {
			errs = append(errs, &ValidationError{Code: CodeNodeNotFound, Message: fmt.Sprintf("edge references unknown target node %q", e.To), EntityID: e.To})
		}
		if src, ok := nodeIndex[e.From]; ok && src.Type == NodeDecision {
			if e.Label != LabelTrue && e.Label != LabelFalse {
				errs = append(errs, &ValidationError{Code: CodeInvalidEdgeLabel, Message: fmt.Sprintf("decision %q outgoing edge has invalid label %q", e.From, e.Label), EntityID: e.From})
			}
		}
	}
	return errs
}

func (v *Validator) validateBranches(w *Workflow, nodeIndex map[string]*Node, mode Mode) []*ValidationError {
	var errs []*ValidationError
	perNodeLabels := make(map[string]map[EdgeLabel]int)
	for _, e := range w.Edges {
		src, ok := nodeIndex[e.From]
		if !ok || src.Type != NodeDecision {
			continue
		}
		if perNodeLabels[e.From] == nil {
			perNodeLabels[e.From] = make(map[EdgeLabel]int)
		}
		perNodeLabels[e.From][e.Label]++
	}
	for _, n := range w.Nodes {
		if n.Type != NodeDecision {
			continue
		}
		counts := perNodeLabels[n.ID]
		if counts[LabelTrue] > 1 || counts[LabelFalse] > 1 {
			errs = append(errs, &ValidationError{Code: CodeDuplicateEdgeLabel, Message: fmt.Sprintf("decision %q has duplicate branch labels", n.ID), EntityID: n.ID})
		}
		total := 0
		for _, c := range counts {
			total += c
		}
		if total > 2 {
			errs = append(errs, &ValidationError{Code: CodeMaxBranchesReached, Message: fmt.Sprintf("decision %q has more than two outgoing edges", n.ID), EntityID: n.ID})
		}
		if mode == Strict && (counts[LabelTrue] != 1 || counts[LabelFalse] != 1) {
			errs = append(errs, &ValidationError{Code: CodeMaxBranchesReached, Message: fmt.Sprintf("decision %q must have exactly one true and one false edge", n.ID), EntityID: n.ID})
		}
	}
	return errs
}

// validateCycles runs a recursive grey/black-coloured depth-first search:
// white nodes are unvisited, grey nodes are on the current DFS stack, black
// nodes are fully explored. A back edge (an edge into a grey node) reports a
// cycle with the path joined by arrows.
func (v *Validator) validateCycles(w *Workflow) []*ValidationError {
	adjacency := make(map[string][]string, len(w.Nodes))
	for _, e := range w.Edges {
		adjacency[e.From] = append(adjacency[e.From], e.To)
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(w.Nodes))
	for _, n := range w.Nodes {
		color[n.ID] = white
	}

	var errs []*ValidationError
	var stack []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, next := range adjacency[id] {
			switch color[next] {
			case white:
				if visit(next) {
					return true
				}
			case grey:
				cyclePath := append(append([]string(nil), stack...), next)
				errs = append(errs, &ValidationError{
					Code:     CodeCycleDetected,
					Message:  fmt.Sprintf("cycle detected: %s", strings.Join(cyclePath, " -> ")),
					EntityID: id,
				})
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, n := range w.Nodes {
		if color[n.ID] == white {
			if visit(n.ID) {
				break
			}
		}
	}
	return errs
}

func (v *Validator) validateConditions(w *Workflow, mode Mode) []*ValidationError {
	var errs []*ValidationError
	for _, n := range w.Nodes {
		if n.Type != NodeDecision {
			continue
		}
		if n.Condition == nil {
			if mode == Strict {
				errs = append(errs, &ValidationError{Code: CodeInvalidCondition, Message: fmt.Sprintf("decision %q has no condition", n.ID), EntityID: n.ID})
			}
			continue
		}
		cond := n.Condition
		variable, ok := w.VariableByID(cond.InputID)
		if !ok {
			errs = append(errs, &ValidationError{Code: CodeUnknownInputReference, Message: fmt.Sprintf("decision %q condition references unknown variable %q", n.ID, cond.InputID), EntityID: n.ID})
			continue
		}
		allowed := comparatorsByType[variable.Type]
		if !allowed[cond.Comparator] {
			errs = append(errs, &ValidationError{Code: CodeInvalidCondition, Message: fmt.Sprintf("decision %q comparator %q is invalid for variable type %q", n.ID, cond.Comparator, variable.Type), EntityID: n.ID})
		}
	}
	return errs
}

func (v *Validator) validateSubprocesses(w *Workflow, mode Mode) []*ValidationError {
	if v.Workflows == nil {
		return nil
	}
	var errs []*ValidationError
	for _, n := range w.Nodes {
		if n.Type != NodeSubprocess {
			continue
		}
		if n.SubworkflowID == "" {
			errs = append(errs, &ValidationError{Code: CodeSubprocessValidationFailed, Message: fmt.Sprintf("subprocess %q is missing subworkflow_id", n.ID), EntityID: n.ID})
			continue
		}
		owned, err := v.Workflows.OwnedBy(n.SubworkflowID, w.OwnerID)
		if err != nil || !owned {
			errs = append(errs, &ValidationError{Code: CodeSubprocessValidationFailed, Message: fmt.Sprintf("subprocess %q references workflow %q which does not exist or is not owned by the caller", n.ID, n.SubworkflowID), EntityID: n.ID})
		}
	}
	return errs
}

func (v *Validator) validateOutputTemplates(w *Workflow) []*ValidationError {
	var errs []*ValidationError
	names := make(map[string]bool, len(w.Variables))
	for _, variable := range w.Variables {
		names[variable.Name] = true
	}
	for _, n := range w.Nodes {
		if n.Type != NodeEnd || n.OutputTemplate == "" {
			continue
		}
		for _, ref := range extractPlaceholders(n.OutputTemplate) {
			if !names[ref] {
				errs = append(errs, &ValidationError{Code: CodeUnknownInputReference, Message: fmt.Sprintf("end node %q output_template references unknown variable %q", n.ID, ref), EntityID: n.ID})
			}
		}
	}
	return errs
}

func extractPlaceholders(template string) []string {
	var refs []string
	for {
		start := strings.Index(template, "{{")
		if start < 0 {
			break
		}
		end := strings.Index(template[start:], "}}")
		if end < 0 {
			break
		}
		name := strings.TrimSpace(template[start+2 : start+end])
		if name != "" {
			refs = append(refs, name)
		}
		template = template[start+end+2:]
	}
	return refs
}
