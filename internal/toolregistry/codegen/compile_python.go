// Package codegen turns a validated workflow graph into a standalone Python
// function, for users who want to run a flowchart outside the runtime.
//
// The generator walks the graph depth-first from the start node, emitting a
// nested if/else per decision and a return per end node. It assumes a
// tree-shaped control flow below each decision: a node reachable from both
// branches of a decision is emitted twice, once per branch, rather than
// factored into a shared helper. Workflows built through the editing tools
// in practice branch-and-terminate rather than branch-and-rejoin, so this
// keeps the generator simple at the cost of duplicated code on the rare
// diamond-shaped graph; a future revision could top-sort and emit one
// function per merge point instead.
package codegen

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/tools"
	"github.com/lemonflow/flowforge/internal/workflow"
)

// CompilePython implements workflow.compile_python: validates the current
// graph and emits an executable Python rendering of it.
type CompilePython struct {
	Store     workflow.Store
	Validator *workflow.Validator
}

func NewCompilePython(store workflow.Store, validator *workflow.Validator) *CompilePython {
	return &CompilePython{Store: store, Validator: validator}
}

func (t *CompilePython) Spec() *tools.ToolSpec {
	return &tools.ToolSpec{
		Name:        "workflow.compile_python",
		Toolset:     "direct",
		Description: "Compile the current workflow graph into a standalone Python function.",
		Parameters: []tools.Parameter{
			{Name: "workflow_id", Type: "string", Required: true},
			{Name: "include_main", Type: "boolean"},
			{Name: "include_docstring", Type: "boolean"},
		},
	}
}

type compilePythonArgs struct {
	WorkflowID       string `json:"workflow_id"`
	IncludeMain      bool   `json:"include_main"`
	IncludeDocstring bool   `json:"include_docstring"`
}

func (t *CompilePython) Execute(ctx context.Context, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	var args compilePythonArgs
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &args); err != nil {
			return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, err.Error()), nil
		}
	}

	w, err := t.Store.Get(ctx, args.WorkflowID)
	if err != nil {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeNotFound, fmt.Sprintf("workflow %q not found", args.WorkflowID)), nil
	}
	if w.OwnerID != session.OwnerID {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeForbidden, "workflow does not belong to the caller"), nil
	}
	if len(w.Nodes) == 0 {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, "workflow has no nodes to compile"), nil
	}

	if errs := t.Validator.Validate(w, workflow.Strict); len(errs) > 0 {
		raw, _ := json.Marshal(map[string]any{"success": false, "error": formatErrs(errs)})
		return &toolregistry.ToolResultMessage{Result: raw}, nil
	}

	code, warnings := compileWorkflowToPython(w, args.IncludeMain, args.IncludeDocstring)

	raw, err := json.Marshal(map[string]any{
		"success":  true,
		"code":     code,
		"warnings": warnings,
	})
	if err != nil {
		return nil, err
	}
	return &toolregistry.ToolResultMessage{Result: raw}, nil
}

func formatErrs(errs []*workflow.ValidationError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

func compileWorkflowToPython(w *workflow.Workflow, includeMain, includeDocstring bool) (string, []string) {
	var warnings []string
	fnName := pythonIdent(w.Metadata.Name, "run_workflow")

	outgoing := make(map[string][]workflow.Edge, len(w.Edges))
	for _, e := range w.Edges {
		outgoing[e.From] = append(outgoing[e.From], e)
	}

	var start *workflow.Node
	for i := range w.Nodes {
		if w.Nodes[i].Type == workflow.NodeStart {
			start = &w.Nodes[i]
			break
		}
	}
	if start == nil {
		warnings = append(warnings, "no start node found; emitting a stub function body")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "import math\n\n\n")
	fmt.Fprintf(&b, "def %s(%s):\n", fnName, pythonParams(w))
	if includeDocstring {
		fmt.Fprintf(&b, "    \"\"\"Generated from workflow %q.\"\"\"\n", w.Metadata.Name)
	}

	if start == nil {
		b.WriteString("    raise RuntimeError(\"workflow has no start node\")\n")
	} else {
		next := firstTarget(outgoing, start.ID)
		if next == "" {
			warnings = append(warnings, "start node has no outgoing edge")
			b.WriteString("    pass\n")
		} else {
			body := emitNode(w, outgoing, next, 1, map[string]bool{}, &warnings)
			b.WriteString(body)
		}
	}

	if includeMain {
		fmt.Fprintf(&b, "\n\nif __name__ == \"__main__\":\n    print(%s())\n", fnName)
	}

	return b.String(), warnings
}

func firstTarget(outgoing map[string][]workflow.Edge, from string) string {
	edges := outgoing[from]
	if len(edges) == 0 {
		return ""
	}
	return edges[0].To
}

func emitNode(w *workflow.Workflow, outgoing map[string][]workflow.Edge, nodeID string, depth int, visiting map[string]bool, warnings *[]string) string {
	indent := strings.Repeat("    ", depth)
	if visiting[nodeID] {
		*warnings = append(*warnings, fmt.Sprintf("cycle guard triggered at node %q; emitting a stop", nodeID))
		return indent + "return None\n"
	}
	n, ok := w.NodeByID(nodeID)
	if !ok {
		*warnings = append(*warnings, fmt.Sprintf("edge referenced missing node %q", nodeID))
		return indent + "return None\n"
	}
	visiting[nodeID] = true
	defer delete(visiting, nodeID)

	switch n.Type {
	case workflow.NodeEnd:
		return indent + emitReturn(n) + "\n"

	case workflow.NodeDecision:
		var trueTo, falseTo string
		for _, e := range outgoing[n.ID] {
			switch e.Label {
			case workflow.LabelTrue:
				trueTo = e.To
			case workflow.LabelFalse:
				falseTo = e.To
			}
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%sif %s:\n", indent, emitCondition(w, n))
		if trueTo != "" {
			b.WriteString(emitNode(w, outgoing, trueTo, depth+1, visiting, warnings))
		} else {
			fmt.Fprintf(&b, "%s    pass\n", indent)
		}
		fmt.Fprintf(&b, "%selse:\n", indent)
		if falseTo != "" {
			b.WriteString(emitNode(w, outgoing, falseTo, depth+1, visiting, warnings))
		} else {
			fmt.Fprintf(&b, "%s    pass\n", indent)
		}
		return b.String()

	case workflow.NodeSubprocess:
		var b strings.Builder
		target := n.OutputVariable
		if target == "" {
			target = "_" + pythonIdent(n.Label, "result")
		}
		fmt.Fprintf(&b, "%s%s = call_subworkflow(%q, {%s})\n", indent, pythonIdent(target, target), n.SubworkflowID, emitInputMapping(n))
		next := firstTarget(outgoing, n.ID)
		if next == "" {
			fmt.Fprintf(&b, "%sreturn %s\n", indent, pythonIdent(target, target))
		} else {
			b.WriteString(emitNode(w, outgoing, next, depth, visiting, warnings))
		}
		return b.String()

	default: // process, start (shouldn't recurse into start)
		next := firstTarget(outgoing, n.ID)
		if next == "" {
			*warnings = append(*warnings, fmt.Sprintf("node %q has no outgoing edge and is not an end node", n.ID))
			return indent + "return None\n"
		}
		return emitNode(w, outgoing, next, depth, visiting, warnings)
	}
}

func emitInputMapping(n *workflow.Node) string {
	if len(n.InputMapping) == 0 {
		return ""
	}
	keys := make([]string, 0, len(n.InputMapping))
	for k := range n.InputMapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%q: %s", k, pythonIdent(n.InputMapping[k], n.InputMapping[k]))
	}
	return strings.Join(parts, ", ")
}

var comparatorToPython = map[string]string{
	"eq": "==", "neq": "!=", "lt": "<", "lte": "<=", "gt": ">", "gte": ">=",
	"date_eq": "==", "date_before": "<", "date_after": ">",
	"str_eq": "==", "str_neq": "!=",
	"enum_eq": "==", "enum_neq": "!=",
}

func emitCondition(w *workflow.Workflow, n *workflow.Node) string {
	if n.Condition == nil {
		return "True"
	}
	c := n.Condition
	variable, ok := w.VariableByID(c.InputID)
	varName := c.InputID
	if ok {
		varName = pythonIdent(variable.Name, variable.ID)
	}
	switch c.Comparator {
	case "is_true":
		return varName
	case "is_false":
		return "not " + varName
	case "within_range", "date_between":
		return fmt.Sprintf("%s <= %s <= %s", pythonLiteral(c.Value), varName, pythonLiteral(c.Value2))
	case "str_contains":
		return fmt.Sprintf("%s in %s", pythonLiteral(c.Value), varName)
	case "str_starts_with":
		return fmt.Sprintf("%s.startswith(%s)", varName, pythonLiteral(c.Value))
	case "str_ends_with":
		return fmt.Sprintf("%s.endswith(%s)", varName, pythonLiteral(c.Value))
	default:
		op, ok := comparatorToPython[c.Comparator]
		if !ok {
			op = "=="
		}
		return fmt.Sprintf("%s %s %s", varName, op, pythonLiteral(c.Value))
	}
}

func emitReturn(n *workflow.Node) string {
	if n.OutputTemplate != "" {
		return fmt.Sprintf("return %s", pythonFString(n.OutputTemplate))
	}
	if n.OutputValue != nil {
		return fmt.Sprintf("return %s", pythonLiteral(n.OutputValue))
	}
	return "return None"
}

func pythonFString(template string) string {
	converted := strings.ReplaceAll(template, "{{", "{")
	converted = strings.ReplaceAll(converted, "}}", "}")
	return "f" + strconv.Quote(converted)
}

func pythonLiteral(v any) string {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case nil:
		return "None"
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return "None"
		}
		return string(raw)
	}
}

func pythonParams(w *workflow.Workflow) string {
	var names []string
	for _, v := range w.Variables {
		if v.Source == workflow.SourceInput {
			names = append(names, pythonIdent(v.Name, v.ID))
		}
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

var identSanitizer = strings.NewReplacer(" ", "_", "-", "_", ".", "_")

func pythonIdent(name, fallback string) string {
	s := workflow.Slug(identSanitizer.Replace(name))
	if s == "" {
		s = workflow.Slug(identSanitizer.Replace(fallback))
	}
	if s == "" {
		s = "value"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "v_" + s
	}
	return s
}
