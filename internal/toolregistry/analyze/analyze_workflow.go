// Package analyze adapts the image-analysis Subagent into a Tool Registry
// entry, so analyze_workflow is dispatched through the same ordering and
// cancellation path as every editing tool rather than a side-channel
// transport.
package analyze

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lemonflow/flowforge/internal/model"
	"github.com/lemonflow/flowforge/internal/subagent"
	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/tools"
)

// pendingImagesKey is the SessionState.Values key the Orchestrator writes
// the turn's attached images under before dispatching tool calls, following
// the direct-transport convention of mutating shared session state by
// reference rather than threading binary content through tool-call JSON
// arguments.
const pendingImagesKey = "analyze_workflow.pending_images"

// lastAnalysisKeyPrefix namespaces the most recent Analysis per analysis session
// id so a follow-up call can re-examine it without the caller resending the
// full prior result.
const lastAnalysisKeyPrefix = "analyze_workflow.last_analysis."

// AnalyzeWorkflow implements workflow.analyze_workflow: runs (or continues)
// an image-analysis pass and returns the structured result the Orchestrator
// stages into workflow-editing tool calls.
type AnalyzeWorkflow struct{ sub *subagent.Subagent }

func NewAnalyzeWorkflow(sub *subagent.Subagent) *AnalyzeWorkflow {
	return &AnalyzeWorkflow{sub: sub}
}

func (t *AnalyzeWorkflow) Spec() *tools.ToolSpec {
	return &tools.ToolSpec{
		Name:        "workflow.analyze_workflow",
		Toolset:     "direct",
		Description: "Analyze the currently attached flowchart image(s), or continue a prior analysis session with corrective feedback.",
		Parameters: []tools.Parameter{
			{Name: "session_id", Type: "string", Description: "an analysis session id returned by a prior call, to continue it"},
			{Name: "prompt", Type: "string", Description: "framing text for a first pass, or corrective feedback for a follow-up"},
		},
	}
}

type analyzeArgs struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
}

// SetPendingImages stashes the turn's attached images into session state so
// a subsequent analyze_workflow dispatch in the same turn can read them.
func SetPendingImages(session *toolregistry.SessionState, images []model.ImagePart) {
	if session.Values == nil {
		session.Values = map[string]any{}
	}
	session.Values[pendingImagesKey] = images
}

func (t *AnalyzeWorkflow) Execute(ctx context.Context, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	var args analyzeArgs
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &args); err != nil {
			return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, err.Error()), nil
		}
	}

	images, _ := session.Values[pendingImagesKey].([]model.ImagePart)

	analysisSessionID := args.SessionID
	if analysisSessionID == "" {
		analysisSessionID = session.SessionID
	}
	priorKey := lastAnalysisKeyPrefix + analysisSessionID
	prior, _ := session.Values[priorKey].(*subagent.Analysis)

	// A prior analysis only gets refined when the caller either sent no new
	// images (continuing the same session) or the prompt itself reads as a
	// correction; new images with fresh-analysis wording start over, even
	// within an existing analysis session.
	var (
		analysis *subagent.Analysis
		err      error
	)
	if prior != nil && (len(images) == 0 || subagent.IsFollowUp(args.Prompt)) {
		analysis, err = t.sub.Refine(ctx, args.Prompt, prior, images)
	} else {
		analysis, err = t.sub.Analyze(ctx, args.Prompt, images)
	}
	if err != nil {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInternal, fmt.Sprintf("analyze_workflow: %v", err)), nil
	}

	if session.Values == nil {
		session.Values = map[string]any{}
	}
	session.Values[priorKey] = analysis

	raw, err := json.Marshal(map[string]any{
		"success":    true,
		"session_id": analysisSessionID,
		"summary":    analysis.Summary,
		"nodes":      analysis.Nodes,
		"edges":      analysis.Edges,
		"variables":  analysis.Variables,
		"questions":  analysis.Questions,
	})
	if err != nil {
		return nil, err
	}
	return &toolregistry.ToolResultMessage{Result: raw}, nil
}
