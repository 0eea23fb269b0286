package annotate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/tools"
)

// dedupeRadiusPixels mirrors the 10-pixel Chebyshev radius original flowchart
// annotation tooling uses to treat two closely-placed clicks asking the same
// question as one annotation instead of a duplicate pin.
const dedupeRadiusPixels = 10

// AddImageQuestion implements workflow.add_image_question: pins a
// clarifying question at a coordinate on a source image, so the Subagent's
// next analysis pass can address it directly.
type AddImageQuestion struct{ Sidecar *Store }

func NewAddImageQuestion(sidecar *Store) *AddImageQuestion { return &AddImageQuestion{Sidecar: sidecar} }

func (t *AddImageQuestion) Spec() *tools.ToolSpec {
	return &tools.ToolSpec{
		Name:        "workflow.add_image_question",
		Toolset:     "direct",
		Description: "Pin a clarifying question at a coordinate on a source flowchart image.",
		Parameters: []tools.Parameter{
			{Name: "image_path", Type: "string", Required: true},
			{Name: "x", Type: "integer", Required: true},
			{Name: "y", Type: "integer", Required: true},
			{Name: "question", Type: "string", Required: true},
		},
	}
}

type addImageQuestionArgs struct {
	ImagePath string `json:"image_path"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Question  string `json:"question"`
}

func (t *AddImageQuestion) Execute(ctx context.Context, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	var args addImageQuestionArgs
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &args); err != nil {
			return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, err.Error()), nil
		}
	}
	if args.ImagePath == "" || args.Question == "" {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, "image_path and question are required"), nil
	}

	candidate := Annotation{
		ID:       uuid.New().String()[:8],
		Type:     "question",
		X:        args.X,
		Y:        args.Y,
		Question: args.Question,
		Status:   "pending",
	}

	added, err := t.Sidecar.Append(args.ImagePath, candidate, dedupeRadiusPixels)
	if err != nil {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInternal, err.Error()), nil
	}

	result := map[string]any{"success": true}
	if added == nil {
		result["message"] = "a similar question is already pinned near that location"
		result["deduped"] = true
	} else {
		result["message"] = fmt.Sprintf("pinned question at (%d, %d)", args.X, args.Y)
		result["annotation_id"] = added.ID
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &toolregistry.ToolResultMessage{Result: raw}, nil
}
