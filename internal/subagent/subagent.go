// Package subagent implements the image-analysis subagent: a two-phase
// LLM extraction pass over one or more flowchart images. The resulting
// Analysis carries the model's reply text as Summary; its Nodes, Edges,
// Variables and Questions fields are not filled from the reply.
package subagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/lemonflow/flowforge/internal/model"
)

// followUpTriggerPhrases are substring-matched, case-insensitively, against
// the user's message to decide whether this is a follow-up refinement of a
// prior analysis rather than a first pass over new images. A substring
// check over a fixed phrase list is deliberately simpler than a classifier
// call: it costs no extra model round trip and the phrase list is small
// enough to keep accurate by hand.
var followUpTriggerPhrases = []string{
	"that's not right",
	"that's wrong",
	"actually",
	"no, ",
	"fix this",
	"change that",
	"i meant",
}

// Analysis is the structured result of one analysis pass.
type Analysis struct {
	Nodes     []NodeGuess
	Edges     []EdgeGuess
	Variables []VariableGuess
	Questions []string
	Summary   string
}

// NodeGuess is one node the Subagent believes it found on the image, with
// the coordinates it was drawn at so a caller can correlate an
// add_image_question pin back to it.
type NodeGuess struct {
	Label string
	Type  string
	X, Y  float64
}

// EdgeGuess is one connection the Subagent believes it found.
type EdgeGuess struct {
	FromLabel string
	ToLabel   string
	Label     string
}

// VariableGuess is one input or condition value the Subagent inferred from
// text on the image.
type VariableGuess struct {
	Name string
	Type string
}

// Deps are the Subagent's wired dependencies.
type Deps struct {
	Model        model.Client
	SystemPrompt string
}

// Subagent runs the two-phase image-to-workflow extraction: a first pass
// that reads every attached image and proposes a structured analysis, and
// an optional second pass that re-reads the images in light of a specific
// follow-up question or correction from the user.
type Subagent struct{ deps Deps }

// New constructs a Subagent from its dependencies.
func New(deps Deps) *Subagent { return &Subagent{deps: deps} }

// Analyze runs a first-pass analysis over images, described by userPrompt
// (typically empty or a short framing instruction).
func (s *Subagent) Analyze(ctx context.Context, userPrompt string, images []model.ImagePart) (*Analysis, error) {
	return s.run(ctx, buildFirstPassPrompt(userPrompt), images)
}

// Refine runs a follow-up pass: re-reads images (if re-attached) in light
// of feedback on a prior Analysis. IsFollowUp reports whether feedback text
// matched a known correction pattern, which callers can use to decide
// whether a full re-analysis or a targeted patch is warranted.
func (s *Subagent) Refine(ctx context.Context, feedback string, prior *Analysis, images []model.ImagePart) (*Analysis, error) {
	return s.run(ctx, buildFollowUpPrompt(feedback, prior), images)
}

// IsFollowUp reports whether text reads as a correction to a prior
// analysis rather than a fresh request.
func IsFollowUp(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range followUpTriggerPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func (s *Subagent) run(ctx context.Context, prompt string, images []model.ImagePart) (*Analysis, error) {
	parts := []model.Part{model.TextPart{Text: prompt}}
	for _, img := range images {
		parts = append(parts, img)
	}

	req := model.Request{
		ModelClass: model.ModelClassHighReasoning,
		Messages: []model.Message{
			{Role: model.RoleSystem, Parts: []model.Part{model.TextPart{Text: s.deps.SystemPrompt}}},
			{Role: model.RoleUser, Parts: parts},
		},
		Thinking: model.ThinkingOptions{Enable: true, BudgetTokens: 4096},
	}

	resp, err := s.deps.Model.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("subagent: analysis completion: %w", err)
	}

	return parseAnalysis(resp.Content), nil
}

func buildFirstPassPrompt(userPrompt string) string {
	base := "Examine the attached flowchart image(s) and extract every node, " +
		"edge, and input variable you can identify. For anything ambiguous, " +
		"note it as an open question rather than guessing silently."
	if userPrompt == "" {
		return base
	}
	return base + "\n\nAdditional context from the user: " + userPrompt
}

func buildFollowUpPrompt(feedback string, prior *Analysis) string {
	var b strings.Builder
	b.WriteString("The user has feedback on your prior analysis of this flowchart:\n")
	b.WriteString(feedback)
	if prior != nil {
		b.WriteString(fmt.Sprintf("\n\nYour prior analysis found %d node(s) and %d edge(s). Re-examine the image and correct your analysis accordingly.", len(prior.Nodes), len(prior.Edges)))
	}
	return b.String()
}

// parseAnalysis builds an Analysis from the model's response by
// concatenating its text parts into Summary. The text is not parsed:
// Nodes, Edges, Variables and Questions stay empty.
func parseAnalysis(parts []model.Part) *Analysis {
	var summary strings.Builder
	for _, p := range parts {
		if t, ok := p.(model.TextPart); ok {
			summary.WriteString(t.Text)
		}
	}
	return &Analysis{Summary: summary.String()}
}
