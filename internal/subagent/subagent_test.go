package subagent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonflow/flowforge/internal/model"
)

type capturingClient struct {
	lastReq model.Request
	reply   string
}

func (c *capturingClient) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	c.lastReq = req
	return &model.Response{Content: []model.Part{model.TextPart{Text: c.reply}}, StopReason: model.StopReasonEndTurn}, nil
}

func (c *capturingClient) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func TestAnalyzeSendsImagesAndHighReasoningClass(t *testing.T) {
	client := &capturingClient{reply: "found 3 nodes"}
	sub := New(Deps{Model: client, SystemPrompt: "you analyze flowcharts"})

	images := []model.ImagePart{{MediaType: "image/png", Data: []byte("fake-bytes")}}
	analysis, err := sub.Analyze(context.Background(), "", images)
	require.NoError(t, err)
	assert.Equal(t, "found 3 nodes", analysis.Summary)

	assert.Equal(t, model.ModelClassHighReasoning, client.lastReq.ModelClass)
	assert.True(t, client.lastReq.Thinking.Enable)
	require.Len(t, client.lastReq.Messages, 2)
	userParts := client.lastReq.Messages[1].Parts
	require.Len(t, userParts, 2)
	_, hasImage := userParts[1].(model.ImagePart)
	assert.True(t, hasImage)
}

func TestAnalyzeIncludesUserPromptInFirstPassText(t *testing.T) {
	client := &capturingClient{reply: "ok"}
	sub := New(Deps{Model: client, SystemPrompt: "sys"})

	_, err := sub.Analyze(context.Background(), "it's a loan approval flow", nil)
	require.NoError(t, err)

	text := client.lastReq.Messages[1].Parts[0].(model.TextPart).Text
	assert.True(t, strings.Contains(text, "loan approval flow"))
}

func TestRefineReferencesPriorAnalysisCounts(t *testing.T) {
	client := &capturingClient{reply: "corrected"}
	sub := New(Deps{Model: client, SystemPrompt: "sys"})

	prior := &Analysis{Nodes: []NodeGuess{{Label: "Start"}, {Label: "End"}}, Edges: []EdgeGuess{{FromLabel: "Start", ToLabel: "End"}}}
	_, err := sub.Refine(context.Background(), "that's not right, the decision box is missing", prior, nil)
	require.NoError(t, err)

	text := client.lastReq.Messages[1].Parts[0].(model.TextPart).Text
	assert.Contains(t, text, "found 2 node(s) and 1 edge(s)")
}

func TestIsFollowUpMatchesKnownCorrectionPhrases(t *testing.T) {
	assert.True(t, IsFollowUp("Actually, that box should be a decision"))
	assert.True(t, IsFollowUp("No, the arrow goes the other way"))
	assert.False(t, IsFollowUp("Here is a new flowchart to analyze"))
}
