package gemini

import (
	"context"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestVectors(t *testing.T) {
	embs := []*genai.ContentEmbedding{{Values: []float32{0.1, 0.2}}, {Values: []float32{0.3, 0.4}}}

	out, err := vectors(embs, 2)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, out)

	_, err = vectors(embs, 3)
	assert.ErrorContains(t, err, "got 2 embeddings for 3 texts")

	_, err = vectors([]*genai.ContentEmbedding{{}}, 1)
	assert.ErrorContains(t, err, "empty embedding at 0")
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text("Returns are due "), genai.Text("April 15 [1].\n")}},
	}}}
	text, err := responseText(resp)
	require.NoError(t, err)
	assert.Equal(t, "Returns are due April 15 [1].", text)

	_, err = responseText(&genai.GenerateContentResponse{})
	assert.ErrorContains(t, err, "no candidates")

	blocked := &genai.GenerateContentResponse{PromptFeedback: &genai.PromptFeedback{BlockReason: genai.BlockReasonSafety}}
	_, err = responseText(blocked)
	assert.ErrorContains(t, err, "prompt blocked")

	_, err = responseText(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: &genai.Content{}}}})
	assert.ErrorContains(t, err, "empty response")
}
