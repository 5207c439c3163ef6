package answer_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"citadex/internal/answer"
	"citadex/internal/domain"
	"citadex/internal/retrieval"
	"citadex/internal/settings"
)

type MockRetriever struct{ mock.Mock }

func (m *MockRetriever) Retrieve(ctx context.Context, query string, opts retrieval.Options) ([]domain.RetrievalCandidate, error) {
	args := m.Called(ctx, query, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RetrievalCandidate), args.Error(1)
}

var defaults = settings.Effective{SearchTopK: 20, SearchTopN: 5, SimilarityCutoff: 0.5, HighConfidence: 0.8}

func TestService_Ask(t *testing.T) {
	ret := new(MockRetriever)
	gen := new(MockGenerator)
	var logBuf bytes.Buffer

	cands := []domain.RetrievalCandidate{
		candidate("https://www.irs.gov/a", "Filing Status", "Single filers ...", 0.91),
		candidate("https://www.irs.gov/b", "Deadlines", "April 15 ...", 0.74),
	}
	ret.On("Retrieve", mock.Anything, "filing status", retrieval.Options{TopK: 20, TopN: 5, SimilarityCutoff: 0.5, ContentType: domain.ContentPDF}).
		Return(cands, nil)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(p string) bool { return !bytes.Contains([]byte(p), []byte("JSON array")) }), cands).
		Return("There are five filing statuses [1].", nil)
	gen.On("Generate", mock.Anything, mock.Anything, []domain.RetrievalCandidate(nil)).
		Return(`["What is head of household?"]`, nil)

	svc := answer.NewService(settings.NewService(nil, defaults), ret, answer.NewAssembler(gen, time.Second), retrieval.NewQueryLogger(&logBuf), true)
	resp, err := svc.Ask(context.Background(), answer.ChatRequest{
		Query:   "  filing status ",
		Filters: &answer.Filters{ContentType: domain.ContentPDF},
	})

	require.NoError(t, err)
	assert.Equal(t, domain.ConfidenceHigh, resp.Confidence)
	assert.Equal(t, []float64{0.91, 0.74}, resp.QueryEmbeddingSimilarity)
	assert.Len(t, resp.Sources, 2)
	assert.Equal(t, []string{"What is head of household?"}, resp.FollowUpQuestions)

	var entry retrieval.QueryLogEntry
	require.NoError(t, json.Unmarshal(logBuf.Bytes(), &entry))
	assert.Equal(t, "filing status", entry.Query)
	assert.Equal(t, 2, entry.Candidates)
	assert.Equal(t, "pdf", entry.ContentType)
	assert.Equal(t, []string{"https://www.irs.gov/a", "https://www.irs.gov/b"}, entry.Sources)
	assert.Equal(t, "high", entry.Confidence)
	assert.Equal(t, 0.91, entry.TopScore)
}

func TestService_AskRefusalJSONShape(t *testing.T) {
	ret := new(MockRetriever)
	ret.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	svc := answer.NewService(settings.NewService(nil, defaults), ret, answer.NewAssembler(new(MockGenerator), time.Second), nil, true)
	resp, err := svc.Ask(context.Background(), answer.ChatRequest{Query: "foreign adoption credit"})
	require.NoError(t, err)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"answer_text": "I don't have verifiable information in the knowledge base for that query.",
		"sources": [],
		"confidence": "low",
		"query_embedding_similarity": []
	}`, string(raw))
}

func TestService_AskErrors(t *testing.T) {
	t.Run("empty query", func(t *testing.T) {
		svc := answer.NewService(settings.NewService(nil, defaults), new(MockRetriever), answer.NewAssembler(new(MockGenerator), time.Second), nil, false)
		_, err := svc.Ask(context.Background(), answer.ChatRequest{Query: "   "})
		assert.ErrorIs(t, err, answer.ErrEmptyQuery)
	})

	t.Run("retrieval timeout is not a refusal", func(t *testing.T) {
		ret := new(MockRetriever)
		ret.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, &domain.RetrievalTimeoutError{Stage: "search", Err: context.DeadlineExceeded})
		var logBuf bytes.Buffer

		svc := answer.NewService(settings.NewService(nil, defaults), ret, answer.NewAssembler(new(MockGenerator), time.Second), retrieval.NewQueryLogger(&logBuf), false)
		resp, err := svc.Ask(context.Background(), answer.ChatRequest{Query: "q"})

		assert.Nil(t, resp)
		var te *domain.RetrievalTimeoutError
		assert.ErrorAs(t, err, &te)
		assert.Contains(t, logBuf.String(), `"error":"retrieval timed out during search`)
	})

	t.Run("model mismatch", func(t *testing.T) {
		ret := new(MockRetriever)
		ret.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, &domain.ModelMismatchError{Indexed: "a", Requested: "b"})

		svc := answer.NewService(settings.NewService(nil, defaults), ret, answer.NewAssembler(new(MockGenerator), time.Second), nil, false)
		_, err := svc.Ask(context.Background(), answer.ChatRequest{Query: "q"})
		var mm *domain.ModelMismatchError
		assert.True(t, errors.As(err, &mm))
	})
}
