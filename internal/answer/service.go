package answer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"citadex/internal/domain"
	"citadex/internal/logger"
	"citadex/internal/retrieval"
	"citadex/internal/settings"
)

var ErrEmptyQuery = errors.New("query is required")

type Filters struct {
	ContentType domain.ContentType `json:"content_type,omitempty"`
}

type ChatRequest struct {
	Query   string   `json:"query"`
	Filters *Filters `json:"filters,omitempty"`
	History []Turn   `json:"history,omitempty"`
}

type ChatResponse struct {
	AnswerText               string            `json:"answer_text"`
	Sources                  []domain.Citation `json:"sources"`
	Confidence               domain.Confidence `json:"confidence"`
	QueryEmbeddingSimilarity []float64         `json:"query_embedding_similarity"`
	FollowUpQuestions        []string          `json:"follow_up_questions,omitempty"`
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, opts retrieval.Options) ([]domain.RetrievalCandidate, error)
}

type SettingsProvider interface {
	Get(ctx context.Context) (*settings.Effective, error)
}

type Service struct {
	settings  SettingsProvider
	retriever Retriever
	assembler *Assembler
	queryLog  *retrieval.QueryLogger
	followUps bool
}

// NewService wires the query pipeline. queryLog may be nil.
func NewService(s SettingsProvider, r Retriever, a *Assembler, queryLog *retrieval.QueryLogger, followUps bool) *Service {
	return &Service{settings: s, retriever: r, assembler: a, queryLog: queryLog, followUps: followUps}
}

// Ask runs retrieve then assemble. Retrieval and generation failures are
// returned as errors; a query without evidence is a successful refusal.
func (s *Service) Ask(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx = logger.EnsureCorrelationID(ctx)
	start := time.Now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	eff, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	opts := retrieval.Options{
		TopK:             eff.SearchTopK,
		TopN:             eff.SearchTopN,
		SimilarityCutoff: eff.SimilarityCutoff,
	}
	if req.Filters != nil {
		opts.ContentType = req.Filters.ContentType
	}

	candidates, err := s.retriever.Retrieve(ctx, query, opts)
	if err != nil {
		s.log(ctx, query, opts.ContentType, start, nil, nil, err)
		return nil, err
	}

	res, err := s.assembler.Assemble(ctx, Query{Text: query, History: req.History}, candidates, eff.HighConfidence)
	if err != nil {
		s.log(ctx, query, opts.ContentType, start, candidates, nil, err)
		return nil, err
	}

	resp := &ChatResponse{
		AnswerText:               res.Text,
		Sources:                  res.Citations,
		Confidence:               res.Confidence,
		QueryEmbeddingSimilarity: make([]float64, 0, len(candidates)),
	}
	for _, c := range candidates {
		resp.QueryEmbeddingSimilarity = append(resp.QueryEmbeddingSimilarity, c.Score)
	}
	if s.followUps && res.Confidence != domain.ConfidenceLow {
		resp.FollowUpQuestions = s.assembler.FollowUps(ctx, query, res.Text)
	}

	s.log(ctx, query, opts.ContentType, start, candidates, res, nil)
	slog.InfoContext(ctx, "query answered", "confidence", res.Confidence, "sources", len(res.Citations), "duration", time.Since(start))
	return resp, nil
}

func (s *Service) log(ctx context.Context, query string, ct domain.ContentType, start time.Time, candidates []domain.RetrievalCandidate, res *Result, err error) {
	if s.queryLog == nil {
		return
	}
	entry := retrieval.QueryLogEntry{
		Query:         query,
		ContentType:   string(ct),
		Candidates:    len(candidates),
		CorrelationID: logger.CorrelationID(ctx),
	}
	if len(candidates) > 0 {
		entry.TopScore = candidates[0].Score
	}
	if res != nil {
		entry.Confidence = string(res.Confidence)
		entry.Disclaimer = res.Disclaimer
		for _, c := range res.Citations {
			entry.Sources = append(entry.Sources, c.URL)
		}
	}
	if err != nil {
		entry.Error = err.Error()
	}
	s.queryLog.Log(entry, start)
}
