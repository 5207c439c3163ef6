package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"citadex/internal/domain"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelID() string
}

type VectorStore interface {
	Search(ctx context.Context, vector []float32, k int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error)
}

// Reranker scores each doc against query. Scores align with docs by index.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) ([]float64, error)
}

type ModelRegistry interface {
	IndexedModel(ctx context.Context) (string, error)
}

type Options struct {
	TopK             int
	TopN             int
	SimilarityCutoff float64
	ContentType      domain.ContentType
}

type Service struct {
	embedder Embedder
	store    VectorStore
	reranker Reranker
	models   ModelRegistry
	timeout  time.Duration
}

// NewService wires the query pipeline. reranker may be nil.
func NewService(e Embedder, s VectorStore, r Reranker, m ModelRegistry, timeout time.Duration) *Service {
	return &Service{embedder: e, store: s, reranker: r, models: m, timeout: timeout}
}

// Retrieve returns at most opts.TopN latest candidates scoring at or above
// the cutoff, best first.
func (s *Service) Retrieve(ctx context.Context, query string, opts Options) ([]domain.RetrievalCandidate, error) {
	indexed, err := s.models.IndexedModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("read indexed model: %w", err)
	}
	if indexed == "" {
		slog.InfoContext(ctx, "index is empty")
		return nil, nil
	}
	if model := s.embedder.ModelID(); model != indexed {
		return nil, &domain.ModelMismatchError{Indexed: indexed, Requested: model}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, stageError(ctx, "embed", err)
	}

	found, err := s.store.Search(ctx, vec, opts.TopK, domain.SearchFilter{LatestOnly: true, ContentType: opts.ContentType})
	if err != nil {
		return nil, stageError(ctx, "search", err)
	}

	candidates := Select(found, opts.SimilarityCutoff)
	if len(candidates) == 0 {
		return nil, nil
	}

	if s.reranker != nil {
		candidates, err = s.rerank(ctx, query, candidates)
		if err != nil {
			return nil, err
		}
	}

	if opts.TopN > 0 && len(candidates) > opts.TopN {
		candidates = candidates[:opts.TopN]
	}
	return candidates, nil
}

func (s *Service) rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate) ([]domain.RetrievalCandidate, error) {
	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Entry.Text
	}

	scores, err := s.reranker.Rerank(ctx, query, docs)
	if err == nil && len(scores) != len(docs) {
		err = fmt.Errorf("reranker returned %d scores for %d docs", len(scores), len(docs))
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, stageError(ctx, "rerank", err)
		}
		slog.WarnContext(ctx, "rerank failed, keeping similarity order", "error", err)
		return candidates, nil
	}

	for i := range candidates {
		score := scores[i]
		candidates[i].RerankScore = &score
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return *candidates[i].RerankScore > *candidates[j].RerankScore
	})
	return candidates, nil
}

// Select drops entries that are not latest, below cutoff, or older versions
// of a document that also has a newer version in the set, then orders the
// rest by score, most recent crawl and ID.
func Select(found []domain.RetrievalCandidate, cutoff float64) []domain.RetrievalCandidate {
	newest := make(map[string]int)
	for _, c := range found {
		if c.Entry.Version > newest[c.Entry.URL] {
			newest[c.Entry.URL] = c.Entry.Version
		}
	}

	out := make([]domain.RetrievalCandidate, 0, len(found))
	for _, c := range found {
		if !c.Entry.IsLatest || c.Score < cutoff || c.Entry.Version < newest[c.Entry.URL] {
			continue
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Entry.CrawledAt.Equal(b.Entry.CrawledAt) {
			return a.Entry.CrawledAt.After(b.Entry.CrawledAt)
		}
		return a.Entry.ID < b.Entry.ID
	})
	return out
}

func stageError(ctx context.Context, stage string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.RetrievalTimeoutError{Stage: stage, Err: err}
	}
	return fmt.Errorf("retrieval %s: %w", stage, err)
}
