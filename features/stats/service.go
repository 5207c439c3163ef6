package stats

import (
	"context"
	"fmt"
	"log/slog"
)

type DocumentRepo interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

type VectorStore interface {
	CountLatest(ctx context.Context) (int, error)
}

type ModelRegistry interface {
	IndexedModel(ctx context.Context) (string, error)
}

type Stats struct {
	Documents      map[string]int `json:"documents" yaml:"documents"`
	LatestEntries  int            `json:"latest_entries" yaml:"latest_entries"`
	FailedJobs     int            `json:"failed_jobs" yaml:"failed_jobs"`
	EmbeddingModel string         `json:"embedding_model" yaml:"embedding_model"`
}

type Service struct {
	docs   DocumentRepo
	jobs   JobRepo
	store  VectorStore
	models ModelRegistry
}

func NewService(d DocumentRepo, j JobRepo, v VectorStore, m ModelRegistry) *Service {
	return &Service{docs: d, jobs: j, store: v, models: m}
}

func (s *Service) Get(ctx context.Context) (*Stats, error) {
	slog.DebugContext(ctx, "collecting stats")

	docs, err := s.docs.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	jobs, err := s.jobs.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count failed jobs: %w", err)
	}
	entries, err := s.store.CountLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("count index entries: %w", err)
	}
	model, err := s.models.IndexedModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("read indexed model: %w", err)
	}

	return &Stats{Documents: docs, LatestEntries: entries, FailedJobs: jobs, EmbeddingModel: model}, nil
}
