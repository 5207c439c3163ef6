// Package eval runs a fixed set of questions through the answer service and
// records what came back, for comparing index and tuning changes.
package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"citadex/internal/answer"
	"citadex/internal/domain"
)

type Query struct {
	Query            string             `yaml:"query"`
	ExpectedBehavior string             `yaml:"expected_behavior"`
	ContentType      domain.ContentType `yaml:"content_type"`
}

type Suite struct {
	Queries []Query `yaml:"queries"`
}

// LoadSuite reads a YAML query file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read eval queries: %w", err)
	}
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse eval queries %s: %w", path, err)
	}
	if len(s.Queries) == 0 {
		return nil, fmt.Errorf("eval queries %s: no queries", path)
	}
	for i, q := range s.Queries {
		switch q.ContentType {
		case "", domain.ContentHTML, domain.ContentPDF:
		default:
			return nil, fmt.Errorf("eval queries %s: query %d: unknown content type %q", path, i+1, q.ContentType)
		}
	}
	return &s, nil
}

type Source struct {
	URL   string  `json:"url"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// Result is one line of eval output. Error is set instead of the answer
// fields when Ask failed.
type Result struct {
	Query            string            `json:"query"`
	ExpectedBehavior string            `json:"expected_behavior,omitempty"`
	Answer           string            `json:"answer,omitempty"`
	Confidence       domain.Confidence `json:"confidence,omitempty"`
	SourcesCount     int               `json:"sources_count"`
	SimilarityScores []float64         `json:"similarity_scores,omitempty"`
	Sources          []Source          `json:"sources,omitempty"`
	LatencyMs        int64             `json:"latency_ms"`
	Error            string            `json:"error,omitempty"`
}

type Summary struct {
	Total        int     `json:"total" yaml:"total"`
	Succeeded    int     `json:"succeeded" yaml:"succeeded"`
	AvgLatencyMs float64 `json:"avg_latency_ms" yaml:"avg_latency_ms"`
	AvgSources   float64 `json:"avg_sources" yaml:"avg_sources"`
}

type Asker interface {
	Ask(ctx context.Context, req answer.ChatRequest) (*answer.ChatResponse, error)
}

type Runner struct {
	asker Asker
}

func NewRunner(a Asker) *Runner {
	return &Runner{asker: a}
}

// Run asks every query in order and writes one JSON line per query to w.
// A failed query is recorded and the run continues; only cancellation and
// write errors stop it.
func (r *Runner) Run(ctx context.Context, s *Suite, w io.Writer) (Summary, error) {
	enc := json.NewEncoder(w)
	var sum Summary
	var latency int64
	var sources int

	for i, q := range s.Queries {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		slog.InfoContext(ctx, "evaluating query", "n", i+1, "of", len(s.Queries), "query", q.Query)

		req := answer.ChatRequest{Query: q.Query}
		if q.ContentType != "" {
			req.Filters = &answer.Filters{ContentType: q.ContentType}
		}

		start := time.Now()
		resp, err := r.asker.Ask(ctx, req)
		res := Result{Query: q.Query, ExpectedBehavior: q.ExpectedBehavior, LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return sum, err
			}
			slog.WarnContext(ctx, "eval query failed", "query", q.Query, "error", err)
			res.Error = err.Error()
		} else {
			res.Answer = resp.AnswerText
			res.Confidence = resp.Confidence
			res.SourcesCount = len(resp.Sources)
			res.SimilarityScores = resp.QueryEmbeddingSimilarity
			for _, c := range resp.Sources {
				res.Sources = append(res.Sources, Source{URL: c.URL, Title: c.Title, Score: c.Score})
			}
			sum.Succeeded++
			sources += res.SourcesCount
		}
		sum.Total++
		latency += res.LatencyMs

		if err := enc.Encode(res); err != nil {
			return sum, fmt.Errorf("write eval result: %w", err)
		}
	}

	if sum.Total > 0 {
		sum.AvgLatencyMs = float64(latency) / float64(sum.Total)
	}
	if sum.Succeeded > 0 {
		sum.AvgSources = float64(sources) / float64(sum.Succeeded)
	}
	slog.InfoContext(ctx, "evaluation complete", "succeeded", sum.Succeeded, "total", sum.Total, "avg_latency_ms", sum.AvgLatencyMs)
	return sum, nil
}
