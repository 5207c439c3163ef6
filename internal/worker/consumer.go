package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"citadex/internal/crawler"
	"citadex/internal/domain"
	"citadex/internal/logger"
)

const taskTimeout = 5 * time.Minute

type Crawler interface {
	Run(ctx context.Context, opts crawler.RunOptions) (domain.CrawlReport, error)
}

// Resolver clears the failed job of a URL once it ingests cleanly.
type Resolver interface {
	Resolve(ctx context.Context, url string) error
}

// IngestConsumer re-ingests single URLs published on config.TopicIngestURL.
// Links on the page are not followed.
type IngestConsumer struct {
	crawler       Crawler
	resolver      Resolver
	allowPrefixes []string
	blockPrefixes []string
}

// NewIngestConsumer builds the handler. resolver may be nil.
func NewIngestConsumer(c Crawler, resolver Resolver, allowPrefixes, blockPrefixes []string) *IngestConsumer {
	return &IngestConsumer{crawler: c, resolver: resolver, allowPrefixes: allowPrefixes, blockPrefixes: blockPrefixes}
}

// HandleMessage acks malformed tasks and per-URL failures; the controller
// has already recorded those as failed jobs. Only a run that could not start
// is requeued.
func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task IngestTask
	if err := json.Unmarshal(m.Body, &task); err != nil {
		// Poison pill: invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}
	if task.URL == "" {
		slog.Error("ingest task without url, dropping")
		return nil
	}

	if task.CorrelationID == "" {
		task.CorrelationID = uuid.New().String()
	}
	ctx := logger.WithCorrelationID(context.Background(), task.CorrelationID)
	ctx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	slog.InfoContext(ctx, "ingest task received", "url", task.URL, "attempt", m.Attempts)

	report, err := h.crawler.Run(ctx, crawler.RunOptions{
		Seeds:         []string{task.URL},
		MaxPages:      1,
		Concurrency:   1,
		AllowPDF:      task.AllowPDF,
		AllowPrefixes: h.allowPrefixes,
		BlockPrefixes: h.blockPrefixes,
	})
	if err != nil {
		slog.ErrorContext(ctx, "ingest task could not run", "url", task.URL, "error", err)
		return err
	}

	for _, f := range report.Failures {
		slog.WarnContext(ctx, "ingest task failed", "url", f.URL, "kind", f.Kind, "error", f.Error)
	}
	// a skipped, off-host or cancelled run proves nothing about the URL
	ingested := report.Indexed + report.Unchanged + report.NotModified
	if report.Failed == 0 && ingested > 0 && h.resolver != nil {
		if err := h.resolver.Resolve(ctx, task.URL); err != nil {
			slog.WarnContext(ctx, "failed to clear job", "url", task.URL, "error", err)
		}
	}
	slog.InfoContext(ctx, "ingest task finished", "url", task.URL, "indexed", report.Indexed, "unchanged", report.Unchanged, "not_modified", report.NotModified, "failed", report.Failed)
	return nil
}
