// Package ingest connects a fetched document to the index: extract, chunk,
// embed and write, with per-URL crawl state kept alongside.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"citadex/internal/crawler"
	"citadex/internal/domain"
	"citadex/internal/index"
)

type StateStore interface {
	Get(ctx context.Context, url string) (*domain.CrawlState, error)
	Save(ctx context.Context, st *domain.CrawlState) error
	Touch(ctx context.Context, url string, at time.Time) error
}

type Extractor interface {
	Extract(doc *domain.Document) (*domain.ExtractedText, error)
}

type Chunker interface {
	Chunk(et *domain.ExtractedText, version int) ([]domain.Chunk, error)
}

// VersionSource allocates document versions. A version handed out once is
// never handed out again, even if its write failed.
type VersionSource interface {
	NextVersion(ctx context.Context, url string) (int, error)
}

type IndexWriter interface {
	EmbedAndUpsert(ctx context.Context, chunks []domain.Chunk) (index.Result, error)
}

// Pipeline implements crawler.Handler.
type Pipeline struct {
	state     StateStore
	extractor Extractor
	chunker   Chunker
	versions  VersionSource
	writer    IndexWriter
}

var _ crawler.Handler = (*Pipeline)(nil)

func NewPipeline(state StateStore, x Extractor, c Chunker, v VersionSource, w IndexWriter) *Pipeline {
	return &Pipeline{state: state, extractor: x, chunker: c, versions: v, writer: w}
}

func (p *Pipeline) load(ctx context.Context, url string) (*domain.CrawlState, error) {
	st, err := p.state.Get(ctx, url)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return st, err
}

// Validators returns the conditional-request tokens of the last successful
// ingest. Documents that failed are always fetched in full.
func (p *Pipeline) Validators(ctx context.Context, url string) (domain.Validators, error) {
	st, err := p.load(ctx, url)
	if err != nil || st == nil || st.Status != domain.StateIndexed {
		return domain.Validators{}, err
	}
	return st.Validators, nil
}

func (p *Pipeline) NotModified(ctx context.Context, url string) error {
	err := p.state.Touch(ctx, url, time.Now().UTC())
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

// Handle ingests doc as a new version unless its body hash matches the last
// indexed one. State is only advanced after the index write succeeded.
func (p *Pipeline) Handle(ctx context.Context, doc *domain.Document) (crawler.Outcome, error) {
	prev, err := p.load(ctx, doc.URL)
	if err != nil {
		slog.WarnContext(ctx, "crawl state unavailable, reindexing", "url", doc.URL, "error", err)
	}

	if prev != nil && prev.Status == domain.StateIndexed && prev.ContentHash == doc.ContentHash {
		next := *prev
		next.Validators = doc.Validators
		next.HTTPStatus = doc.Status
		next.CrawledAt = doc.CrawledAt
		if err := p.state.Save(ctx, &next); err != nil {
			slog.WarnContext(ctx, "failed to refresh crawl state", "url", doc.URL, "error", err)
		}
		return crawler.OutcomeUnchanged, nil
	}

	et, err := p.extractor.Extract(doc)
	if err != nil {
		p.saveFailure(ctx, prev, doc, domain.StateExtractionFailed, err)
		return crawler.OutcomeIndexed, err
	}

	version, err := p.versions.NextVersion(ctx, doc.URL)
	if err != nil {
		return crawler.OutcomeIndexed, &domain.IndexWriteError{URL: doc.URL, Stage: "lineage", Retryable: true, Err: err}
	}

	chunks, err := p.chunker.Chunk(et, version)
	if err != nil {
		p.saveFailure(ctx, prev, doc, domain.StateFailed, err)
		return crawler.OutcomeIndexed, err
	}
	if len(chunks) == 0 {
		err := &domain.ExtractionError{URL: doc.URL, Err: domain.ErrEmptyContent}
		p.saveFailure(ctx, prev, doc, domain.StateExtractionFailed, err)
		return crawler.OutcomeIndexed, err
	}

	res, err := p.writer.EmbedAndUpsert(ctx, chunks)
	if err != nil {
		p.saveFailure(ctx, prev, doc, domain.StateFailed, err)
		return crawler.OutcomeIndexed, err
	}

	st := &domain.CrawlState{
		URL:           doc.URL,
		ContentType:   doc.ContentType,
		ContentHash:   doc.ContentHash,
		Validators:    doc.Validators,
		HTTPStatus:    doc.Status,
		Title:         et.Title,
		Status:        domain.StateIndexed,
		LatestVersion: res.Version,
		CrawledAt:     doc.CrawledAt,
	}
	if err := p.state.Save(ctx, st); err != nil {
		// The index already holds the new version.
		return crawler.OutcomeIndexed, fmt.Errorf("save crawl state for %s: %w", doc.URL, err)
	}
	return crawler.OutcomeIndexed, nil
}

// saveFailure records the error without losing what the last good ingest
// left: its version and title stay, its validators are dropped so the next
// run fetches in full.
func (p *Pipeline) saveFailure(ctx context.Context, prev *domain.CrawlState, doc *domain.Document, status string, cause error) {
	st := &domain.CrawlState{
		URL:         doc.URL,
		ContentType: doc.ContentType,
		HTTPStatus:  doc.Status,
		Status:      status,
		CrawledAt:   doc.CrawledAt,
		LastError:   cause.Error(),
	}
	if prev != nil {
		st.Title = prev.Title
		st.LatestVersion = prev.LatestVersion
	}
	if err := p.state.Save(ctx, st); err != nil {
		slog.WarnContext(ctx, "failed to record crawl failure", "url", doc.URL, "error", err)
	}
}
