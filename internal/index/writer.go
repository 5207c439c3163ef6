package index

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"citadex/internal/domain"
)

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
}

type VectorStore interface {
	Upsert(ctx context.Context, entries []domain.IndexEntry) error
	UpdateMetadata(ctx context.Context, ids []string, patch domain.MetadataPatch) error
}

// Lineage is the append-only arena of written entries plus the per-document
// latest pointer. A recorded version is pending until Complete.
type Lineage interface {
	Record(ctx context.Context, url string, version int, refs []domain.EntryRef) error
	Complete(ctx context.Context, url string, version int) error
	EntryIDs(ctx context.Context, url string, version int) ([]string, error)
	PriorLatest(ctx context.Context, url string, version int) ([]string, error)
	Promote(ctx context.Context, url string, version int) error
}

type ModelRegistry interface {
	IndexedModel(ctx context.Context) (string, error)
	RecordModel(ctx context.Context, model string) error
}

type Result struct {
	URL        string
	Version    int
	Written    int
	Superseded int
}

// EntryID derives the store key of a chunk version.
func EntryID(chunkKey string, version int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkKey+"@"+strconv.Itoa(version))).String()
}

// EmbeddingText is what gets embedded for a chunk: a short header giving the
// model document context, then the chunk text itself.
func EmbeddingText(c domain.Chunk) string {
	s := fmt.Sprintf("Title: %s\nURL: %s\nType: %s", c.Title, c.URL, c.ContentType)
	if c.Section != "" {
		s += fmt.Sprintf("\nSection: %s", c.Section)
	}
	if c.Page > 0 {
		s += fmt.Sprintf("\nPage: %d", c.Page)
	}
	return s + "\n---\n" + c.Text
}

type Writer struct {
	embedder  Embedder
	store     VectorStore
	lineage   Lineage
	models    ModelRegistry
	batchSize int

	locks sync.Map // url -> *sync.Mutex
}

func NewWriter(e Embedder, s VectorStore, l Lineage, m ModelRegistry, batchSize int) *Writer {
	if batchSize < 1 {
		batchSize = 16
	}
	return &Writer{embedder: e, store: s, lineage: l, models: m, batchSize: batchSize}
}

func (w *Writer) lock(url string) func() {
	v, _ := w.locks.LoadOrStore(url, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// EmbedAndUpsert writes one document's chunk set as a new version and then
// supersedes the previous one. All chunks must belong to the same document
// and version. Nothing is written unless every chunk embeds successfully, so a
// failed document stays at its previous version.
//
// Entries are staged as non-latest and the version is marked complete only
// after every batch landed; a partial write is never promoted.
func (w *Writer) EmbedAndUpsert(ctx context.Context, chunks []domain.Chunk) (Result, error) {
	if len(chunks) == 0 {
		return Result{}, nil
	}
	url, version := chunks[0].URL, chunks[0].Version
	for _, c := range chunks[1:] {
		if c.URL != url || c.Version != version {
			return Result{}, fmt.Errorf("index: mixed documents or versions in one write (%s v%d, %s v%d)", url, version, c.URL, c.Version)
		}
	}

	unlock := w.lock(url)
	defer unlock()

	model := w.embedder.ModelID()
	if err := w.checkModel(ctx, model); err != nil {
		return Result{}, err
	}

	vectors, err := w.embed(ctx, chunks)
	if err != nil {
		return Result{}, &domain.EmbeddingError{URL: url, Err: err}
	}

	entries := make([]domain.IndexEntry, len(chunks))
	refs := make([]domain.EntryRef, len(chunks))
	for i, c := range chunks {
		id := EntryID(c.Key, c.Version)
		entries[i] = domain.IndexEntry{
			ID:             id,
			ChunkKey:       c.Key,
			Version:        c.Version,
			URL:            c.URL,
			Title:          c.Title,
			Section:        c.Section,
			Text:           c.Text,
			CharStart:      c.CharStart,
			CharEnd:        c.CharEnd,
			Page:           c.Page,
			Seq:            c.Seq,
			ContentType:    c.ContentType,
			CrawledAt:      c.CrawledAt,
			IsLatest:       false,
			EmbeddingModel: model,
			Vector:         vectors[i],
		}
		refs[i] = domain.EntryRef{ID: id, ChunkKey: c.Key, CharStart: c.CharStart, CharEnd: c.CharEnd}
	}

	if err := w.lineage.Record(ctx, url, version, refs); err != nil {
		return Result{}, &domain.IndexWriteError{URL: url, Stage: "lineage", Retryable: true, Err: err}
	}

	for start := 0; start < len(entries); start += w.batchSize {
		end := min(start+w.batchSize, len(entries))
		if err := w.store.Upsert(ctx, entries[start:end]); err != nil {
			return Result{}, &domain.IndexWriteError{URL: url, Stage: "upsert", Retryable: true, Err: err}
		}
	}

	if err := w.lineage.Complete(ctx, url, version); err != nil {
		return Result{}, &domain.IndexWriteError{URL: url, Stage: "lineage", Retryable: true, Err: err}
	}

	superseded, err := w.supersede(ctx, url, version)
	if err != nil {
		return Result{URL: url, Version: version, Written: len(entries)}, err
	}

	slog.InfoContext(ctx, "document indexed", "url", url, "version", version, "chunks", len(entries), "superseded", superseded)
	return Result{URL: url, Version: version, Written: len(entries), Superseded: superseded}, nil
}

// Supersede completes an interrupted write of a complete version: it marks
// the version's entries latest, flips every older latest entry of url to
// non-latest and promotes version. It is safe to repeat.
func (w *Writer) Supersede(ctx context.Context, url string, version int) (int, error) {
	unlock := w.lock(url)
	defer unlock()
	return w.supersede(ctx, url, version)
}

func (w *Writer) supersede(ctx context.Context, url string, version int) (int, error) {
	current, err := w.lineage.EntryIDs(ctx, url, version)
	if err != nil {
		return 0, &domain.IndexWriteError{URL: url, Stage: "flip", Retryable: true, Err: err}
	}
	if len(current) > 0 {
		if err := w.store.UpdateMetadata(ctx, current, domain.MetadataPatch{IsLatest: true}); err != nil {
			return 0, &domain.IndexWriteError{URL: url, Stage: "flip", Retryable: true, Err: err}
		}
	}

	// both versions are briefly latest here; retrieval keeps the newest
	prior, err := w.lineage.PriorLatest(ctx, url, version)
	if err != nil {
		return 0, &domain.IndexWriteError{URL: url, Stage: "flip", Retryable: true, Err: err}
	}
	if len(prior) > 0 {
		if err := w.store.UpdateMetadata(ctx, prior, domain.MetadataPatch{IsLatest: false}); err != nil {
			return 0, &domain.IndexWriteError{URL: url, Stage: "flip", Retryable: true, Err: err}
		}
	}
	if err := w.lineage.Promote(ctx, url, version); err != nil {
		return 0, &domain.IndexWriteError{URL: url, Stage: "promote", Retryable: true, Err: err}
	}
	return len(prior), nil
}

func (w *Writer) checkModel(ctx context.Context, model string) error {
	indexed, err := w.models.IndexedModel(ctx)
	if err != nil {
		return &domain.IndexWriteError{Stage: "model", Retryable: true, Err: err}
	}
	if indexed == "" {
		if err := w.models.RecordModel(ctx, model); err != nil {
			return &domain.IndexWriteError{Stage: "model", Retryable: true, Err: err}
		}
		return nil
	}
	if indexed != model {
		return &domain.ModelMismatchError{Indexed: indexed, Requested: model}
	}
	return nil
}

func (w *Writer) embed(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += w.batchSize {
		end := min(start+w.batchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, EmbeddingText(c))
		}

		batch, err := w.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("batch %d-%d: got %d vectors for %d texts", start, end, len(batch), len(texts))
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}
