// Package snapshot exports the latest index entries as JSON lines, one
// object per entry and without vectors.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"citadex/internal/domain"
)

const defaultPageSize = 100

type Scroller interface {
	Scroll(ctx context.Context, after string, limit int) ([]domain.IndexEntry, error)
}

// Record is one exported line.
type Record struct {
	ID             string             `json:"id"`
	ChunkKey       string             `json:"chunk_key"`
	Version        int                `json:"version"`
	URL            string             `json:"url"`
	Title          string             `json:"title"`
	Section        string             `json:"section,omitempty"`
	Text           string             `json:"text"`
	CharStart      int                `json:"char_start"`
	CharEnd        int                `json:"char_end"`
	Page           int                `json:"page,omitempty"`
	Seq            int                `json:"seq"`
	ContentType    domain.ContentType `json:"content_type"`
	CrawledAt      time.Time          `json:"crawled_at"`
	EmbeddingModel string             `json:"embedding_model"`
}

func record(e domain.IndexEntry) Record {
	return Record{
		ID:             e.ID,
		ChunkKey:       e.ChunkKey,
		Version:        e.Version,
		URL:            e.URL,
		Title:          e.Title,
		Section:        e.Section,
		Text:           e.Text,
		CharStart:      e.CharStart,
		CharEnd:        e.CharEnd,
		Page:           e.Page,
		Seq:            e.Seq,
		ContentType:    e.ContentType,
		CrawledAt:      e.CrawledAt,
		EmbeddingModel: e.EmbeddingModel,
	}
}

type Exporter struct {
	store    Scroller
	pageSize int
}

func NewExporter(s Scroller, pageSize int) *Exporter {
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	return &Exporter{store: s, pageSize: pageSize}
}

// Write pages through the store and writes every latest entry to w. It
// returns the number of lines written.
func (e *Exporter) Write(ctx context.Context, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	n, after := 0, ""
	for {
		page, err := e.store.Scroll(ctx, after, e.pageSize)
		if err != nil {
			return n, fmt.Errorf("scroll after %q: %w", after, err)
		}
		for _, entry := range page {
			if err := enc.Encode(record(entry)); err != nil {
				return n, fmt.Errorf("write entry %s: %w", entry.ID, err)
			}
			n++
		}
		if len(page) < e.pageSize {
			break
		}
		after = page[len(page)-1].ID
	}
	slog.InfoContext(ctx, "snapshot exported", "entries", n)
	return n, nil
}
