// Package pgvector stores chunk versions in Postgres with the vector
// extension, for deployments that run without Weaviate.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"citadex/internal/domain"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// HNSW indexes in pgvector are limited to this many dimensions.
const maxIndexedDim = 2000

// EnsureSchema creates the entry table for vectors of dim dimensions. The
// dimension is fixed by the first embedding model the index is built with.
// Wider vectors get no ANN index and are searched exactly.
func (s *Store) EnsureSchema(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("pgvector: invalid dimension %d", dim)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS index_entries (
			id UUID PRIMARY KEY,
			chunk_key UUID NOT NULL,
			version INT NOT NULL,
			url TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			section TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			char_start INT NOT NULL,
			char_end INT NOT NULL,
			page INT NOT NULL DEFAULT 0,
			seq INT NOT NULL,
			content_type TEXT NOT NULL,
			crawled_at TIMESTAMPTZ NOT NULL,
			is_latest BOOLEAN NOT NULL,
			embedding_model TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, dim),
		`CREATE INDEX IF NOT EXISTS index_entries_latest_idx ON index_entries (url) WHERE is_latest`,
	}
	if dim <= maxIndexedDim {
		stmts = append(stmts, `CREATE INDEX IF NOT EXISTS index_entries_embedding_idx ON index_entries USING hnsw (embedding vector_cosine_ops)`)
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

const insertEntry = `INSERT INTO index_entries (id, chunk_key, version, url, title, section, content, char_start, char_end, page, seq, content_type, crawled_at, is_latest, embedding_model, embedding) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16) ON CONFLICT (id) DO NOTHING`

// Upsert inserts entries in one transaction. Existing IDs are left untouched.
func (s *Store) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range entries {
		_, err := tx.ExecContext(ctx, insertEntry,
			e.ID, e.ChunkKey, e.Version, e.URL, e.Title, e.Section, e.Text,
			e.CharStart, e.CharEnd, e.Page, e.Seq, string(e.ContentType), e.CrawledAt,
			e.IsLatest, e.EmbeddingModel, pgvector.NewVector(e.Vector),
		)
		if err != nil {
			return fmt.Errorf("insert %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) UpdateMetadata(ctx context.Context, ids []string, patch domain.MetadataPatch) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE index_entries SET is_latest = $1 WHERE id = ANY($2)`, patch.IsLatest, pq.Array(ids))
	return err
}

const searchEntries = `SELECT id, chunk_key, version, url, title, section, content, char_start, char_end, page, seq, content_type, crawled_at, is_latest, embedding_model, 1 - (embedding <=> $1) AS score
FROM index_entries
WHERE ($2 = FALSE OR is_latest) AND ($3 = '' OR content_type = $3)
ORDER BY embedding <=> $1
LIMIT $4`

func (s *Store) Search(ctx context.Context, vec []float32, k int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	rows, err := s.db.QueryContext(ctx, searchEntries, pgvector.NewVector(vec), filter.LatestOnly, string(filter.ContentType), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RetrievalCandidate
	for rows.Next() {
		var c domain.RetrievalCandidate
		var ct string
		e := &c.Entry
		if err := rows.Scan(&e.ID, &e.ChunkKey, &e.Version, &e.URL, &e.Title, &e.Section, &e.Text,
			&e.CharStart, &e.CharEnd, &e.Page, &e.Seq, &ct, &e.CrawledAt, &e.IsLatest, &e.EmbeddingModel, &c.Score); err != nil {
			return nil, err
		}
		e.ContentType = domain.ContentType(ct)
		out = append(out, c)
	}
	return out, rows.Err()
}

const scrollEntries = `SELECT id, chunk_key, version, url, title, section, content, char_start, char_end, page, seq, content_type, crawled_at, is_latest, embedding_model
FROM index_entries
WHERE is_latest AND id::text > $1
ORDER BY id
LIMIT $2`

// Scroll pages through the latest entries in id order, starting after the
// given id. Vectors are not read.
func (s *Store) Scroll(ctx context.Context, after string, limit int) ([]domain.IndexEntry, error) {
	rows, err := s.db.QueryContext(ctx, scrollEntries, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.IndexEntry
	for rows.Next() {
		var e domain.IndexEntry
		var ct string
		if err := rows.Scan(&e.ID, &e.ChunkKey, &e.Version, &e.URL, &e.Title, &e.Section, &e.Text,
			&e.CharStart, &e.CharEnd, &e.Page, &e.Seq, &ct, &e.CrawledAt, &e.IsLatest, &e.EmbeddingModel); err != nil {
			return nil, err
		}
		e.ContentType = domain.ContentType(ct)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CountLatest(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM index_entries WHERE is_latest`).Scan(&n)
	return n, err
}
