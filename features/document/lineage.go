package document

import (
	"context"
	"database/sql"
	"errors"

	"citadex/internal/domain"
)

// LineageRepo keeps the append-only record of every written chunk version and
// the per-URL latest pointer. It also holds the index-wide embedding model.
type LineageRepo struct {
	db *sql.DB
}

func NewLineageRepo(db *sql.DB) *LineageRepo {
	return &LineageRepo{db: db}
}

func (r *LineageRepo) LatestVersion(ctx context.Context, url string) (int, error) {
	var v int
	err := r.db.QueryRowContext(ctx, `SELECT version FROM latest_versions WHERE url = $1`, url).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// NextVersion returns one past the highest version ever recorded for url,
// including writes that never finished. Versions are never reused.
func (r *LineageRepo) NextVersion(ctx context.Context, url string) (int, error) {
	var v int
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM chunk_versions WHERE url = $1`, url).Scan(&v)
	if err != nil {
		return 0, err
	}
	return v + 1, nil
}

// Record reserves version for url with its entry refs. The version stays
// pending until Complete is called.
func (r *LineageRepo) Record(ctx context.Context, url string, version int, refs []domain.EntryRef) error {
	if len(refs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO chunk_versions (entry_id, url, version, chunk_key, char_start, char_end) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (entry_id) DO NOTHING`
	for _, ref := range refs {
		if _, err := tx.ExecContext(ctx, query, ref.ID, url, version, ref.ChunkKey, ref.CharStart, ref.CharEnd); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Complete marks every entry of a version as written to the vector store.
func (r *LineageRepo) Complete(ctx context.Context, url string, version int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chunk_versions SET complete = TRUE WHERE url = $1 AND version = $2`, url, version)
	return err
}

// PriorLatest lists entries older than version that may still be marked
// latest in the vector store: the promoted version and any later version
// whose flip was interrupted. Entries below the pointer were cleared when it
// moved.
func (r *LineageRepo) PriorLatest(ctx context.Context, url string, version int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT entry_id FROM chunk_versions
		WHERE url = $1 AND version < $2
		AND version >= COALESCE((SELECT version FROM latest_versions WHERE url = $1), 0)`, url, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Promote moves the latest pointer of url to version. An older version never
// replaces a newer one.
func (r *LineageRepo) Promote(ctx context.Context, url string, version int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO latest_versions (url, version) VALUES ($1, $2)
		ON CONFLICT (url) DO UPDATE SET version = EXCLUDED.version, promoted_at = NOW()
		WHERE latest_versions.version <= EXCLUDED.version`, url, version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `UPDATE chunk_versions SET is_latest = (version = $2) WHERE url = $1`, url, version); err != nil {
		return err
	}
	return tx.Commit()
}

// EntryIDs lists the entry ids of one document version.
func (r *LineageRepo) EntryIDs(ctx context.Context, url string, version int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT entry_id FROM chunk_versions WHERE url = $1 AND version = $2 ORDER BY char_start`, url, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Unpromoted returns documents whose newest complete version is ahead of
// their latest pointer, which happens when a write stopped before its flip.
// Pending versions are never listed.
func (r *LineageRepo) Unpromoted(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.url, MAX(c.version)
		FROM chunk_versions c
		LEFT JOIN latest_versions l ON l.url = c.url
		WHERE c.complete
		GROUP BY c.url, l.version
		HAVING l.version IS NULL OR MAX(c.version) > l.version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var url string
		var v int
		if err := rows.Scan(&url, &v); err != nil {
			return nil, err
		}
		out[url] = v
	}
	return out, rows.Err()
}

func (r *LineageRepo) IndexedModel(ctx context.Context) (string, error) {
	var model string
	err := r.db.QueryRowContext(ctx, `SELECT embedding_model FROM index_meta WHERE id = 1`).Scan(&model)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return model, err
}

// RecordModel stores model only when none is recorded yet.
func (r *LineageRepo) RecordModel(ctx context.Context, model string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO index_meta (id, embedding_model) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`, model)
	return err
}
