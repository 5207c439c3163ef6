package document

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"citadex/internal/domain"
)

// StateRepository remembers per-URL crawl results between runs.
type StateRepository interface {
	Get(ctx context.Context, url string) (*domain.CrawlState, error)
	Save(ctx context.Context, st *domain.CrawlState) error
	Touch(ctx context.Context, url string, at time.Time) error
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context, url string) (*domain.CrawlState, error) {
	st := &domain.CrawlState{}
	var ct string
	query := `SELECT url, content_type, content_hash, etag, last_modified, http_status, title, status, latest_version, crawled_at, last_error FROM crawl_state WHERE url = $1`
	err := r.db.QueryRowContext(ctx, query, url).Scan(
		&st.URL, &ct, &st.ContentHash, &st.Validators.ETag, &st.Validators.LastModified,
		&st.HTTPStatus, &st.Title, &st.Status, &st.LatestVersion, &st.CrawledAt, &st.LastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	st.ContentType = domain.ContentType(ct)
	return st, nil
}

func (r *PostgresRepo) Save(ctx context.Context, st *domain.CrawlState) error {
	query := `
		INSERT INTO crawl_state (url, content_type, content_hash, etag, last_modified, http_status, title, status, latest_version, crawled_at, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (url) DO UPDATE SET
			content_type = EXCLUDED.content_type,
			content_hash = EXCLUDED.content_hash,
			etag = EXCLUDED.etag,
			last_modified = EXCLUDED.last_modified,
			http_status = EXCLUDED.http_status,
			title = EXCLUDED.title,
			status = EXCLUDED.status,
			latest_version = EXCLUDED.latest_version,
			crawled_at = EXCLUDED.crawled_at,
			last_error = EXCLUDED.last_error,
			updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query,
		st.URL, string(st.ContentType), st.ContentHash, st.Validators.ETag, st.Validators.LastModified,
		st.HTTPStatus, st.Title, st.Status, st.LatestVersion, st.CrawledAt, st.LastError,
	)
	return err
}

// Touch records a revisit that found the document unchanged.
func (r *PostgresRepo) Touch(ctx context.Context, url string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE crawl_state SET crawled_at = $1, updated_at = NOW() WHERE url = $2`, at, url)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM crawl_state GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
