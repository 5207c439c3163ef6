package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"citadex/internal/domain"
)

type Repository interface {
	Save(ctx context.Context, job *Job) error
	List(ctx context.Context) ([]Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	Delete(ctx context.Context, id string) error
	DeleteByURL(ctx context.Context, url string) (bool, error)
	Count(ctx context.Context) (int, error)
}

const jobColumns = `id, url, kind, payload, error, failures, created_at, updated_at`

// PostgresRepo keeps one row per failed URL in failed_jobs.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Save records a failure. When the URL already has a job, its kind, payload
// and error are replaced with the latest ones and Failures is incremented.
func (r *PostgresRepo) Save(ctx context.Context, j *Job) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO failed_jobs (url, kind, payload, error)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (url) DO UPDATE SET
			kind = EXCLUDED.kind,
			payload = EXCLUDED.payload,
			error = EXCLUDED.error,
			failures = failed_jobs.failures + 1,
			updated_at = NOW()
		RETURNING id, failures, created_at, updated_at`,
		j.URL, j.Kind, []byte(j.Payload), j.Error,
	).Scan(&j.ID, &j.Failures, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save failed job for %s: %w", j.URL, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var payload []byte
	if err := row.Scan(&j.ID, &j.URL, &j.Kind, &payload, &j.Error, &j.Failures, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return Job{}, err
	}
	j.Payload = payload
	return j, nil
}

// List returns jobs, most recently failed first.
func (r *PostgresRepo) List(ctx context.Context) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM failed_jobs ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM failed_jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM failed_jobs WHERE id = $1`, id)
	return err
}

// DeleteByURL removes the URL's job and reports whether there was one.
func (r *PostgresRepo) DeleteByURL(ctx context.Context, url string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM failed_jobs WHERE url = $1`, url)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_jobs`).Scan(&n)
	return n, err
}
