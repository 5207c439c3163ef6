package job_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citadex/features/job"
	"citadex/internal/domain"
)

var jobCols = []string{"id", "url", "kind", "payload", "error", "failures", "created_at", "updated_at"}

func TestPostgresRepo_SaveUpsertsByURL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Now().Add(-time.Hour)
	updated := time.Now()
	j := &job.Job{URL: "u", Kind: "fetch", Payload: json.RawMessage(`{"url":"u"}`), Error: "boom"}
	mock.ExpectQuery(`INSERT INTO failed_jobs .* ON CONFLICT \(url\) DO UPDATE SET .*failures = failed_jobs.failures \+ 1`).
		WithArgs("u", "fetch", []byte(`{"url":"u"}`), "boom").
		WillReturnRows(sqlmock.NewRows([]string{"id", "failures", "created_at", "updated_at"}).AddRow("job-1", 2, created, updated))

	require.NoError(t, job.NewPostgresRepo(db).Save(context.Background(), j))
	assert.Equal(t, "job-1", j.ID)
	assert.Equal(t, 2, j.Failures)
	assert.Equal(t, created, j.CreatedAt)
	assert.Equal(t, updated, j.UpdatedAt)
}

func TestPostgresRepo_SaveWrapsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("connection reset")
	mock.ExpectQuery(`INSERT INTO failed_jobs`).WillReturnError(boom)

	err = job.NewPostgresRepo(db).Save(context.Background(), &job.Job{URL: "https://www.irs.gov/x"})
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "https://www.irs.gov/x")
}

func TestPostgresRepo_ListNewestFailureFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM failed_jobs ORDER BY updated_at DESC")).
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow("2", "b", "embedding", []byte(`{}`), "quota", 1, now, now).
			AddRow("1", "a", "fetch", []byte(`{}`), "503", 3, now.Add(-2*time.Hour), now.Add(-time.Hour)))

	jobs, err := job.NewPostgresRepo(db).List(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "embedding", jobs[0].Kind)
	assert.Equal(t, 3, jobs[1].Failures)
}

func TestPostgresRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	q := regexp.QuoteMeta("FROM failed_jobs WHERE id = $1")
	mock.ExpectQuery(q).WithArgs("1").
		WillReturnRows(sqlmock.NewRows(jobCols).AddRow("1", "a", "fetch", []byte(`{"url":"a"}`), "503", 1, time.Now(), time.Now()))
	mock.ExpectQuery(q).WithArgs("2").WillReturnError(sql.ErrNoRows)

	repo := job.NewPostgresRepo(db)
	j, err := repo.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"a"}`, string(j.Payload))

	_, err = repo.Get(context.Background(), "2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresRepo_DeleteByURL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	q := regexp.QuoteMeta("DELETE FROM failed_jobs WHERE url = $1")
	mock.ExpectExec(q).WithArgs("https://www.irs.gov/a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("https://www.irs.gov/b").WillReturnResult(sqlmock.NewResult(0, 0))

	repo := job.NewPostgresRepo(db)
	removed, err := repo.DeleteByURL(context.Background(), "https://www.irs.gov/a")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.DeleteByURL(context.Background(), "https://www.irs.gov/b")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestPostgresRepo_DeleteAndCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM failed_jobs WHERE id = $1")).WithArgs("1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM failed_jobs")).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	repo := job.NewPostgresRepo(db)
	require.NoError(t, repo.Delete(context.Background(), "1"))
	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
