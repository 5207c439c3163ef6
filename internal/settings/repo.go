package settings

import (
	"context"
	"database/sql"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context) (*Settings, error) {
	var topK, topN sql.NullInt64
	var cutoff, high sql.NullFloat64
	query := `SELECT search_top_k, search_top_n, similarity_cutoff, high_confidence FROM settings WHERE id = 1`
	if err := r.db.QueryRowContext(ctx, query).Scan(&topK, &topN, &cutoff, &high); err != nil {
		return nil, err
	}

	s := &Settings{}
	if topK.Valid {
		v := int(topK.Int64)
		s.SearchTopK = &v
	}
	if topN.Valid {
		v := int(topN.Int64)
		s.SearchTopN = &v
	}
	if cutoff.Valid {
		s.SimilarityCutoff = &cutoff.Float64
	}
	if high.Valid {
		s.HighConfidence = &high.Float64
	}
	return s, nil
}

// Update replaces every override; nil fields are cleared.
func (r *PostgresRepo) Update(ctx context.Context, s *Settings) error {
	query := `
		UPDATE settings
		SET search_top_k = $1, search_top_n = $2, similarity_cutoff = $3, high_confidence = $4, updated_at = NOW()
		WHERE id = 1
	`
	_, err := r.db.ExecContext(ctx, query, nullInt(s.SearchTopK), nullInt(s.SearchTopN), nullFloat(s.SimilarityCutoff), nullFloat(s.HighConfidence))
	return err
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
