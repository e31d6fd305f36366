package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresRepo keeps the settings in a single row with id 1.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context) (*Settings, error) {
	const q = `SELECT gemini_api_key, search_top_k FROM settings WHERE id = 1`

	s := &Settings{ID: 1}
	err := r.db.QueryRowContext(ctx, q).Scan(&s.GeminiAPIKey, &s.SearchTopK)
	if errors.Is(err, sql.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return s, nil
}

// Update writes the row, creating it if the seed migration never ran.
func (r *PostgresRepo) Update(ctx context.Context, s *Settings) error {
	const q = `INSERT INTO settings (id, gemini_api_key, search_top_k, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET gemini_api_key = EXCLUDED.gemini_api_key,
			search_top_k = EXCLUDED.search_top_k,
			updated_at = NOW()`

	if _, err := r.db.ExecContext(ctx, q, s.GeminiAPIKey, s.SearchTopK); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
