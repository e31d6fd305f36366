package settings_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfsearch/internal/settings"
)

func TestPostgresRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := settings.NewPostgresRepo(db)
	query := regexp.QuoteMeta("SELECT gemini_api_key, search_top_k FROM settings WHERE id = 1")

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(query).
			WillReturnRows(sqlmock.NewRows([]string{"gemini_api_key", "search_top_k"}).AddRow("key", 7))

		s, err := repo.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, s.ID)
		assert.Equal(t, "key", s.GeminiAPIKey)
		assert.Equal(t, 7, s.SearchTopK)
	})

	t.Run("MissingRowUsesDefaults", func(t *testing.T) {
		mock.ExpectQuery(query).WillReturnError(sql.ErrNoRows)

		s, err := repo.Get(context.Background())
		require.NoError(t, err)
		assert.Empty(t, s.GeminiAPIKey)
		assert.Zero(t, s.SearchTopK)
	})

	t.Run("Error", func(t *testing.T) {
		mock.ExpectQuery(query).WillReturnError(sqlmock.ErrCancelled)

		s, err := repo.Get(context.Background())
		assert.ErrorIs(t, err, sqlmock.ErrCancelled)
		assert.Nil(t, s)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := settings.NewPostgresRepo(db)
	s := &settings.Settings{GeminiAPIKey: "k2", SearchTopK: 10}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO settings (id, gemini_api_key, search_top_k, updated_at)")).
		WithArgs(s.GeminiAPIKey, s.SearchTopK).
		WillReturnResult(sqlmock.NewResult(1, 1))

	assert.NoError(t, repo.Update(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}
