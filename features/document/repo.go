package document

import (
	"context"
	"database/sql"
	"errors"

	"pdfsearch/internal/apperr"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Upsert(ctx context.Context, doc *Document) error {
	query := `
		INSERT INTO documents (file_name, file_type, file_size, page_count, storage_path, extracted_text, status, indexed, chunk_count, error_stage, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (file_name) DO UPDATE SET
			file_type = EXCLUDED.file_type,
			file_size = EXCLUDED.file_size,
			page_count = EXCLUDED.page_count,
			storage_path = EXCLUDED.storage_path,
			extracted_text = EXCLUDED.extracted_text,
			status = EXCLUDED.status,
			indexed = EXCLUDED.indexed,
			chunk_count = EXCLUDED.chunk_count,
			error_stage = EXCLUDED.error_stage,
			error = EXCLUDED.error,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`
	return r.db.QueryRowContext(ctx, query,
		doc.FileName, doc.FileType, doc.FileSize, doc.PageCount, doc.StoragePath, nullString(doc.ExtractedText),
		doc.Status, doc.Indexed, doc.ChunkCount, doc.ErrorStage, doc.Error,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, fileName string) (*Document, error) {
	d := &Document{}
	var text sql.NullString
	query := `SELECT file_name, file_type, file_size, page_count, storage_path, extracted_text, status, indexed, chunk_count, error_stage, error, created_at, updated_at FROM documents WHERE file_name = $1`
	err := r.db.QueryRowContext(ctx, query, fileName).Scan(
		&d.FileName, &d.FileType, &d.FileSize, &d.PageCount, &d.StoragePath, &text,
		&d.Status, &d.Indexed, &d.ChunkCount, &d.ErrorStage, &d.Error, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("document " + fileName)
	}
	if err != nil {
		return nil, err
	}
	if text.Valid {
		d.ExtractedText = &text.String
	}
	return d, nil
}

func (r *PostgresRepo) List(ctx context.Context) ([]Summary, error) {
	query := `SELECT file_name, file_size, indexed, status, chunk_count FROM documents ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.FileName, &s.FileSize, &s.Indexed, &s.Status, &s.ChunkCount); err != nil {
			return nil, err
		}
		docs = append(docs, s)
	}
	return docs, rows.Err()
}

func (r *PostgresRepo) Delete(ctx context.Context, fileName string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE file_name = $1`, fileName)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("document " + fileName)
	}
	return nil
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
