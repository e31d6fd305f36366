// Package pgvector stores chunk embeddings in Postgres with the pgvector
// extension.
package pgvector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"pdfsearch/internal/vector"
)

const DefaultTable = "pdf_chunks"

// columns maps filter keys onto table columns.
var columns = map[string]string{
	vector.KeyFileName: "file_name",
	vector.KeySource:   "source",
}

type Store struct {
	pool      *pgxpool.Pool
	table     string
	dimension int
}

func NewStore(ctx context.Context, dsn string, dimension int) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, table: DefaultTable, dimension: dimension}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		source TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		embedding vector(%[2]d) NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_%[1]s_file_name ON %[1]s(file_name);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_embedding ON %[1]s USING hnsw (embedding vector_cosine_ops);
	`, s.table, s.dimension)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}
	if _, err := vector.CheckDimensions(records, s.dimension); err != nil {
		return err
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (id, file_name, source, chunk_index, text, embedding)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		file_name = EXCLUDED.file_name,
		source = EXCLUDED.source,
		chunk_index = EXCLUDED.chunk_index,
		text = EXCLUDED.text,
		embedding = EXCLUDED.embedding`, s.table)

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range records {
			batch.Queue(query, r.ID, r.FileName, r.Source, r.ChunkIndex, r.Text, pgvector.NewVector(r.Vector))
		}
		br := tx.SendBatch(ctx, batch)
		for _, r := range records {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("failed to upsert %s: %w", r.ID, err)
			}
		}
		return br.Close()
	})
}

func (s *Store) Query(ctx context.Context, vec []float32, topK int, filter vector.Filter) ([]vector.Match, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if s.dimension > 0 && len(vec) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, want %d", vector.ErrDimensionMismatch, len(vec), s.dimension)
	}
	if topK <= 0 {
		return []vector.Match{}, nil
	}

	where, args := whereClause(filter, 3)
	query := fmt.Sprintf(`
	SELECT id, file_name, source, chunk_index, text, 1 - (embedding <=> $1) AS score
	FROM %s
	ORDER BY embedding <=> $1
	LIMIT $2`, s.table)
	if where != "" {
		// An HNSW scan yields only ef_search candidates before the WHERE
		// clause applies, so a filtered query ranks its rows exactly.
		query = fmt.Sprintf(`
	WITH candidates AS MATERIALIZED (
		SELECT id, file_name, source, chunk_index, text, embedding <=> $1 AS distance
		FROM %s
		%s
	)
	SELECT id, file_name, source, chunk_index, text, 1 - distance AS score
	FROM candidates
	ORDER BY distance
	LIMIT $2`, s.table, where)
	}

	rows, err := s.pool.Query(ctx, query, append([]interface{}{pgvector.NewVector(vec), topK}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := []vector.Match{}
	for rows.Next() {
		var m vector.Match
		var score float64
		if err := rows.Scan(&m.ID, &m.FileName, &m.Source, &m.ChunkIndex, &m.Text, &score); err != nil {
			return nil, err
		}
		m.Score = float32(score)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *Store) DeleteByFileName(ctx context.Context, fileName string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE file_name = $1`, s.table), fileName)
	return err
}

func (s *Store) DeleteStale(ctx context.Context, fileName string, keep int) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE file_name = $1 AND chunk_index >= $2`, s.table), fileName, keep)
	return err
}

func (s *Store) CountRecords(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&count)
	return count, err
}

// whereClause renders filter as a WHERE clause whose placeholders start at
// $first. Keys are emitted in sorted order so the SQL is stable.
func whereClause(filter vector.Filter, first int) (string, []interface{}) {
	if len(filter) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys))
	for i, k := range keys {
		conds = append(conds, fmt.Sprintf("%s = $%d", columns[k], first+i))
		args = append(args, filter[k])
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}
