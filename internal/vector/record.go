// Package vector defines the records kept in the vector index and the
// contract every index backend implements.
//
// Records are keyed by the chunk id "{file_name}_{ordinal}" (see
// text.ChunkID). The same id is what the metadata store counts in
// chunk_count, so re-indexing a file overwrites its records in place.
package vector

import (
	"context"
	"errors"
	"fmt"
)

// SourceUpload tags records created from files uploaded through the app.
const SourceUpload = "app_upload"

// Metadata keys usable in a Filter.
const (
	KeyFileName = "file_name"
	KeySource   = "source"
)

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrUnsupportedFilter = errors.New("unsupported filter key")
)

type Record struct {
	ID         string
	Vector     []float32
	FileName   string
	Source     string
	Text       string
	ChunkIndex int
}

type Match struct {
	ID         string
	FileName   string
	Source     string
	Text       string
	ChunkIndex int
	Score      float32
}

// Filter restricts a query to records whose metadata equals every entry.
type Filter map[string]string

// Validate rejects keys the backends cannot filter on.
func (f Filter) Validate() error {
	for k := range f {
		if k != KeyFileName && k != KeySource {
			return fmt.Errorf("%w: %q", ErrUnsupportedFilter, k)
		}
	}
	return nil
}

// Matches reports whether r satisfies every entry of f.
func (f Filter) Matches(r Record) bool {
	for k, v := range f {
		switch k {
		case KeyFileName:
			if r.FileName != v {
				return false
			}
		case KeySource:
			if r.Source != v {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Index is a vector store supporting upsert by id, filtered similarity
// query and deletion by file. Query returns at most topK matches ordered
// by descending score.
type Index interface {
	Upsert(ctx context.Context, records []Record) error
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)
	DeleteByFileName(ctx context.Context, fileName string) error
	// DeleteStale removes the file's records whose ordinal is >= keep.
	DeleteStale(ctx context.Context, fileName string, keep int) error
	CountRecords(ctx context.Context) (int, error)
	EnsureSchema(ctx context.Context) error
}

// CheckDimensions verifies every record has the expected vector length.
// A non-positive want adopts the length of the first record.
func CheckDimensions(records []Record, want int) (int, error) {
	for _, r := range records {
		if want <= 0 {
			want = len(r.Vector)
		}
		if len(r.Vector) != want {
			return want, fmt.Errorf("%w: record %s has %d, want %d", ErrDimensionMismatch, r.ID, len(r.Vector), want)
		}
	}
	return want, nil
}
