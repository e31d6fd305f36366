package document

import (
	"context"
	"time"

	"pdfsearch/internal/ingest"
)

// Document is the metadata kept for one uploaded file. FileName is its
// identity.
type Document struct {
	FileName      string    `json:"file_name" bson:"file_name"`
	FileType      string    `json:"file_type" bson:"file_type"`
	FileSize      int64     `json:"file_size" bson:"file_size"`
	PageCount     int       `json:"page_count" bson:"page_count"`
	StoragePath   string    `json:"-" bson:"storage_path"`
	ExtractedText *string   `json:"extracted_text,omitempty" bson:"extracted_text"`
	Status        string    `json:"status" bson:"status"`
	Indexed       bool      `json:"indexed" bson:"indexed"`
	ChunkCount    int       `json:"chunk_count" bson:"chunk_count"`
	ErrorStage    string    `json:"error_stage,omitempty" bson:"error_stage"`
	Error         string    `json:"indexing_error,omitempty" bson:"error"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" bson:"updated_at"`
}

// Summary is the list projection of a Document.
type Summary struct {
	FileName   string `json:"file_name" bson:"file_name"`
	FileSize   int64  `json:"file_size" bson:"file_size"`
	Indexed    bool   `json:"indexed" bson:"indexed"`
	Status     string `json:"status" bson:"status"`
	ChunkCount int    `json:"chunk_count" bson:"chunk_count"`
}

type Repository interface {
	// Upsert inserts or overwrites the document with doc.FileName.
	Upsert(ctx context.Context, doc *Document) error
	Get(ctx context.Context, fileName string) (*Document, error)
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, fileName string) error
	Count(ctx context.Context) (int, error)
}

// FromState maps a pipeline snapshot onto a Document.
func FromState(s *ingest.State) *Document {
	return &Document{
		FileName:      s.FileName,
		FileType:      s.ContentType,
		FileSize:      s.FileSize,
		PageCount:     s.PageCount,
		StoragePath:   s.StoragePath,
		ExtractedText: s.ExtractedText,
		Status:        string(s.Status),
		Indexed:       s.Status == ingest.StatusIndexed,
		ChunkCount:    s.ChunkCount,
		ErrorStage:    string(s.ErrorStage),
		Error:         s.Error,
	}
}

// StateWriter persists pipeline snapshots through a Repository.
type StateWriter struct {
	repo Repository
}

func NewStateWriter(repo Repository) *StateWriter {
	return &StateWriter{repo: repo}
}

func (w *StateWriter) SaveState(ctx context.Context, s *ingest.State) error {
	return w.repo.Upsert(ctx, FromState(s))
}
