package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"pdfsearch/internal/apperr"
	"pdfsearch/internal/config"
	"pdfsearch/internal/ingest"
	"pdfsearch/internal/middleware"
	"pdfsearch/internal/retrieval"
	"pdfsearch/internal/worker"
)

const (
	MsgNoFileName   = "Please upload a file to chat or provide a file name."
	MsgFileNotFound = "Specified PDF file not found."
	MsgEmptyQuery   = "Query cannot be empty."
	MsgOnlyPDF      = "Only PDF files are allowed."
)

type Ingester interface {
	Ingest(ctx context.Context, up ingest.Upload) (*ingest.Result, error)
	// MarkPending records a queued upload without racing an ingestion of
	// the same name.
	MarkPending(ctx context.Context, fileName string, size int64) error
}

type Retriever interface {
	Answer(ctx context.Context, fileName, query string) (string, error)
	Search(ctx context.Context, query string) ([]retrieval.SearchResult, error)
}

type VectorIndex interface {
	DeleteByFileName(ctx context.Context, fileName string) error
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Config struct {
	TempDir string
	// Async hands uploads to the ingestion worker instead of indexing
	// them within the request.
	Async bool
}

type UploadResult struct {
	FileName   string `json:"file_name"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
	PageCount  int    `json:"page_count"`
	Queued     bool   `json:"queued"`
	Error      string `json:"indexing_error,omitempty"`
}

type Service struct {
	repo      Repository
	ingester  Ingester
	retriever Retriever
	index     VectorIndex
	pub       EventPublisher
	cfg       Config
}

func NewService(repo Repository, ing Ingester, ret Retriever, idx VectorIndex, pub EventPublisher, cfg Config) *Service {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Service{repo: repo, ingester: ing, retriever: ret, index: idx, pub: pub, cfg: cfg}
}

// Upload stores the body in a temporary file and runs it through the
// pipeline, or queues it when async ingestion is on. A file that was
// stored but failed to index is reported in the result, not as an error.
func (s *Service) Upload(ctx context.Context, fileName, contentType string, body io.Reader) (*UploadResult, error) {
	name := filepath.Base(strings.TrimSpace(fileName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, apperr.Validation("file name is required")
	}
	if contentType != ingest.ContentTypePDF {
		return nil, apperr.Validation(MsgOnlyPDF)
	}

	tmp, size, err := s.writeTemp(name, body)
	if err != nil {
		return nil, err
	}

	if s.cfg.Async && s.pub != nil {
		return s.enqueue(ctx, name, tmp, size)
	}

	// the pipeline moves or deletes the temp file; this only catches early rejections
	defer removeQuietly(tmp)

	res, err := s.ingester.Ingest(ctx, ingest.Upload{FileName: name, ContentType: contentType, Path: tmp})
	if err != nil {
		var stageErr *ingest.StageError
		if res != nil && res.Status == ingest.StatusIndexFailed && res.StoragePath != "" && errors.As(err, &stageErr) {
			return &UploadResult{
				FileName:  res.FileName,
				Status:    string(res.Status),
				PageCount: res.PageCount,
				Error:     stageErr.Err.Error(),
			}, nil
		}
		return nil, err
	}

	return &UploadResult{
		FileName:   res.FileName,
		Status:     string(res.Status),
		ChunkCount: res.ChunkCount,
		PageCount:  res.PageCount,
	}, nil
}

func (s *Service) enqueue(ctx context.Context, name, tmp string, size int64) (*UploadResult, error) {
	if err := s.ingester.MarkPending(ctx, name, size); err != nil {
		removeQuietly(tmp)
		return nil, err
	}

	task := worker.IngestTask{
		FileName:      name,
		ContentType:   ingest.ContentTypePDF,
		Path:          tmp,
		CorrelationID: middleware.GetCorrelationID(ctx),
	}
	body, err := json.Marshal(task)
	if err != nil {
		removeQuietly(tmp)
		return nil, err
	}
	if err := s.pub.Publish(config.TopicIngestFile, body); err != nil {
		removeQuietly(tmp)
		return nil, fmt.Errorf("failed to queue ingestion: %w", err)
	}

	slog.InfoContext(ctx, "upload queued", "file_name", name, "size", size)
	return &UploadResult{FileName: name, Status: string(ingest.StatusPending), Queued: true}, nil
}

func (s *Service) writeTemp(name string, body io.Reader) (string, int64, error) {
	if err := os.MkdirAll(s.cfg.TempDir, 0o750); err != nil {
		return "", 0, err
	}
	path := filepath.Join(s.cfg.TempDir, fmt.Sprintf("%s_%s", uuid.New().String(), name))
	dst, err := os.Create(path) // #nosec G304 -- path is UUID + sanitized basename
	if err != nil {
		return "", 0, err
	}
	size, err := io.Copy(dst, body)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		removeQuietly(path)
		return "", 0, err
	}
	return path, size, nil
}

func (s *Service) List(ctx context.Context) ([]Summary, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, fileName string) (*Document, error) {
	return s.repo.Get(ctx, fileName)
}

// Delete removes the file's vectors, its metadata and the stored copy.
func (s *Service) Delete(ctx context.Context, fileName string) error {
	doc, err := s.repo.Get(ctx, fileName)
	if err != nil {
		return err
	}
	if err := s.index.DeleteByFileName(ctx, fileName); err != nil {
		return apperr.External("delete vectors", err)
	}
	if err := s.repo.Delete(ctx, fileName); err != nil {
		return err
	}
	if doc.StoragePath != "" {
		removeQuietly(doc.StoragePath)
	}
	slog.InfoContext(ctx, "document deleted", "file_name", fileName)
	return nil
}

// Reindex runs the stored copy of a file through the pipeline again.
func (s *Service) Reindex(ctx context.Context, fileName string) (*UploadResult, error) {
	doc, err := s.repo.Get(ctx, fileName)
	if err != nil {
		return nil, err
	}
	if doc.StoragePath == "" {
		return nil, apperr.Validation("file has no stored copy to reindex")
	}
	res, err := s.ingester.Ingest(ctx, ingest.Upload{
		FileName:    doc.FileName,
		ContentType: ingest.ContentTypePDF,
		Path:        doc.StoragePath,
		KeepSource:  true,
	})
	if err != nil {
		return nil, err
	}
	return &UploadResult{FileName: res.FileName, Status: string(res.Status), ChunkCount: res.ChunkCount, PageCount: res.PageCount}, nil
}

// Chat answers a question about one uploaded file.
func (s *Service) Chat(ctx context.Context, fileName, query string) (string, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return "", apperr.Validation(MsgNoFileName)
	}
	if strings.TrimSpace(query) == "" {
		return "", apperr.Validation(MsgEmptyQuery)
	}
	if _, err := s.repo.Get(ctx, fileName); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return "", apperr.NotFound(MsgFileNotFound)
		}
		return "", err
	}
	return s.retriever.Answer(ctx, fileName, query)
}

func (s *Service) Search(ctx context.Context, query string) ([]retrieval.SearchResult, error) {
	return s.retriever.Search(ctx, query)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove file", "path", filepath.Clean(path), "error", err)
	}
}
