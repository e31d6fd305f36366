package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"pdfsearch/features/job"
	"pdfsearch/internal/apperr"
	"pdfsearch/internal/ingest"
	"pdfsearch/internal/middleware"
)

const handlerName = "ingest-worker"

type Ingester interface {
	Ingest(ctx context.Context, up ingest.Upload) (*ingest.Result, error)
}

type FailedJobSaver interface {
	Save(ctx context.Context, j *job.Job) error
}

// IngestConsumer runs queued uploads through the pipeline. Messages are
// never requeued: files that fail after being stored are recorded as
// failed jobs for a manual retry.
type IngestConsumer struct {
	ingester Ingester
	jobs     FailedJobSaver
}

func NewIngestConsumer(i Ingester, jobs FailedJobSaver) *IngestConsumer {
	return &IngestConsumer{ingester: i, jobs: jobs}
}

func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task IngestTask
	if err := json.Unmarshal(m.Body, &task); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	correlationID := task.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if task.FileName == "" || task.Path == "" {
		slog.ErrorContext(ctx, "missing required fields, dropping", "file_name", task.FileName, "path", task.Path)
		return nil
	}

	res, err := h.ingester.Ingest(ctx, task.Upload())
	if err == nil {
		slog.InfoContext(ctx, "queued file ingested", "file_name", res.FileName, "chunks", res.ChunkCount)
		return nil
	}

	slog.ErrorContext(ctx, "queued ingestion failed", "file_name", task.FileName, "error", err)
	if errors.Is(err, apperr.ErrValidation) || res == nil || res.StoragePath == "" {
		// rejected, malicious or unscanned files are not kept, so there is nothing to retry
		return nil
	}

	retry := IngestTask{
		FileName:      res.FileName,
		ContentType:   ingest.ContentTypePDF,
		Path:          res.StoragePath,
		KeepSource:    true,
		CorrelationID: correlationID,
	}
	payload, _ := json.Marshal(retry)
	failed := &job.Job{
		FileName: res.FileName,
		Handler:  handlerName,
		Payload:  payload,
		Error:    err.Error(),
	}
	if err := h.jobs.Save(ctx, failed); err != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "error", err)
		return nil
	}
	slog.InfoContext(ctx, "saved failed job for retry", "job_id", failed.ID)
	return nil
}
