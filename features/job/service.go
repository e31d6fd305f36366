package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"pdfsearch/internal/apperr"
	"pdfsearch/internal/config"
)

var ErrPublishTimeout = errors.New("timeout waiting for NSQ publish")

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo           Repository
	pub            EventPublisher
	logger         *slog.Logger
	publishTimeout time.Duration
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger, publishTimeout: 5 * time.Second}
}

func (s *Service) List(ctx context.Context, fileName string) ([]Job, error) {
	return s.repo.List(ctx, fileName)
}

// Retry publishes the stored ingestion task again and drops the job once
// the broker accepted it.
func (s *Service) Retry(ctx context.Context, id string) error {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.pub == nil {
		return apperr.Validation("Async ingestion is not configured.")
	}

	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(config.TopicIngestFile, job.Payload)
	}()

	select {
	case err := <-done:
		if err != nil {
			return apperr.External("publish retry", err)
		}
	case <-time.After(s.publishTimeout):
		return apperr.External("publish retry", ErrPublishTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "failed job requeued", "id", id, "file_name", job.FileName)
	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
