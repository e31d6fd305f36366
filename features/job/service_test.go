package job

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pdfsearch/internal/apperr"
	"pdfsearch/internal/config"
)

type slowPublisher struct {
	sleep     time.Duration
	LastTopic string
}

func (m *slowPublisher) Publish(topic string, body []byte) error {
	m.LastTopic = topic
	time.Sleep(m.sleep)
	return nil
}

type stubRepo struct {
	Repository
	deleted []string
}

func (m *stubRepo) Get(ctx context.Context, id string) (*Job, error) {
	return &Job{ID: id, FileName: "a.pdf", Payload: []byte(`{"file_name":"a.pdf"}`)}, nil
}

func (m *stubRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *stubRepo) Count(ctx context.Context) (int, error) { return 10, nil }

func TestRetry_Timeout(t *testing.T) {
	repo := &stubRepo{}
	service := NewService(repo, &slowPublisher{sleep: 200 * time.Millisecond}, slog.Default())
	service.publishTimeout = 20 * time.Millisecond

	err := service.Retry(context.Background(), "1")
	assert.ErrorIs(t, err, ErrPublishTimeout)
	assert.ErrorIs(t, err, apperr.ErrExternalService)
	assert.Empty(t, repo.deleted)
}

func TestRetry_PublishesToIngestTopic(t *testing.T) {
	repo := &stubRepo{}
	pub := &slowPublisher{}
	service := NewService(repo, pub, nil)

	assert.NoError(t, service.Retry(context.Background(), "1"))
	assert.Equal(t, config.TopicIngestFile, pub.LastTopic)
	assert.Equal(t, []string{"1"}, repo.deleted)
}

func TestService_Count(t *testing.T) {
	count, err := NewService(&stubRepo{}, nil, nil).Count(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 10, count)
}
