package document_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"pdfsearch/features/document"
	"pdfsearch/internal/ingest"
	"pdfsearch/internal/retrieval"
)

type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Upsert(ctx context.Context, doc *document.Document) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MockRepo) Get(ctx context.Context, fileName string) (*document.Document, error) {
	args := m.Called(ctx, fileName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*document.Document), args.Error(1)
}

func (m *MockRepo) List(ctx context.Context) ([]document.Summary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]document.Summary), args.Error(1)
}

func (m *MockRepo) Delete(ctx context.Context, fileName string) error {
	args := m.Called(ctx, fileName)
	return args.Error(0)
}

func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockIngester struct {
	mock.Mock
}

func (m *MockIngester) Ingest(ctx context.Context, up ingest.Upload) (*ingest.Result, error) {
	args := m.Called(ctx, up)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ingest.Result), args.Error(1)
}

func (m *MockIngester) MarkPending(ctx context.Context, fileName string, size int64) error {
	return m.Called(ctx, fileName, size).Error(0)
}

type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Answer(ctx context.Context, fileName, query string) (string, error) {
	args := m.Called(ctx, fileName, query)
	return args.String(0), args.Error(1)
}

func (m *MockRetriever) Search(ctx context.Context, query string) ([]retrieval.SearchResult, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]retrieval.SearchResult), args.Error(1)
}

type MockIndex struct {
	mock.Mock
}

func (m *MockIndex) DeleteByFileName(ctx context.Context, fileName string) error {
	args := m.Called(ctx, fileName)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}
