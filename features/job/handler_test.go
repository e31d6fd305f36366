package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"pdfsearch/features/job"
	"pdfsearch/internal/apperr"
	"pdfsearch/internal/config"
)

// MockRepo implements job.Repository
type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Save(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}
func (m *MockRepo) List(ctx context.Context, fileName string) ([]job.Job, error) {
	args := m.Called(ctx, fileName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]job.Job), args.Error(1)
}
func (m *MockRepo) Get(ctx context.Context, id string) (*job.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}
func (m *MockRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

func TestHandler_List(t *testing.T) {
	mockRepo := new(MockRepo)
	handler := job.NewHandler(job.NewService(mockRepo, nil, slog.Default()))

	mockRepo.On("List", mock.Anything, "").Return([]job.Job{{ID: "1", FileName: "a.pdf"}}, nil)

	w := httptest.NewRecorder()
	handler.List(w, httptest.NewRequest("GET", "/jobs/failed", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []job.Job      `json:"data"`
		Meta map[string]int `json:"meta"`
	}
	assert.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, 1, body.Meta["count"])
	assert.Equal(t, "a.pdf", body.Data[0].FileName)
}

func TestHandler_List_Empty(t *testing.T) {
	mockRepo := new(MockRepo)
	handler := job.NewHandler(job.NewService(mockRepo, nil, slog.Default()))

	mockRepo.On("List", mock.Anything, "").Return(nil, nil)

	w := httptest.NewRecorder()
	handler.List(w, httptest.NewRequest("GET", "/jobs/failed", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func TestHandler_List_ServiceError(t *testing.T) {
	mockRepo := new(MockRepo)
	handler := job.NewHandler(job.NewService(mockRepo, nil, slog.Default()))

	mockRepo.On("List", mock.Anything, "").Return(nil, errors.New("database error"))

	w := httptest.NewRecorder()
	handler.List(w, httptest.NewRequest("GET", "/jobs/failed", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "An unexpected error occurred.")
	assert.NotContains(t, w.Body.String(), "database error")
}

func TestHandler_List_FilterByFile(t *testing.T) {
	mockRepo := new(MockRepo)
	handler := job.NewHandler(job.NewService(mockRepo, nil, slog.Default()))

	mockRepo.On("List", mock.Anything, "b.pdf").Return([]job.Job{{ID: "2", FileName: "b.pdf"}}, nil)

	w := httptest.NewRecorder()
	handler.List(w, httptest.NewRequest("GET", "/jobs/failed?file_name=b.pdf", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"file_name":"b.pdf"`)
	mockRepo.AssertExpectations(t)
}

func TestHandler_Retry(t *testing.T) {
	payload := json.RawMessage(`{"file_name":"a.pdf","path":"uploaded_files/a.pdf","keep_source":true}`)

	tests := []struct {
		name       string
		noPub      bool
		setup      func(r *MockRepo, p *MockPublisher)
		wantStatus int
		wantCode   string
	}{
		{
			name: "success",
			setup: func(r *MockRepo, p *MockPublisher) {
				r.On("Get", mock.Anything, "1").Return(&job.Job{ID: "1", FileName: "a.pdf", Payload: payload}, nil)
				p.On("Publish", config.TopicIngestFile, []byte(payload)).Return(nil)
				r.On("Delete", mock.Anything, "1").Return(nil)
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name: "not found",
			setup: func(r *MockRepo, p *MockPublisher) {
				r.On("Get", mock.Anything, "1").Return(nil, apperr.NotFound("Job not found"))
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name: "publish fails",
			setup: func(r *MockRepo, p *MockPublisher) {
				r.On("Get", mock.Anything, "1").Return(&job.Job{ID: "1", Payload: payload}, nil)
				p.On("Publish", config.TopicIngestFile, mock.Anything).Return(errors.New("nsqd down"))
			},
			wantStatus: http.StatusBadGateway,
			wantCode:   "UPSTREAM_ERROR",
		},
		{
			name:  "async disabled",
			noPub: true,
			setup: func(r *MockRepo, p *MockPublisher) {
				r.On("Get", mock.Anything, "1").Return(&job.Job{ID: "1", Payload: payload}, nil)
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockRepo)
			mockPub := new(MockPublisher)
			tt.setup(mockRepo, mockPub)
			var pub job.EventPublisher = mockPub
			if tt.noPub {
				pub = nil
			}
			handler := job.NewHandler(job.NewService(mockRepo, pub, slog.Default()))

			req := httptest.NewRequest("POST", "/jobs/1/retry", nil)
			req.SetPathValue("id", "1")
			w := httptest.NewRecorder()
			handler.Retry(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode != "" {
				assert.Contains(t, w.Body.String(), tt.wantCode)
			}
			mockRepo.AssertExpectations(t)
			mockPub.AssertExpectations(t)
		})
	}
}
