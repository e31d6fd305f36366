package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockCounter struct{ mock.Mock }

func (m *MockCounter) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockIndex struct{ mock.Mock }

func (m *MockIndex) CountRecords(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func TestHandler_GetStats_Table(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(docs, jobs *MockCounter, idx *MockIndex)
		wantStatus int
		wantCode   string
		checkBody  func(*testing.T, map[string]interface{})
	}{
		{
			name: "Success",
			setupMocks: func(docs, jobs *MockCounter, idx *MockIndex) {
				docs.On("Count", mock.Anything).Return(3, nil)
				jobs.On("Count", mock.Anything).Return(1, nil)
				idx.On("CountRecords", mock.Anything).Return(42, nil)
			},
			wantStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.EqualValues(t, 3, data["documents"])
				assert.EqualValues(t, 1, data["failed_jobs"])
				assert.EqualValues(t, 42, data["chunks"])
			},
		},
		{
			name: "Document Repo Error",
			setupMocks: func(docs, jobs *MockCounter, idx *MockIndex) {
				docs.On("Count", mock.Anything).Return(0, errors.New("db error"))
				jobs.On("Count", mock.Anything).Return(1, nil)
				idx.On("CountRecords", mock.Anything).Return(42, nil)
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
		{
			name: "Job Repo Error",
			setupMocks: func(docs, jobs *MockCounter, idx *MockIndex) {
				docs.On("Count", mock.Anything).Return(3, nil)
				jobs.On("Count", mock.Anything).Return(0, errors.New("db error"))
				idx.On("CountRecords", mock.Anything).Return(42, nil)
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
		{
			name: "Index Error",
			setupMocks: func(docs, jobs *MockCounter, idx *MockIndex) {
				docs.On("Count", mock.Anything).Return(3, nil)
				jobs.On("Count", mock.Anything).Return(1, nil)
				idx.On("CountRecords", mock.Anything).Return(0, errors.New("weaviate error"))
			},
			wantStatus: http.StatusBadGateway,
			wantCode:   "UPSTREAM_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := new(MockCounter)
			jobs := new(MockCounter)
			idx := new(MockIndex)

			tt.setupMocks(docs, jobs, idx)

			h := NewHandler(docs, jobs, idx)
			req := httptest.NewRequest("GET", "/stats", nil)
			w := httptest.NewRecorder()

			h.GetStats(w, req)

			resp := w.Result()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body map[string]interface{}
			err := json.NewDecoder(resp.Body).Decode(&body)
			assert.NoError(t, err)

			if tt.wantCode != "" {
				assert.Contains(t, body, "error")
				errMap := body["error"].(map[string]interface{})
				assert.Equal(t, tt.wantCode, errMap["code"])
				assert.NotContains(t, errMap["message"], "db error")
			} else {
				tt.checkBody(t, body)
			}
		})
	}
}

func TestHandler_Collect(t *testing.T) {
	docs := new(MockCounter)
	jobs := new(MockCounter)
	idx := new(MockIndex)
	docs.On("Count", mock.Anything).Return(2, nil)
	jobs.On("Count", mock.Anything).Return(0, nil)
	idx.On("CountRecords", mock.Anything).Return(9, nil)

	s, err := NewHandler(docs, jobs, idx).Collect(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, Stats{Documents: 2, Chunks: 9, FailedJobs: 0}, s)
	docs.AssertExpectations(t)
	jobs.AssertExpectations(t)
	idx.AssertExpectations(t)
}
