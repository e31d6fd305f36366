package document_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pdfsearch/features/document"
	"pdfsearch/internal/apperr"
	"pdfsearch/internal/ingest"
	"pdfsearch/internal/retrieval"
)

func newTestHandler(t *testing.T, maxBytes int64) (*document.Handler, *serviceFixture) {
	f := newServiceFixture(t, false)
	return document.NewHandler(f.svc, maxBytes), f
}

func multipartBody(t *testing.T, fileName, contentType string, content []byte) (*bytes.Buffer, string) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	var resp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error.Code, resp.Error.Message
}

func TestHandler_Upload(t *testing.T) {
	tests := []struct {
		name        string
		fileName    string
		contentType string
		content     []byte
		setup       func(f *serviceFixture)
		wantStatus  int
		wantCode    string
	}{
		{
			name:        "pdf is indexed",
			fileName:    "hello.pdf",
			contentType: "application/pdf",
			content:     []byte("%PDF-1.4"),
			setup: func(f *serviceFixture) {
				f.ingester.On("Ingest", mock.Anything, mock.Anything).
					Return(&ingest.Result{FileName: "hello.pdf", Status: ingest.StatusIndexed, ChunkCount: 1}, nil)
			},
			wantStatus: http.StatusCreated,
		},
		{
			name:        "missing part type is sniffed",
			fileName:    "hello.pdf",
			contentType: "",
			content:     []byte("%PDF-1.4"),
			setup: func(f *serviceFixture) {
				f.ingester.On("Ingest", mock.Anything, mock.MatchedBy(func(up ingest.Upload) bool {
					return up.ContentType == ingest.ContentTypePDF
				})).Return(&ingest.Result{FileName: "hello.pdf", Status: ingest.StatusIndexed}, nil)
			},
			wantStatus: http.StatusCreated,
		},
		{
			name:        "text file rejected",
			fileName:    "notes.txt",
			contentType: "text/plain",
			content:     []byte("hello"),
			wantStatus:  http.StatusBadRequest,
			wantCode:    "VALIDATION_ERROR",
		},
		{
			name:        "malicious",
			fileName:    "bad.pdf",
			contentType: "application/pdf",
			content:     []byte("%PDF-1.4"),
			setup: func(f *serviceFixture) {
				f.ingester.On("Ingest", mock.Anything, mock.Anything).
					Return(&ingest.Result{Status: ingest.StatusScannedMalicious},
						&ingest.StageError{FileName: "bad.pdf", Stage: ingest.StageScanning, Err: apperr.ErrMalicious})
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "MALICIOUS_FILE",
		},
		{
			name:        "classifier down",
			fileName:    "a.pdf",
			contentType: "application/pdf",
			content:     []byte("%PDF-1.4"),
			setup: func(f *serviceFixture) {
				f.ingester.On("Ingest", mock.Anything, mock.Anything).
					Return(&ingest.Result{Status: ingest.StatusScanFailed},
						&ingest.StageError{FileName: "a.pdf", Stage: ingest.StageScanning, Err: apperr.Scan("classifier unavailable", nil)})
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "SCAN_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, f := newTestHandler(t, 1<<20)
			if tt.setup != nil {
				tt.setup(f)
			}

			body, ct := multipartBody(t, tt.fileName, tt.contentType, tt.content)
			req := httptest.NewRequest(http.MethodPost, "/documents/upload", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()

			h.Upload(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				code, _ := decodeError(t, rec)
				assert.Equal(t, tt.wantCode, code)
			}
		})
	}
}

func TestHandler_Upload_TooLarge(t *testing.T) {
	h, _ := newTestHandler(t, 64)

	body, ct := multipartBody(t, "big.pdf", "application/pdf", bytes.Repeat([]byte("x"), 1024))
	req := httptest.NewRequest(http.MethodPost, "/documents/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()

	h.Upload(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandler_Upload_MissingFile(t *testing.T) {
	h, _ := newTestHandler(t, 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/documents/upload", strings.NewReader(""))
	rec := httptest.NewRecorder()

	h.Upload(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_List(t *testing.T) {
	h, f := newTestHandler(t, 0)
	f.repo.On("List", mock.Anything).Return([]document.Summary{{FileName: "a.pdf", Indexed: true, Status: "indexed"}}, nil)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/documents", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data []document.Summary `json:"data"`
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Meta.Count)
	assert.Equal(t, "a.pdf", resp.Data[0].FileName)
}

func TestHandler_List_Empty(t *testing.T) {
	h, f := newTestHandler(t, 0)
	f.repo.On("List", mock.Anything).Return(nil, nil)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/documents", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[],"meta":{"count":0}}`, rec.Body.String())
}

func TestHandler_GetAndDelete(t *testing.T) {
	h, f := newTestHandler(t, 0)
	f.repo.On("Get", mock.Anything, "missing.pdf").Return(nil, apperr.NotFound("document missing.pdf"))
	f.repo.On("Get", mock.Anything, "a.pdf").Return(&document.Document{FileName: "a.pdf", StoragePath: "/secret/a.pdf"}, nil)
	f.index.On("DeleteByFileName", mock.Anything, "a.pdf").Return(nil)
	f.repo.On("Delete", mock.Anything, "a.pdf").Return(nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /documents/{name}", h.Get)
	mux.HandleFunc("DELETE /documents/{name}", h.Delete)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/missing.pdf", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/a.pdf", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/secret/")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/documents/a.pdf", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandler_Chat(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setup      func(f *serviceFixture)
		wantStatus int
		wantMsg    string
		wantAnswer string
	}{
		{
			name: "answers",
			body: `{"file_name":"a.pdf","query":"capital?"}`,
			setup: func(f *serviceFixture) {
				f.repo.On("Get", mock.Anything, "a.pdf").Return(&document.Document{FileName: "a.pdf"}, nil)
				f.ret.On("Answer", mock.Anything, "a.pdf", "capital?").Return("Paris.", nil)
			},
			wantStatus: http.StatusOK,
			wantAnswer: "Paris.",
		},
		{
			name:       "missing file name",
			body:       `{"query":"capital?"}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    document.MsgNoFileName,
		},
		{
			name:       "missing query",
			body:       `{"file_name":"a.pdf"}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    document.MsgEmptyQuery,
		},
		{
			name: "unknown file",
			body: `{"file_name":"x.pdf","query":"q"}`,
			setup: func(f *serviceFixture) {
				f.repo.On("Get", mock.Anything, "x.pdf").Return(nil, apperr.NotFound("document x.pdf"))
			},
			wantStatus: http.StatusNotFound,
			wantMsg:    document.MsgFileNotFound,
		},
		{
			name:       "invalid json",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Invalid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, f := newTestHandler(t, 0)
			if tt.setup != nil {
				tt.setup(f)
			}

			rec := httptest.NewRecorder()
			h.Chat(rec, httptest.NewRequest(http.MethodPost, "/documents/chat", strings.NewReader(tt.body)))

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantMsg != "" {
				_, msg := decodeError(t, rec)
				assert.Equal(t, tt.wantMsg, msg)
				return
			}
			var resp struct {
				Data struct {
					Response string `json:"response"`
				} `json:"data"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantAnswer, resp.Data.Response)
		})
	}
}

func TestHandler_Search(t *testing.T) {
	h, f := newTestHandler(t, 0)
	f.ret.On("Search", mock.Anything, "invoices").Return([]retrieval.SearchResult{
		{FileName: "a.pdf", Snippet: "Invoice 42...", Score: 0.9},
	}, nil)

	rec := httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest(http.MethodPost, "/documents/search", strings.NewReader(`{"query":"invoices"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data struct {
			Matches []retrieval.SearchResult `json:"matches"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Data.Matches, 1)
	assert.Equal(t, "a.pdf", resp.Data.Matches[0].FileName)

	rec = httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest(http.MethodPost, "/documents/search", strings.NewReader(`{"query":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
