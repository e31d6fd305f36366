package document

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"pdfsearch/internal/apperr"
	"pdfsearch/internal/ingest"
	"pdfsearch/internal/middleware"
	"pdfsearch/internal/retrieval"
)

// parts beyond this spill to temp files
const multipartMemory = 8 << 20

var pdfMagic = []byte("%PDF-")

type Handler struct {
	service        *Service
	validate       *validator.Validate
	maxUploadBytes int64
}

func NewHandler(s *Service, maxUploadBytes int64) *Handler {
	return &Handler{service: s, validate: validator.New(), maxUploadBytes: maxUploadBytes}
}

type ChatRequest struct {
	FileName string `json:"file_name" validate:"required"`
	Query    string `json:"query" validate:"required"`
}

type SearchRequest struct {
	Query string `json:"query" validate:"required"`
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(ctx, w, "VALIDATION_ERROR", "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "Missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	body := bufio.NewReader(file)
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		// clients that omit the part type still get a chance via the magic bytes
		if head, _ := body.Peek(len(pdfMagic)); bytes.Equal(head, pdfMagic) {
			contentType = ingest.ContentTypePDF
		}
	}

	slog.InfoContext(ctx, "upload received", "file_name", header.Filename, "content_type", contentType, "size", header.Size)

	res, err := h.service.Upload(ctx, header.Filename, contentType, body)
	if err != nil {
		h.writeAppError(ctx, w, "upload failed", err)
		return
	}

	status := http.StatusCreated
	if res.Queued {
		status = http.StatusAccepted
	}
	h.writeJSON(ctx, w, status, map[string]interface{}{"data": res})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docs, err := h.service.List(ctx)
	if err != nil {
		h.writeAppError(ctx, w, "failed to list documents", err)
		return
	}
	if docs == nil {
		docs = []Summary{}
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": docs,
		"meta": map[string]int{"count": len(docs)},
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := h.service.Get(ctx, r.PathValue("name"))
	if err != nil {
		h.writeAppError(ctx, w, "failed to get document", err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": doc})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.service.Delete(ctx, r.PathValue("name")); err != nil {
		h.writeAppError(ctx, w, "failed to delete document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.service.Reindex(ctx, r.PathValue("name"))
	if err != nil {
		h.writeAppError(ctx, w, "reindex failed", err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": res})
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", validationMessage(err), http.StatusBadRequest)
		return
	}

	answer, err := h.service.Chat(ctx, req.FileName, req.Query)
	if err != nil {
		h.writeAppError(ctx, w, "chat failed", err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": map[string]string{"response": answer},
	})
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", validationMessage(err), http.StatusBadRequest)
		return
	}

	matches, err := h.service.Search(ctx, req.Query)
	if err != nil {
		h.writeAppError(ctx, w, "search failed", err)
		return
	}
	if matches == nil {
		matches = []retrieval.SearchResult{}
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{"matches": matches},
		"meta": map[string]int{"count": len(matches)},
	})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].Field() {
		case "FileName":
			return MsgNoFileName
		case "Query":
			return MsgEmptyQuery
		}
	}
	return err.Error()
}

func (h *Handler) writeAppError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	code, status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, msg, "error", err)
	} else {
		slog.WarnContext(ctx, msg, "error", err)
	}
	h.writeError(ctx, w, code, strings.TrimSpace(apperr.Message(err)), status)
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
