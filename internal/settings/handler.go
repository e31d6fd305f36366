package settings

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"pdfsearch/internal/apperr"
	"pdfsearch/internal/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// GetSettings serves GET /settings. The API key is masked.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, err := h.svc.Public(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to load settings", err)
		return
	}
	h.respond(ctx, w, s)
}

// UpdateSettings serves PUT /settings and answers with the stored values.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var s Settings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		h.fail(ctx, w, "invalid settings body", apperr.Validation("Request body must be a JSON object."))
		return
	}
	if err := h.svc.Update(ctx, &s); err != nil {
		h.fail(ctx, w, "failed to update settings", err)
		return
	}

	slog.InfoContext(ctx, "settings updated", "search_top_k", s.SearchTopK, "api_key_set", s.GeminiAPIKey != "")
	s.GeminiAPIKey = MaskKey(s.GeminiAPIKey)
	h.respond(ctx, w, &s)
}

func (h *Handler) respond(ctx context.Context, w http.ResponseWriter, s *Settings) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": s}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	code, status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, msg, "error", err)
	} else {
		slog.WarnContext(ctx, msg, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": apperr.Message(err),
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode error response", "error", err)
	}
}
