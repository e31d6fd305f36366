// Package stats reports how much the service holds: stored documents,
// indexed chunks and failed ingestions waiting for a retry.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"pdfsearch/internal/apperr"
	"pdfsearch/internal/middleware"
)

type Counter interface {
	Count(ctx context.Context) (int, error)
}

// RecordCounter counts chunk records in the vector index.
type RecordCounter interface {
	CountRecords(ctx context.Context) (int, error)
}

type Handler struct {
	documents  Counter
	failedJobs Counter
	index      RecordCounter
}

func NewHandler(documents, failedJobs Counter, index RecordCounter) *Handler {
	return &Handler{documents: documents, failedJobs: failedJobs, index: index}
}

type Stats struct {
	Documents  int `json:"documents"`
	Chunks     int `json:"chunks"`
	FailedJobs int `json:"failed_jobs"`
}

// Collect queries the three sources concurrently.
func (h *Handler) Collect(ctx context.Context) (Stats, error) {
	var s Stats
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		if s.Documents, err = h.documents.Count(gctx); err != nil {
			return fmt.Errorf("count documents: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if s.FailedJobs, err = h.failedJobs.Count(gctx); err != nil {
			return fmt.Errorf("count failed jobs: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if s.Chunks, err = h.index.CountRecords(gctx); err != nil {
			return apperr.External("count chunks", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	return s, nil
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	s, err := h.Collect(ctx)
	if err != nil {
		code, status := apperr.HTTPStatus(err)
		slog.ErrorContext(ctx, "failed to collect stats", "error", err)
		writeError(ctx, w, code, apperr.Message(err), status)
		return
	}

	slog.DebugContext(ctx, "stats collected", "documents", s.Documents, "chunks", s.Chunks, "failed_jobs", s.FailedJobs)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": s}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
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
		slog.ErrorContext(ctx, "failed to encode error response", "error", err)
	}
}
