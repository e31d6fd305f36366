// Package ratelimit throttles calls to the embedding provider with a token
// bucket so bulk ingestion stays under the provider's quota.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type LimitedEmbedder struct {
	next    Embedder
	limiter *rate.Limiter
}

// NewEmbedder wraps next with a limiter allowing rps calls per second and
// bursts of up to burst calls. A non-positive rps disables limiting.
func NewEmbedder(next Embedder, rps float64, burst int) *LimitedEmbedder {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &LimitedEmbedder{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (e *LimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.next.Embed(ctx, text)
}
