package embedding

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/metrics"
)

// RateLimitedEmbedder paces provider calls with a token bucket shared by all
// pipeline workers. One call costs one token regardless of batch size.
type RateLimitedEmbedder struct {
	inner    domain.Embedder
	limiter  *rate.Limiter
	provider string
}

// NewRateLimitedEmbedder allows rps calls per second with the given burst.
// rps <= 0 disables limiting.
func NewRateLimitedEmbedder(inner domain.Embedder, provider string, rps float64, burst int) *RateLimitedEmbedder {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &RateLimitedEmbedder{
		inner:    inner,
		limiter:  rate.NewLimiter(limit, max(burst, 1)),
		provider: provider,
	}
}

// Embed waits for a token, then delegates.
func (r *RateLimitedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := r.wait(ctx); err != nil {
		return domain.EmbeddingResult{}, err
	}
	return r.inner.Embed(ctx, text)
}

// BatchEmbed waits for one token per provider call.
func (r *RateLimitedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if be, ok := r.inner.(domain.BatchEmbedder); ok {
		if err := r.wait(ctx); err != nil {
			return domain.BatchEmbeddingResult{}, err
		}
		return be.BatchEmbed(ctx, texts)
	}
	return domain.BatchFallback(ctx, r, texts)
}

// HealthCheck bypasses the limiter.
func (r *RateLimitedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := r.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (r *RateLimitedEmbedder) wait(ctx context.Context) error {
	start := time.Now()
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w: %w", domain.ErrRateLimited, err)
	}
	metrics.EmbeddingRateLimitWaitSeconds.WithLabelValues(r.provider).Observe(time.Since(start).Seconds())
	return nil
}
