package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedGenerator wraps a TextGenerator with a token-bucket limiter so
// a run with many batches cannot exceed the provider's request budget.
// Waiting respects context cancellation; a cancelled wait surfaces as a
// batch-level failure and the batch retries on the next cycle.
type RateLimitedGenerator struct {
	inner   TextGenerator
	limiter *rate.Limiter
}

// NewRateLimitedGenerator wraps inner so at most rps requests per second
// are issued, with a burst of one. A non-positive rps disables limiting.
func NewRateLimitedGenerator(inner TextGenerator, rps float64) *RateLimitedGenerator {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &RateLimitedGenerator{inner: inner, limiter: limiter}
}

// Complete waits for a limiter token, then delegates to the wrapped generator.
func (g *RateLimitedGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	return g.inner.Complete(ctx, prompt)
}

// GetModel returns the wrapped generator's model name.
func (g *RateLimitedGenerator) GetModel() string {
	return g.inner.GetModel()
}

// Compile-time assertion.
var _ TextGenerator = (*RateLimitedGenerator)(nil)
