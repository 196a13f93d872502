package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

type limitedClient struct {
	next    Client
	limiter *rate.Limiter
}

// WithRateLimit wraps c so that at most perMinute requests start per
// minute. Waiting honours ctx.
func WithRateLimit(c Client, perMinute float64) Client {
	return &limitedClient{
		next:    c,
		limiter: rate.NewLimiter(rate.Limit(perMinute/60), 1),
	}
}

func (l *limitedClient) Generate(ctx context.Context, req Request) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return l.next.Generate(ctx, req)
}
