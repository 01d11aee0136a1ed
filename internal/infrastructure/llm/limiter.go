package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"TechNotesScanner/internal/ports"
)

// Limited paces calls to an LLM provider and bounds each call with a timeout.
type Limited struct {
	next    ports.LLM
	limiter *rate.Limiter
	timeout time.Duration
}

var _ ports.LLM = (*Limited)(nil)

// NewLimited wraps next. A non-positive perMinute disables pacing.
func NewLimited(next ports.LLM, perMinute int, timeout time.Duration) *Limited {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(limit, 1),
		timeout: timeout,
	}
}

func (l *Limited) Model() string {
	return l.next.Model()
}

func (l *Limited) Complete(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResponse, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return ports.CompletionResponse{}, fmt.Errorf("llm rate limit: %w", err)
	}
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	return l.next.Complete(ctx, req)
}
